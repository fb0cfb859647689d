// Copyright 2026 the Exposure Reporting Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coordinator

import (
	"context"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v4"

	coredb "github.com/regtech/exposure-reporting-server/internal/database"
)

// ReportDB is the database-backed ReportStore.
type ReportDB struct {
	db *coredb.DB
}

// NewReportDB creates a ReportDB over the given database.
func NewReportDB(db *coredb.DB) *ReportDB {
	return &ReportDB{db: db}
}

// ReportCompleted implements ReportStore.
func (rdb *ReportDB) ReportCompleted(ctx context.Context, batchID string) (bool, error) {
	var done bool
	err := rdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM reports
				WHERE batch_id = $1 AND status = 'COMPLETED'
			)
		`, batchID)
		if err := row.Scan(&done); err != nil {
			return fmt.Errorf("check report status: %w", err)
		}
		return nil
	})
	return done, err
}

// MarkReportCompleted implements ReportStore. Re-marking the same batch is a
// no-op so redelivered events stay idempotent.
func (rdb *ReportDB) MarkReportCompleted(ctx context.Context, batchID, reportID string, at time.Time) error {
	return rdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO reports (batch_id, report_id, status, completed_at)
			VALUES ($1, $2, 'COMPLETED', $3)
			ON CONFLICT (batch_id) DO NOTHING
		`, batchID, reportID, at.UTC())
		if err != nil {
			return fmt.Errorf("mark report completed: %w", err)
		}
		return nil
	})
}
