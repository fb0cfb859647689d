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

// Package database persists ingestion batches.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v4"

	coredb "github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/ingestion/model"
)

// BatchDB reads and writes ingestion batches.
type BatchDB struct {
	db *coredb.DB
}

// New creates a BatchDB over the given database.
func New(db *coredb.DB) *BatchDB {
	return &BatchDB{db: db}
}

// InsertBatch stores a freshly uploaded batch.
func (bdb *BatchDB) InsertBatch(ctx context.Context, b *model.Batch) error {
	fileMeta, err := json.Marshal(b.FileMetadata)
	if err != nil {
		return fmt.Errorf("marshaling file metadata: %w", err)
	}
	objectRef, err := json.Marshal(b.ObjectRef)
	if err != nil {
		return fmt.Errorf("marshaling object ref: %w", err)
	}

	return bdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO batches
				(batch_id, bank_id, status, file_metadata, object_ref,
				 exposure_count, error_message, uploaded_at, last_transition_at,
				 completed_at, failed_at, processing_duration_ms)
			VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, b.BatchID, b.BankID, string(b.Status), fileMeta, objectRef,
			b.ExposureCount, nullIfEmpty(b.ErrorMessage), b.UploadedAt, b.LastTransitionAt,
			coredb.NullableTime(b.CompletedAt), coredb.NullableTime(b.FailedAt),
			b.ProcessingDuration.Milliseconds())
		if err != nil {
			return fmt.Errorf("inserting batch: %w", err)
		}
		return nil
	})
}

// GetBatch returns the batch by id, or database.ErrNotFound.
func (bdb *BatchDB) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	var (
		b          model.Batch
		status     string
		fileMeta   []byte
		objectRef  []byte
		errMsg     *string
		completed  *time.Time
		failed     *time.Time
		durationMS int64
	)

	row := bdb.db.Pool.QueryRow(ctx, `
		SELECT batch_id, bank_id, status, file_metadata, object_ref,
		       exposure_count, error_message, uploaded_at, last_transition_at,
		       completed_at, failed_at, processing_duration_ms
		FROM batches
		WHERE batch_id = $1
	`, batchID)
	if err := row.Scan(&b.BatchID, &b.BankID, &status, &fileMeta, &objectRef,
		&b.ExposureCount, &errMsg, &b.UploadedAt, &b.LastTransitionAt,
		&completed, &failed, &durationMS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coredb.ErrNotFound
		}
		return nil, fmt.Errorf("scanning batch: %w", err)
	}

	b.Status = model.BatchStatus(status)
	if errMsg != nil {
		b.ErrorMessage = *errMsg
	}
	b.CompletedAt = coredb.TimeFromNullable(completed)
	b.FailedAt = coredb.TimeFromNullable(failed)
	b.ProcessingDuration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal(fileMeta, &b.FileMetadata); err != nil {
		return nil, fmt.Errorf("unmarshaling file metadata: %w", err)
	}
	if len(objectRef) > 0 {
		if err := json.Unmarshal(objectRef, &b.ObjectRef); err != nil {
			return nil, fmt.Errorf("unmarshaling object ref: %w", err)
		}
	}
	return &b, nil
}

// SaveTransition persists an in-memory transition already applied through
// model.ApplyTransition. The update is a compare-and-set on the previous
// status: a concurrent writer who already moved the batch to the same status
// makes this call an idempotent no-op, anything else is an invalid
// transition.
func (bdb *BatchDB) SaveTransition(ctx context.Context, b *model.Batch, from model.BatchStatus) error {
	return bdb.db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		return bdb.SaveTransitionTx(ctx, tx, b, from)
	})
}

// SaveTransitionTx is SaveTransition inside a caller-owned transaction, so a
// transition can commit atomically with outbox rows.
func (bdb *BatchDB) SaveTransitionTx(ctx context.Context, tx pgx.Tx, b *model.Batch, from model.BatchStatus) error {
	objectRef, err := json.Marshal(b.ObjectRef)
	if err != nil {
		return fmt.Errorf("marshaling object ref: %w", err)
	}

	res, err := tx.Exec(ctx, `
			UPDATE batches
			SET status = $1, object_ref = $2, exposure_count = $3,
			    error_message = $4, last_transition_at = $5,
			    completed_at = $6, failed_at = $7, processing_duration_ms = $8
			WHERE batch_id = $9 AND status = $10
	`, string(b.Status), objectRef, b.ExposureCount,
		nullIfEmpty(b.ErrorMessage), b.LastTransitionAt,
		coredb.NullableTime(b.CompletedAt), coredb.NullableTime(b.FailedAt),
		b.ProcessingDuration.Milliseconds(),
		b.BatchID, string(from))
	if err != nil {
		return fmt.Errorf("updating batch status: %w", err)
	}
	if res.RowsAffected() == 0 {
		var current string
		if err := tx.QueryRow(ctx, `SELECT status FROM batches WHERE batch_id = $1`, b.BatchID).Scan(&current); err != nil {
			return fmt.Errorf("re-reading batch status: %w", err)
		}
		if current == string(b.Status) {
			// Another worker already applied the same transition.
			return nil
		}
		return fmt.Errorf("batch %s moved to %s concurrently: %w", b.BatchID, current, model.ErrInvalidTransition)
	}
	return nil
}

// ListByStatus returns batch ids currently in the given status, oldest first.
func (bdb *BatchDB) ListByStatus(ctx context.Context, status model.BatchStatus, limit int) ([]string, error) {
	rows, err := bdb.db.Pool.Query(ctx, `
		SELECT batch_id FROM batches
		WHERE status = $1
		ORDER BY uploaded_at ASC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning batch id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
