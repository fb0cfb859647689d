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

package failures

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v4"

	coredb "github.com/regtech/exposure-reporting-server/internal/database"
)

// FailureDB persists failure-queue rows.
type FailureDB struct {
	db *coredb.DB
}

// NewDB creates a FailureDB over the given database.
func NewDB(db *coredb.DB) *FailureDB {
	return &FailureDB{db: db}
}

// SaveFailure inserts a PENDING row.
func (fdb *FailureDB) SaveFailure(ctx context.Context, f *Failure) error {
	metadata, err := json.Marshal(f.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	return fdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO event_processing_failures
				(failure_id, event_type, payload, error_message, error_stack,
				 metadata, status, retry_count, max_retries, next_retry_at,
				 created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, f.FailureID, f.EventType, f.Payload, f.ErrorMessage, f.ErrorStack,
			metadata, string(f.Status), f.RetryCount, f.MaxRetries,
			f.NextRetryAt, f.CreatedAt, f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert failure row: %w", err)
		}
		return nil
	})
}

// LeaseDue atomically claims due PENDING (or FAILED) rows in age order by
// flipping them to PROCESSING. Concurrent processors skip each other's
// locked rows.
func (fdb *FailureDB) LeaseDue(ctx context.Context, now time.Time, limit int) ([]*Failure, error) {
	var leased []*Failure
	err := fdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE event_processing_failures
			SET status = 'PROCESSING', updated_at = $1
			WHERE failure_id IN (
				SELECT failure_id FROM event_processing_failures
				WHERE status IN ('PENDING', 'FAILED') AND next_retry_at <= $1
				ORDER BY created_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING failure_id, event_type, payload, error_message,
			          error_stack, metadata, retry_count, max_retries,
			          next_retry_at, created_at, updated_at
		`, now.UTC(), limit)
		if err != nil {
			return fmt.Errorf("lease due failures: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			f := Failure{Status: StatusProcessing}
			var metadata []byte
			if err := rows.Scan(&f.FailureID, &f.EventType, &f.Payload,
				&f.ErrorMessage, &f.ErrorStack, &metadata, &f.RetryCount,
				&f.MaxRetries, &f.NextRetryAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
				return fmt.Errorf("scan failure row: %w", err)
			}
			if len(metadata) > 0 {
				if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
					return fmt.Errorf("unmarshal metadata: %w", err)
				}
			}
			leased = append(leased, &f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// MarkSucceeded finishes a row.
func (fdb *FailureDB) MarkSucceeded(ctx context.Context, failureID string) error {
	return fdb.setStatus(ctx, failureID, StatusSucceeded, nil, 0, "")
}

// MarkRetry returns a row to PENDING with its next due time.
func (fdb *FailureDB) MarkRetry(ctx context.Context, failureID string, retryCount int, nextRetryAt time.Time, lastError string) error {
	return fdb.setStatus(ctx, failureID, StatusPending, &nextRetryAt, retryCount, lastError)
}

// MarkDeadLetter parks a row permanently.
func (fdb *FailureDB) MarkDeadLetter(ctx context.Context, failureID string, retryCount int, lastError string) error {
	return fdb.setStatus(ctx, failureID, StatusDeadLetter, nil, retryCount, lastError)
}

func (fdb *FailureDB) setStatus(ctx context.Context, failureID string, status Status, nextRetryAt *time.Time, retryCount int, lastError string) error {
	return fdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE event_processing_failures
			SET status = $2,
			    next_retry_at = COALESCE($3, next_retry_at),
			    retry_count = GREATEST(retry_count, $4),
			    last_error = CASE WHEN $5 = '' THEN last_error ELSE $5 END,
			    updated_at = $6
			WHERE failure_id = $1
		`, failureID, string(status), nextRetryAt, retryCount, lastError, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("update failure %s to %s: %w", failureID, status, err)
		}
		return nil
	})
}

// GetFailure reads one row, mostly for tests and operator tooling.
func (fdb *FailureDB) GetFailure(ctx context.Context, failureID string) (*Failure, error) {
	var f Failure
	err := fdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var metadata []byte
		var lastError *string
		row := tx.QueryRow(ctx, `
			SELECT failure_id, event_type, payload, error_message, error_stack,
			       metadata, status, retry_count, max_retries, next_retry_at,
			       created_at, updated_at, last_error
			FROM event_processing_failures
			WHERE failure_id = $1
		`, failureID)
		if err := row.Scan(&f.FailureID, &f.EventType, &f.Payload,
			&f.ErrorMessage, &f.ErrorStack, &metadata, &f.Status,
			&f.RetryCount, &f.MaxRetries, &f.NextRetryAt,
			&f.CreatedAt, &f.UpdatedAt, &lastError); err != nil {
			if err == pgx.ErrNoRows {
				return coredb.ErrNotFound
			}
			return fmt.Errorf("scan failure: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
				return fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		if lastError != nil {
			f.LastError = *lastError
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}
