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

// Package outbox implements transactional event publication: domain events
// are committed in the same transaction as the business state, then drained
// to the bus by an asynchronous publisher with at-least-once semantics.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v4"

	coredb "github.com/regtech/exposure-reporting-server/internal/database"
)

// Event is one outbox row.
type Event struct {
	EventID    string
	EventType  string
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

// NewEvent builds an event with a fresh id.
func NewEvent(eventType, key string, payload []byte, now time.Time) *Event {
	return &Event{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Key:        key,
		Payload:    payload,
		OccurredAt: now.UTC(),
	}
}

// OutboxDB persists and drains outbox rows.
type OutboxDB struct {
	db *coredb.DB
}

// New creates an OutboxDB over the given database.
func New(db *coredb.DB) *OutboxDB {
	return &OutboxDB{db: db}
}

// Enqueue inserts a PENDING row inside the caller's transaction so that the
// event commits or rolls back with the business state.
func (o *OutboxDB) Enqueue(ctx context.Context, tx pgx.Tx, ev *Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox
			(event_id, event_type, event_key, payload, occurred_at, status)
		VALUES ($1, $2, $3, $4, $5, 'PENDING')
	`, ev.EventID, ev.EventType, ev.Key, ev.Payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// ListPending returns the oldest pending events up to limit.
func (o *OutboxDB) ListPending(ctx context.Context, limit int) ([]*Event, error) {
	var events []*Event
	err := o.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT event_id, event_type, event_key, payload, occurred_at
			FROM outbox
			WHERE status = 'PENDING'
			ORDER BY occurred_at
			LIMIT $1
		`, limit)
		if err != nil {
			return fmt.Errorf("query pending events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			ev := Event{}
			if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.Key, &ev.Payload, &ev.OccurredAt); err != nil {
				return fmt.Errorf("scan event: %w", err)
			}
			events = append(events, &ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkPublished flips one row to PUBLISHED.
func (o *OutboxDB) MarkPublished(ctx context.Context, eventID string, at time.Time) error {
	return o.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE outbox SET status = 'PUBLISHED', published_at = $2
			WHERE event_id = $1
		`, eventID, at.UTC())
		if err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		return nil
	})
}
