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

package outbox

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

// Store is the slice of outbox persistence the publisher needs.
type Store interface {
	ListPending(ctx context.Context, limit int) ([]*Event, error)
	MarkPublished(ctx context.Context, eventID string, at time.Time) error
}

// Config holds publisher settings.
type Config struct {
	PollInterval   time.Duration `env:"OUTBOX_POLL_INTERVAL, default=2s"`
	BatchSize      int           `env:"OUTBOX_BATCH_SIZE, default=100"`
	PublishRetries uint64        `env:"OUTBOX_PUBLISH_RETRIES, default=3"`
	RetryBackoff   time.Duration `env:"OUTBOX_RETRY_BACKOFF, default=250ms"`
}

// Publisher drains pending outbox rows to the bus. Rows that fail to publish
// stay PENDING and are picked up again on the next scan, so delivery is
// at-least-once.
type Publisher struct {
	store  Store
	bus    Bus
	config *Config
}

// NewPublisher builds a publisher.
func NewPublisher(store Store, bus Bus, config *Config) *Publisher {
	if config == nil {
		config = &Config{PollInterval: 2 * time.Second, BatchSize: 100, PublishRetries: 3, RetryBackoff: 250 * time.Millisecond}
	}
	return &Publisher{store: store, bus: bus, config: config}
}

// Run scans until the context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	logger := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := p.RunOnce(ctx); err != nil {
			logger.Errorw("outbox scan failed", "error", err)
		}
	}
}

// RunOnce drains one batch of pending events and returns how many published.
func (p *Publisher) RunOnce(ctx context.Context) (int, error) {
	logger := logging.FromContext(ctx)

	pending, err := p.store.ListPending(ctx, p.config.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range pending {
		backoff := retry.WithMaxRetries(p.config.PublishRetries, retry.NewConstant(p.config.RetryBackoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := p.bus.Publish(ctx, ev); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			// Stays PENDING; the next scan retries it.
			recordPublish(ctx, "failed")
			logger.Warnw("event publish failed",
				"event_id", ev.EventID, "event_type", ev.EventType, "error", err)
			continue
		}
		if err := p.store.MarkPublished(ctx, ev.EventID, time.Now().UTC()); err != nil {
			// The event went out but the row stayed PENDING: it will be
			// republished, which subscribers must tolerate.
			recordPublish(ctx, "mark_failed")
			logger.Warnw("event published but not marked",
				"event_id", ev.EventID, "error", err)
			continue
		}
		recordPublish(ctx, "published")
		published++
	}
	return published, nil
}
