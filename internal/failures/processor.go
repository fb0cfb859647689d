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
	"strings"
	"sync"
	"time"

	"github.com/regtech/exposure-reporting-server/internal/events"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

// Handler re-processes one failed event payload. Handlers must be
// idempotent; the processor does not deduplicate.
type Handler func(ctx context.Context, payload []byte) error

// Store is the slice of persistence the processor needs.
type Store interface {
	SaveFailure(ctx context.Context, f *Failure) error
	LeaseDue(ctx context.Context, now time.Time, limit int) ([]*Failure, error)
	MarkSucceeded(ctx context.Context, failureID string) error
	MarkRetry(ctx context.Context, failureID string, retryCount int, nextRetryAt time.Time, lastError string) error
	MarkDeadLetter(ctx context.Context, failureID string, retryCount int, lastError string) error
}

// Config holds processor settings.
type Config struct {
	PollInterval   time.Duration `env:"FAILURE_POLL_INTERVAL, default=10s"`
	BatchSize      int           `env:"FAILURE_BATCH_SIZE, default=50"`
	AttemptTimeout time.Duration `env:"FAILURE_ATTEMPT_TIMEOUT, default=30s"`
	MaxRetries     int           `env:"RETRY_MAX_RETRIES, default=5"`
	// BackoffSchedule is a comma-separated duration list.
	BackoffSchedule string `env:"RETRY_BACKOFF_SCHEDULE, default=10s,30s,60s,5m,10m"`
}

// ParseBackoffSchedule parses the RETRY_BACKOFF_SCHEDULE format.
func ParseBackoffSchedule(s string) ([]time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultBackoffSchedule, nil
	}
	var schedule []time.Duration
	for _, part := range strings.Split(s, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("backoff entry %q: %w", part, err)
		}
		schedule = append(schedule, d)
	}
	return schedule, nil
}

// Processor drains due failure rows and redispatches them to registered
// handlers.
type Processor struct {
	store    Store
	bus      outbox.Bus
	config   *Config
	schedule []time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	now func() time.Time
}

// NewProcessor builds a processor. bus carries the PermanentlyFailed events
// emitted on dead-letter.
func NewProcessor(store Store, bus outbox.Bus, config *Config) (*Processor, error) {
	if config == nil {
		config = &Config{
			PollInterval:   10 * time.Second,
			BatchSize:      50,
			AttemptTimeout: 30 * time.Second,
			MaxRetries:     DefaultMaxRetries,
		}
	}
	schedule, err := ParseBackoffSchedule(config.BackoffSchedule)
	if err != nil {
		return nil, err
	}
	return &Processor{
		store:    store,
		bus:      bus,
		config:   config,
		schedule: schedule,
		handlers: make(map[string]Handler),
		now:      time.Now,
	}, nil
}

// Register binds a handler to an event type. Last registration wins.
func (p *Processor) Register(eventType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = h
}

// SaveFailure records a new PENDING failure due immediately.
func (p *Processor) SaveFailure(ctx context.Context, eventType string, payload []byte, errorMessage, errorStack string, metadata map[string]string, maxRetries int) (*Failure, error) {
	if maxRetries <= 0 {
		maxRetries = p.config.MaxRetries
	}
	f := NewFailure(eventType, payload, errorMessage, errorStack, metadata, maxRetries, p.now())
	if err := p.store.SaveFailure(ctx, f); err != nil {
		return nil, err
	}
	recordFailure(ctx, "saved")
	return f, nil
}

// Run scans on the poll interval until the context is canceled.
func (p *Processor) Run(ctx context.Context) error {
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
			logger.Errorw("failure scan failed", "error", err)
		}
	}
}

// RunOnce drains one batch of due rows and returns how many were processed.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	due, err := p.store.LeaseDue(ctx, p.now(), p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("lease due failures: %w", err)
	}
	for _, f := range due {
		p.processOne(ctx, f)
	}
	return len(due), nil
}

func (p *Processor) processOne(ctx context.Context, f *Failure) {
	logger := logging.FromContext(ctx)

	p.mu.RLock()
	handler, ok := p.handlers[f.EventType]
	p.mu.RUnlock()

	var attemptErr error
	if !ok {
		attemptErr = fmt.Errorf("no handler registered for event type %q", f.EventType)
	} else {
		attemptCtx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
		attemptErr = handler(attemptCtx, f.Payload)
		cancel()
	}

	if attemptErr == nil {
		if err := p.store.MarkSucceeded(ctx, f.FailureID); err != nil {
			logger.Errorw("failure row succeeded but not marked", "failure_id", f.FailureID, "error", err)
		}
		recordFailure(ctx, "succeeded")
		return
	}

	retryCount := f.RetryCount + 1
	if retryCount > f.MaxRetries {
		if err := p.store.MarkDeadLetter(ctx, f.FailureID, f.RetryCount, attemptErr.Error()); err != nil {
			logger.Errorw("dead-letter mark failed", "failure_id", f.FailureID, "error", err)
			return
		}
		recordFailure(ctx, "dead_letter")
		logger.Errorw("failure exhausted retries",
			"failure_id", f.FailureID, "event_type", f.EventType,
			"retry_count", f.RetryCount, "error", attemptErr)
		p.emitPermanentlyFailed(ctx, f, attemptErr)
		return
	}

	next := p.now().UTC().Add(Backoff(p.schedule, retryCount))
	if err := p.store.MarkRetry(ctx, f.FailureID, retryCount, next, attemptErr.Error()); err != nil {
		logger.Errorw("retry mark failed", "failure_id", f.FailureID, "error", err)
		return
	}
	recordFailure(ctx, "retried")
	logger.Warnw("failure retry scheduled",
		"failure_id", f.FailureID, "event_type", f.EventType,
		"retry_count", retryCount, "next_retry_at", next, "error", attemptErr)
}

func (p *Processor) emitPermanentlyFailed(ctx context.Context, f *Failure, cause error) {
	logger := logging.FromContext(ctx)
	payload, err := json.Marshal(&events.EventProcessingPermanentlyFailed{
		FailureID:  f.FailureID,
		EventType:  f.EventType,
		RetryCount: f.RetryCount,
		LastError:  cause.Error(),
	})
	if err != nil {
		logger.Errorw("marshal PermanentlyFailed", "failure_id", f.FailureID, "error", err)
		return
	}
	ev := outbox.NewEvent(events.TypePermanentlyFailed, f.FailureID, payload, p.now())
	if err := p.bus.Publish(ctx, ev); err != nil {
		logger.Errorw("publish PermanentlyFailed", "failure_id", f.FailureID, "error", err)
	}
}
