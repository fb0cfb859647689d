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

// Package coordinator joins the quality and calculation event streams per
// batch and triggers report generation exactly once per completed batch.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/regtech/exposure-reporting-server/internal/events"
	"github.com/regtech/exposure-reporting-server/internal/failures"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/reports"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

// State is a batch's coordination state.
type State string

const (
	StateAwaitingBoth        State = "AWAITING_BOTH"
	StateAwaitingQuality     State = "AWAITING_QUALITY"
	StateAwaitingCalculation State = "AWAITING_CALCULATION"
	StateJoined              State = "JOINED"
	StateStale               State = "STALE"
	StateIdempotentSkip      State = "IDEMPOTENT_SKIP"
)

// EventTypeGenerateReport is the failure-queue event type for report
// generation retries.
const EventTypeGenerateReport = "reporting.reports.GenerateReport"

// Config holds coordinator settings.
type Config struct {
	StaleEventThreshold time.Duration `env:"COORDINATOR_STALE_EVENT_THRESHOLD, default=24h"`
}

// ReportStore tracks which batches already have a completed report.
type ReportStore interface {
	ReportCompleted(ctx context.Context, batchID string) (bool, error)
	MarkReportCompleted(ctx context.Context, batchID, reportID string, at time.Time) error
}

// FailureSink records report generation failures for the retry processor.
type FailureSink interface {
	SaveFailure(ctx context.Context, eventType string, payload []byte, errorMessage, errorStack string, metadata map[string]string, maxRetries int) (*failures.Failure, error)
}

// join is the per-batch partial state.
type join struct {
	quality     *events.BatchQualityCompleted
	calculation *events.BatchCalculationCompleted
}

func (j *join) state() State {
	switch {
	case j.quality != nil && j.calculation != nil:
		return StateJoined
	case j.quality != nil:
		return StateAwaitingCalculation
	case j.calculation != nil:
		return StateAwaitingQuality
	default:
		return StateAwaitingBoth
	}
}

// generatePayload is the failure-queue payload for a retryable generation.
type generatePayload struct {
	Quality     *events.BatchQualityCompleted     `json:"quality"`
	Calculation *events.BatchCalculationCompleted `json:"calculation"`
}

// Coordinator holds the join map and the in-flight set.
type Coordinator struct {
	store     ReportStore
	generator *reports.Generator
	bus       outbox.Bus
	failures  FailureSink
	config    *Config

	mu       sync.Mutex
	pending  map[string]*join
	inflight map[string]bool

	now func() time.Time
}

// New builds a coordinator. bus carries the ReportGenerated events.
func New(store ReportStore, generator *reports.Generator, bus outbox.Bus, sink FailureSink, config *Config) *Coordinator {
	if config == nil {
		config = &Config{StaleEventThreshold: 24 * time.Hour}
	}
	return &Coordinator{
		store:     store,
		generator: generator,
		bus:       bus,
		failures:  sink,
		config:    config,
		pending:   make(map[string]*join),
		inflight:  make(map[string]bool),
		now:       time.Now,
	}
}

// Subscribe registers the coordinator's handlers on an in-process bus.
func (c *Coordinator) Subscribe(bus *outbox.MemoryBus) {
	bus.Subscribe(events.TypeBatchQualityCompleted, c.OnQualityCompleted)
	bus.Subscribe(events.TypeBatchCalculationCompleted, c.OnCalculationCompleted)
}

// OnQualityCompleted consumes a BatchQualityCompleted event.
func (c *Coordinator) OnQualityCompleted(ctx context.Context, ev *outbox.Event) error {
	var e events.BatchQualityCompleted
	if err := json.Unmarshal(ev.Payload, &e); err != nil {
		recordOutcome(ctx, "filtered_invalid")
		logging.FromContext(ctx).Warnw("undecodable quality event", "error", err)
		return nil
	}
	if e.BatchID == "" || e.BankID == "" || e.ResultURI == "" || e.Timestamp.IsZero() {
		recordOutcome(ctx, "filtered_invalid")
		return nil
	}
	return c.accept(ctx, e.BatchID, e.Timestamp, func(j *join) { j.quality = &e })
}

// OnCalculationCompleted consumes a BatchCalculationCompleted event.
func (c *Coordinator) OnCalculationCompleted(ctx context.Context, ev *outbox.Event) error {
	var e events.BatchCalculationCompleted
	if err := json.Unmarshal(ev.Payload, &e); err != nil {
		recordOutcome(ctx, "filtered_invalid")
		logging.FromContext(ctx).Warnw("undecodable calculation event", "error", err)
		return nil
	}
	if e.BatchID == "" || e.BankID == "" || e.ResultURI == "" || e.CompletedAt.IsZero() {
		recordOutcome(ctx, "filtered_invalid")
		return nil
	}
	return c.accept(ctx, e.BatchID, e.CompletedAt, func(j *join) { j.calculation = &e })
}

// accept applies the stale and idempotency filters, merges the event into
// the join map and fires generation when both halves are present.
func (c *Coordinator) accept(ctx context.Context, batchID string, occurredAt time.Time, merge func(*join)) error {
	logger := logging.FromContext(ctx)

	if age := c.now().Sub(occurredAt); age > c.config.StaleEventThreshold {
		recordOutcome(ctx, "filtered_stale")
		logger.Warnw("stale event rejected", "batch_id", batchID, "age", age)
		return nil
	}

	done, err := c.store.ReportCompleted(ctx, batchID)
	if err != nil {
		return fmt.Errorf("check report status for %s: %w", batchID, err)
	}
	if done {
		recordOutcome(ctx, "idempotent_skip")
		logger.Infow("report already completed", "batch_id", batchID)
		return nil
	}

	c.mu.Lock()
	j, ok := c.pending[batchID]
	if !ok {
		j = &join{}
		c.pending[batchID] = j
	}
	merge(j)
	ready := j.state() == StateJoined
	if ready {
		if c.inflight[batchID] {
			// Another goroutine is already generating this batch.
			c.mu.Unlock()
			recordOutcome(ctx, "idempotent_skip")
			return nil
		}
		c.inflight[batchID] = true
		delete(c.pending, batchID)
	}
	c.mu.Unlock()

	if !ready {
		recordOutcome(ctx, "awaiting")
		return nil
	}
	return c.generate(ctx, batchID, j.quality, j.calculation)
}

func (c *Coordinator) generate(ctx context.Context, batchID string, quality *events.BatchQualityCompleted, calculation *events.BatchCalculationCompleted) error {
	logger := logging.FromContext(ctx)

	result, err := c.generator.Generate(ctx, &reports.Input{
		BatchID:              batchID,
		BankID:               quality.BankID,
		QualityResultURI:     quality.ResultURI,
		CalculationResultURI: calculation.ResultURI,
		Quality:              quality.QualityScores,
		TotalExposures:       calculation.TotalExposures,
		TotalAmountEur:       calculation.TotalAmountEur,
		GeneratedAt:          c.now(),
	})
	if err != nil {
		// Release the in-flight slot so the failure queue's retry can run.
		c.mu.Lock()
		delete(c.inflight, batchID)
		c.mu.Unlock()
		recordOutcome(ctx, "generation_failed")
		logger.Errorw("report generation failed", "batch_id", batchID, "error", err)
		c.enqueueRetry(ctx, batchID, quality, calculation, err)
		return nil
	}

	if err := c.store.MarkReportCompleted(ctx, batchID, result.ReportID, result.CompletedAt); err != nil {
		c.mu.Lock()
		delete(c.inflight, batchID)
		c.mu.Unlock()
		return fmt.Errorf("mark report completed for %s: %w", batchID, err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal ReportGenerated: %w", err)
	}
	if err := c.bus.Publish(ctx, outbox.NewEvent(events.TypeReportGenerated, batchID, payload, c.now())); err != nil {
		logger.Errorw("publish ReportGenerated", "batch_id", batchID, "error", err)
	}

	c.mu.Lock()
	delete(c.inflight, batchID)
	c.mu.Unlock()

	recordOutcome(ctx, "generated")
	logger.Infow("report generated",
		"batch_id", batchID, "report_id", result.ReportID, "artifacts", len(result.Artifacts))
	return nil
}

// enqueueRetry hands a failed generation to the failure queue; the
// coordinator itself never retries.
func (c *Coordinator) enqueueRetry(ctx context.Context, batchID string, quality *events.BatchQualityCompleted, calculation *events.BatchCalculationCompleted, cause error) {
	logger := logging.FromContext(ctx)
	payload, err := json.Marshal(&generatePayload{Quality: quality, Calculation: calculation})
	if err != nil {
		logger.Errorw("marshal generation retry payload", "batch_id", batchID, "error", err)
		return
	}
	if _, err := c.failures.SaveFailure(ctx, EventTypeGenerateReport, payload,
		cause.Error(), "", map[string]string{"batchId": batchID}, 0); err != nil {
		logger.Errorw("save generation failure", "batch_id", batchID, "error", err)
	}
}

// RetryHandler returns the failure-queue handler that replays a failed
// generation.
func (c *Coordinator) RetryHandler() failures.Handler {
	return func(ctx context.Context, payload []byte) error {
		var p generatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("unmarshal generation payload: %w", err)
		}
		if p.Quality == nil || p.Calculation == nil {
			return fmt.Errorf("generation payload missing a stream")
		}
		batchID := p.Quality.BatchID

		done, err := c.store.ReportCompleted(ctx, batchID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		result, err := c.generator.Generate(ctx, &reports.Input{
			BatchID:              batchID,
			BankID:               p.Quality.BankID,
			QualityResultURI:     p.Quality.ResultURI,
			CalculationResultURI: p.Calculation.ResultURI,
			Quality:              p.Quality.QualityScores,
			TotalExposures:       p.Calculation.TotalExposures,
			TotalAmountEur:       p.Calculation.TotalAmountEur,
			GeneratedAt:          c.now(),
		})
		if err != nil {
			return err
		}
		if err := c.store.MarkReportCompleted(ctx, batchID, result.ReportID, result.CompletedAt); err != nil {
			return err
		}
		payload, err = json.Marshal(result)
		if err != nil {
			return err
		}
		return c.bus.Publish(ctx, outbox.NewEvent(events.TypeReportGenerated, batchID, payload, c.now()))
	}
}

// PendingState reports the coordination state for a batch, for status
// endpoints and tests.
func (c *Coordinator) PendingState(batchID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[batchID] {
		return StateJoined
	}
	if j, ok := c.pending[batchID]; ok {
		return j.state()
	}
	return StateAwaitingBoth
}
