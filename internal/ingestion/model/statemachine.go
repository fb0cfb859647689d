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

package model

import (
	"errors"
	"fmt"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

// ErrInvalidTransition is returned for transition attempts outside the legal
// edge set. It signals a programmer error and is logged loudly by callers.
var ErrInvalidTransition = errors.New("invalid batch status transition")

// legalTransitions is the full edge set of the batch lifecycle.
//
//	UPLOADED  -> PARSING
//	PARSING   -> VALIDATED | FAILED
//	VALIDATED -> STORING   | FAILED
//	STORING   -> COMPLETED | FAILED
var legalTransitions = map[BatchStatus][]BatchStatus{
	StatusUploaded:  {StatusParsing},
	StatusParsing:   {StatusValidated, StatusFailed},
	StatusValidated: {StatusStoring, StatusFailed},
	StatusStoring:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// ValidateTransition checks that moving the batch to target is legal. It does
// not modify the batch. Re-entering the current state is allowed and treated
// as an idempotent no-op by ApplyTransition.
func ValidateTransition(b *Batch, target BatchStatus) error {
	if b.Status == target {
		return nil
	}
	if b.Status.Terminal() {
		return fmt.Errorf("batch %s is terminal in %s: %w", b.BatchID, b.Status, ErrInvalidTransition)
	}
	for _, next := range legalTransitions[b.Status] {
		if next == target {
			return nil
		}
	}
	return fmt.Errorf("batch %s cannot move %s -> %s: %w", b.BatchID, b.Status, target, ErrInvalidTransition)
}

// ApplyTransition moves the batch to target, setting timestamps. Success
// edges leaving PARSING or later require a stored object reference and a
// non-negative exposure count. Every attempt records a transition metric
// tagged with the edge and outcome.
func ApplyTransition(b *Batch, target BatchStatus, now time.Time) error {
	// Capture the edge before the batch mutates below, so the metric
	// carries the state the batch left and the time it spent there.
	from := b.Status
	entered := b.LastTransitionAt
	outcome := "ok"
	defer func() {
		recordTransition(from, target, outcome, now.Sub(entered))
	}()

	if err := ValidateTransition(b, target); err != nil {
		outcome = "invalid"
		return err
	}
	if b.Status == target {
		outcome = "idempotent"
		return nil
	}

	if successEdgePastParsing(target) {
		if b.ObjectRef.IsZero() {
			outcome = "invalid"
			return fmt.Errorf("batch %s has no object reference for %s: %w", b.BatchID, target, ErrInvalidTransition)
		}
		if b.ExposureCount < 0 {
			outcome = "invalid"
			return fmt.Errorf("batch %s has negative exposure count: %w", b.BatchID, ErrInvalidTransition)
		}
	}

	b.Status = target
	b.LastTransitionAt = now
	switch target {
	case StatusCompleted:
		b.CompletedAt = now
		b.ProcessingDuration = now.Sub(b.UploadedAt)
	case StatusFailed:
		b.FailedAt = now
		b.ProcessingDuration = now.Sub(b.UploadedAt)
	}
	return nil
}

// successEdgePastParsing reports whether target is a success state reached
// after parsing finished.
func successEdgePastParsing(target BatchStatus) bool {
	return target == StatusValidated || target == StatusStoring || target == StatusCompleted
}

// recordTransition is a variable so tests can intercept the recorded edge.
var recordTransition = func(from, to BatchStatus, outcome string, latency time.Duration) {
	ctx, err := tag.New(noopContext(),
		tag.Upsert(tagFrom, string(from)),
		tag.Upsert(tagTo, string(to)),
		tag.Upsert(tagOutcome, outcome),
	)
	if err != nil {
		return
	}
	stats.Record(ctx, mTransitionLatency.M(float64(latency.Milliseconds())), mTransitions.M(1))
}
