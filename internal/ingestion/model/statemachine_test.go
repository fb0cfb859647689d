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
	"testing"
	"time"

	"github.com/regtech/exposure-reporting-server/internal/storage"
)

var allStatuses = []BatchStatus{
	StatusUploaded, StatusParsing, StatusValidated,
	StatusStoring, StatusCompleted, StatusFailed,
}

func legal(from, to BatchStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func batchIn(status BatchStatus) *Batch {
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	b := NewBatch("08081", FileMetadata{Name: "exposures.json"}, now)
	b.Status = status
	b.ObjectRef = storage.ObjectRef{Bucket: "b", Key: "raw/x/exposures.json"}
	b.ExposureCount = 3
	return b
}

// Every pair outside the legal edge set must be rejected, and every pair
// inside it accepted.
func TestTransitionTableComplement(t *testing.T) {
	t.Parallel()

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			b := batchIn(from)
			err := ValidateTransition(b, to)

			switch {
			case from == to:
				if err != nil {
					t.Errorf("%s -> %s (idempotent) should validate: %v", from, to, err)
				}
			case legal(from, to):
				if err != nil {
					t.Errorf("%s -> %s should be legal: %v", from, to, err)
				}
			default:
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s -> %s should be invalid, got %v", from, to, err)
				}
			}
		}
	}
}

func TestApplyTransitionTimestamps(t *testing.T) {
	t.Parallel()

	b := batchIn(StatusStoring)
	now := b.UploadedAt.Add(42 * time.Second)

	if err := ApplyTransition(b, StatusCompleted, now); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if b.CompletedAt != now {
		t.Errorf("completedAt not set")
	}
	if b.ProcessingDuration != 42*time.Second {
		t.Errorf("wrong processing duration: %v", b.ProcessingDuration)
	}
}

func TestApplyTransitionFailureTimestamps(t *testing.T) {
	t.Parallel()

	b := batchIn(StatusParsing)
	now := b.UploadedAt.Add(time.Minute)

	if err := ApplyTransition(b, StatusFailed, now); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if b.FailedAt != now {
		t.Errorf("failedAt not set")
	}
	if !b.Status.Terminal() {
		t.Errorf("FAILED should be terminal")
	}
}

func TestApplyTransitionGuards(t *testing.T) {
	t.Parallel()

	b := batchIn(StatusParsing)
	b.ObjectRef = storage.ObjectRef{}

	if err := ApplyTransition(b, StatusValidated, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("transition without objectRef should fail, got %v", err)
	}

	// Failure edges do not require an object reference.
	if err := ApplyTransition(b, StatusFailed, time.Now()); err != nil {
		t.Fatalf("failure edge should not be guarded: %v", err)
	}
}

// Not parallel: swaps the metrics hook.
func TestApplyTransitionRecordsDepartedEdge(t *testing.T) {
	type edge struct {
		from, to BatchStatus
		outcome  string
		latency  time.Duration
	}
	var got edge
	orig := recordTransition
	recordTransition = func(from, to BatchStatus, outcome string, latency time.Duration) {
		got = edge{from, to, outcome, latency}
	}
	defer func() { recordTransition = orig }()

	b := batchIn(StatusParsing)
	b.LastTransitionAt = b.UploadedAt
	now := b.UploadedAt.Add(90 * time.Millisecond)

	// The metric must carry the state the batch left and the time spent in
	// it, not the already-updated fields.
	if err := ApplyTransition(b, StatusValidated, now); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	want := edge{StatusParsing, StatusValidated, "ok", 90 * time.Millisecond}
	if got != want {
		t.Errorf("recorded edge = %+v, want %+v", got, want)
	}

	if err := ApplyTransition(b, StatusCompleted, now); err == nil {
		t.Fatal("VALIDATED -> COMPLETED should be invalid")
	}
	if got.outcome != "invalid" || got.from != StatusValidated {
		t.Errorf("recorded edge = %+v, want outcome invalid from VALIDATED", got)
	}
}

func TestApplyTransitionIdempotent(t *testing.T) {
	t.Parallel()

	b := batchIn(StatusParsing)
	before := *b
	if err := ApplyTransition(b, StatusParsing, time.Now()); err != nil {
		t.Fatalf("re-entering the current state should be a no-op: %v", err)
	}
	if b.Status != before.Status || b.LastTransitionAt != before.LastTransitionAt {
		t.Errorf("idempotent transition must not modify the batch")
	}
}

func TestTerminalStates(t *testing.T) {
	t.Parallel()

	for _, s := range []BatchStatus{StatusCompleted, StatusFailed} {
		b := batchIn(s)
		for _, to := range allStatuses {
			if to == s {
				continue
			}
			if err := ValidateTransition(b, to); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("terminal %s -> %s should be invalid", s, to)
			}
		}
	}
}

func TestNewBatchIDSortsByTime(t *testing.T) {
	t.Parallel()

	a := NewBatchID(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	b := NewBatchID(time.Date(2026, 7, 1, 10, 0, 1, 0, time.UTC))
	if !(a < b) {
		t.Errorf("batch ids should sort by creation time: %q vs %q", a, b)
	}
}
