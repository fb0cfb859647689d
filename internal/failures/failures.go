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

// Package failures is the durable failure queue: failed event processing is
// recorded as a row, retried on an exponential schedule and dead-lettered
// when the retry budget runs out.
package failures

import (
	"time"

	"github.com/google/uuid"
)

// Status is a failure row's lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	// StatusFailed marks a row recorded as failed without a scheduled
	// retry, typically written by an external producer. The processor
	// leases such rows alongside PENDING ones.
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// DefaultMaxRetries bounds retries when the caller does not say otherwise.
const DefaultMaxRetries = 5

// DefaultBackoffSchedule is the delay before the n-th retry. Retries past
// the end of the schedule reuse the last entry.
var DefaultBackoffSchedule = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	5 * time.Minute,
	10 * time.Minute,
}

// Backoff returns the delay before retry number n (1-based) under the given
// schedule.
func Backoff(schedule []time.Duration, n int) time.Duration {
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	if n < 1 {
		n = 1
	}
	if n > len(schedule) {
		n = len(schedule)
	}
	return schedule[n-1]
}

// Failure is one failure-queue row.
type Failure struct {
	FailureID    string
	EventType    string
	Payload      []byte
	ErrorMessage string
	ErrorStack   string
	Metadata     map[string]string

	Status      Status
	RetryCount  int
	MaxRetries  int
	NextRetryAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// NewFailure builds a PENDING row due immediately.
func NewFailure(eventType string, payload []byte, errorMessage, errorStack string, metadata map[string]string, maxRetries int, now time.Time) *Failure {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now = now.UTC()
	return &Failure{
		FailureID:    uuid.NewString(),
		EventType:    eventType,
		Payload:      payload,
		ErrorMessage: errorMessage,
		ErrorStack:   errorStack,
		Metadata:     metadata,
		Status:       StatusPending,
		MaxRetries:   maxRetries,
		NextRetryAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
