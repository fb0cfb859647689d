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
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu        sync.Mutex
	pending   map[string]*Event
	published map[string]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		pending:   make(map[string]*Event),
		published: make(map[string]time.Time),
	}
}

func (s *memoryStore) add(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[ev.EventID] = ev
}

func (s *memoryStore) ListPending(ctx context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, ev := range s.pending {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) MarkPublished(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, eventID)
	s.published[eventID] = at
	return nil
}

type flakyBus struct {
	mu       sync.Mutex
	failures map[string]int
	received []*Event
}

func (b *flakyBus) Publish(ctx context.Context, ev *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := b.failures[ev.EventID]; n > 0 {
		b.failures[ev.EventID] = n - 1
		return errors.New("broker unavailable")
	}
	b.received = append(b.received, ev)
	return nil
}

func testConfig() *Config {
	return &Config{
		PollInterval:   10 * time.Millisecond,
		BatchSize:      100,
		PublishRetries: 2,
		RetryBackoff:   time.Millisecond,
	}
}

func TestPublisher_DrainsPending(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		store.add(NewEvent("reporting.test.Event", fmt.Sprintf("b%d", i), []byte(`{}`), now.Add(time.Duration(i)*time.Millisecond)))
	}
	bus := &flakyBus{failures: map[string]int{}}

	p := NewPublisher(store, bus, testConfig())
	n, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("published = %d, want 5", n)
	}
	if len(store.published) != 5 || len(store.pending) != 0 {
		t.Errorf("store: %d published, %d pending", len(store.published), len(store.pending))
	}

	// Oldest first.
	for i := 1; i < len(bus.received); i++ {
		if bus.received[i].OccurredAt.Before(bus.received[i-1].OccurredAt) {
			t.Error("events delivered out of age order")
		}
	}
}

func TestPublisher_TransientFailureRetriesWithinScan(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	ev := NewEvent("reporting.test.Event", "b1", []byte(`{}`), time.Now().UTC())
	store.add(ev)
	// Fails once, succeeds on the in-scan retry.
	bus := &flakyBus{failures: map[string]int{ev.EventID: 1}}

	p := NewPublisher(store, bus, testConfig())
	n, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("published = %d, want 1", n)
	}
}

func TestPublisher_ExhaustedRetriesLeavePending(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	ev := NewEvent("reporting.test.Event", "b1", []byte(`{}`), time.Now().UTC())
	store.add(ev)
	// More failures than in-scan retries: stays pending, then a later scan
	// delivers it. At-least-once, never dropped.
	bus := &flakyBus{failures: map[string]int{ev.EventID: 5}}

	p := NewPublisher(store, bus, testConfig())
	if n, _ := p.RunOnce(context.Background()); n != 0 {
		t.Fatalf("first scan published %d, want 0", n)
	}
	if len(store.pending) != 1 {
		t.Fatal("event dropped from pending")
	}
	if n, _ := p.RunOnce(context.Background()); n != 1 {
		t.Error("second scan did not deliver")
	}
}

func TestMemoryBus_DispatchAndAggregateErrors(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	var got []string
	bus.Subscribe("reporting.test.A", func(ctx context.Context, ev *Event) error {
		got = append(got, "first")
		return errors.New("first failed")
	})
	bus.Subscribe("reporting.test.A", func(ctx context.Context, ev *Event) error {
		got = append(got, "second")
		return nil
	})
	bus.Subscribe("reporting.test.B", func(ctx context.Context, ev *Event) error {
		t.Error("wrong type dispatched")
		return nil
	})

	err := bus.Publish(context.Background(), NewEvent("reporting.test.A", "k", nil, time.Now()))
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(got) != 2 {
		t.Errorf("handlers run = %v, want both despite first error", got)
	}
}
