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
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Bus delivers events to subscribers. Implementations must tolerate
// redelivery; the publisher is at-least-once.
type Bus interface {
	Publish(ctx context.Context, ev *Event) error
}

// Handler consumes one event.
type Handler func(ctx context.Context, ev *Event) error

// MemoryBus is an in-process bus dispatching synchronously to subscribers,
// used by the monolith deployment and by tests.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for an event type.
func (b *MemoryBus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish dispatches to every subscriber of the event's type. All handlers
// run even when earlier ones fail; their errors are aggregated.
func (b *MemoryBus) Publish(ctx context.Context, ev *Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.EventType]...)
	b.mu.RUnlock()

	var merr *multierror.Error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
