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

// Package interrupt provides contexts that cancel on shutdown signals.
package interrupt

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Context returns a context that is canceled on SIGINT and SIGTERM. The
// returned stop function releases the signal registration; a second signal
// after cancelation terminates the process with the default behavior.
func Context() (context.Context, context.CancelFunc) {
	return WrappedContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// WrappedContext returns a context wrapping the provided one and canceling
// it on any of the provided signals.
func WrappedContext(ctx context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, signals...)
}
