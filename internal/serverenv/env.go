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

// Package serverenv holds the shared dependencies of all services: database,
// blobstore, bus and observability exporter, assembled once at startup.
package serverenv

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/pkg/observability"
)

// ServerEnv represents latent environment configuration for servers in this
// application.
type ServerEnv struct {
	database  *database.DB
	blobstore storage.Blobstore
	bus       outbox.Bus
	exporter  observability.Exporter
}

// Option defines function types to modify the ServerEnv on creation.
type Option func(*ServerEnv) *ServerEnv

// New creates a new ServerEnv with the requested options.
func New(ctx context.Context, opts ...Option) *ServerEnv {
	env := &ServerEnv{}
	for _, f := range opts {
		env = f(env)
	}
	return env
}

// WithDatabase attaches a database to the environment.
func WithDatabase(db *database.DB) Option {
	return func(s *ServerEnv) *ServerEnv {
		s.database = db
		return s
	}
}

// WithBlobstore attaches a blob storage system to the environment.
func WithBlobstore(blobstore storage.Blobstore) Option {
	return func(s *ServerEnv) *ServerEnv {
		s.blobstore = blobstore
		return s
	}
}

// WithBus attaches an event bus to the environment.
func WithBus(bus outbox.Bus) Option {
	return func(s *ServerEnv) *ServerEnv {
		s.bus = bus
		return s
	}
}

// WithObservabilityExporter attaches a metrics exporter to the environment.
func WithObservabilityExporter(exporter observability.Exporter) Option {
	return func(s *ServerEnv) *ServerEnv {
		s.exporter = exporter
		return s
	}
}

// Database returns the attached database, or nil.
func (s *ServerEnv) Database() *database.DB {
	return s.database
}

// Blobstore returns the attached blobstore, or nil.
func (s *ServerEnv) Blobstore() storage.Blobstore {
	return s.blobstore
}

// Bus returns the attached event bus, or nil.
func (s *ServerEnv) Bus() outbox.Bus {
	return s.bus
}

// ObservabilityExporter returns the attached exporter, or nil.
func (s *ServerEnv) ObservabilityExporter() observability.Exporter {
	return s.exporter
}

// Close shuts down the stateful dependencies.
func (s *ServerEnv) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var merr *multierror.Error
	if s.database != nil {
		s.database.Close(ctx)
	}
	if s.exporter != nil {
		if err := s.exporter.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if closer, ok := s.bus.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
