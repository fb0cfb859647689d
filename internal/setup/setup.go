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

// Package setup provides common initialization logic for all servers: it
// processes the environment into the service's config struct and assembles
// the ServerEnv from the config's marker interfaces.
package setup

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"

	"github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/serverenv"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
	"github.com/regtech/exposure-reporting-server/pkg/observability"
)

// DatabaseConfigProvider ensures that the environment config can provide a
// DB config. All binaries in this application connect to the database via
// the same method.
type DatabaseConfigProvider interface {
	DatabaseConfig() *database.Config
}

// BlobstoreConfigProvider provides the information about the blobstore.
type BlobstoreConfigProvider interface {
	BlobstoreConfig() *storage.Config
}

// ObservabilityExporterConfigProvider signals that an observability exporter
// should be installed.
type ObservabilityExporterConfigProvider interface {
	ObservabilityExporterConfig() *observability.Config
}

// Setup runs common initialization code for all servers. The caller must
// call the returned ServerEnv's Close.
func Setup(ctx context.Context, config interface{}) (*serverenv.ServerEnv, error) {
	logger := logging.FromContext(ctx)

	if err := envconfig.Process(ctx, config); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}
	logger.Infow("provided", "config", config)

	var opts []serverenv.Option

	if provider, ok := config.(ObservabilityExporterConfigProvider); ok {
		logger.Info("configuring observability exporter")
		exporter, err := observability.NewFromEnv(ctx, provider.ObservabilityExporterConfig())
		if err != nil {
			return nil, fmt.Errorf("unable to create observability provider: %w", err)
		}
		if err := exporter.StartExporter(); err != nil {
			return nil, fmt.Errorf("error initializing observability exporter: %w", err)
		}
		opts = append(opts, serverenv.WithObservabilityExporter(exporter))
	}

	if provider, ok := config.(BlobstoreConfigProvider); ok {
		logger.Info("configuring blobstore")
		blobstore, err := storage.BlobstoreFor(ctx, provider.BlobstoreConfig().BlobstoreType)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to storage system: %w", err)
		}
		opts = append(opts, serverenv.WithBlobstore(blobstore))
	}

	if provider, ok := config.(DatabaseConfigProvider); ok {
		logger.Info("configuring database")
		db, err := database.NewFromEnv(ctx, provider.DatabaseConfig())
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		opts = append(opts, serverenv.WithDatabase(db))
	}

	return serverenv.New(ctx, opts...), nil
}
