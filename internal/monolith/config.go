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

// Package monolith configures the single-process deployment that hosts the
// intake server, outbox publisher, report coordinator and failure processor
// together over an in-memory bus.
package monolith

import (
	"github.com/regtech/exposure-reporting-server/internal/coordinator"
	"github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/failures"
	"github.com/regtech/exposure-reporting-server/internal/ingestion"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/setup"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/pkg/observability"
)

// Compile-time check to assert this config matches requirements.
var (
	_ setup.DatabaseConfigProvider              = (*Config)(nil)
	_ setup.BlobstoreConfigProvider             = (*Config)(nil)
	_ setup.ObservabilityExporterConfigProvider = (*Config)(nil)
)

// Config represents the configuration and associated environment variables
// for the monolith.
type Config struct {
	Ingestion   ingestion.Config
	Coordinator coordinator.Config
	Failures    failures.Config
	Publisher   outbox.Config

	// ReportFormats lists the artifact formats generated per report.
	ReportFormats string `env:"REPORT_FORMATS, default=XLSX,PDF,XBRL"`
}

func (c *Config) DatabaseConfig() *database.Config {
	return &c.Ingestion.Database
}

func (c *Config) BlobstoreConfig() *storage.Config {
	return &c.Ingestion.Blobstore
}

func (c *Config) ObservabilityExporterConfig() *observability.Config {
	return &c.Ingestion.ObservabilityExporter
}
