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

package coordinator

import (
	"github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/failures"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/setup"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/pkg/observability"
)

// Compile-time check to assert this config matches requirements.
var (
	_ setup.DatabaseConfigProvider              = (*ServerConfig)(nil)
	_ setup.BlobstoreConfigProvider             = (*ServerConfig)(nil)
	_ setup.ObservabilityExporterConfigProvider = (*ServerConfig)(nil)
)

// ServerConfig represents the configuration and associated environment
// variables for the report coordinator service.
type ServerConfig struct {
	Database              database.Config
	Blobstore             storage.Config
	ObservabilityExporter observability.Config
	Coordinator           Config
	Failures              failures.Config
	Kafka                 outbox.KafkaConfig

	Port string `env:"PORT, default=8080"`

	// ReportFormats lists the artifact formats generated per report.
	ReportFormats string `env:"REPORT_FORMATS, default=XLSX,PDF,XBRL"`
}

func (c *ServerConfig) DatabaseConfig() *database.Config {
	return &c.Database
}

func (c *ServerConfig) BlobstoreConfig() *storage.Config {
	return &c.Blobstore
}

func (c *ServerConfig) ObservabilityExporterConfig() *observability.Config {
	return &c.ObservabilityExporter
}
