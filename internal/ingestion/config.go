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

// Package ingestion implements the batch intake boundary and the processing
// pipeline that moves a submission from UPLOADED to COMPLETED.
package ingestion

import (
	"time"

	"github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/quality"
	"github.com/regtech/exposure-reporting-server/internal/rules"
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
// for the ingestion components.
type Config struct {
	Database              database.Config
	Blobstore             storage.Config
	ObservabilityExporter observability.Config
	Rules                 rules.Config
	Quality               quality.Config

	Port string `env:"PORT, default=8080"`

	// BatchTimeout bounds the whole pipeline for one batch. A batch that is
	// still running when the deadline expires fails with TIMEOUT.
	BatchTimeout time.Duration `env:"BATCH_TIMEOUT, default=30m"`

	// Workers is the fan-out width for per-exposure rule evaluation.
	Workers int `env:"PIPELINE_WORKERS, default=4"`

	// LenientParsing continues past malformed records instead of failing
	// the batch on the first one.
	LenientParsing bool `env:"PARSER_LENIENT, default=false"`

	// MaxUploadBytes caps the accepted request body. Defaults to 500 MiB.
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES, default=524288000"`
}

func (c *Config) DatabaseConfig() *database.Config {
	return &c.Database
}

func (c *Config) BlobstoreConfig() *storage.Config {
	return &c.Blobstore
}

func (c *Config) ObservabilityExporterConfig() *observability.Config {
	return &c.ObservabilityExporter
}
