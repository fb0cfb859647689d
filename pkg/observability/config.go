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

package observability

// ExporterType represents a type of observability exporter.
type ExporterType string

const (
	ExporterPrometheus ExporterType = "PROMETHEUS"
	ExporterNoop       ExporterType = "NOOP"
)

// Config holds all of the configuration options for the observability exporter.
type Config struct {
	ExporterType ExporterType `env:"OBSERVABILITY_EXPORTER, default=PROMETHEUS"`

	Prometheus *PrometheusConfig
}

// PrometheusConfig holds the configuration options for the prometheus exporter.
type PrometheusConfig struct {
	Namespace string `env:"PROMETHEUS_NAMESPACE, default=exposure_reporting"`
}
