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

import (
	"context"
	"fmt"
	"net/http"

	"contrib.go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats/view"
)

var _ Exporter = (*prometheusExporter)(nil)

type prometheusExporter struct {
	exporter *prometheus.Exporter
	config   *PrometheusConfig
}

// NewPrometheus creates a new metrics exporter that serves a prometheus
// scrape endpoint.
func NewPrometheus(_ context.Context, config *PrometheusConfig) (Exporter, error) {
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: config.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return &prometheusExporter{pe, config}, nil
}

// StartExporter starts the exporter.
func (e *prometheusExporter) StartExporter() error {
	view.RegisterExporter(e.exporter)

	for _, v := range AllViews() {
		if err := view.Register(v); err != nil {
			return fmt.Errorf("failed to start prometheus exporter: view registration failed: %w", err)
		}
	}
	return nil
}

// Close halts the exporter.
func (e *prometheusExporter) Close() error {
	view.UnregisterExporter(e.exporter)
	return nil
}

// Handler returns the http.Handler serving the prometheus scrape endpoint.
func (e *prometheusExporter) Handler() http.Handler {
	return e.exporter
}
