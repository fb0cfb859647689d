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

package model

import (
	"context"

	"github.com/regtech/exposure-reporting-server/internal/metrics"
	"github.com/regtech/exposure-reporting-server/pkg/observability"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const metricPrefix = metrics.MetricRoot + "batch"

var (
	mTransitions       = stats.Int64(metricPrefix+"/transitions", "batch status transition attempts", stats.UnitDimensionless)
	mTransitionLatency = stats.Float64(metricPrefix+"/transition_latency", "time spent in the source state", stats.UnitMilliseconds)

	tagFrom    = tag.MustNewKey("from")
	tagTo      = tag.MustNewKey("to")
	tagOutcome = tag.MustNewKey("outcome")
)

func noopContext() context.Context {
	return context.Background()
}

func init() {
	observability.CollectViews([]*view.View{
		{
			Name:        metricPrefix + "/transitions",
			Description: "Count of batch status transition attempts by edge and outcome",
			Measure:     mTransitions,
			TagKeys:     []tag.Key{tagFrom, tagTo, tagOutcome},
			Aggregation: view.Count(),
		},
		{
			Name:        metricPrefix + "/transition_latency",
			Description: "Distribution of time spent in the source state",
			Measure:     mTransitionLatency,
			TagKeys:     []tag.Key{tagFrom, tagTo, tagOutcome},
			Aggregation: view.Distribution(10, 100, 1000, 10000, 60000, 600000, 1800000),
		},
	}...)
}
