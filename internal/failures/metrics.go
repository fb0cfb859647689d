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

package failures

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/regtech/exposure-reporting-server/internal/metrics"
	"github.com/regtech/exposure-reporting-server/pkg/observability"
)

var (
	mOutcomes = stats.Int64(metrics.MetricRoot+"failures/outcomes",
		"failure queue outcomes", stats.UnitDimensionless)

	failureOutcomeKey = tag.MustNewKey("outcome")
)

func init() {
	observability.CollectViews(
		&view.View{
			Name:        metrics.MetricRoot + "failures/outcomes_count",
			Description: "Count of failure queue outcomes",
			Measure:     mOutcomes,
			Aggregation: view.Count(),
			TagKeys:     []tag.Key{failureOutcomeKey},
		},
	)
}

func recordFailure(ctx context.Context, outcome string) {
	stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(failureOutcomeKey, outcome)},
		mOutcomes.M(1))
}
