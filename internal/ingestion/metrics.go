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

package ingestion

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/regtech/exposure-reporting-server/internal/metrics"
	"github.com/regtech/exposure-reporting-server/pkg/observability"
)

var (
	mSubmission = stats.Int64(metrics.MetricRoot+"ingestion/submissions", "batch submissions", stats.UnitDimensionless)
	mPipeline   = stats.Int64(metrics.MetricRoot+"ingestion/pipeline_runs", "pipeline runs", stats.UnitDimensionless)

	outcomeKey = tag.MustNewKey("outcome")
)

func init() {
	observability.CollectViews([]*view.View{
		{
			Name:        metrics.MetricRoot + "ingestion/submissions_count",
			Measure:     mSubmission,
			Description: "Count of batch submissions by outcome",
			TagKeys:     []tag.Key{outcomeKey},
			Aggregation: view.Count(),
		},
		{
			Name:        metrics.MetricRoot + "ingestion/pipeline_runs_count",
			Measure:     mPipeline,
			Description: "Count of pipeline runs by outcome",
			TagKeys:     []tag.Key{outcomeKey},
			Aggregation: view.Count(),
		},
	}...)
}

func recordSubmission(ctx context.Context, outcome string) {
	stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(outcomeKey, outcome)}, mSubmission.M(1))
}

func recordPipeline(ctx context.Context, outcome string) {
	stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(outcomeKey, outcome)}, mPipeline.M(1))
}
