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

package storage

import (
	"github.com/regtech/exposure-reporting-server/internal/metrics"
	"github.com/regtech/exposure-reporting-server/pkg/observability"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

const metricPrefix = metrics.MetricRoot + "storage"

var (
	mPutBytes         = stats.Int64(metricPrefix+"/put_bytes", "bytes written to the blobstore", stats.UnitBytes)
	mPutFailure       = stats.Int64(metricPrefix+"/put_failed", "blobstore writes that failed", stats.UnitDimensionless)
	mChecksumMismatch = stats.Int64(metricPrefix+"/checksum_mismatch", "uploads rejected for checksum mismatch", stats.UnitDimensionless)
)

func init() {
	observability.CollectViews([]*view.View{
		{
			Name:        metricPrefix + "/put_bytes",
			Description: "Total bytes written to the blobstore",
			Measure:     mPutBytes,
			Aggregation: view.Sum(),
		},
		{
			Name:        metricPrefix + "/put_failed",
			Description: "Count of failed blobstore writes",
			Measure:     mPutFailure,
			Aggregation: view.Count(),
		},
		{
			Name:        metricPrefix + "/checksum_mismatch",
			Description: "Count of uploads rejected for checksum mismatch",
			Measure:     mChecksumMismatch,
			Aggregation: view.Count(),
		},
	}...)
}
