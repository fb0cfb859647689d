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

// Package quality aggregates a batch's violations into per-dimension scores,
// an overall weighted score and a letter grade.
package quality

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/regtech/exposure-reporting-server/internal/rules/model"
)

// Grade thresholds are fixed; only the dimension weights are configurable.
const (
	GradeAPlus = "A+"
	GradeA     = "A"
	GradeB     = "B"
	GradeC     = "C"
	GradeF     = "F"
)

// Config holds scorer settings.
type Config struct {
	// Weights overrides the per-dimension weights, formatted
	// "COMPLETENESS=0.4,ACCURACY=0.2,...". Empty means uniform.
	Weights string `env:"QUALITY_WEIGHTS"`
}

// DimensionScore is one dimension's result.
type DimensionScore struct {
	Dimension  model.Dimension `json:"dimension"`
	Score      float64         `json:"score"`
	Violations int             `json:"violations"`
}

// Report is the scored view of a batch.
type Report struct {
	BatchID                 string            `json:"batchId"`
	TotalRecords            int               `json:"totalRecords"`
	Dimensions              []*DimensionScore `json:"dimensions"`
	OverallScore            float64           `json:"overallScore"`
	Grade                   string            `json:"grade"`
	LowestScoringDimension  model.Dimension   `json:"lowestScoringDimension"`
	HighestScoringDimension model.Dimension   `json:"highestScoringDimension"`
}

// UniformWeights returns the default weight map, 1/6 per dimension.
func UniformWeights() map[model.Dimension]float64 {
	w := make(map[model.Dimension]float64, len(model.Dimensions))
	for _, d := range model.Dimensions {
		w[d] = 1.0 / float64(len(model.Dimensions))
	}
	return w
}

// ParseWeights parses the QUALITY_WEIGHTS format. All six dimensions must be
// present; weights are normalized to sum to one. An empty string yields the
// uniform default.
func ParseWeights(s string) (map[model.Dimension]float64, error) {
	if strings.TrimSpace(s) == "" {
		return UniformWeights(), nil
	}

	w := make(map[model.Dimension]float64, len(model.Dimensions))
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed weight %q", part)
		}
		d := model.Dimension(strings.ToUpper(strings.TrimSpace(kv[0])))
		val, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("weight for %s: %w", d, err)
		}
		if val < 0 {
			return nil, fmt.Errorf("weight for %s is negative", d)
		}
		w[d] = val
	}

	var sum float64
	for _, d := range model.Dimensions {
		val, ok := w[d]
		if !ok {
			return nil, fmt.Errorf("missing weight for dimension %s", d)
		}
		sum += val
	}
	if sum <= 0 {
		return nil, fmt.Errorf("weights sum to zero")
	}
	for d := range w {
		w[d] /= sum
	}
	return w, nil
}

// Score computes the report for a batch. overrides replaces the computed
// score for a dimension; the uniqueness validator supplies its own score
// that way. Ties for lowest and highest break by dimension declaration
// order.
func Score(batchID string, totalRecords int, violations []*model.Violation, weights map[model.Dimension]float64, overrides map[model.Dimension]float64) *Report {
	if weights == nil {
		weights = UniformWeights()
	}

	weightSums := make(map[model.Dimension]float64, len(model.Dimensions))
	counts := make(map[model.Dimension]int, len(model.Dimensions))
	for _, v := range violations {
		weightSums[v.Dimension] += v.Severity.Weight()
		counts[v.Dimension]++
	}

	report := &Report{BatchID: batchID, TotalRecords: totalRecords}
	for _, d := range model.Dimensions {
		score := 100.0
		if override, ok := overrides[d]; ok {
			score = override
		} else if totalRecords > 0 {
			score = 100 - weightSums[d]/float64(totalRecords)*100
		}
		score = clamp(score)
		report.Dimensions = append(report.Dimensions, &DimensionScore{
			Dimension:  d,
			Score:      score,
			Violations: counts[d],
		})
		report.OverallScore += weights[d] * score
	}
	report.OverallScore = clamp(report.OverallScore)
	report.Grade = GradeFor(report.OverallScore)

	lowest, highest := report.Dimensions[0], report.Dimensions[0]
	for _, ds := range report.Dimensions[1:] {
		if ds.Score < lowest.Score {
			lowest = ds
		}
		if ds.Score > highest.Score {
			highest = ds
		}
	}
	report.LowestScoringDimension = lowest.Dimension
	report.HighestScoringDimension = highest.Dimension
	return report
}

// GradeFor maps an overall score to its letter grade.
func GradeFor(score float64) string {
	switch {
	case score >= 95:
		return GradeAPlus
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	default:
		return GradeF
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
