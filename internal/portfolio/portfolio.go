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

// Package portfolio aggregates classified exposures into geographic and
// sector breakdowns with Herfindahl concentration indices.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/regtech/exposure-reporting-server/internal/calculation"
)

// TrendStable is the only trend emitted for a single-batch analysis; trend
// detection over time series is out of scope here.
const TrendStable = "STABLE"

// Slice is one category's share of the portfolio.
type Slice struct {
	AmountEur  decimal.Decimal `json:"amountEur"`
	Percentage float64         `json:"percentage"`
}

// Analysis is the portfolio view of one batch.
type Analysis struct {
	BatchID             string           `json:"batchId"`
	TotalPortfolio      decimal.Decimal  `json:"totalPortfolio"`
	GeographicBreakdown map[string]Slice `json:"geographicBreakdown"`
	SectorBreakdown     map[string]Slice `json:"sectorBreakdown"`
	GeographicHHI       float64          `json:"geographicHHI"`
	SectorHHI           float64          `json:"sectorHHI"`
	Trend               string           `json:"trend"`
	AnalyzedAt          time.Time        `json:"analyzedAt"`
}

// Analyze computes breakdowns and HHIs over the classified exposures. A
// zero-total portfolio yields empty breakdowns, zero indices and a STABLE
// trend instead of an error.
func Analyze(batchID string, classified []*calculation.Classified, now time.Time) *Analysis {
	a := &Analysis{
		BatchID:             batchID,
		GeographicBreakdown: make(map[string]Slice),
		SectorBreakdown:     make(map[string]Slice),
		Trend:               TrendStable,
		AnalyzedAt:          now.UTC(),
	}

	geoAmounts := make(map[string]decimal.Decimal)
	sectorAmounts := make(map[string]decimal.Decimal)
	for _, c := range classified {
		a.TotalPortfolio = a.TotalPortfolio.Add(c.EurAmount)
		geo := string(c.GeographicRegion)
		geoAmounts[geo] = geoAmounts[geo].Add(c.EurAmount)
		sector := string(c.EconomicSector)
		sectorAmounts[sector] = sectorAmounts[sector].Add(c.EurAmount)
	}

	if a.TotalPortfolio.IsZero() {
		a.TotalPortfolio = decimal.Zero
		return a
	}

	a.GeographicBreakdown, a.GeographicHHI = breakdown(geoAmounts, a.TotalPortfolio)
	a.SectorBreakdown, a.SectorHHI = breakdown(sectorAmounts, a.TotalPortfolio)
	return a
}

// breakdown converts per-category amounts into slices and the HHI over the
// share fractions.
func breakdown(amounts map[string]decimal.Decimal, total decimal.Decimal) (map[string]Slice, float64) {
	slices := make(map[string]Slice, len(amounts))
	var hhi float64
	for category, amount := range amounts {
		share, _ := amount.Div(total).Float64()
		slices[category] = Slice{
			AmountEur:  amount,
			Percentage: share * 100,
		}
		hhi += share * share
	}
	return slices, hhi
}
