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

package calculation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/regtech/exposure-reporting-server/internal/errdetail"
	"github.com/regtech/exposure-reporting-server/internal/exposure"
)

var reportingDate = time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

func rec(id, currency, country, sector, product string, amount string) *exposure.Record {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	return &exposure.Record{
		ExposureID:     id,
		Currency:       currency,
		CountryCode:    country,
		Sector:         sector,
		ProductType:    product,
		ExposureAmount: amt,
		ReportingDate:  reportingDate,
	}
}

func TestCalculate_EurConversion(t *testing.T) {
	t.Parallel()

	rates := NewMemoryRateSource()
	rates.SetRate("USD", reportingDate, decimal.RequireFromString("0.9137"))

	c := NewCalculator(rates)
	res := c.Calculate(context.Background(), []*exposure.Record{
		rec("E1", "USD", "US", "CORPORATE", "LOAN", "1000000.55"),
		rec("E2", "EUR", "IT", "BANKING", "BOND", "250000"),
	}, nil)

	if len(res.Failed) != 0 {
		t.Fatalf("failed = %v", res.Failed)
	}
	// 1000000.55 * 0.9137 = 913700.502535 -> 913700.50 at scale 2 half-up.
	if got, want := res.Classified[0].EurAmount, decimal.RequireFromString("913700.50"); !got.Equal(want) {
		t.Errorf("eur amount = %s, want %s", got, want)
	}
	if got := res.Classified[1].EurAmount; !got.Equal(decimal.RequireFromString("250000")) {
		t.Errorf("eur passthrough = %s", got)
	}
	if want := decimal.RequireFromString("1163700.50"); !res.TotalAmountEur.Equal(want) {
		t.Errorf("total = %s, want %s", res.TotalAmountEur, want)
	}
}

func TestCalculate_HalfUpRounding(t *testing.T) {
	t.Parallel()

	rates := NewMemoryRateSource()
	rates.SetRate("USD", reportingDate, decimal.RequireFromString("0.5"))

	c := NewCalculator(rates)
	// 0.01 * 0.5 = 0.005 -> 0.01 half-up.
	res := c.Calculate(context.Background(), []*exposure.Record{
		rec("E1", "USD", "US", "CORPORATE", "LOAN", "0.01"),
	}, nil)
	if got := res.Classified[0].EurAmount; !got.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("rounded = %s, want 0.01", got)
	}
}

func TestCalculate_RateUnavailableFailsOnlyThatRecord(t *testing.T) {
	t.Parallel()

	c := NewCalculator(NewMemoryRateSource())
	res := c.Calculate(context.Background(), []*exposure.Record{
		rec("E1", "XOF", "SN", "CORPORATE", "LOAN", "100"),
		rec("E2", "EUR", "IT", "CORPORATE", "LOAN", "200"),
	}, nil)

	if len(res.Failed) != 1 || res.Failed[0].ExposureID != "E1" {
		t.Fatalf("failed = %v, want only E1", res.Failed)
	}
	var detail *errdetail.Detail
	if !errors.As(res.Failed[0].Err, &detail) || detail.Kind != errdetail.KindFXUnavailable {
		t.Errorf("error = %v, want FX_RATE_UNAVAILABLE detail", res.Failed[0].Err)
	}
	if res.TotalExposures != 1 {
		t.Errorf("total exposures = %d, want 1", res.TotalExposures)
	}
}

func TestCalculate_MitigationFlooredAtZero(t *testing.T) {
	t.Parallel()

	c := NewCalculator(NewMemoryRateSource())
	res := c.Calculate(context.Background(),
		[]*exposure.Record{
			rec("E1", "EUR", "IT", "CORPORATE", "LOAN", "1000"),
			rec("E2", "EUR", "IT", "CORPORATE", "LOAN", "1000"),
		},
		[]*Protection{
			{ExposureID: "E1", AmountEur: decimal.RequireFromString("300")},
			{ExposureID: "E1", AmountEur: decimal.RequireFromString("150")},
			{ExposureID: "E2", AmountEur: decimal.RequireFromString("5000")},
		})

	if got := res.Classified[0].MitigatedAmountEur; !got.Equal(decimal.RequireFromString("550")) {
		t.Errorf("mitigated E1 = %s, want 550", got)
	}
	if got := res.Classified[1].MitigatedAmountEur; !got.IsZero() {
		t.Errorf("mitigated E2 = %s, want 0", got)
	}
}

func TestClassifyRegion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		country string
		want    GeographicRegion
	}{
		{"IT", RegionItaly},
		{"it", RegionItaly},
		{"DE", RegionEUOther},
		{"FR", RegionEUOther},
		{"GB", RegionNonEuropean},
		{"US", RegionNonEuropean},
		{"", RegionNonEuropean},
	}
	for _, tc := range cases {
		if got := ClassifyRegion(tc.country); got != tc.want {
			t.Errorf("ClassifyRegion(%q) = %s, want %s", tc.country, got, tc.want)
		}
	}
}

func TestClassifySector(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sector  string
		product string
		want    EconomicSector
	}{
		{"RETAIL", "RESIDENTIAL_MORTGAGE", SectorRetailMortgage},
		{"GOVERNMENT", "BOND", SectorSovereign},
		{"BANK", "INTERBANK_LOAN", SectorBanking},
		{"MANUFACTURING", "LOAN", SectorCorporate},
		{"UNKNOWN_SECTOR", "LOAN", SectorOther},
	}
	for _, tc := range cases {
		if got := ClassifySector(tc.sector, tc.product); got != tc.want {
			t.Errorf("ClassifySector(%q, %q) = %s, want %s", tc.sector, tc.product, got, tc.want)
		}
	}
}
