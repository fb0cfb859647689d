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

// Package calculation converts exposures to EUR, applies credit-risk
// mitigation and classifies each record by geography and economic sector.
package calculation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/regtech/exposure-reporting-server/internal/errdetail"
	"github.com/regtech/exposure-reporting-server/internal/exposure"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

// GeographicRegion classifies a counterparty's country.
type GeographicRegion string

const (
	RegionItaly       GeographicRegion = "ITALY"
	RegionEUOther     GeographicRegion = "EU_OTHER"
	RegionNonEuropean GeographicRegion = "NON_EUROPEAN"
)

// EconomicSector is the fixed sector classification.
type EconomicSector string

const (
	SectorRetailMortgage EconomicSector = "RETAIL_MORTGAGE"
	SectorCorporate      EconomicSector = "CORPORATE"
	SectorSovereign      EconomicSector = "SOVEREIGN"
	SectorBanking        EconomicSector = "BANKING"
	SectorOther          EconomicSector = "OTHER"
)

// eurScale is the output scale for all EUR amounts, rounded half-up.
const eurScale = 2

// euMemberCountries are EU member states other than Italy, ISO 3166-1 alpha-2.
var euMemberCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IE": true, "LV": true, "LT": true, "LU": true, "MT": true,
	"NL": true, "PL": true, "PT": true, "RO": true, "SK": true, "SI": true,
	"ES": true, "SE": true,
}

// Classified is an exposure with its EUR amounts and classifications.
type Classified struct {
	Record *exposure.Record

	EurAmount          decimal.Decimal
	MitigatedAmountEur decimal.Decimal
	GeographicRegion   GeographicRegion
	EconomicSector     EconomicSector
	ExchangeRateUsed   decimal.Decimal
	ExchangeRateDate   time.Time
}

// Result is the batch-level calculation outcome. Failed records carry
// per-record errors and never abort the batch.
type Result struct {
	Classified []*Classified
	Failed     []*RecordError

	TotalExposures int
	TotalAmountEur decimal.Decimal
}

// RecordError binds a calculation failure to the record that caused it.
type RecordError struct {
	ExposureID string
	Err        error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("exposure %s: %v", e.ExposureID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Protection is one credit-risk-mitigation amount from the sidecar stream,
// already denominated in EUR.
type Protection struct {
	ExposureID string
	AmountEur  decimal.Decimal
}

// Calculator converts and classifies a batch's exposures.
type Calculator struct {
	rates RateSource
}

// NewCalculator builds a calculator over the given rate source.
func NewCalculator(rates RateSource) *Calculator {
	return &Calculator{rates: rates}
}

// Calculate processes every record. A missing exchange rate fails only that
// record with an FX_RATE_UNAVAILABLE error; all other records proceed.
func (c *Calculator) Calculate(ctx context.Context, records []*exposure.Record, protections []*Protection) *Result {
	logger := logging.FromContext(ctx)

	protectionByID := make(map[string]decimal.Decimal, len(protections))
	for _, p := range protections {
		protectionByID[p.ExposureID] = protectionByID[p.ExposureID].Add(p.AmountEur)
	}

	res := &Result{}
	for _, rec := range records {
		classified, err := c.calculateOne(ctx, rec, protectionByID[rec.ExposureID])
		if err != nil {
			res.Failed = append(res.Failed, &RecordError{ExposureID: rec.ExposureID, Err: err})
			logger.Warnw("exposure calculation failed",
				"exposure_id", rec.ExposureID, "currency", rec.Currency, "error", err)
			continue
		}
		res.Classified = append(res.Classified, classified)
		res.TotalAmountEur = res.TotalAmountEur.Add(classified.EurAmount)
	}
	res.TotalExposures = len(res.Classified)
	return res
}

func (c *Calculator) calculateOne(ctx context.Context, rec *exposure.Record, protection decimal.Decimal) (*Classified, error) {
	rate, err := c.rates.ExchangeRate(ctx, rec.Currency, rec.ReportingDate)
	if err != nil {
		if errors.Is(err, ErrRateUnavailable) {
			return nil, errdetail.Newf(errdetail.KindFXUnavailable, "FX_RATE_UNAVAILABLE",
				"error.fx_rate_unavailable",
				"no rate for %s on %s", rec.Currency, exposure.FormatDate(rec.ReportingDate))
		}
		return nil, err
	}

	eurAmount := rec.ExposureAmount.Mul(rate).Round(eurScale)
	mitigated := eurAmount.Sub(protection.Round(eurScale))
	if mitigated.IsNegative() {
		mitigated = decimal.Zero
	}

	return &Classified{
		Record:             rec,
		EurAmount:          eurAmount,
		MitigatedAmountEur: mitigated,
		GeographicRegion:   ClassifyRegion(rec.CountryCode),
		EconomicSector:     ClassifySector(rec.Sector, rec.ProductType),
		ExchangeRateUsed:   rate,
		ExchangeRateDate:   rec.ReportingDate,
	}, nil
}

// ClassifyRegion maps an ISO country code to its geographic region.
func ClassifyRegion(countryCode string) GeographicRegion {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	switch {
	case code == "IT":
		return RegionItaly
	case euMemberCountries[code]:
		return RegionEUOther
	default:
		return RegionNonEuropean
	}
}

// ClassifySector maps the raw sector and product type to the fixed economic
// sector set. Product type decides retail mortgages; the sector string
// decides the rest.
func ClassifySector(sector, productType string) EconomicSector {
	product := strings.ToUpper(strings.TrimSpace(productType))
	if strings.Contains(product, "MORTGAGE") {
		return SectorRetailMortgage
	}

	switch strings.ToUpper(strings.TrimSpace(sector)) {
	case "SOVEREIGN", "GOVERNMENT", "CENTRAL_BANK", "PUBLIC_SECTOR":
		return SectorSovereign
	case "BANKING", "BANK", "CREDIT_INSTITUTION", "FINANCIAL_INSTITUTION":
		return SectorBanking
	case "CORPORATE", "MANUFACTURING", "ENERGY", "SERVICES", "CONSTRUCTION",
		"AGRICULTURE", "TRANSPORT", "TELECOM", "RETAIL_TRADE":
		return SectorCorporate
	default:
		return SectorOther
	}
}
