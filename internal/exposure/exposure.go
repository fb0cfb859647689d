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

// Package exposure defines the canonical large-exposure record parsed from
// bank submissions and its derived helpers.
package exposure

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical wire format for dates in exposure records.
const DateLayout = "2006-01-02"

// Record is a single large-exposure row. Records are immutable once parsed.
type Record struct {
	ExposureID      string
	ReferenceNumber string

	CounterpartyID   string
	CounterpartyLEI  string
	CounterpartyType string

	Sector      string
	CountryCode string

	ExposureAmount decimal.Decimal
	Currency       string

	ProductType    string
	InternalRating string
	RiskCategory   string
	RiskWeight     decimal.Decimal

	ReportingDate time.Time
	ValuationDate time.Time
	MaturityDate  time.Time
}

// corporateCounterpartyTypes are counterparty types treated as corporate for
// rule evaluation.
var corporateCounterpartyTypes = map[string]bool{
	"CORPORATE":     true,
	"SME":           true,
	"LARGE_CORP":    true,
	"NON_FINANCIAL": true,
}

// IsCorporateExposure reports whether the record is a corporate exposure.
func (r *Record) IsCorporateExposure() bool {
	return corporateCounterpartyTypes[strings.ToUpper(strings.TrimSpace(r.CounterpartyType))]
}

// IsTermExposure reports whether the record carries a maturity date in the
// future of its valuation date.
func (r *Record) IsTermExposure() bool {
	if r.MaturityDate.IsZero() {
		return false
	}
	if r.ValuationDate.IsZero() {
		return true
	}
	return r.MaturityDate.After(r.ValuationDate)
}

// FormatDate renders t in the canonical layout, or the empty string for the
// zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
