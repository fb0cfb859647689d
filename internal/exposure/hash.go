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

package exposure

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHashVersion identifies the field list and ordering below. It is
// persisted alongside violations so that adding a field to the record bumps
// the version instead of colliding with hashes computed under the old layout.
const ContentHashVersion = "v1"

// ContentHash returns the hex SHA-256 over the fixed, ordered field list
// excluding ExposureID and ReferenceNumber. The ordering is part of the
// contract:
//
//	counterpartyId|counterpartyLei|sector|countryCode|amount|currency|
//	reportingDate|valuationDate|maturityDate|riskWeight|productType|
//	counterpartyType|internalRating|riskCategory
//
// joined by "|" with missing values as empty strings.
func (r *Record) ContentHash() string {
	fields := []string{
		r.CounterpartyID,
		r.CounterpartyLEI,
		r.Sector,
		r.CountryCode,
		r.ExposureAmount.String(),
		r.Currency,
		FormatDate(r.ReportingDate),
		FormatDate(r.ValuationDate),
		FormatDate(r.MaturityDate),
		r.RiskWeight.String(),
		r.ProductType,
		r.CounterpartyType,
		r.InternalRating,
		r.RiskCategory,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
