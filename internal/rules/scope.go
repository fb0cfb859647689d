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

package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter"

	"github.com/regtech/exposure-reporting-server/internal/exposure"
)

// normalizeVar maps a variable spelling to its canonical slot: lookups are
// case-insensitive and underscore-insensitive, so exposure_id, exposureId and
// exposure_Id all resolve to the same binding.
func normalizeVar(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

// Scope is the evaluation scope for a single exposure. It implements
// interpreter.Activation so expressions resolve variables directly against
// it. The first binding of a normalized name wins; later collisions are
// dropped, keeping lookups deterministic.
type Scope struct {
	vars map[string]interface{}
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{vars: make(map[string]interface{})}
}

// Bind adds a variable unless its normalized name is already bound.
func (s *Scope) Bind(name string, value interface{}) {
	key := normalizeVar(name)
	if _, ok := s.vars[key]; ok {
		return
	}
	s.vars[key] = value
}

// ResolveName implements interpreter.Activation.
func (s *Scope) ResolveName(name string) (interface{}, bool) {
	v, ok := s.vars[normalizeVar(name)]
	return v, ok
}

// Parent implements interpreter.Activation.
func (s *Scope) Parent() interpreter.Activation {
	return nil
}

// ScopeForExposure builds the scope for one record: the record's fields under
// their canonical names, the derived helpers, and the entity metadata used by
// the exemption index.
func ScopeForExposure(rec *exposure.Record, entityType, entityID string) *Scope {
	s := NewScope()

	s.Bind("exposure_id", rec.ExposureID)
	s.Bind("reference_number", rec.ReferenceNumber)
	s.Bind("counterparty_id", rec.CounterpartyID)
	s.Bind("counterparty_lei", rec.CounterpartyLEI)
	s.Bind("counterparty_type", rec.CounterpartyType)
	s.Bind("sector", rec.Sector)
	s.Bind("country_code", rec.CountryCode)
	s.Bind("exposure_amount", rec.ExposureAmount.InexactFloat64())
	s.Bind("currency", rec.Currency)
	s.Bind("product_type", rec.ProductType)
	s.Bind("internal_rating", rec.InternalRating)
	s.Bind("risk_category", rec.RiskCategory)
	s.Bind("risk_weight", rec.RiskWeight.InexactFloat64())
	bindDate(s, "reporting_date", rec.ReportingDate)
	bindDate(s, "valuation_date", rec.ValuationDate)
	bindDate(s, "maturity_date", rec.MaturityDate)

	s.Bind("is_corporate_exposure", rec.IsCorporateExposure())
	s.Bind("is_term_exposure", rec.IsTermExposure())

	s.Bind("entity_type", entityType)
	s.Bind("entity_id", entityID)
	return s
}

func bindDate(s *Scope, name string, t time.Time) {
	if t.IsZero() {
		s.Bind(name, nil)
		return
	}
	s.Bind(name, t.UTC())
}

// Truthy coerces an evaluation result to a pass/fail outcome: booleans pass
// through, non-null numbers are truthy when non-zero, strings when non-empty,
// and null is false. Anything else is an evaluation error.
func Truthy(v ref.Val) (bool, error) {
	if types.IsError(v) {
		return false, fmt.Errorf("evaluation produced error value: %v", v)
	}
	switch val := v.Value().(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case uint64:
		return val != 0, nil
	case float64:
		return val != 0, nil
	case string:
		return val != "", nil
	}
	if v == types.NullValue {
		return false, nil
	}
	return false, fmt.Errorf("result type %s is not coercible to bool", v.Type().TypeName())
}
