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

// Package model defines business rules, violations and exemptions shared by
// the rule engine, the uniqueness validator and the quality scorer.
package model

import (
	"time"
)

// Dimension is one of the six BCBS 239 quality axes.
type Dimension string

const (
	DimensionCompleteness Dimension = "COMPLETENESS"
	DimensionAccuracy     Dimension = "ACCURACY"
	DimensionConsistency  Dimension = "CONSISTENCY"
	DimensionTimeliness   Dimension = "TIMELINESS"
	DimensionUniqueness   Dimension = "UNIQUENESS"
	DimensionValidity     Dimension = "VALIDITY"
)

// Dimensions lists all dimensions in declaration order. Tie-breaking in the
// quality scorer follows this order.
var Dimensions = []Dimension{
	DimensionCompleteness,
	DimensionAccuracy,
	DimensionConsistency,
	DimensionTimeliness,
	DimensionUniqueness,
	DimensionValidity,
}

// Severity ranks a violation.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Weight returns the scoring weight of the severity. More severe violations
// subtract more from a dimension score.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.25
	default:
		return 0.5
	}
}

// Rule is a single data-quality predicate evaluated against every exposure.
// Rules are append-only per version; the enabled set is read once per batch.
type Rule struct {
	RuleID     string
	Enabled    bool
	Expression string
	Dimension  Dimension
	Severity   Severity
	Field      string
	Message    string
	Version    int
}

// Violation is one failed rule for one exposure. Violations are persisted
// only as part of a batch commit.
type Violation struct {
	BatchID    string
	ExposureID string
	RuleID     string
	Dimension  Dimension
	Severity   Severity
	Field      string
	Message    string
	// HashVersion is set on content-duplicate violations so that a future
	// change to the hashed field list does not collide with stored hashes.
	HashVersion string
	ObservedAt  time.Time
}

// EntityTypeExposure is the entity type for exposure-scoped exemptions.
const EntityTypeExposure = "EXPOSURE"

// Exemption is a time-windowed waiver excluding a rule (or, with an empty
// RuleID, all rules) from applying to a specific entity.
type Exemption struct {
	EntityType string
	EntityID   string
	RuleID     string
	ValidFrom  time.Time
	ValidTo    time.Time
}

// Covers reports whether the exemption waives ruleID at the given time.
func (e *Exemption) Covers(ruleID string, at time.Time) bool {
	if e.RuleID != "" && e.RuleID != ruleID {
		return false
	}
	if !e.ValidFrom.IsZero() && at.Before(e.ValidFrom) {
		return false
	}
	if !e.ValidTo.IsZero() && at.After(e.ValidTo) {
		return false
	}
	return true
}
