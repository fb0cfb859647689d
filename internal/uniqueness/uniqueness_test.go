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

package uniqueness

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/regtech/exposure-reporting-server/internal/exposure"
	"github.com/regtech/exposure-reporting-server/internal/rules/model"
)

func record(id, ref, counterparty string, amount int64) *exposure.Record {
	return &exposure.Record{
		ExposureID:      id,
		ReferenceNumber: ref,
		CounterpartyID:  counterparty,
		CounterpartyLEI: "LEI-" + counterparty,
		Sector:          "MANUFACTURING",
		CountryCode:     "IT",
		ExposureAmount:  decimal.NewFromInt(amount),
		Currency:        "EUR",
		ReportingDate:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestCheck_DuplicateExposureID(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	records := []*exposure.Record{
		record("E1", "R1", "CP1", 100),
		record("E1", "R2", "CP2", 200),
		record("E2", "R3", "CP3", 300),
	}

	res := Check("batch-1", records, now)

	var critical int
	for _, v := range res.Violations {
		if v.RuleID != RuleExposureIDDuplicate {
			continue
		}
		critical++
		if v.Severity != model.SeverityCritical {
			t.Errorf("severity = %q, want CRITICAL", v.Severity)
		}
		if v.ExposureID != "E1" {
			t.Errorf("violation on %q, want E1", v.ExposureID)
		}
	}
	if critical != 2 {
		t.Fatalf("got %d exposureId violations, want 2", critical)
	}
	if got, want := res.Score, (3.0-2.0)/3.0*100; math.Abs(got-want) > 0.001 {
		t.Errorf("score = %.4f, want %.4f", got, want)
	}
}

func TestCheck_ReferenceNumberBlanksSkipped(t *testing.T) {
	t.Parallel()

	records := []*exposure.Record{
		record("E1", "", "CP1", 100),
		record("E2", "", "CP2", 200),
		record("E3", "REF-9", "CP3", 300),
		record("E4", "REF-9", "CP4", 400),
	}

	res := Check("batch-1", records, time.Now().UTC())

	var refViolations []*model.Violation
	for _, v := range res.Violations {
		if v.RuleID == RuleReferenceDuplicate {
			refViolations = append(refViolations, v)
		}
	}
	if len(refViolations) != 2 {
		t.Fatalf("got %d reference violations, want 2", len(refViolations))
	}
	for _, v := range refViolations {
		if v.Severity != model.SeverityHigh {
			t.Errorf("severity = %q, want HIGH", v.Severity)
		}
	}
}

func TestCheck_ContentDuplicateIgnoresIdentifiers(t *testing.T) {
	t.Parallel()

	// Same business content, different identifiers: must still collide.
	a := record("E1", "R1", "CP1", 100)
	b := record("E2", "R2", "CP1", 100)
	c := record("E3", "R3", "CP-OTHER", 999)

	res := Check("batch-1", []*exposure.Record{a, b, c}, time.Now().UTC())

	var content int
	for _, v := range res.Violations {
		if v.RuleID == RuleContentDuplicate {
			content++
			if v.HashVersion != exposure.ContentHashVersion {
				t.Errorf("hash version = %q, want %q", v.HashVersion, exposure.ContentHashVersion)
			}
		}
	}
	if content != 2 {
		t.Fatalf("got %d content violations, want 2", content)
	}
	if res.FlaggedRecords != 2 {
		t.Errorf("flagged = %d, want 2", res.FlaggedRecords)
	}
}

func TestCheck_ScoreCountsRecordsOnce(t *testing.T) {
	t.Parallel()

	// Two records identical in every way: they trip all three checks, yet
	// each record counts once toward the score.
	a := record("E1", "R1", "CP1", 100)
	b := record("E1", "R1", "CP1", 100)

	res := Check("batch-1", []*exposure.Record{a, b}, time.Now().UTC())

	if res.FlaggedRecords != 2 {
		t.Fatalf("flagged = %d, want 2", res.FlaggedRecords)
	}
	if res.Score != 0 {
		t.Errorf("score = %.2f, want 0", res.Score)
	}
	if len(res.Violations) != 6 {
		t.Errorf("violations = %d, want 6 (3 checks x 2 records)", len(res.Violations))
	}
}

func TestCheck_EmptyBatch(t *testing.T) {
	t.Parallel()

	res := Check("batch-1", nil, time.Now().UTC())
	if res.Score != 100 {
		t.Errorf("score = %.2f, want 100", res.Score)
	}
	if len(res.Violations) != 0 {
		t.Errorf("violations = %d, want 0", len(res.Violations))
	}
}
