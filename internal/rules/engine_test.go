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
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/regtech/exposure-reporting-server/internal/exposure"
	"github.com/regtech/exposure-reporting-server/internal/rules/model"
)

type fakeSource struct {
	mu         sync.Mutex
	rules      []*model.Rule
	exemptions []*model.Exemption
	ruleLoads  int
}

func (f *fakeSource) LoadEnabledRules(ctx context.Context) ([]*model.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ruleLoads++
	return f.rules, nil
}

func (f *fakeSource) LoadExemptions(ctx context.Context, entityType string, entityIDs []string) ([]*model.Exemption, error) {
	ids := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		ids[id] = true
	}
	var out []*model.Exemption
	for _, e := range f.exemptions {
		if e.EntityType == entityType && ids[e.EntityID] {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	saves   int
	batchID string
	saved   []*model.Violation
}

func (f *fakeWriter) SaveViolations(ctx context.Context, batchID string, violations []*model.Violation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.batchID = batchID
	f.saved = append(f.saved, violations...)
	return nil
}

func testRecord(id string, amount int64) *exposure.Record {
	return &exposure.Record{
		ExposureID:     id,
		CounterpartyID: "CP-" + id,
		Currency:       "EUR",
		ExposureAmount: decimal.NewFromInt(amount),
		CountryCode:    "IT",
		ReportingDate:  time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		ValuationDate:  time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(t *testing.T, src *fakeSource, w *fakeWriter, cfg *Config) *Engine {
	t.Helper()
	e, err := NewEngine(src, w, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func prepare(t *testing.T, e *Engine, records ...*exposure.Record) *Evaluator {
	t.Helper()
	ctx := context.Background()
	if err := e.PrefetchForBatch(ctx, "batch-1", model.EntityTypeExposure, records); err != nil {
		t.Fatal(err)
	}
	ev, err := e.PrepareForBatch("batch-1", model.EntityTypeExposure)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestEngine_PassAndFail(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: []*model.Rule{
		{RuleID: "AMOUNT_POSITIVE", Expression: "exposure_amount > 0.0",
			Dimension: model.DimensionValidity, Severity: model.SeverityCritical,
			Field: "exposureAmount", Message: "amount must be positive"},
		{RuleID: "CURRENCY_PRESENT", Expression: "currency",
			Dimension: model.DimensionCompleteness, Severity: model.SeverityHigh},
	}}
	e := newTestEngine(t, src, &fakeWriter{}, nil)

	good := testRecord("E1", 100)
	bad := testRecord("E2", 0)
	bad.Currency = ""

	ev := prepare(t, e, good, bad)
	ctx := context.Background()

	res := ev.ValidateNoPersist(ctx, good)
	if res.Stats.Passed != 2 || res.Stats.Failed != 0 {
		t.Errorf("good stats = %+v, want 2 passed", res.Stats)
	}

	res = ev.ValidateNoPersist(ctx, bad)
	if res.Stats.Failed != 2 {
		t.Fatalf("bad stats = %+v, want 2 failed", res.Stats)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("violations = %d, want 2", len(res.Violations))
	}
	if res.Violations[0].Message != "amount must be positive" {
		t.Errorf("message = %q", res.Violations[0].Message)
	}
	if res.Violations[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %q", res.Violations[0].Severity)
	}
}

func TestEngine_VariableSpellings(t *testing.T) {
	t.Parallel()

	// The same rule referring to fields in camel, snake and mixed case must
	// resolve against the same slots.
	src := &fakeSource{rules: []*model.Rule{
		{RuleID: "R1", Expression: `exposureId == exposure_id && Exposure_Id != ""`,
			Dimension: model.DimensionConsistency, Severity: model.SeverityLow},
	}}
	e := newTestEngine(t, src, &fakeWriter{}, nil)
	ev := prepare(t, e, testRecord("E1", 10))

	res := ev.ValidateNoPersist(context.Background(), testRecord("E1", 10))
	if res.Stats.Passed != 1 {
		t.Errorf("stats = %+v, want 1 passed (errors: %v)", res.Stats, res.Errors)
	}
}

func TestEngine_Helpers(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: []*model.Rule{
		{RuleID: "MATURITY_HORIZON", Expression: "DAYS_BETWEEN(valuation_date, maturity_date) <= 365",
			Dimension: model.DimensionTimeliness, Severity: model.SeverityMedium},
		{RuleID: "NOT_FUTURE", Expression: "reporting_date < NOW() && reporting_date <= TODAY()",
			Dimension: model.DimensionTimeliness, Severity: model.SeverityHigh},
	}}
	e := newTestEngine(t, src, &fakeWriter{}, nil)

	rec := testRecord("E1", 10)
	rec.MaturityDate = rec.ValuationDate.AddDate(0, 0, 200)
	rec.ReportingDate = time.Now().UTC().AddDate(0, 0, -1)

	ev := prepare(t, e, rec)
	res := ev.ValidateNoPersist(context.Background(), rec)
	if res.Stats.Passed != 2 {
		t.Errorf("stats = %+v, want 2 passed (errors: %v)", res.Stats, res.Errors)
	}

	far := testRecord("E2", 10)
	far.MaturityDate = far.ValuationDate.AddDate(2, 0, 0)
	far.ReportingDate = rec.ReportingDate
	res = ev.ValidateNoPersist(context.Background(), far)
	if res.Stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 failed", res.Stats)
	}
}

func TestEngine_Exemptions(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	src := &fakeSource{
		rules: []*model.Rule{
			{RuleID: "R1", Expression: "false", Dimension: model.DimensionAccuracy, Severity: model.SeverityHigh},
			{RuleID: "R2", Expression: "false", Dimension: model.DimensionAccuracy, Severity: model.SeverityHigh},
		},
		exemptions: []*model.Exemption{
			{EntityType: model.EntityTypeExposure, EntityID: "E1", RuleID: "R1",
				ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour)},
			// Expired window: must not exempt.
			{EntityType: model.EntityTypeExposure, EntityID: "E2", RuleID: "R1",
				ValidFrom: now.Add(-2 * time.Hour), ValidTo: now.Add(-time.Hour)},
		},
	}
	e := newTestEngine(t, src, &fakeWriter{}, nil)
	ev := prepare(t, e, testRecord("E1", 10), testRecord("E2", 10))

	res := ev.ValidateNoPersist(context.Background(), testRecord("E1", 10))
	if res.Stats.Exempted != 1 || res.Stats.Failed != 1 {
		t.Errorf("E1 stats = %+v, want 1 exempted 1 failed", res.Stats)
	}

	res = ev.ValidateNoPersist(context.Background(), testRecord("E2", 10))
	if res.Stats.Exempted != 0 || res.Stats.Failed != 2 {
		t.Errorf("E2 stats = %+v, want 0 exempted 2 failed", res.Stats)
	}
}

func TestEngine_EvaluationErrorBecomesMediumViolation(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: []*model.Rule{
		{RuleID: "BROKEN", Expression: "DAYS_BETWEEN(maturity_date, 42) > 0",
			Dimension: model.DimensionValidity, Severity: model.SeverityCritical},
	}}
	e := newTestEngine(t, src, &fakeWriter{}, nil)
	ev := prepare(t, e, testRecord("E1", 10))

	res := ev.ValidateNoPersist(context.Background(), testRecord("E1", 10))
	if res.Stats.Errors != 1 {
		t.Fatalf("stats = %+v, want 1 error", res.Stats)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(res.Violations))
	}
	v := res.Violations[0]
	if v.Severity != model.SeverityMedium {
		t.Errorf("severity = %q, want MEDIUM", v.Severity)
	}
	if v.RuleID != "BROKEN" {
		t.Errorf("rule id = %q", v.RuleID)
	}
}

func TestEngine_RuleCacheAcrossBatches(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: []*model.Rule{
		{RuleID: "R1", Expression: "true", Dimension: model.DimensionValidity, Severity: model.SeverityLow},
	}}
	e := newTestEngine(t, src, &fakeWriter{}, &Config{CacheAcrossBatches: true, CacheTTL: time.Minute})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		batchID := fmt.Sprintf("batch-%d", i)
		if err := e.PrefetchForBatch(ctx, batchID, model.EntityTypeExposure, []*exposure.Record{testRecord("E1", 1)}); err != nil {
			t.Fatal(err)
		}
		e.OnBatchComplete(batchID)
	}
	if src.ruleLoads != 1 {
		t.Errorf("rule loads = %d, want 1 (cached)", src.ruleLoads)
	}

	// With caching off every batch re-reads.
	src2 := &fakeSource{rules: src.rules}
	e2 := newTestEngine(t, src2, &fakeWriter{}, &Config{CacheAcrossBatches: false})
	for i := 0; i < 3; i++ {
		batchID := fmt.Sprintf("batch-%d", i)
		if err := e2.PrefetchForBatch(ctx, batchID, model.EntityTypeExposure, []*exposure.Record{testRecord("E1", 1)}); err != nil {
			t.Fatal(err)
		}
		e2.OnBatchComplete(batchID)
	}
	if src2.ruleLoads != 3 {
		t.Errorf("rule loads = %d, want 3", src2.ruleLoads)
	}
}

func TestEngine_OnBatchCompleteClearsSnapshot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: []*model.Rule{}}
	e := newTestEngine(t, src, &fakeWriter{}, nil)
	prepare(t, e, testRecord("E1", 1))
	e.OnBatchComplete("batch-1")

	if _, err := e.PrepareForBatch("batch-1", model.EntityTypeExposure); err == nil {
		t.Error("PrepareForBatch after OnBatchComplete should fail")
	}
}

func TestEngine_InterleavedBatchesKeepTheirSnapshots(t *testing.T) {
	t.Parallel()

	// The submission handler processes batches concurrently, so batch
	// lifecycles interleave: batch B prefetches while batch A is mid-flight,
	// and A may finish before B prepares. Neither may disturb the other's
	// snapshot.
	now := time.Now().UTC()
	src := &fakeSource{
		rules: []*model.Rule{
			{RuleID: "R1", Expression: "false", Dimension: model.DimensionAccuracy, Severity: model.SeverityHigh},
		},
		exemptions: []*model.Exemption{
			{EntityType: model.EntityTypeExposure, EntityID: "A1", RuleID: "R1",
				ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour)},
		},
	}
	e := newTestEngine(t, src, &fakeWriter{}, nil)
	ctx := context.Background()

	if err := e.PrefetchForBatch(ctx, "batch-a", model.EntityTypeExposure, []*exposure.Record{testRecord("A1", 1)}); err != nil {
		t.Fatal(err)
	}
	// B starts before A has prepared. B's exposures carry no exemptions.
	if err := e.PrefetchForBatch(ctx, "batch-b", model.EntityTypeExposure, []*exposure.Record{testRecord("B1", 1)}); err != nil {
		t.Fatal(err)
	}

	evA, err := e.PrepareForBatch("batch-a", model.EntityTypeExposure)
	if err != nil {
		t.Fatalf("PrepareForBatch(batch-a): %v", err)
	}
	res := evA.ValidateNoPersist(ctx, testRecord("A1", 1))
	if res.Stats.Exempted != 1 || len(res.Violations) != 0 {
		t.Errorf("batch A lost its exemption: exempted=%d violations=%d, want 1 and 0",
			res.Stats.Exempted, len(res.Violations))
	}

	// A finishes before B prepares; B's snapshot must survive.
	e.OnBatchComplete("batch-a")
	evB, err := e.PrepareForBatch("batch-b", model.EntityTypeExposure)
	if err != nil {
		t.Fatalf("PrepareForBatch(batch-b) after batch A completed: %v", err)
	}
	res = evB.ValidateNoPersist(ctx, testRecord("B1", 1))
	if res.Stats.Failed != 1 {
		t.Errorf("batch B stats = %+v, want 1 failed", res.Stats)
	}
	e.OnBatchComplete("batch-b")
}

func TestEngine_BatchPersistFlushesOnce(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: []*model.Rule{
		{RuleID: "R1", Expression: "false", Dimension: model.DimensionAccuracy, Severity: model.SeverityHigh},
	}}
	w := &fakeWriter{}
	e := newTestEngine(t, src, w, nil)
	ev := prepare(t, e, testRecord("E1", 1), testRecord("E2", 1))

	ctx := context.Background()
	results := []*Result{
		ev.ValidateNoPersist(ctx, testRecord("E1", 1)),
		ev.ValidateNoPersist(ctx, testRecord("E2", 1)),
	}
	if err := e.BatchPersistValidationResults(ctx, "batch-1", results); err != nil {
		t.Fatal(err)
	}
	if w.saves != 1 {
		t.Errorf("saves = %d, want 1", w.saves)
	}
	if len(w.saved) != 2 {
		t.Fatalf("saved = %d, want 2", len(w.saved))
	}
	for _, v := range w.saved {
		if v.BatchID != "batch-1" {
			t.Errorf("violation batch id = %q", v.BatchID)
		}
	}
}

func TestEngine_ConcurrentEvaluation(t *testing.T) {
	t.Parallel()

	src := &fakeSource{rules: []*model.Rule{
		{RuleID: "R1", Expression: "exposure_amount >= 0.0", Dimension: model.DimensionValidity, Severity: model.SeverityLow},
		{RuleID: "R2", Expression: `currency == "EUR"`, Dimension: model.DimensionValidity, Severity: model.SeverityLow},
	}}
	e := newTestEngine(t, src, &fakeWriter{}, nil)
	ev := prepare(t, e, testRecord("E1", 1))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := testRecord("E1", int64(n))
			res := ev.ValidateNoPersist(context.Background(), rec)
			if res.Stats.Passed != 2 {
				t.Errorf("stats = %+v, want 2 passed", res.Stats)
			}
		}(i)
	}
	wg.Wait()
}
