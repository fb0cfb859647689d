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

package ingestion

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/regtech/exposure-reporting-server/internal/calculation"
	coredb "github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/events"
	batchdb "github.com/regtech/exposure-reporting-server/internal/ingestion/database"
	"github.com/regtech/exposure-reporting-server/internal/ingestion/model"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/rules"
	rulesdb "github.com/regtech/exposure-reporting-server/internal/rules/database"
	rulemodel "github.com/regtech/exposure-reporting-server/internal/rules/model"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/internal/uniqueness"
)

type pipelineFixture struct {
	db         *coredb.DB
	batches    *batchdb.BatchDB
	gateway    *storage.Gateway
	rules      *rulesdb.RulesDB
	violations *countingViolationWriter
	outbox     *outbox.OutboxDB
	pipeline   *Pipeline
	config     *Config
}

// countingViolationWriter counts flushes on their way to the database.
type countingViolationWriter struct {
	inner rules.ViolationWriter

	mu    sync.Mutex
	saves int
}

func (w *countingViolationWriter) SaveViolations(ctx context.Context, batchID string, violations []*rulemodel.Violation) error {
	w.mu.Lock()
	w.saves++
	w.mu.Unlock()
	return w.inner.SaveViolations(ctx, batchID, violations)
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	ctx := context.Background()

	db := coredb.NewTestDatabase(t)
	blob, err := storage.NewMemory(ctx)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}

	cfg := &Config{
		Blobstore:      storage.Config{Bucket: "test-bucket"},
		BatchTimeout:   time.Minute,
		Workers:        2,
		MaxUploadBytes: 500 << 20,
	}
	gw := storage.NewGateway(blob, &cfg.Blobstore)

	rdb := rulesdb.New(db)
	vw := &countingViolationWriter{inner: rdb}
	engine, err := rules.NewEngine(rdb, vw, &rules.Config{
		CacheAcrossBatches: true,
		CacheTTL:           5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	rates := calculation.NewMemoryRateSource()
	rates.SetRate("USD", time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("0.9137"))

	p, err := NewPipeline(db, gw, engine, calculation.NewCalculator(rates), cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	return &pipelineFixture{
		db:         db,
		batches:    batchdb.New(db),
		gateway:    gw,
		rules:      rdb,
		violations: vw,
		outbox:     outbox.New(db),
		pipeline:   p,
		config:     cfg,
	}
}

// submitBatch stores contents as a raw object and records the batch, the
// same steps the intake handler performs.
func (fx *pipelineFixture) submitBatch(t *testing.T, fileName string, contents []byte) *model.Batch {
	t.Helper()
	ctx := context.Background()

	md5hex, sha256hex := storage.Checksums(contents)
	b := model.NewBatch("BANK-001", model.FileMetadata{
		Name:        fileName,
		ContentType: "application/json",
		SizeBytes:   int64(len(contents)),
		MD5:         md5hex,
		SHA256:      sha256hex,
	}, time.Now().UTC())

	ref, err := fx.gateway.PutObject(ctx, fx.gateway.RawKey(b.BatchID, fileName), contents, storage.ObjectMetadata{
		ContentType: "application/json",
		SizeBytes:   int64(len(contents)),
		MD5:         md5hex,
		SHA256:      sha256hex,
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	b.ObjectRef = ref

	if err := fx.batches.InsertBatch(ctx, b); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	return b
}

func exposureJSON(id, amount, currency string) map[string]interface{} {
	return map[string]interface{}{
		"exposureId":       id,
		"referenceNumber":  "REF-" + id,
		"counterpartyId":   "CP-" + id,
		"counterpartyType": "CORPORATE",
		"sector":           "CORPORATE",
		"countryCode":      "IT",
		"exposureAmount":   amount,
		"currency":         currency,
		"productType":      "LOAN",
		"reportingDate":    "2026-06-30",
		"valuationDate":    "2026-06-29",
		"maturityDate":     "2030-06-30",
	}
}

func TestPipelineCompletesBatch(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t)
	ctx := context.Background()

	if err := fx.rules.AddRule(ctx, &rulemodel.Rule{
		RuleID:     "ACCURACY_AMOUNT_LIMIT",
		Enabled:    true,
		Expression: "exposure_amount < 1000000.0",
		Dimension:  rulemodel.DimensionAccuracy,
		Severity:   rulemodel.SeverityHigh,
		Field:      "exposureAmount",
		Message:    "exposure amount exceeds the single-exposure limit",
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	contents, err := json.Marshal(map[string]interface{}{
		"bankId": "BANK-001",
		"records": []interface{}{
			exposureJSON("E-001", "500000.00", "EUR"),
			exposureJSON("E-002", "2000000.00", "EUR"),
			exposureJSON("E-003", "750000.50", "USD"),
			exposureJSON("E-003", "750000.50", "USD"),
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	b := fx.submitBatch(t, "exposures.json", contents)
	if err := fx.pipeline.Process(ctx, b.BatchID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := fx.batches.GetBatch(ctx, b.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s (%s), want COMPLETED", got.Status, got.ErrorMessage)
	}
	if got.ExposureCount != 4 {
		t.Errorf("exposure count = %d, want 4", got.ExposureCount)
	}
	if got.CompletedAt.IsZero() || got.ProcessingDuration <= 0 {
		t.Errorf("completion bookkeeping missing: completedAt=%v duration=%v", got.CompletedAt, got.ProcessingDuration)
	}

	// The amount-limit violation and the duplicate pair must be on record.
	violations, err := fx.rules.ListViolations(ctx, b.BatchID)
	if err != nil {
		t.Fatalf("ListViolations: %v", err)
	}
	byRule := map[string]int{}
	for _, v := range violations {
		byRule[v.RuleID]++
	}
	if byRule["ACCURACY_AMOUNT_LIMIT"] != 1 {
		t.Errorf("amount-limit violations = %d, want 1", byRule["ACCURACY_AMOUNT_LIMIT"])
	}
	if byRule[uniqueness.RuleExposureIDDuplicate] != 2 {
		t.Errorf("duplicate-id violations = %d, want 2 (both rows flagged)", byRule[uniqueness.RuleExposureIDDuplicate])
	}
	// Uniqueness and rule violations flush together in one write, so a
	// crash mid-validation never leaves a half-persisted violation set.
	if fx.violations.saves != 1 {
		t.Errorf("violation flushes = %d, want 1", fx.violations.saves)
	}

	// Completion queued all three events atomically.
	pending, err := fx.outbox.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	types := map[string]*outbox.Event{}
	for _, ev := range pending {
		types[ev.EventType] = ev
	}
	for _, want := range []string{events.TypeBatchIngested, events.TypeBatchQualityCompleted, events.TypeBatchCalculationCompleted} {
		if types[want] == nil {
			t.Fatalf("missing outbox event %s (have %d events)", want, len(pending))
		}
	}

	var quality events.BatchQualityCompleted
	if err := json.Unmarshal(types[events.TypeBatchQualityCompleted].Payload, &quality); err != nil {
		t.Fatalf("unmarshal quality event: %v", err)
	}
	if quality.BatchID != b.BatchID || quality.QualityScores.Grade == "" {
		t.Errorf("quality event incomplete: %+v", quality)
	}
	if s := quality.QualityScores.OverallScore; s < 0 || s > 100 {
		t.Errorf("overall score %f out of bounds", s)
	}

	var calc events.BatchCalculationCompleted
	if err := json.Unmarshal(types[events.TypeBatchCalculationCompleted].Payload, &calc); err != nil {
		t.Fatalf("unmarshal calculation event: %v", err)
	}
	if calc.TotalExposures != 4 {
		t.Errorf("calculated exposures = %d, want 4", calc.TotalExposures)
	}

	// Both derived artifacts are readable back through the gateway.
	for _, artifact := range []string{validationArtifact, calculationArtifact} {
		ref := storage.ObjectRef{Bucket: fx.config.Blobstore.Bucket, Key: fx.gateway.DerivedKey(b.BatchID, artifact)}
		if _, err := fx.gateway.GetObject(ctx, ref); err != nil {
			t.Errorf("reading %s: %v", artifact, err)
		}
	}
}

func TestPipelineParseFailure(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t)
	ctx := context.Background()

	bad := exposureJSON("E-001", "not-a-number", "EUR")
	contents, err := json.Marshal(map[string]interface{}{
		"records": []interface{}{bad},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	b := fx.submitBatch(t, "exposures.json", contents)
	if err := fx.pipeline.Process(ctx, b.BatchID); err == nil {
		t.Fatal("Process succeeded, want parse failure")
	}

	got, err := fx.batches.GetBatch(ctx, b.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if !strings.HasPrefix(got.ErrorMessage, "PARSE_ERROR") {
		t.Errorf("error message = %q, want PARSE_ERROR prefix", got.ErrorMessage)
	}
	if got.FailedAt.IsZero() {
		t.Errorf("failedAt not set")
	}
}

func TestPipelineTimeout(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t)
	ctx := context.Background()
	fx.config.BatchTimeout = time.Nanosecond

	contents, err := json.Marshal(map[string]interface{}{
		"records": []interface{}{exposureJSON("E-001", "100.00", "EUR")},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	b := fx.submitBatch(t, "exposures.json", contents)
	if err := fx.pipeline.Process(ctx, b.BatchID); err == nil {
		t.Fatal("Process succeeded, want timeout")
	}

	got, err := fx.batches.GetBatch(ctx, b.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if !strings.HasPrefix(got.ErrorMessage, "TIMEOUT") {
		t.Errorf("error message = %q, want TIMEOUT prefix", got.ErrorMessage)
	}
}

func TestPipelineTerminalBatchIsNoop(t *testing.T) {
	t.Parallel()

	fx := newPipelineFixture(t)
	ctx := context.Background()

	contents, err := json.Marshal(map[string]interface{}{
		"records": []interface{}{exposureJSON("E-001", "100.00", "EUR")},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	b := fx.submitBatch(t, "exposures.json", contents)
	if err := fx.pipeline.Process(ctx, b.BatchID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Reprocessing a COMPLETED batch must not emit more events.
	if err := fx.pipeline.Process(ctx, b.BatchID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	pending, err := fx.outbox.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("pending events = %d, want 3", len(pending))
	}
}
