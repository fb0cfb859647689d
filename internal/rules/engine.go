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

// Package rules evaluates the enabled validation ruleset against every
// exposure of a batch. Rules and exemptions are pre-fetched per batch so the
// per-exposure path never touches external I/O.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/regtech/exposure-reporting-server/internal/cache"
	"github.com/regtech/exposure-reporting-server/internal/exposure"
	"github.com/regtech/exposure-reporting-server/internal/rules/model"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

const ruleSnapshotCacheKey = "enabled-ruleset"

// RuleEvaluationError tags violations produced when an expression itself
// fails to parse or evaluate.
const RuleEvaluationError = "EVALUATION_ERROR"

// RuleSource loads rules and exemptions, typically database-backed.
type RuleSource interface {
	LoadEnabledRules(ctx context.Context) ([]*model.Rule, error)
	LoadExemptions(ctx context.Context, entityType string, entityIDs []string) ([]*model.Exemption, error)
}

// ViolationWriter persists a batch's violations in a single transaction.
type ViolationWriter interface {
	SaveViolations(ctx context.Context, batchID string, violations []*model.Violation) error
}

// Config holds rule engine settings.
type Config struct {
	// CacheAcrossBatches keeps the rule snapshot warm between batches.
	// When false every batch re-reads the enabled ruleset.
	CacheAcrossBatches bool          `env:"RULES_CACHE_ACROSS_BATCHES, default=true"`
	CacheTTL           time.Duration `env:"RULES_CACHE_TTL, default=5m"`
}

// Stats counts rule evaluations for one exposure.
type Stats struct {
	Evaluated int
	Passed    int
	Failed    int
	Exempted  int
	Errors    int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Evaluated += other.Evaluated
	s.Passed += other.Passed
	s.Failed += other.Failed
	s.Exempted += other.Exempted
	s.Errors += other.Errors
}

// Result is the outcome of validating one exposure.
type Result struct {
	ExposureID string
	Violations []*model.Violation
	Errors     []error
	Stats      Stats
}

type exemptionKey struct {
	entityType string
	entityID   string
}

// snapshot is the immutable per-batch view of rules and exemptions. Workers
// share it read-only.
type snapshot struct {
	rules      []*model.Rule
	exemptions map[exemptionKey][]*model.Exemption
}

func (s *snapshot) exempted(entityType, entityID, ruleID string, at time.Time) bool {
	for _, e := range s.exemptions[exemptionKey{entityType, entityID}] {
		if e.Covers(ruleID, at) {
			return true
		}
	}
	return false
}

// Engine owns the rule snapshot cache, the compiled program cache and the
// per-batch exemption indexes. Snapshots are keyed by batch so concurrently
// processed batches never see each other's exemptions.
type Engine struct {
	source RuleSource
	writer ViolationWriter
	config *Config

	env       *cel.Env
	ruleCache *cache.Cache[[]*model.Rule]

	progMu   sync.RWMutex
	programs map[string]cel.Program

	batchMu sync.RWMutex
	batches map[string]*snapshot
}

// NewEngine builds an engine around the given source and writer.
func NewEngine(source RuleSource, writer ViolationWriter, config *Config) (*Engine, error) {
	if config == nil {
		config = &Config{CacheAcrossBatches: true, CacheTTL: 5 * time.Minute}
	}
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}
	return &Engine{
		source:    source,
		writer:    writer,
		config:    config,
		env:       env,
		ruleCache: cache.New[[]*model.Rule](),
		programs:  make(map[string]cel.Program),
		batches:   make(map[string]*snapshot),
	}, nil
}

// PrefetchForBatch loads the enabled ruleset (through the cross-batch cache
// when enabled) and the exemptions covering this batch's exposures, then
// publishes the immutable snapshot that PrepareForBatch hands to workers.
// The snapshot stays isolated under batchID until OnBatchComplete.
func (e *Engine) PrefetchForBatch(ctx context.Context, batchID, entityType string, exposures []*exposure.Record) error {
	rules, err := e.loadRules(ctx)
	if err != nil {
		return fmt.Errorf("load enabled rules: %w", err)
	}

	seen := make(map[string]bool, len(exposures))
	ids := make([]string, 0, len(exposures))
	for _, rec := range exposures {
		if rec.ExposureID == "" || seen[rec.ExposureID] {
			continue
		}
		seen[rec.ExposureID] = true
		ids = append(ids, rec.ExposureID)
	}

	index := make(map[exemptionKey][]*model.Exemption)
	if len(ids) > 0 {
		exemptions, err := e.source.LoadExemptions(ctx, entityType, ids)
		if err != nil {
			return fmt.Errorf("load exemptions: %w", err)
		}
		for _, ex := range exemptions {
			k := exemptionKey{ex.EntityType, ex.EntityID}
			index[k] = append(index[k], ex)
		}
	}

	// Warm the program cache so workers never pay the parse. Parse failures
	// are left in place: evaluation reports them per exposure rather than
	// failing the whole batch here.
	logger := logging.FromContext(ctx)
	for _, r := range rules {
		if _, err := e.program(r.Expression); err != nil {
			logger.Warnw("rule failed to parse", "rule_id", r.RuleID, "error", err)
		}
	}

	e.batchMu.Lock()
	e.batches[batchID] = &snapshot{rules: rules, exemptions: index}
	e.batchMu.Unlock()
	return nil
}

func (e *Engine) loadRules(ctx context.Context) ([]*model.Rule, error) {
	if !e.config.CacheAcrossBatches {
		return e.source.LoadEnabledRules(ctx)
	}
	return e.ruleCache.WriteThruLookup(ruleSnapshotCacheKey, func() ([]*model.Rule, error) {
		return e.source.LoadEnabledRules(ctx)
	}, e.config.CacheTTL)
}

// PrepareForBatch returns an evaluator bound to the batch's snapshot. The
// evaluator is pure over an exposure and safe for concurrent use.
func (e *Engine) PrepareForBatch(batchID, entityType string) (*Evaluator, error) {
	e.batchMu.RLock()
	snap := e.batches[batchID]
	e.batchMu.RUnlock()
	if snap == nil {
		return nil, fmt.Errorf("no snapshot prefetched for batch %s", batchID)
	}
	return &Evaluator{engine: e, snap: snap, entityType: entityType, now: time.Now}, nil
}

// OnBatchComplete drops the batch's exemption index. The rule snapshot
// cache is retained across batches.
func (e *Engine) OnBatchComplete(batchID string) {
	e.batchMu.Lock()
	delete(e.batches, batchID)
	e.batchMu.Unlock()
}

// BatchPersistValidationResults flushes all violations from the results in
// one transaction.
func (e *Engine) BatchPersistValidationResults(ctx context.Context, batchID string, results []*Result) error {
	var violations []*model.Violation
	for _, r := range results {
		for _, v := range r.Violations {
			v.BatchID = batchID
			violations = append(violations, v)
		}
	}
	if len(violations) == 0 {
		return nil
	}
	if err := e.writer.SaveViolations(ctx, batchID, violations); err != nil {
		return fmt.Errorf("persist %d violations: %w", len(violations), err)
	}
	return nil
}

// program returns the compiled program for an expression, compiling at most
// once per expression under a double-checked lock.
func (e *Engine) program(expr string) (cel.Program, error) {
	e.progMu.RLock()
	prg, hit := e.programs[expr]
	e.progMu.RUnlock()
	if hit {
		return prg, nil
	}

	e.progMu.Lock()
	defer e.progMu.Unlock()
	if prg, hit = e.programs[expr]; hit {
		return prg, nil
	}

	// Parse only, no type-check: variable spellings resolve at runtime
	// through the Scope.
	ast, issues := e.env.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("parse: %w", issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.programs[expr] = prg
	return prg, nil
}

// Evaluator validates one exposure at a time against the batch snapshot.
type Evaluator struct {
	engine     *Engine
	snap       *snapshot
	entityType string
	now        func() time.Time
}

// ValidateNoPersist evaluates every rule of the snapshot against the record
// without side effects. A false predicate yields a violation with the rule's
// own dimension and severity; expression failures yield MEDIUM
// EVALUATION_ERROR violations and never abort the batch.
func (ev *Evaluator) ValidateNoPersist(ctx context.Context, rec *exposure.Record) *Result {
	logger := logging.FromContext(ctx)
	now := ev.now().UTC()
	scope := ScopeForExposure(rec, ev.entityType, rec.ExposureID)
	res := &Result{ExposureID: rec.ExposureID}

	for _, rule := range ev.snap.rules {
		if ev.snap.exempted(ev.entityType, rec.ExposureID, rule.RuleID, now) {
			res.Stats.Exempted++
			recordEvaluation(ctx, "exempted")
			continue
		}
		res.Stats.Evaluated++

		prg, err := ev.engine.program(rule.Expression)
		if err != nil {
			ev.recordError(ctx, res, rule, now, err)
			logger.Warnw("rule expression invalid", "rule_id", rule.RuleID, "error", err)
			continue
		}

		out, _, err := prg.Eval(scope)
		if err != nil {
			ev.recordError(ctx, res, rule, now, err)
			logger.Warnw("rule evaluation failed",
				"rule_id", rule.RuleID, "exposure_id", rec.ExposureID, "error", err)
			continue
		}

		passed, err := Truthy(out)
		if err != nil {
			ev.recordError(ctx, res, rule, now, err)
			continue
		}
		if passed {
			res.Stats.Passed++
			recordEvaluation(ctx, "passed")
			continue
		}

		res.Stats.Failed++
		recordEvaluation(ctx, "failed")
		message := rule.Message
		if message == "" {
			message = fmt.Sprintf("rule %s failed", rule.RuleID)
		}
		res.Violations = append(res.Violations, &model.Violation{
			ExposureID: rec.ExposureID,
			RuleID:     rule.RuleID,
			Dimension:  rule.Dimension,
			Severity:   rule.Severity,
			Field:      rule.Field,
			Message:    message,
			ObservedAt: now,
		})
	}
	return res
}

func (ev *Evaluator) recordError(ctx context.Context, res *Result, rule *model.Rule, now time.Time, err error) {
	res.Stats.Errors++
	res.Errors = append(res.Errors, fmt.Errorf("rule %s: %w", rule.RuleID, err))
	recordEvaluation(ctx, "error")
	res.Violations = append(res.Violations, &model.Violation{
		ExposureID: res.ExposureID,
		RuleID:     rule.RuleID,
		Dimension:  rule.Dimension,
		Severity:   model.SeverityMedium,
		Field:      rule.Field,
		Message:    fmt.Sprintf("%s: %v", RuleEvaluationError, err),
		ObservedAt: now,
	})
}
