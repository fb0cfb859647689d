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
	"errors"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v4"
	"golang.org/x/sync/errgroup"

	"github.com/regtech/exposure-reporting-server/internal/calculation"
	coredb "github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/events"
	"github.com/regtech/exposure-reporting-server/internal/exposure"
	batchdb "github.com/regtech/exposure-reporting-server/internal/ingestion/database"
	"github.com/regtech/exposure-reporting-server/internal/ingestion/model"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/parser"
	"github.com/regtech/exposure-reporting-server/internal/portfolio"
	"github.com/regtech/exposure-reporting-server/internal/quality"
	"github.com/regtech/exposure-reporting-server/internal/rules"
	rulemodel "github.com/regtech/exposure-reporting-server/internal/rules/model"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/internal/uniqueness"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

// Derived artifact names written under derived/{batchID}/.
const (
	validationArtifact  = "validation-report.json"
	calculationArtifact = "calculation-result.json"
)

// Pipeline runs one uploaded batch from PARSING to COMPLETED, or to FAILED.
// A Pipeline is safe for concurrent use; each batch is processed by exactly
// one Process call at a time, enforced by the status compare-and-set on every
// transition.
type Pipeline struct {
	db         *coredb.DB
	batches    *batchdb.BatchDB
	gateway    *storage.Gateway
	engine     *rules.Engine
	calculator *calculation.Calculator
	outbox     *outbox.OutboxDB
	weights    map[rulemodel.Dimension]float64
	config     *Config

	now func() time.Time
}

// NewPipeline assembles the batch pipeline.
func NewPipeline(db *coredb.DB, gateway *storage.Gateway, engine *rules.Engine, calculator *calculation.Calculator, cfg *Config) (*Pipeline, error) {
	weights, err := quality.ParseWeights(cfg.Quality.Weights)
	if err != nil {
		return nil, fmt.Errorf("parsing quality weights: %w", err)
	}
	return &Pipeline{
		db:         db,
		batches:    batchdb.New(db),
		gateway:    gateway,
		engine:     engine,
		calculator: calculator,
		outbox:     outbox.New(db),
		weights:    weights,
		config:     cfg,
		now:        time.Now,
	}, nil
}

// validationReport is the derived artifact written after validation.
type validationReport struct {
	Quality    *quality.Report `json:"quality"`
	RuleStats  rules.Stats     `json:"ruleStats"`
	Violations int             `json:"violations"`

	UniquenessScore   float64 `json:"uniquenessScore"`
	FlaggedDuplicates int     `json:"flaggedDuplicates"`
}

// calculationResult is the derived artifact written after calculation.
type calculationResult struct {
	BatchID        string                    `json:"batchId"`
	TotalExposures int                       `json:"totalExposures"`
	TotalAmountEur string                    `json:"totalAmountEur"`
	Failed         []string                  `json:"failedExposures,omitempty"`
	Classified     []*calculation.Classified `json:"classified"`
	Portfolio      *portfolio.Analysis       `json:"portfolio"`
}

// Process runs the full pipeline for the batch. The whole run is bounded by
// the configured batch timeout; on expiry the batch fails with TIMEOUT. Any
// error short of an invalid transition moves the batch to FAILED rather than
// being returned: the pipeline owns terminal-state bookkeeping.
func (p *Pipeline) Process(ctx context.Context, batchID string) error {
	logger := logging.FromContext(ctx).Named("ingestion.pipeline").With("batch_id", batchID)
	ctx = logging.WithLogger(ctx, logger)

	b, err := p.batches.GetBatch(ctx, batchID)
	if err != nil {
		recordPipeline(ctx, "load_failure")
		return fmt.Errorf("loading batch %s: %w", batchID, err)
	}
	if b.Status.Terminal() {
		recordPipeline(ctx, "already_terminal")
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, p.config.BatchTimeout)
	defer cancel()

	if err := p.run(runCtx, b); err != nil {
		if runCtx.Err() != nil {
			err = fmt.Errorf("%v: %w", err, context.DeadlineExceeded)
		}
		recordPipeline(ctx, "failure")
		logger.Errorw("batch pipeline failed", "error", err, "status", b.Status)
		p.failBatch(ctx, b, err)
		return err
	}

	recordPipeline(ctx, "success")
	logger.Infow("batch completed",
		"exposures", b.ExposureCount,
		"duration", b.ProcessingDuration)
	return nil
}

func (p *Pipeline) run(ctx context.Context, b *model.Batch) error {
	if err := p.transition(ctx, b, model.StatusParsing); err != nil {
		return err
	}

	records, err := p.parse(ctx, b)
	if err != nil {
		return err
	}
	b.ExposureCount = len(records)

	report, validationRef, err := p.validate(ctx, b, records)
	if err != nil {
		return err
	}
	if err := p.transition(ctx, b, model.StatusValidated); err != nil {
		return err
	}

	if err := p.transition(ctx, b, model.StatusStoring); err != nil {
		return err
	}
	calcRes, calcRef, err := p.calculate(ctx, b, records)
	if err != nil {
		return err
	}

	return p.complete(ctx, b, report, validationRef, calcRes, calcRef)
}

// parse loads the raw object and decodes it into exposure records.
func (p *Pipeline) parse(ctx context.Context, b *model.Batch) ([]*exposure.Record, error) {
	logger := logging.FromContext(ctx)

	contents, err := p.gateway.GetObject(ctx, b.ObjectRef)
	if err != nil {
		return nil, fmt.Errorf("reading raw object: %w", err)
	}

	format, err := parser.FormatForFile(b.FileMetadata.Name, b.FileMetadata.ContentType)
	if err != nil {
		return nil, err
	}

	var records []*exposure.Record
	bankInfo, n, err := parser.Parse(ctx, contents, format, parser.Options{Lenient: p.config.LenientParsing},
		func(_ int, rec *exposure.Record) error {
			records = append(records, rec)
			return nil
		})
	if err != nil {
		return nil, err
	}

	if bankInfo != nil {
		if bankInfo.BankID != "" && bankInfo.BankID != b.BankID {
			logger.Warnw("file bank id differs from submission",
				"file_bank_id", bankInfo.BankID, "bank_id", b.BankID)
		}
		if bankInfo.ExpectedExposureCount > 0 && bankInfo.ExpectedExposureCount != n {
			logger.Warnw("exposure count differs from file header",
				"expected", bankInfo.ExpectedExposureCount, "parsed", n)
		}
	}
	return records, nil
}

// validate runs uniqueness checks and rule evaluation, persists the batch's
// violations in one transaction, scores the batch and writes the validation
// artifact.
func (p *Pipeline) validate(ctx context.Context, b *model.Batch, records []*exposure.Record) (*quality.Report, storage.ObjectRef, error) {
	uniq := uniqueness.Check(b.BatchID, records, p.now())

	if err := p.engine.PrefetchForBatch(ctx, b.BatchID, rulemodel.EntityTypeExposure, records); err != nil {
		return nil, storage.ObjectRef{}, fmt.Errorf("prefetching rules: %w", err)
	}
	defer p.engine.OnBatchComplete(b.BatchID)

	evaluator, err := p.engine.PrepareForBatch(b.BatchID, rulemodel.EntityTypeExposure)
	if err != nil {
		return nil, storage.ObjectRef{}, err
	}

	results := make([]*rules.Result, len(records))
	workers := p.config.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := w; i < len(records); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = evaluator.ValidateNoPersist(gctx, records[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storage.ObjectRef{}, err
	}

	// Uniqueness violations ride along with the rule violations so the
	// whole batch flushes through a single transaction.
	persist := results
	if len(uniq.Violations) > 0 {
		persist = append([]*rules.Result{{Violations: uniq.Violations}}, results...)
	}
	if err := p.engine.BatchPersistValidationResults(ctx, b.BatchID, persist); err != nil {
		return nil, storage.ObjectRef{}, err
	}

	all := append([]*rulemodel.Violation{}, uniq.Violations...)
	var stats rules.Stats
	for _, res := range results {
		all = append(all, res.Violations...)
		stats.Add(res.Stats)
	}

	report := quality.Score(b.BatchID, len(records), all, p.weights,
		map[rulemodel.Dimension]float64{rulemodel.DimensionUniqueness: uniq.Score})

	ref, err := p.putDerived(ctx, b.BatchID, validationArtifact, &validationReport{
		Quality:           report,
		RuleStats:         stats,
		Violations:        len(all),
		UniquenessScore:   uniq.Score,
		FlaggedDuplicates: uniq.FlaggedRecords,
	})
	if err != nil {
		return nil, storage.ObjectRef{}, err
	}
	return report, ref, nil
}

// calculate converts, classifies and aggregates the batch, then writes the
// calculation artifact. Record-scoped rate failures do not fail the batch.
func (p *Pipeline) calculate(ctx context.Context, b *model.Batch, records []*exposure.Record) (*calculation.Result, storage.ObjectRef, error) {
	res := p.calculator.Calculate(ctx, records, nil)
	if len(res.Failed) > 0 {
		logging.FromContext(ctx).Warnw("exposures excluded from calculation",
			"failed", len(res.Failed), "total", len(records))
	}

	analysis := portfolio.Analyze(b.BatchID, res.Classified, p.now())

	artifact := &calculationResult{
		BatchID:        b.BatchID,
		TotalExposures: res.TotalExposures,
		TotalAmountEur: res.TotalAmountEur.StringFixed(2),
		Classified:     res.Classified,
		Portfolio:      analysis,
	}
	for _, f := range res.Failed {
		artifact.Failed = append(artifact.Failed, f.ExposureID)
	}

	ref, err := p.putDerived(ctx, b.BatchID, calculationArtifact, artifact)
	if err != nil {
		return nil, storage.ObjectRef{}, err
	}
	return res, ref, nil
}

// complete commits the terminal transition and the three outcome events in a
// single transaction. Either the batch is COMPLETED with its events queued,
// or neither happened.
func (p *Pipeline) complete(ctx context.Context, b *model.Batch, report *quality.Report, validationRef storage.ObjectRef, calcRes *calculation.Result, calcRef storage.ObjectRef) error {
	now := p.now()
	from := b.Status
	if err := model.ApplyTransition(b, model.StatusCompleted, now); err != nil {
		return err
	}

	dimensions := make(map[string]float64, len(report.Dimensions))
	for _, d := range report.Dimensions {
		dimensions[string(d.Dimension)] = d.Score
	}

	evs, err := marshalEvents(now, b.BatchID,
		payload{events.TypeBatchIngested, &events.BatchIngested{
			BatchID:       b.BatchID,
			BankID:        b.BankID,
			ObjectRef:     objectRef(b.ObjectRef),
			ExposureCount: b.ExposureCount,
			UploadedAt:    b.UploadedAt,
		}},
		payload{events.TypeBatchQualityCompleted, &events.BatchQualityCompleted{
			BatchID:   b.BatchID,
			BankID:    b.BankID,
			ResultURI: validationRef.URI(),
			QualityScores: events.QualityScores{
				DimensionScores: dimensions,
				OverallScore:    report.OverallScore,
				Grade:           report.Grade,
			},
			Timestamp: now,
		}},
		payload{events.TypeBatchCalculationCompleted, &events.BatchCalculationCompleted{
			BatchID:        b.BatchID,
			BankID:         b.BankID,
			ResultURI:      calcRef.URI(),
			TotalExposures: calcRes.TotalExposures,
			TotalAmountEur: calcRes.TotalAmountEur.StringFixed(2),
			CompletedAt:    now,
		}},
	)
	if err != nil {
		return err
	}

	return p.db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		if err := p.batches.SaveTransitionTx(ctx, tx, b, from); err != nil {
			return err
		}
		for _, ev := range evs {
			if err := p.outbox.Enqueue(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// transition applies and persists one lifecycle edge.
func (p *Pipeline) transition(ctx context.Context, b *model.Batch, target model.BatchStatus) error {
	from := b.Status
	if err := model.ApplyTransition(b, target, p.now()); err != nil {
		return err
	}
	return p.batches.SaveTransition(ctx, b, from)
}

// failBatch moves the batch to FAILED with a classified message. It reloads
// the stored batch first so the terminal edge starts from the persisted
// status rather than in-memory state a failed save may have diverged from,
// and uses a fresh deadline so the write survives the run deadline expiring.
func (p *Pipeline) failBatch(ctx context.Context, b *model.Batch, cause error) {
	logger := logging.FromContext(ctx)

	fctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), 30*time.Second)
	defer cancel()

	fresh, err := p.batches.GetBatch(fctx, b.BatchID)
	if err != nil {
		logger.Errorw("reloading batch for failure", "error", err, "cause", cause)
		fresh = b
	}
	if fresh.Status.Terminal() {
		return
	}

	// A batch that dies before its first transition persisted still gets a
	// terminal record: walk it onto the PARSING edge first.
	if fresh.Status == model.StatusUploaded {
		from := fresh.Status
		if err := model.ApplyTransition(fresh, model.StatusParsing, p.now()); err == nil {
			if err := p.batches.SaveTransition(fctx, fresh, from); err != nil {
				logger.Errorw("persisting batch failure", "error", err, "cause", cause)
				return
			}
		}
	}

	from := fresh.Status
	fresh.ErrorMessage = failureMessage(cause)
	if err := model.ApplyTransition(fresh, model.StatusFailed, p.now()); err != nil {
		logger.Errorw("cannot fail batch", "error", err, "cause", cause)
		return
	}
	if err := p.batches.SaveTransition(fctx, fresh, from); err != nil {
		logger.Errorw("persisting batch failure", "error", err, "cause", cause)
	}
}

// failureMessage classifies the cause into the stable error vocabulary
// surfaced on the batch record.
func failureMessage(err error) string {
	var pe *parser.ParseError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT: batch processing exceeded the configured deadline"
	case errors.As(err, &pe):
		return fmt.Sprintf("PARSE_ERROR: %v", pe)
	case errors.Is(err, model.ErrInvalidTransition):
		return fmt.Sprintf("INVALID_TRANSITION: %v", err)
	default:
		return err.Error()
	}
}

// putDerived marshals v and writes it under derived/{batchID}/{name}.
func (p *Pipeline) putDerived(ctx context.Context, batchID, name string, v interface{}) (storage.ObjectRef, error) {
	contents, err := json.Marshal(v)
	if err != nil {
		return storage.ObjectRef{}, fmt.Errorf("marshaling %s: %w", name, err)
	}
	md5hex, sha256hex := storage.Checksums(contents)
	ref, err := p.gateway.PutObject(ctx, p.gateway.DerivedKey(batchID, name), contents, storage.ObjectMetadata{
		ContentType: "application/json",
		SizeBytes:   int64(len(contents)),
		MD5:         md5hex,
		SHA256:      sha256hex,
	})
	if err != nil {
		return storage.ObjectRef{}, fmt.Errorf("storing %s: %w", name, err)
	}
	return ref, nil
}

type payload struct {
	eventType string
	body      interface{}
}

func marshalEvents(now time.Time, key string, payloads ...payload) ([]*outbox.Event, error) {
	evs := make([]*outbox.Event, 0, len(payloads))
	for _, pl := range payloads {
		raw, err := json.Marshal(pl.body)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", pl.eventType, err)
		}
		evs = append(evs, outbox.NewEvent(pl.eventType, key, raw, now))
	}
	return evs, nil
}

func objectRef(ref storage.ObjectRef) events.ObjectRef {
	return events.ObjectRef{Bucket: ref.Bucket, Key: ref.Key, VersionID: ref.VersionID}
}
