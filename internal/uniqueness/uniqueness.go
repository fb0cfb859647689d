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

// Package uniqueness detects duplicate exposures within a batch. All three
// checks are in-memory over the parsed records; nothing is persisted here.
package uniqueness

import (
	"fmt"
	"strings"
	"time"

	"github.com/regtech/exposure-reporting-server/internal/exposure"
	"github.com/regtech/exposure-reporting-server/internal/rules/model"
)

// Rule identifiers attached to uniqueness violations.
const (
	RuleExposureIDDuplicate = "UNIQUENESS_EXPOSURE_ID_DUPLICATE"
	RuleReferenceDuplicate  = "UNIQUENESS_REFERENCE_DUPLICATE"
	RuleContentDuplicate    = "UNIQUENESS_CONTENT_DUPLICATE"
)

// Result is the outcome of the per-batch uniqueness pass.
type Result struct {
	Violations []*model.Violation
	// Score is (total - distinct exposures with any violation) / total * 100.
	// An empty batch scores 100.
	Score float64
	Total int
	// FlaggedRecords counts records carrying at least one uniqueness
	// violation, each record counted once.
	FlaggedRecords int
}

// Check runs the exposureId, referenceNumber and content-hash duplicate
// checks over the batch. Every record of a duplicate group is flagged, not
// just the later occurrences: a submitter cannot tell which row is the
// "original".
func Check(batchID string, records []*exposure.Record, now time.Time) *Result {
	byID := make(map[string]int, len(records))
	byRef := make(map[string]int, len(records))
	byHash := make(map[string]int, len(records))
	hashes := make([]string, len(records))

	for i, rec := range records {
		if id := strings.TrimSpace(rec.ExposureID); id != "" {
			byID[id]++
		}
		if ref := strings.TrimSpace(rec.ReferenceNumber); ref != "" {
			byRef[ref]++
		}
		h := rec.ContentHash()
		hashes[i] = h
		byHash[h]++
	}

	res := &Result{Total: len(records)}
	flagged := make(map[int]bool)

	for i, rec := range records {
		id := strings.TrimSpace(rec.ExposureID)
		if id != "" && byID[id] > 1 {
			flagged[i] = true
			res.Violations = append(res.Violations, &model.Violation{
				BatchID:    batchID,
				ExposureID: rec.ExposureID,
				RuleID:     RuleExposureIDDuplicate,
				Dimension:  model.DimensionUniqueness,
				Severity:   model.SeverityCritical,
				Field:      "exposureId",
				Message:    fmt.Sprintf("exposureId %q appears %d times in the batch", id, byID[id]),
				ObservedAt: now,
			})
		}
		ref := strings.TrimSpace(rec.ReferenceNumber)
		if ref != "" && byRef[ref] > 1 {
			flagged[i] = true
			res.Violations = append(res.Violations, &model.Violation{
				BatchID:    batchID,
				ExposureID: rec.ExposureID,
				RuleID:     RuleReferenceDuplicate,
				Dimension:  model.DimensionUniqueness,
				Severity:   model.SeverityHigh,
				Field:      "referenceNumber",
				Message:    fmt.Sprintf("referenceNumber %q appears %d times in the batch", ref, byRef[ref]),
				ObservedAt: now,
			})
		}
		if byHash[hashes[i]] > 1 {
			flagged[i] = true
			res.Violations = append(res.Violations, &model.Violation{
				BatchID:     batchID,
				ExposureID:  rec.ExposureID,
				RuleID:      RuleContentDuplicate,
				Dimension:   model.DimensionUniqueness,
				Severity:    model.SeverityHigh,
				Message:     fmt.Sprintf("content hash %s shared by %d records", hashes[i][:12], byHash[hashes[i]]),
				HashVersion: exposure.ContentHashVersion,
				ObservedAt:  now,
			})
		}
	}

	res.FlaggedRecords = len(flagged)
	if res.Total == 0 {
		res.Score = 100
		return res
	}
	res.Score = float64(res.Total-res.FlaggedRecords) / float64(res.Total) * 100
	return res
}
