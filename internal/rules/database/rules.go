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

// Package database persists validation rules, exemptions and violations.
package database

import (
	"context"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v4"

	coredb "github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/rules/model"
)

// insertViolationsBatchSize caps the number of rows queued per flush.
const insertViolationsBatchSize = 500

// RulesDB reads rules and exemptions and writes violations.
type RulesDB struct {
	db *coredb.DB
}

// New creates a RulesDB over the given database.
func New(db *coredb.DB) *RulesDB {
	return &RulesDB{db: db}
}

// LoadEnabledRules returns the currently enabled ruleset ordered by rule id.
func (rdb *RulesDB) LoadEnabledRules(ctx context.Context) ([]*model.Rule, error) {
	var rules []*model.Rule
	err := rdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT rule_id, expression, dimension, severity, field, message, version
			FROM validation_rules
			WHERE enabled
			ORDER BY rule_id
		`)
		if err != nil {
			return fmt.Errorf("query rules: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			r := model.Rule{Enabled: true}
			var field, message *string
			if err := rows.Scan(&r.RuleID, &r.Expression, &r.Dimension, &r.Severity,
				&field, &message, &r.Version); err != nil {
				return fmt.Errorf("scan rule: %w", err)
			}
			if field != nil {
				r.Field = *field
			}
			if message != nil {
				r.Message = *message
			}
			rules = append(rules, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// LoadExemptions returns the exemptions for the given entity ids, any rule,
// without filtering on validity windows; callers check Covers at evaluation
// time so a snapshot stays correct for the whole batch.
func (rdb *RulesDB) LoadExemptions(ctx context.Context, entityType string, entityIDs []string) ([]*model.Exemption, error) {
	var exemptions []*model.Exemption
	err := rdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT entity_type, entity_id, rule_id, valid_from, valid_to
			FROM rule_exemptions
			WHERE entity_type = $1 AND entity_id = ANY($2)
		`, entityType, entityIDs)
		if err != nil {
			return fmt.Errorf("query exemptions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			e := model.Exemption{}
			var ruleID *string
			var from, to *time.Time
			if err := rows.Scan(&e.EntityType, &e.EntityID, &ruleID, &from, &to); err != nil {
				return fmt.Errorf("scan exemption: %w", err)
			}
			if ruleID != nil {
				e.RuleID = *ruleID
			}
			e.ValidFrom = coredb.TimeFromNullable(from)
			e.ValidTo = coredb.TimeFromNullable(to)
			exemptions = append(exemptions, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return exemptions, nil
}

// SaveViolations writes all violations for a batch in one transaction,
// queueing inserts in chunks to bound round trips.
func (rdb *RulesDB) SaveViolations(ctx context.Context, batchID string, violations []*model.Violation) error {
	return rdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		for start := 0; start < len(violations); start += insertViolationsBatchSize {
			end := start + insertViolationsBatchSize
			if end > len(violations) {
				end = len(violations)
			}
			b := &pgx.Batch{}
			for _, v := range violations[start:end] {
				b.Queue(`
					INSERT INTO rule_violations
						(batch_id, exposure_id, rule_id, dimension, severity,
						 field, message, hash_version, observed_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				`, batchID, v.ExposureID, v.RuleID, string(v.Dimension), string(v.Severity),
					nullIfEmpty(v.Field), v.Message, nullIfEmpty(v.HashVersion), v.ObservedAt)
			}
			res := tx.SendBatch(ctx, b)
			for i := start; i < end; i++ {
				if _, err := res.Exec(); err != nil {
					res.Close()
					return fmt.Errorf("insert violation: %w", err)
				}
			}
			if err := res.Close(); err != nil {
				return fmt.Errorf("close violation batch: %w", err)
			}
		}
		return nil
	})
}

// ListViolations returns all persisted violations for a batch.
func (rdb *RulesDB) ListViolations(ctx context.Context, batchID string) ([]*model.Violation, error) {
	var violations []*model.Violation
	err := rdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT batch_id, exposure_id, rule_id, dimension, severity,
			       field, message, hash_version, observed_at
			FROM rule_violations
			WHERE batch_id = $1
			ORDER BY exposure_id, rule_id
		`, batchID)
		if err != nil {
			return fmt.Errorf("query violations: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			v := model.Violation{}
			var field, hashVersion *string
			if err := rows.Scan(&v.BatchID, &v.ExposureID, &v.RuleID, &v.Dimension,
				&v.Severity, &field, &v.Message, &hashVersion, &v.ObservedAt); err != nil {
				return fmt.Errorf("scan violation: %w", err)
			}
			if field != nil {
				v.Field = *field
			}
			if hashVersion != nil {
				v.HashVersion = *hashVersion
			}
			violations = append(violations, &v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return violations, nil
}

// AddRule inserts or updates a rule, bumping the stored version.
func (rdb *RulesDB) AddRule(ctx context.Context, r *model.Rule) error {
	return rdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO validation_rules
				(rule_id, enabled, expression, dimension, severity, field, message, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (rule_id) DO UPDATE SET
				enabled = excluded.enabled,
				expression = excluded.expression,
				dimension = excluded.dimension,
				severity = excluded.severity,
				field = excluded.field,
				message = excluded.message,
				version = validation_rules.version + 1
		`, r.RuleID, r.Enabled, r.Expression, string(r.Dimension), string(r.Severity),
			nullIfEmpty(r.Field), nullIfEmpty(r.Message), r.Version)
		if err != nil {
			return fmt.Errorf("upsert rule: %w", err)
		}
		return nil
	})
}

// AddExemption inserts an exemption row.
func (rdb *RulesDB) AddExemption(ctx context.Context, e *model.Exemption) error {
	return rdb.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rule_exemptions
				(entity_type, entity_id, rule_id, valid_from, valid_to)
			VALUES ($1, $2, $3, $4, $5)
		`, e.EntityType, e.EntityID, nullIfEmpty(e.RuleID),
			coredb.NullableTime(e.ValidFrom), coredb.NullableTime(e.ValidTo))
		if err != nil {
			return fmt.Errorf("insert exemption: %w", err)
		}
		return nil
	})
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
