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

package calculation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pgx "github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	coredb "github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/exposure"
)

// ErrRateUnavailable is returned when no exchange rate exists for a currency
// and date pair. It fails only the record being converted, never the batch.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// RateSource provides EUR exchange rates by currency and reporting date.
type RateSource interface {
	ExchangeRate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error)
}

type rateKey struct {
	currency string
	date     string
}

// MemoryRateSource is a fixed in-memory rate table, used by tests and by
// deployments feeding rates from configuration.
type MemoryRateSource struct {
	mu    sync.RWMutex
	rates map[rateKey]decimal.Decimal
}

// NewMemoryRateSource creates an empty rate table.
func NewMemoryRateSource() *MemoryRateSource {
	return &MemoryRateSource{rates: make(map[rateKey]decimal.Decimal)}
}

// SetRate stores a rate for the currency and date.
func (s *MemoryRateSource) SetRate(currency string, date time.Time, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[rateKey{currency, exposure.FormatDate(date)}] = rate
}

// ExchangeRate implements RateSource. EUR always converts at one.
func (s *MemoryRateSource) ExchangeRate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error) {
	if currency == "EUR" {
		return decimal.NewFromInt(1), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rates[rateKey{currency, exposure.FormatDate(date)}]; ok {
		return rate, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%w: %s on %s", ErrRateUnavailable, currency, exposure.FormatDate(date))
}

// DatabaseRateSource reads rates from the exchange_rates table.
type DatabaseRateSource struct {
	db *coredb.DB
}

// NewDatabaseRateSource creates a rate source over the given database.
func NewDatabaseRateSource(db *coredb.DB) *DatabaseRateSource {
	return &DatabaseRateSource{db: db}
}

// ExchangeRate implements RateSource.
func (s *DatabaseRateSource) ExchangeRate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error) {
	if currency == "EUR" {
		return decimal.NewFromInt(1), nil
	}
	var rate decimal.Decimal
	err := s.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var raw string
		row := tx.QueryRow(ctx, `
			SELECT rate::text FROM exchange_rates
			WHERE currency = $1 AND rate_date = $2
		`, currency, date.UTC())
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s on %s", ErrRateUnavailable, currency, exposure.FormatDate(date))
			}
			return fmt.Errorf("scan rate: %w", err)
		}
		var err error
		rate, err = decimal.NewFromString(raw)
		return err
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return rate, nil
}
