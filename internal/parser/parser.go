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

// Package parser decodes exposure submission files into the canonical record
// stream. JSON and spreadsheet formats are supported; field names are
// accepted in snake_case and camelCase interchangeably.
package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/regtech/exposure-reporting-server/internal/exposure"
)

// Format identifies a supported file format.
type Format string

const (
	FormatJSON        Format = "JSON"
	FormatSpreadsheet Format = "SPREADSHEET"
)

// FormatForFile maps a file name and declared content type to a Format.
func FormatForFile(fileName, contentType string) (Format, error) {
	name := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(name, ".json"),
		contentType == "application/json":
		return FormatJSON, nil
	case strings.HasSuffix(name, ".xlsx"), strings.HasSuffix(name, ".xlsm"),
		contentType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatSpreadsheet, nil
	default:
		return "", fmt.Errorf("unrecognized file format for %q (%s)", fileName, contentType)
	}
}

// BankInfo is the sidecar structure describing the submitting bank.
type BankInfo struct {
	BankName              string
	BankID                string
	ReportingDate         time.Time
	ExpectedExposureCount int
}

// ParseError reports a malformed record, carrying its zero-based index in
// the input.
type ParseError struct {
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Options control parsing behavior.
type Options struct {
	// Lenient continues past malformed records instead of aborting the
	// batch. The default (strict) aborts on the first malformed record.
	Lenient bool
}

// RecordFunc receives each parsed record with its index. Returning an error
// stops the parse.
type RecordFunc func(index int, rec *exposure.Record) error

// Parse decodes the contents in the given format, invoking fn once per
// record in file order. It returns the bank sidecar info and the number of
// records parsed. The record stream is single pass: records are handed to fn
// as they decode and are not retained.
func Parse(ctx context.Context, contents []byte, format Format, opts Options, fn RecordFunc) (*BankInfo, int, error) {
	switch format {
	case FormatJSON:
		return parseJSON(ctx, contents, opts, fn)
	case FormatSpreadsheet:
		return parseSpreadsheet(ctx, contents, opts, fn)
	default:
		return nil, 0, fmt.Errorf("unsupported format %q", format)
	}
}

// normalizeKey lower-cases a field name and strips underscores, making
// snake_case and camelCase spellings of the same field identical.
func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "_", "")
}

// fieldValues is a normalized view over one raw record.
type fieldValues map[string]string

func (f fieldValues) str(key string) string {
	return f[normalizeKey(key)]
}

func (f fieldValues) decimal(key string) (decimal.Decimal, error) {
	v := f.str(key)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %s: invalid decimal %q", key, v)
	}
	return d, nil
}

var dateLayouts = []string{
	exposure.DateLayout,
	time.RFC3339,
	"02/01/2006",
}

func (f fieldValues) date(key string) (time.Time, error) {
	v := f.str(key)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("field %s: invalid date %q", key, v)
}

func (f fieldValues) intval(key string) int {
	v := f.str(key)
	if v == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0
	}
	return n
}

// buildRecord converts normalized field values into a Record.
func buildRecord(f fieldValues) (*exposure.Record, error) {
	amount, err := f.decimal("exposure_amount")
	if err != nil {
		return nil, err
	}
	weight, err := f.decimal("risk_weight")
	if err != nil {
		return nil, err
	}
	reporting, err := f.date("reporting_date")
	if err != nil {
		return nil, err
	}
	valuation, err := f.date("valuation_date")
	if err != nil {
		return nil, err
	}
	maturity, err := f.date("maturity_date")
	if err != nil {
		return nil, err
	}

	return &exposure.Record{
		ExposureID:       f.str("exposure_id"),
		ReferenceNumber:  f.str("reference_number"),
		CounterpartyID:   f.str("counterparty_id"),
		CounterpartyLEI:  f.str("counterparty_lei"),
		CounterpartyType: f.str("counterparty_type"),
		Sector:           f.str("sector"),
		CountryCode:      strings.ToUpper(f.str("country_code")),
		ExposureAmount:   amount,
		Currency:         strings.ToUpper(f.str("currency")),
		ProductType:      f.str("product_type"),
		InternalRating:   f.str("internal_rating"),
		RiskCategory:     f.str("risk_category"),
		RiskWeight:       weight,
		ReportingDate:    reporting,
		ValuationDate:    valuation,
		MaturityDate:     maturity,
	}, nil
}

func buildBankInfo(f fieldValues) *BankInfo {
	info := &BankInfo{
		BankName: f.str("bank_name"),
		BankID:   f.str("bank_id"),
	}
	if d, err := f.date("reporting_date"); err == nil {
		info.ReportingDate = d
	}
	info.ExpectedExposureCount = f.intval("expected_exposure_count")
	return info
}
