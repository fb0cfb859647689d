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

package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/regtech/exposure-reporting-server/internal/exposure"
)

func collect(t *testing.T, contents string, opts Options) ([]*exposure.Record, *BankInfo, error) {
	t.Helper()

	var recs []*exposure.Record
	info, n, err := Parse(context.Background(), []byte(contents), FormatJSON, opts, func(_ int, r *exposure.Record) error {
		recs = append(recs, r)
		return nil
	})
	if err == nil && n != len(recs) {
		t.Fatalf("record count mismatch: n=%d len=%d", n, len(recs))
	}
	return recs, info, err
}

func TestParseJSONArray(t *testing.T) {
	t.Parallel()

	contents := `[
		{"exposure_id":"E1","counterparty_id":"CP1","exposure_amount":"100.50","currency":"EUR","country_code":"it","reporting_date":"2026-06-30"},
		{"exposureId":"E2","counterpartyId":"CP2","exposureAmount":200,"currency":"usd","countryCode":"US"}
	]`
	recs, _, err := collect(t, contents, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	// snake_case and camelCase resolve to the same fields.
	if recs[0].ExposureID != "E1" || recs[1].ExposureID != "E2" {
		t.Errorf("wrong exposure ids: %q %q", recs[0].ExposureID, recs[1].ExposureID)
	}
	if got := recs[0].ExposureAmount.String(); got != "100.5" {
		t.Errorf("wrong amount: %s", got)
	}
	if got := recs[1].ExposureAmount.String(); got != "200" {
		t.Errorf("wrong amount: %s", got)
	}
	if recs[0].CountryCode != "IT" || recs[1].CountryCode != "US" {
		t.Errorf("country codes should be upper-cased")
	}
	if recs[1].Currency != "USD" {
		t.Errorf("currency should be upper-cased")
	}
	if exposure.FormatDate(recs[0].ReportingDate) != "2026-06-30" {
		t.Errorf("wrong reporting date: %v", recs[0].ReportingDate)
	}
}

func TestParseJSONObjectWithBankInfo(t *testing.T) {
	t.Parallel()

	contents := `{
		"bank_name": "Banca di Prova",
		"bankId": "08081",
		"reporting_date": "2026-06-30",
		"expected_exposure_count": 1,
		"records": [
			{"exposure_id":"E1","exposure_amount":"10"}
		]
	}`
	recs, info, err := collect(t, contents, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if info.BankName != "Banca di Prova" || info.BankID != "08081" {
		t.Errorf("wrong bank info: %+v", info)
	}
	if info.ExpectedExposureCount != 1 {
		t.Errorf("wrong expected count: %d", info.ExpectedExposureCount)
	}
}

func TestParseMalformedRecordAborts(t *testing.T) {
	t.Parallel()

	contents := `[
		{"exposure_id":"E1","exposure_amount":"10"},
		{"exposure_id":"E2","exposure_amount":"not-a-number"}
	]`
	_, _, err := collect(t, contents, Options{})

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected a ParseError, got %v", err)
	}
	if perr.Index != 1 {
		t.Errorf("wrong record index: %d", perr.Index)
	}
}

func TestParseLenientContinues(t *testing.T) {
	t.Parallel()

	contents := `[
		{"exposure_id":"E1","exposure_amount":"10"},
		{"exposure_id":"E2","exposure_amount":"not-a-number"},
		{"exposure_id":"E3","exposure_amount":"30"}
	]`
	recs, _, err := collect(t, contents, Options{Lenient: true})
	if err == nil {
		t.Fatalf("lenient parse should still report the bad record")
	}
	if len(recs) != 2 {
		t.Fatalf("expected the 2 good records, got %d", len(recs))
	}
}

func TestParseEmptyFile(t *testing.T) {
	t.Parallel()

	if _, _, err := collect(t, "", Options{}); err == nil {
		t.Fatal("expected an error for an empty file")
	}
}

func TestFormatForFile(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, contentType string
		want              Format
		wantErr           bool
	}{
		{"exposures.json", "", FormatJSON, false},
		{"exposures.JSON", "", FormatJSON, false},
		{"exposures.xlsx", "", FormatSpreadsheet, false},
		{"upload.bin", "application/json", FormatJSON, false},
		{"exposures.csv", "text/csv", "", true},
	}
	for _, tc := range cases {
		got, err := FormatForFile(tc.name, tc.contentType)
		if tc.wantErr {
			if err == nil {
				t.Errorf("FormatForFile(%q): expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("FormatForFile(%q): %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("FormatForFile(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAliasCollisionFirstSeenWins(t *testing.T) {
	t.Parallel()

	// Both spellings of the same field in one record carry conflicting
	// values: the key appearing first in the document wins, every time.
	// Repeated runs guard against any map-iteration-order dependence.
	contents := `[{"exposure_id":"E1","exposureId":"E-shadow","exposure_amount":"10","exposureAmount":"99"}]`
	for i := 0; i < 20; i++ {
		recs, _, err := collect(t, contents, Options{})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if recs[0].ExposureID != "E1" {
			t.Fatalf("wrong exposure id: %q, want the first key in the document to win", recs[0].ExposureID)
		}
		if got := recs[0].ExposureAmount.String(); got != "10" {
			t.Fatalf("wrong amount: %s, want the first key in the document to win", got)
		}
	}
}

func TestBankInfoAliasCollisionFirstSeenWins(t *testing.T) {
	t.Parallel()

	contents := `{
		"bank_id": "08081",
		"bankId": "99999",
		"records": [{"exposure_id":"E1","exposure_amount":"10"}]
	}`
	for i := 0; i < 20; i++ {
		_, info, err := collect(t, contents, Options{})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if info.BankID != "08081" {
			t.Fatalf("wrong bank id: %q, want the first key in the document to win", info.BankID)
		}
	}
}
