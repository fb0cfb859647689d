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
	"bytes"
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/xuri/excelize/v2"
)

// parseSpreadsheet reads the first sheet of an XLSX workbook. The first row
// is the header; subsequent rows are records. Header names go through the
// same alias normalization as JSON field names.
func parseSpreadsheet(ctx context.Context, contents []byte, opts Options, fn RecordFunc) (*BankInfo, int, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(contents))
	if err != nil {
		return nil, 0, &ParseError{Index: 0, Err: fmt.Errorf("opening workbook: %w", err)}
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, &ParseError{Index: 0, Err: fmt.Errorf("workbook has no sheets")}
	}

	rows, err := wb.Rows(sheets[0])
	if err != nil {
		return nil, 0, &ParseError{Index: 0, Err: fmt.Errorf("reading sheet %q: %w", sheets[0], err)}
	}
	defer rows.Close()

	var header []string
	var merr *multierror.Error
	index := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, index, err
		}

		cols, err := rows.Columns()
		if err != nil {
			return nil, index, &ParseError{Index: index, Err: fmt.Errorf("reading row: %w", err)}
		}

		if header == nil {
			header = make([]string, len(cols))
			for i, c := range cols {
				header[i] = normalizeKey(c)
			}
			continue
		}

		f := fieldValues{}
		for i, c := range cols {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if _, seen := f[header[i]]; seen {
				continue
			}
			f[header[i]] = c
		}

		rec, err := buildRecord(f)
		if err != nil {
			perr := &ParseError{Index: index, Err: err}
			if !opts.Lenient {
				return nil, index, perr
			}
			merr = multierror.Append(merr, perr)
			index++
			continue
		}
		if err := fn(index, rec); err != nil {
			return nil, index, err
		}
		index++
	}

	info := &BankInfo{ExpectedExposureCount: index}
	return info, index, merr.ErrorOrNil()
}
