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

package reports

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
)

// renderXLSX writes a two-sheet workbook: a summary sheet and the
// per-dimension quality scores.
func renderXLSX(in *Input) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	f.SetSheetName(f.GetSheetName(0), summary)

	rows := [][]interface{}{
		{"Large Exposure Report"},
		{},
		{"Batch ID", in.BatchID},
		{"Bank ID", in.BankID},
		{"Generated At", in.GeneratedAt.UTC().Format(time.RFC3339)},
		{},
		{"Total Exposures", in.TotalExposures},
		{"Total Amount (EUR)", in.TotalAmountEur},
		{},
		{"Overall Quality Score", in.Quality.OverallScore},
		{"Quality Grade", in.Quality.Grade},
		{},
		{"Quality Result", in.QualityResultURI},
		{"Calculation Result", in.CalculationResultURI},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return nil, fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}

	const quality = "Quality Dimensions"
	if _, err := f.NewSheet(quality); err != nil {
		return nil, err
	}
	header := []interface{}{"Dimension", "Score"}
	if err := f.SetSheetRow(quality, "A1", &header); err != nil {
		return nil, err
	}
	dimensions := make([]string, 0, len(in.Quality.DimensionScores))
	for d := range in.Quality.DimensionScores {
		dimensions = append(dimensions, d)
	}
	sort.Strings(dimensions)
	for i, d := range dimensions {
		row := []interface{}{d, in.Quality.DimensionScores[d]}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(quality, cell, &row); err != nil {
			return nil, fmt.Errorf("write dimension row: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
