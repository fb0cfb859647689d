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

	"github.com/go-pdf/fpdf"
)

// renderPDF writes a single-page summary document.
func renderPDF(in *Input) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Large Exposure Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Large Exposure Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(60, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
	}
	line("Batch ID", in.BatchID)
	line("Bank ID", in.BankID)
	line("Generated At", in.GeneratedAt.UTC().Format(time.RFC3339))
	line("Total Exposures", fmt.Sprintf("%d", in.TotalExposures))
	line("Total Amount (EUR)", in.TotalAmountEur)
	line("Overall Quality Score", fmt.Sprintf("%.2f", in.Quality.OverallScore))
	line("Quality Grade", in.Quality.Grade)
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Quality Dimensions", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	dimensions := make([]string, 0, len(in.Quality.DimensionScores))
	for d := range in.Quality.DimensionScores {
		dimensions = append(dimensions, d)
	}
	sort.Strings(dimensions)
	for _, d := range dimensions {
		line(d, fmt.Sprintf("%.2f", in.Quality.DimensionScores[d]))
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("serialize pdf: %w", err)
	}
	return buf.Bytes(), nil
}
