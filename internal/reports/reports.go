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

// Package reports renders regulatory report artifacts once both the quality
// and calculation results of a batch are available.
package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/regtech/exposure-reporting-server/internal/events"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

// Format selects a report renderer.
type Format string

const (
	FormatPDF  Format = "PDF"
	FormatXLSX Format = "XLSX"
	FormatXBRL Format = "XBRL"
)

// ParseFormats parses a comma-separated format list, e.g. "XLSX,PDF".
func ParseFormats(s string) ([]Format, error) {
	var formats []Format
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToUpper(strings.TrimSpace(part)))
		switch f {
		case FormatPDF, FormatXLSX, FormatXBRL:
			formats = append(formats, f)
		case "":
		default:
			return nil, fmt.Errorf("unknown report format %q", part)
		}
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no report formats configured")
	}
	return formats, nil
}

// Input carries everything a renderer needs, joined from the two event
// streams.
type Input struct {
	BatchID string
	BankID  string

	QualityResultURI     string
	CalculationResultURI string

	Quality        events.QualityScores
	TotalExposures int
	TotalAmountEur string

	GeneratedAt time.Time
}

// Generator renders the configured formats and writes them through the
// object store gateway under the batch's derived prefix.
type Generator struct {
	gateway *storage.Gateway
	formats []Format
}

// NewGenerator builds a generator for the given formats.
func NewGenerator(gateway *storage.Gateway, formats []Format) *Generator {
	return &Generator{gateway: gateway, formats: formats}
}

// Generate renders every configured format. All formats must succeed; a
// partial report is never announced.
func (g *Generator) Generate(ctx context.Context, in *Input) (*events.ReportGenerated, error) {
	logger := logging.FromContext(ctx)
	reportID := uuid.NewString()

	result := &events.ReportGenerated{
		BatchID:     in.BatchID,
		ReportID:    reportID,
		CompletedAt: in.GeneratedAt.UTC(),
	}
	for _, format := range g.formats {
		contents, contentType, ext, err := render(format, in)
		if err != nil {
			return nil, fmt.Errorf("render %s report: %w", format, err)
		}

		key := g.gateway.DerivedKey(in.BatchID, fmt.Sprintf("report-%s.%s", reportID, ext))
		md5sum, sha256sum := storage.Checksums(contents)
		ref, err := g.gateway.PutObject(ctx, key, contents, storage.ObjectMetadata{
			ContentType: contentType,
			SizeBytes:   int64(len(contents)),
			MD5:         md5sum,
			SHA256:      sha256sum,
		})
		if err != nil {
			return nil, fmt.Errorf("store %s report: %w", format, err)
		}

		logger.Infow("report artifact written",
			"batch_id", in.BatchID, "report_id", reportID, "format", format, "key", key)
		result.Artifacts = append(result.Artifacts, events.ReportArtifact{
			Format: string(format),
			ObjectRef: events.ObjectRef{
				Bucket:    ref.Bucket,
				Key:       ref.Key,
				VersionID: ref.VersionID,
			},
		})
	}
	return result, nil
}

func render(format Format, in *Input) (contents []byte, contentType, ext string, err error) {
	switch format {
	case FormatXLSX:
		contents, err = renderXLSX(in)
		return contents, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", err
	case FormatPDF:
		contents, err = renderPDF(in)
		return contents, "application/pdf", "pdf", err
	case FormatXBRL:
		contents, err = renderXBRL(in)
		return contents, "application/xml", "xbrl.xml", err
	default:
		return nil, "", "", fmt.Errorf("unknown format %q", format)
	}
}
