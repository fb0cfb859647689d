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
	"encoding/xml"
	"fmt"
	"sort"
	"time"
)

// xbrlNamespace identifies the report taxonomy.
const xbrlNamespace = "urn:regtech:exposure-reporting:large-exposures:v1"

type xbrlDocument struct {
	XMLName  xml.Name `xml:"Report"`
	Xmlns    string   `xml:"xmlns,attr"`
	XmlnsXsi string   `xml:"xmlns:xsi,attr"`

	Header    xbrlHeader    `xml:"Header"`
	Exposures xbrlExposures `xml:"Exposures"`
	Quality   xbrlQuality   `xml:"DataQuality"`
	Sources   xbrlSources   `xml:"Sources"`
}

type xbrlHeader struct {
	BatchID     string `xml:"BatchId"`
	BankID      string `xml:"BankId"`
	GeneratedAt string `xml:"GeneratedAt"`
}

type xbrlExposures struct {
	TotalCount     int    `xml:"TotalCount"`
	TotalAmountEur string `xml:"TotalAmountEur"`
}

type xbrlQuality struct {
	OverallScore float64         `xml:"OverallScore"`
	Grade        string          `xml:"Grade"`
	Dimensions   []xbrlDimension `xml:"Dimension"`
}

type xbrlDimension struct {
	Name  string  `xml:"name,attr"`
	Score float64 `xml:",chardata"`
}

type xbrlSources struct {
	QualityResultURI     string `xml:"QualityResultUri"`
	CalculationResultURI string `xml:"CalculationResultUri"`
}

// renderXBRL writes the XBRL-style XML artifact.
func renderXBRL(in *Input) ([]byte, error) {
	doc := xbrlDocument{
		Xmlns:    xbrlNamespace,
		XmlnsXsi: "http://www.w3.org/2001/XMLSchema-instance",
		Header: xbrlHeader{
			BatchID:     in.BatchID,
			BankID:      in.BankID,
			GeneratedAt: in.GeneratedAt.UTC().Format(time.RFC3339),
		},
		Exposures: xbrlExposures{
			TotalCount:     in.TotalExposures,
			TotalAmountEur: in.TotalAmountEur,
		},
		Quality: xbrlQuality{
			OverallScore: in.Quality.OverallScore,
			Grade:        in.Quality.Grade,
		},
		Sources: xbrlSources{
			QualityResultURI:     in.QualityResultURI,
			CalculationResultURI: in.CalculationResultURI,
		},
	}

	dimensions := make([]string, 0, len(in.Quality.DimensionScores))
	for d := range in.Quality.DimensionScores {
		dimensions = append(dimensions, d)
	}
	sort.Strings(dimensions)
	for _, d := range dimensions {
		doc.Quality.Dimensions = append(doc.Quality.Dimensions, xbrlDimension{
			Name:  d,
			Score: in.Quality.DimensionScores[d],
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report document: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
