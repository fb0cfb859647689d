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
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/regtech/exposure-reporting-server/internal/exposure"
)

// recordsFieldNames are the object fields that may hold the record array
// when the file is an object instead of a bare array.
var recordsFieldNames = []string{"records", "exposures", "data"}

// parseJSON accepts either a bare array of records or an object carrying a
// records field plus bank info fields. Decoding is streamed: each array
// element decodes and dispatches before the next is read.
func parseJSON(ctx context.Context, contents []byte, opts Options, fn RecordFunc) (*BankInfo, int, error) {
	trimmed := bytes.TrimLeft(contents, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, 0, fmt.Errorf("empty file")
	}

	if trimmed[0] == '[' {
		n, err := parseJSONArray(ctx, bytes.NewReader(trimmed), nil, opts, fn)
		return &BankInfo{ExpectedExposureCount: n}, n, err
	}

	// Object form: pull out the envelope, then stream the records array.
	// Fields decode in document order so alias collisions resolve
	// first-seen-wins rather than by map iteration order.
	envelope, err := decodeObjectFields(json.NewDecoder(bytes.NewReader(trimmed)))
	if err != nil {
		return nil, 0, &ParseError{Index: 0, Err: fmt.Errorf("malformed JSON: %w", err)}
	}

	normalized := make(map[string]json.RawMessage, len(envelope))
	info := fieldValues{}
	for _, fv := range envelope {
		nk := normalizeKey(fv.key)
		if _, seen := normalized[nk]; seen {
			continue
		}
		normalized[nk] = fv.value
		var s string
		if err := json.Unmarshal(fv.value, &s); err == nil {
			info[nk] = s
			continue
		}
		var num json.Number
		if err := json.Unmarshal(fv.value, &num); err == nil {
			info[nk] = num.String()
		}
	}
	bankInfo := buildBankInfo(info)

	var raw json.RawMessage
	for _, name := range recordsFieldNames {
		if v, ok := normalized[normalizeKey(name)]; ok {
			raw = v
			break
		}
	}
	if raw == nil {
		return bankInfo, 0, &ParseError{Index: 0, Err: fmt.Errorf("no records field in object (looked for %v)", recordsFieldNames)}
	}

	n, err := parseJSONArray(ctx, bytes.NewReader(raw), nil, opts, fn)
	if bankInfo.ExpectedExposureCount == 0 {
		bankInfo.ExpectedExposureCount = n
	}
	return bankInfo, n, err
}

func parseJSONArray(ctx context.Context, r *bytes.Reader, merr *multierror.Error, opts Options, fn RecordFunc) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return 0, &ParseError{Index: 0, Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return 0, &ParseError{Index: 0, Err: fmt.Errorf("expected a JSON array, got %v", tok)}
	}

	index := 0
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return index, err
		}

		fields, err := decodeObjectFields(dec)
		if err != nil {
			perr := &ParseError{Index: index, Err: fmt.Errorf("malformed record: %w", err)}
			// A decode error leaves the stream unusable; lenient mode still
			// has to stop here.
			return index, perr
		}

		rec, err := recordFromFields(fields)
		if err != nil {
			perr := &ParseError{Index: index, Err: err}
			if !opts.Lenient {
				return index, perr
			}
			merr = multierror.Append(merr, perr)
			index++
			continue
		}

		if err := fn(index, rec); err != nil {
			return index, err
		}
		index++
	}

	// Consume the closing bracket.
	if _, err := dec.Token(); err != nil {
		return index, &ParseError{Index: index, Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	return index, merr.ErrorOrNil()
}

// rawField is one object member in document order.
type rawField struct {
	key   string
	value json.RawMessage
}

// decodeObjectFields reads the next value off the decoder, which must be an
// object, and returns its members in the order they appear in the document.
func decodeObjectFields(dec *json.Decoder) ([]rawField, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var fields []rawField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected an object key, got %v", keyTok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		fields = append(fields, rawField{key: key, value: v})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

func recordFromFields(fields []rawField) (*exposure.Record, error) {
	f := fieldValues{}
	for _, fv := range fields {
		nk := normalizeKey(fv.key)
		if _, seen := f[nk]; seen {
			// first-seen wins on alias collisions
			continue
		}
		var s string
		if err := json.Unmarshal(fv.value, &s); err == nil {
			f[nk] = s
			continue
		}
		var num json.Number
		if err := json.Unmarshal(fv.value, &num); err == nil {
			f[nk] = num.String()
			continue
		}
		var b bool
		if err := json.Unmarshal(fv.value, &b); err == nil {
			f[nk] = fmt.Sprintf("%t", b)
			continue
		}
		// null or nested values map to empty.
	}
	return buildRecord(f)
}
