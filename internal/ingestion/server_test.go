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

package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newRejectionServer builds a server with just enough wiring to exercise the
// request validation paths, which never reach storage or the database.
func newRejectionServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		config: &Config{MaxUploadBytes: 1 << 20},
	}
}

func multipartBody(t *testing.T, bankID, fileName string, contents []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if bankID != "" {
		if err := w.WriteField("bankId", bankID); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if fileName != "" {
		fw, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(contents); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func submitCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", resp.Body.String(), err)
	}
	return body.Error.Code
}

func TestSubmitBatchMissingBankID(t *testing.T) {
	t.Parallel()

	s := newRejectionServer(t)
	body, contentType := multipartBody(t, "", "exposures.json", []byte(`{"records":[]}`))

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	s.handleSubmitBatch(context.Background()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if code := submitCode(t, resp); code != "MISSING_REQUIRED_PARAMETER" {
		t.Errorf("error code = %q, want MISSING_REQUIRED_PARAMETER", code)
	}
}

func TestSubmitBatchMissingFile(t *testing.T) {
	t.Parallel()

	s := newRejectionServer(t)
	body, contentType := multipartBody(t, "BANK-001", "", nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	s.handleSubmitBatch(context.Background()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if code := submitCode(t, resp); code != "MISSING_REQUIRED_PARAMETER" {
		t.Errorf("error code = %q, want MISSING_REQUIRED_PARAMETER", code)
	}
}

func TestSubmitBatchInvalidFormat(t *testing.T) {
	t.Parallel()

	s := newRejectionServer(t)
	body, contentType := multipartBody(t, "BANK-001", "exposures.csv", []byte("a,b,c"))

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	s.handleSubmitBatch(context.Background()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if code := submitCode(t, resp); code != "INVALID_FILE_FORMAT" {
		t.Errorf("error code = %q, want INVALID_FILE_FORMAT", code)
	}
}

func TestSubmitBatchBodyTooLarge(t *testing.T) {
	t.Parallel()

	s := newRejectionServer(t)
	s.config.MaxUploadBytes = 128

	big := bytes.Repeat([]byte("x"), 4096)
	body, contentType := multipartBody(t, "BANK-001", "exposures.json", big)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	s.handleSubmitBatch(context.Background()).ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.Code)
	}
}
