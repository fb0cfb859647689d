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

package jsonutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMarshalResponse(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	MarshalResponse(w, http.StatusAccepted, map[string]string{
		"batchId": "batch-20260630-abc",
		"status":  "UPLOADED",
	})

	if w.Code != http.StatusAccepted {
		t.Errorf("wrong response code, want: %v got: %v", http.StatusAccepted, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("wrong content type: %q", ct)
	}

	want := `{"batchId":"batch-20260630-abc","status":"UPLOADED"}`
	if diff := cmp.Diff(want, w.Body.String()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%v", diff)
	}
}

func TestMarshalResponseUnmarshalable(t *testing.T) {
	t.Parallel()

	type node struct {
		Name string `json:"name"`
		Next *node  `json:"next"`
	}
	bad := &node{Name: "a"}
	bad.Next = bad

	w := httptest.NewRecorder()
	MarshalResponse(w, http.StatusOK, bad)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("wrong response code, want: %v got: %v", http.StatusInternalServerError, w.Code)
	}
	want := `{"error":"json: unsupported value: encountered a cycle via *jsonutil.node"}`
	if diff := cmp.Diff(want, w.Body.String()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%v", diff)
	}
}
