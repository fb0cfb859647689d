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

// Package jsonutil renders JSON responses for the HTTP boundary.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// MarshalResponse writes response as JSON with the given status. A value
// that cannot be marshaled is reported as a 500 with a JSON error body, so
// the boundary never emits a non-JSON payload.
func MarshalResponse(w http.ResponseWriter, status int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		// strconv.Quote provides the escaping, json.Marshal on an error
		// string cannot fail but would obscure this path.
		fmt.Fprintf(w, `{"error":%s}`, strconv.Quote(err.Error()))
		return
	}

	w.WriteHeader(status)
	w.Write(data)
}
