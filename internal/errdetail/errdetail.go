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

// Package errdetail carries structured error details across the core's API
// boundaries. Operations return a Detail instead of letting errors escape.
package errdetail

import "fmt"

// Kind classifies an error for retry and surfacing decisions.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindParse            Kind = "PARSE_ERROR"
	KindInvalidTrans     Kind = "INVALID_TRANSITION"
	KindChecksumMismatch Kind = "CHECKSUM_MISMATCH"
	KindFXUnavailable    Kind = "FX_RATE_UNAVAILABLE"
	KindEvaluation       Kind = "EVALUATION_ERROR"
	KindTimeout          Kind = "TIMEOUT"
	KindSystem           Kind = "SYSTEM_ERROR"
	KindPermanent        Kind = "PERMANENT_FAILURE"
)

// Retryable reports whether errors of this kind should be retried via the
// failure queue.
func (k Kind) Retryable() bool {
	return k == KindSystem
}

// Detail is a structured error value.
type Detail struct {
	Code       string `json:"code"`
	Kind       Kind   `json:"kind"`
	MessageKey string `json:"messageKey"`
	Detail     string `json:"detail,omitempty"`
}

// Error implements error.
func (d *Detail) Error() string {
	return fmt.Sprintf("%s (%s): %s", d.Code, d.Kind, d.Detail)
}

// New builds a Detail.
func New(kind Kind, code, messageKey, detail string) *Detail {
	return &Detail{Code: code, Kind: kind, MessageKey: messageKey, Detail: detail}
}

// Newf builds a Detail with a formatted detail string.
func Newf(kind Kind, code, messageKey, format string, args ...interface{}) *Detail {
	return New(kind, code, messageKey, fmt.Sprintf(format, args...))
}
