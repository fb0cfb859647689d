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

// Package model contains the ingestion batch and its lifecycle rules.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/regtech/exposure-reporting-server/internal/storage"
)

// BatchStatus is the lifecycle state of an ingestion batch.
type BatchStatus string

const (
	StatusUploaded  BatchStatus = "UPLOADED"
	StatusParsing   BatchStatus = "PARSING"
	StatusValidated BatchStatus = "VALIDATED"
	StatusStoring   BatchStatus = "STORING"
	StatusCompleted BatchStatus = "COMPLETED"
	StatusFailed    BatchStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s BatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileMetadata describes the uploaded file.
type FileMetadata struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	MD5         string `json:"md5"`
	SHA256      string `json:"sha256"`
}

// Batch is one bank submission and all of its derived state. The status only
// moves along the legal transition edges; callers must never write Status
// directly.
type Batch struct {
	BatchID string
	BankID  string
	Status  BatchStatus

	FileMetadata  FileMetadata
	ObjectRef     storage.ObjectRef
	ExposureCount int

	UploadedAt       time.Time
	LastTransitionAt time.Time
	CompletedAt      time.Time
	FailedAt         time.Time

	ErrorMessage       string
	ProcessingDuration time.Duration
}

// NewBatchID returns a batch identifier that sorts by creation time.
func NewBatchID(now time.Time) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405.000000000Z"), suffix)
}

// NewBatch creates a batch in UPLOADED for the given bank.
func NewBatch(bankID string, meta FileMetadata, now time.Time) *Batch {
	return &Batch{
		BatchID:          NewBatchID(now),
		BankID:           bankID,
		Status:           StatusUploaded,
		FileMetadata:     meta,
		UploadedAt:       now,
		LastTransitionAt: now,
	}
}
