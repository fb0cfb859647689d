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

// Package events defines the stable wire shapes for domain events published
// through the outbox. Handlers must be idempotent: the bus guarantees
// at-least-once delivery.
package events

import "time"

// Event type names used for outbox rows, bus routing and the failure queue.
const (
	TypeBatchIngested             = "reporting.ingestion.BatchIngested"
	TypeBatchQualityCompleted     = "reporting.quality.BatchQualityCompleted"
	TypeBatchCalculationCompleted = "reporting.calculation.BatchCalculationCompleted"
	TypeReportGenerated           = "reporting.reports.ReportGenerated"
	TypePermanentlyFailed         = "reporting.failures.EventProcessingPermanentlyFailed"
)

// ObjectRef locates a stored artifact.
type ObjectRef struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	VersionID string `json:"versionId,omitempty"`
}

// BatchIngested is published when a batch reaches COMPLETED ingestion.
type BatchIngested struct {
	BatchID       string    `json:"batchId"`
	BankID        string    `json:"bankId"`
	ObjectRef     ObjectRef `json:"objectRef"`
	ExposureCount int       `json:"exposureCount"`
	UploadedAt    time.Time `json:"uploadedAt"`
}

// QualityScores is the quality summary carried on BatchQualityCompleted.
type QualityScores struct {
	DimensionScores map[string]float64 `json:"dimensionScores"`
	OverallScore    float64            `json:"overallScore"`
	Grade           string             `json:"grade"`
}

// BatchQualityCompleted is published when data-quality validation finishes.
type BatchQualityCompleted struct {
	BatchID       string        `json:"batchId"`
	BankID        string        `json:"bankId"`
	ResultURI     string        `json:"resultUri"`
	QualityScores QualityScores `json:"qualityScores"`
	Timestamp     time.Time     `json:"timestamp"`
}

// BatchCalculationCompleted is published when risk calculation finishes.
type BatchCalculationCompleted struct {
	BatchID        string    `json:"batchId"`
	BankID         string    `json:"bankId"`
	ResultURI      string    `json:"resultUri"`
	TotalExposures int       `json:"totalExposures"`
	TotalAmountEur string    `json:"totalAmountEur"`
	CompletedAt    time.Time `json:"completedAt"`
}

// ReportArtifact is a single generated report output.
type ReportArtifact struct {
	Format    string    `json:"format"`
	ObjectRef ObjectRef `json:"objectRef"`
}

// ReportGenerated is published after the coordinator joins both streams and
// produces a report.
type ReportGenerated struct {
	BatchID     string           `json:"batchId"`
	ReportID    string           `json:"reportId"`
	Artifacts   []ReportArtifact `json:"artifacts"`
	CompletedAt time.Time        `json:"completedAt"`
}

// EventProcessingPermanentlyFailed is emitted when a failure-queue row
// exhausts its retry budget.
type EventProcessingPermanentlyFailed struct {
	FailureID  string `json:"failureId"`
	EventType  string `json:"eventType"`
	RetryCount int    `json:"retryCount"`
	LastError  string `json:"lastError"`
}
