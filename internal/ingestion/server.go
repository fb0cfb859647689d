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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	coredb "github.com/regtech/exposure-reporting-server/internal/database"
	"github.com/regtech/exposure-reporting-server/internal/errdetail"
	batchdb "github.com/regtech/exposure-reporting-server/internal/ingestion/database"
	"github.com/regtech/exposure-reporting-server/internal/ingestion/model"
	"github.com/regtech/exposure-reporting-server/internal/jsonutil"
	"github.com/regtech/exposure-reporting-server/internal/parser"
	"github.com/regtech/exposure-reporting-server/internal/serverenv"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
	"github.com/regtech/exposure-reporting-server/pkg/server"
)

// Server is the batch intake server.
type Server struct {
	config   *Config
	env      *serverenv.ServerEnv
	batches  *batchdb.BatchDB
	gateway  *storage.Gateway
	pipeline *Pipeline
}

// NewServer makes a new intake server.
func NewServer(config *Config, env *serverenv.ServerEnv, pipeline *Pipeline) (*Server, error) {
	if env.Database() == nil {
		return nil, fmt.Errorf("expected env to have database")
	}
	if env.Blobstore() == nil {
		return nil, fmt.Errorf("expected env to have blobstore")
	}

	return &Server{
		config:   config,
		env:      env,
		batches:  batchdb.New(env.Database()),
		gateway:  storage.NewGateway(env.Blobstore(), &config.Blobstore),
		pipeline: pipeline,
	}, nil
}

func (s *Server) Routes(ctx context.Context) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/health", server.HandleHealthz(s.env.Database()))
	r.Handle("/v1/batches", s.handleSubmitBatch(ctx)).Methods(http.MethodPost)
	r.Handle("/v1/batches/{id}", s.handleGetBatchStatus(ctx)).Methods(http.MethodGet)
	return r
}

// submitResponse is the accepted-submission body.
type submitResponse struct {
	BatchID    string `json:"batchId"`
	Status     string `json:"status"`
	UploadedAt string `json:"uploadedAt"`
}

// batchStatusResponse is the status view of a batch.
type batchStatusResponse struct {
	BatchID       string `json:"batchId"`
	BankID        string `json:"bankId"`
	Status        string `json:"status"`
	FileName      string `json:"fileName"`
	ExposureCount int    `json:"exposureCount"`
	UploadedAt    string `json:"uploadedAt"`
	CompletedAt   string `json:"completedAt,omitempty"`
	FailedAt      string `json:"failedAt,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

type errorResponse struct {
	Error *errdetail.Detail `json:"error"`
}

// handleSubmitBatch accepts a multipart upload with a "file" part and a
// "bankId" field, stores the raw artifact and starts the pipeline. The
// response is 202: processing is asynchronous and observable through the
// status endpoint.
func (s *Server) handleSubmitBatch(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx).Named("ingestion.submit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			recordSubmission(ctx, "body_rejected")
			writeError(w, http.StatusRequestEntityTooLarge, errdetail.New(
				errdetail.KindValidation, "INVALID_REQUEST", "error.invalid_request",
				"request body is not valid multipart or exceeds the size limit"))
			return
		}

		bankID := r.FormValue("bankId")
		if bankID == "" {
			recordSubmission(ctx, "missing_parameter")
			writeError(w, http.StatusBadRequest, errdetail.New(
				errdetail.KindValidation, "MISSING_REQUIRED_PARAMETER", "error.missing_required_parameter",
				"bankId is required"))
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			recordSubmission(ctx, "missing_parameter")
			writeError(w, http.StatusBadRequest, errdetail.New(
				errdetail.KindValidation, "MISSING_REQUIRED_PARAMETER", "error.missing_required_parameter",
				"file is required"))
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if _, err := parser.FormatForFile(header.Filename, contentType); err != nil {
			recordSubmission(ctx, "invalid_format")
			writeError(w, http.StatusBadRequest, errdetail.Newf(
				errdetail.KindValidation, "INVALID_FILE_FORMAT", "error.invalid_file_format",
				"unsupported file %q", header.Filename))
			return
		}

		contents, err := io.ReadAll(file)
		if err != nil {
			recordSubmission(ctx, "read_failure")
			writeError(w, http.StatusBadRequest, errdetail.New(
				errdetail.KindValidation, "INVALID_REQUEST", "error.invalid_request",
				"reading uploaded file failed"))
			return
		}

		md5hex, sha256hex := storage.Checksums(contents)
		batch := model.NewBatch(bankID, model.FileMetadata{
			Name:        header.Filename,
			ContentType: contentType,
			SizeBytes:   int64(len(contents)),
			MD5:         md5hex,
			SHA256:      sha256hex,
		}, time.Now().UTC())

		ref, err := s.gateway.PutObject(ctx, s.gateway.RawKey(batch.BatchID, header.Filename), contents, storage.ObjectMetadata{
			ContentType: contentType,
			SizeBytes:   int64(len(contents)),
			MD5:         md5hex,
			SHA256:      sha256hex,
		})
		if err != nil {
			if errors.Is(err, storage.ErrChecksumMismatch) {
				recordSubmission(ctx, "checksum_mismatch")
				writeError(w, http.StatusBadRequest, errdetail.New(
					errdetail.KindChecksumMismatch, "CHECKSUM_MISMATCH", "error.checksum_mismatch",
					"stored object does not match the declared checksums"))
				return
			}
			recordSubmission(ctx, "store_failure")
			logger.Errorw("storing raw batch object", "error", err, "batch_id", batch.BatchID)
			writeError(w, http.StatusInternalServerError, errdetail.New(
				errdetail.KindSystem, "SYSTEM_ERROR", "error.system_error",
				"storing the uploaded file failed"))
			return
		}
		batch.ObjectRef = ref

		if err := s.batches.InsertBatch(ctx, batch); err != nil {
			recordSubmission(ctx, "insert_failure")
			logger.Errorw("inserting batch", "error", err, "batch_id", batch.BatchID)
			writeError(w, http.StatusInternalServerError, errdetail.New(
				errdetail.KindSystem, "SYSTEM_ERROR", "error.system_error",
				"recording the submission failed"))
			return
		}

		recordSubmission(ctx, "accepted")
		logger.Infow("batch accepted",
			"batch_id", batch.BatchID, "bank_id", bankID,
			"file", header.Filename, "bytes", len(contents))

		// The pipeline runs on its own context: the upload response must
		// not wait on, or cancel, batch processing.
		go func() {
			pctx := logging.WithLogger(context.Background(), logger)
			if err := s.pipeline.Process(pctx, batch.BatchID); err != nil {
				logger.Errorw("batch processing failed", "error", err, "batch_id", batch.BatchID)
			}
		}()

		jsonutil.MarshalResponse(w, http.StatusAccepted, &submitResponse{
			BatchID:    batch.BatchID,
			Status:     string(batch.Status),
			UploadedAt: batch.UploadedAt.Format(time.RFC3339),
		})
	})
}

// handleGetBatchStatus returns the current lifecycle view of a batch.
func (s *Server) handleGetBatchStatus(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx).Named("ingestion.status")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		batchID := mux.Vars(r)["id"]

		b, err := s.batches.GetBatch(ctx, batchID)
		if err != nil {
			if errors.Is(err, coredb.ErrNotFound) {
				writeError(w, http.StatusNotFound, errdetail.Newf(
					errdetail.KindValidation, "BATCH_NOT_FOUND", "error.batch_not_found",
					"no batch %q", batchID))
				return
			}
			logger.Errorw("loading batch", "error", err, "batch_id", batchID)
			writeError(w, http.StatusInternalServerError, errdetail.New(
				errdetail.KindSystem, "SYSTEM_ERROR", "error.system_error",
				"loading the batch failed"))
			return
		}

		resp := &batchStatusResponse{
			BatchID:       b.BatchID,
			BankID:        b.BankID,
			Status:        string(b.Status),
			FileName:      b.FileMetadata.Name,
			ExposureCount: b.ExposureCount,
			UploadedAt:    b.UploadedAt.Format(time.RFC3339),
			ErrorMessage:  b.ErrorMessage,
		}
		if !b.CompletedAt.IsZero() {
			resp.CompletedAt = b.CompletedAt.Format(time.RFC3339)
		}
		if !b.FailedAt.IsZero() {
			resp.FailedAt = b.FailedAt.Format(time.RFC3339)
		}
		jsonutil.MarshalResponse(w, http.StatusOK, resp)
	})
}

func writeError(w http.ResponseWriter, status int, detail *errdetail.Detail) {
	jsonutil.MarshalResponse(w, status, &errorResponse{Error: detail})
}
