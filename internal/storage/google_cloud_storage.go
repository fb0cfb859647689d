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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
)

// Compile-time check to verify implements interface.
var _ Blobstore = (*GoogleCloudStorage)(nil)

// GoogleCloudStorage implements the Blobstore interface and provides the
// ability to write files to Google Cloud Storage.
type GoogleCloudStorage struct {
	client *storage.Client
}

// NewGoogleCloudStorage creates a Google Cloud Storage Client, suitable
// for use with serverenv.ServerEnv.
func NewGoogleCloudStorage(ctx context.Context) (Blobstore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GoogleCloudStorage{client}, nil
}

// CreateObject creates a new cloud storage object or overwrites an existing
// one. Buckets with default encryption use AES-256 server side.
func (s *GoogleCloudStorage) CreateObject(ctx context.Context, bucket, objectName string, contents []byte, contentType string) (string, error) {
	wc := s.client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		wc.ContentType = contentType
	}
	if _, err := wc.Write(contents); err != nil {
		return "", fmt.Errorf("storage.Writer.Write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("storage.Writer.Close: %w", err)
	}
	return strconv.FormatInt(wc.Attrs().Generation, 10), nil
}

// GetObject returns the contents of the object, or ErrNotFound.
func (s *GoogleCloudStorage) GetObject(ctx context.Context, bucket, objectName string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage.NewReader: %w", err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage.Reader.Read: %w", err)
	}
	return b, nil
}

// DeleteObject deletes a cloud storage object, returning nil if the object
// was successfully deleted, or if the object doesn't exist.
func (s *GoogleCloudStorage) DeleteObject(ctx context.Context, bucket, objectName string) error {
	if err := s.client.Bucket(bucket).Object(objectName).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			// Object doesn't exist; presumably already deleted.
			return nil
		}
		return fmt.Errorf("storage.DeleteObject: %w", err)
	}
	return nil
}

// SignedURL returns a V4 signed URL with an absolute expiry.
func (s *GoogleCloudStorage) SignedURL(_ context.Context, bucket, objectName string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(bucket).SignedURL(objectName, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("storage.SignedURL: %w", err)
	}
	return url, nil
}
