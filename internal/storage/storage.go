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

// Package storage is an interface over blob storage backends plus the
// integrity-checking gateway used for batch artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("storage object not found")

// Blobstore defines the minimum interface for a blob storage system.
type Blobstore interface {
	// CreateObject creates or overwrites an object in the storage system.
	// It returns the backend's version identifier for the new object, when
	// the backend supports versioning.
	CreateObject(ctx context.Context, bucket, objectName string, contents []byte, contentType string) (string, error)

	// GetObject returns the contents of the object, or ErrNotFound.
	GetObject(ctx context.Context, bucket, objectName string) ([]byte, error)

	// DeleteObject deletes an object or does nothing if the object doesn't
	// exist.
	DeleteObject(ctx context.Context, bucket, objectName string) error

	// SignedURL returns a URL granting read access to the object until the
	// absolute expiry.
	SignedURL(ctx context.Context, bucket, objectName string, ttl time.Duration) (string, error)
}

// BlobstoreFor returns the blobstore for the given type, or an error if the
// type is unknown.
func BlobstoreFor(ctx context.Context, typ BlobstoreType) (Blobstore, error) {
	switch typ {
	case BlobstoreTypeGoogleCloudStorage:
		return NewGoogleCloudStorage(ctx)
	case BlobstoreTypeAWSS3:
		return NewAWSS3(ctx)
	case BlobstoreTypeFilesystem:
		return NewFilesystemStorage(ctx)
	case BlobstoreTypeMemory:
		return NewMemory(ctx)
	case BlobstoreTypeNoop:
		return NewNoop(ctx)
	default:
		return nil, fmt.Errorf("unknown blobstore type: %v", typ)
	}
}
