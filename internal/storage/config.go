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

// BlobstoreType defines a specific blobstore backend.
type BlobstoreType string

const (
	BlobstoreTypeAWSS3              BlobstoreType = "AWS_S3"
	BlobstoreTypeGoogleCloudStorage BlobstoreType = "GOOGLE_CLOUD_STORAGE"
	BlobstoreTypeFilesystem         BlobstoreType = "FILESYSTEM"
	BlobstoreTypeMemory             BlobstoreType = "MEMORY"
	BlobstoreTypeNoop               BlobstoreType = "NOOP"
)

// Config defines the configuration for the blobstore and gateway. The
// FILESYSTEM type gives a local store with a contract identical to the cloud
// backends.
type Config struct {
	BlobstoreType BlobstoreType `env:"BLOBSTORE, default=FILESYSTEM"`
	Bucket        string        `env:"STORAGE_BUCKET, default=exposure-reporting"`
	Prefix        string        `env:"STORAGE_PREFIX"`
	Encryption    string        `env:"STORAGE_ENCRYPTION, default=AES256"`
}

// BlobstoreConfig satisfies the setup.BlobstoreConfigProvider marker.
func (c *Config) BlobstoreConfig() *Config {
	return c
}
