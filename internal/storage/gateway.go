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
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opencensus.io/stats"
)

// ErrChecksumMismatch is returned when the recomputed checksums of an upload
// do not match the caller-supplied values.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ObjectRef locates a stored object.
type ObjectRef struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	VersionID string `json:"versionId,omitempty"`
}

// URI renders the reference as an opaque URI.
func (r ObjectRef) URI() string {
	return fmt.Sprintf("blob://%s/%s", r.Bucket, r.Key)
}

// IsZero reports whether the reference is unset.
func (r ObjectRef) IsZero() bool {
	return r.Bucket == "" && r.Key == ""
}

// ObjectMetadata carries the caller-declared properties of an upload. MD5 and
// SHA256 are hex encoded and verified against the actual contents.
type ObjectMetadata struct {
	ContentType string
	SizeBytes   int64
	MD5         string
	SHA256      string
}

// Gateway writes and reads batch artifacts through a Blobstore, enforcing
// checksum integrity and the key layout contract.
type Gateway struct {
	blobstore Blobstore
	bucket    string
	prefix    string
}

// NewGateway creates a gateway over the given blobstore.
func NewGateway(blobstore Blobstore, cfg *Config) *Gateway {
	return &Gateway{
		blobstore: blobstore,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
	}
}

// RawKey returns the object key for an inbound batch file.
func (g *Gateway) RawKey(batchID, fileName string) string {
	return g.withPrefix(path.Join("raw", batchID, fileName))
}

// DerivedKey returns the object key for a derived batch artifact.
func (g *Gateway) DerivedKey(batchID, artifact string) string {
	return g.withPrefix(path.Join("derived", batchID, artifact))
}

func (g *Gateway) withPrefix(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

// PutObject verifies the declared checksums against the contents and writes
// the object. Either checksum differing fails with ErrChecksumMismatch and
// nothing is written.
func (g *Gateway) PutObject(ctx context.Context, key string, contents []byte, meta ObjectMetadata) (ObjectRef, error) {
	if err := verifyChecksums(contents, meta); err != nil {
		stats.Record(ctx, mChecksumMismatch.M(1))
		return ObjectRef{}, err
	}

	version, err := g.blobstore.CreateObject(ctx, g.bucket, key, contents, meta.ContentType)
	if err != nil {
		stats.Record(ctx, mPutFailure.M(1))
		return ObjectRef{}, fmt.Errorf("putting object %q: %w", key, err)
	}

	stats.Record(ctx, mPutBytes.M(int64(len(contents))))
	return ObjectRef{Bucket: g.bucket, Key: key, VersionID: version}, nil
}

// GetObject reads the object back.
func (g *Gateway) GetObject(ctx context.Context, ref ObjectRef) ([]byte, error) {
	b, err := g.blobstore.GetObject(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return nil, fmt.Errorf("getting object %q: %w", ref.Key, err)
	}
	return b, nil
}

// PresignGet returns a read URL for the object with an absolute expiry.
func (g *Gateway) PresignGet(ctx context.Context, ref ObjectRef, ttl time.Duration) (string, error) {
	url, err := g.blobstore.SignedURL(ctx, ref.Bucket, ref.Key, ttl)
	if err != nil {
		return "", fmt.Errorf("presigning object %q: %w", ref.Key, err)
	}
	return url, nil
}

func verifyChecksums(contents []byte, meta ObjectMetadata) error {
	if meta.MD5 != "" {
		sum := md5.Sum(contents)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), meta.MD5) {
			return fmt.Errorf("md5 of uploaded content differs from declared value: %w", ErrChecksumMismatch)
		}
	}
	if meta.SHA256 != "" {
		sum := sha256.Sum256(contents)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), meta.SHA256) {
			return fmt.Errorf("sha256 of uploaded content differs from declared value: %w", ErrChecksumMismatch)
		}
	}
	return nil
}

// Checksums computes the hex MD5 and SHA-256 of contents. Callers uploading
// local artifacts use this to fill ObjectMetadata.
func Checksums(contents []byte) (md5hex, sha256hex string) {
	m := md5.Sum(contents)
	s := sha256.Sum256(contents)
	return hex.EncodeToString(m[:]), hex.EncodeToString(s[:])
}
