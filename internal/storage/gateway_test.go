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
	"strings"
	"testing"
	"time"
)

func testGateway(t *testing.T) *Gateway {
	t.Helper()

	ctx := context.Background()
	bs, err := NewMemory(ctx)
	if err != nil {
		t.Fatalf("failed to create memory blobstore: %v", err)
	}
	return NewGateway(bs, &Config{Bucket: "test-bucket"})
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := testGateway(t)

	contents := []byte(`[{"exposure_id":"E1"}]`)
	md5hex, sha256hex := Checksums(contents)

	ref, err := g.PutObject(ctx, g.RawKey("batch-1", "exposures.json"), contents, ObjectMetadata{
		ContentType: "application/json",
		SizeBytes:   int64(len(contents)),
		MD5:         md5hex,
		SHA256:      sha256hex,
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if want := "raw/batch-1/exposures.json"; ref.Key != want {
		t.Errorf("wrong key, want %q got %q", want, ref.Key)
	}
	if ref.VersionID == "" {
		t.Errorf("expected a version id")
	}

	got, err := g.GetObject(ctx, ref)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(got) != string(contents) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestChecksumMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := testGateway(t)

	contents := []byte("data")
	_, sha256hex := Checksums([]byte("other data"))

	if _, err := g.PutObject(ctx, "raw/b/f", contents, ObjectMetadata{SHA256: sha256hex}); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	// Nothing should have been written.
	if _, err := g.GetObject(ctx, ObjectRef{Bucket: "test-bucket", Key: "raw/b/f"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPresignGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := testGateway(t)

	md5hex, sha256hex := Checksums([]byte("x"))
	ref, err := g.PutObject(ctx, g.DerivedKey("batch-1", "report.xlsx"), []byte("x"), ObjectMetadata{MD5: md5hex, SHA256: sha256hex})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	url, err := g.PresignGet(ctx, ref, 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.Contains(url, "expires=") {
		t.Errorf("presigned URL should carry an absolute expiry: %q", url)
	}
}

func TestKeyLayout(t *testing.T) {
	t.Parallel()

	g := NewGateway(nil, &Config{Bucket: "b", Prefix: "tenant-a"})
	if got, want := g.RawKey("batch-1", "file.json"), "tenant-a/raw/batch-1/file.json"; got != want {
		t.Errorf("RawKey = %q, want %q", got, want)
	}
	if got, want := g.DerivedKey("batch-1", "quality.json"), "tenant-a/derived/batch-1/quality.json"; got != want {
		t.Errorf("DerivedKey = %q, want %q", got, want)
	}
}
