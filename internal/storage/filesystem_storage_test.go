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
	"testing"
	"time"
)

func TestFilesystemStorageLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := NewFilesystemStorageAt(t.TempDir())

	contents := []byte("contents")
	version, err := fs.CreateObject(ctx, "bucket", "raw/batch/file.json", contents, "application/json")
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if version == "" {
		t.Errorf("expected a version")
	}

	got, err := fs.GetObject(ctx, "bucket", "raw/batch/file.json")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(got) != string(contents) {
		t.Errorf("wrong contents: %q", got)
	}

	if _, err := fs.SignedURL(ctx, "bucket", "raw/batch/file.json", time.Minute); err != nil {
		t.Errorf("SignedURL: %v", err)
	}

	if err := fs.DeleteObject(ctx, "bucket", "raw/batch/file.json"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, err := fs.GetObject(ctx, "bucket", "raw/batch/file.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing object is not an error.
	if err := fs.DeleteObject(ctx, "bucket", "raw/batch/file.json"); err != nil {
		t.Errorf("DeleteObject on missing object: %v", err)
	}
}
