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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Compile-time check to verify implements interface.
var _ Blobstore = (*FilesystemStorage)(nil)

// FilesystemStorage implements Blobstore using the local filesystem. The
// bucket is a directory under the root; the object name is a relative path.
type FilesystemStorage struct {
	root string
}

// NewFilesystemStorage creates a Blobstore backed by the directory named in
// STORAGE_FILESYSTEM_ROOT (default: the process working directory).
func NewFilesystemStorage(_ context.Context) (Blobstore, error) {
	root := os.Getenv("STORAGE_FILESYSTEM_ROOT")
	if root == "" {
		root = "."
	}
	return &FilesystemStorage{root: root}, nil
}

// NewFilesystemStorageAt creates a Blobstore rooted at the given directory.
func NewFilesystemStorageAt(root string) *FilesystemStorage {
	return &FilesystemStorage{root: root}
}

func (s *FilesystemStorage) path(bucket, objectName string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(objectName))
}

// CreateObject creates a new object on disk or overwrites an existing one.
func (s *FilesystemStorage) CreateObject(_ context.Context, bucket, objectName string, contents []byte, _ string) (string, error) {
	pth := s.path(bucket, objectName)
	if err := os.MkdirAll(filepath.Dir(pth), 0o755); err != nil {
		return "", fmt.Errorf("storage.CreateObject: %w", err)
	}
	if err := os.WriteFile(pth, contents, 0o644); err != nil {
		return "", fmt.Errorf("storage.CreateObject: %w", err)
	}

	info, err := os.Stat(pth)
	if err != nil {
		return "", fmt.Errorf("storage.CreateObject: %w", err)
	}
	return strconv.FormatInt(info.ModTime().UnixNano(), 10), nil
}

// GetObject returns the contents of the object, or ErrNotFound.
func (s *FilesystemStorage) GetObject(_ context.Context, bucket, objectName string) ([]byte, error) {
	b, err := os.ReadFile(s.path(bucket, objectName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage.GetObject: %w", err)
	}
	return b, nil
}

// DeleteObject deletes the object, returning nil if the object was deleted
// or if it doesn't exist.
func (s *FilesystemStorage) DeleteObject(_ context.Context, bucket, objectName string) error {
	if err := os.Remove(s.path(bucket, objectName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage.DeleteObject: %w", err)
	}
	return nil
}

// SignedURL returns a file URL carrying the absolute expiry. Local files are
// not access controlled; the expiry is advisory and kept for contract parity
// with the cloud backends.
func (s *FilesystemStorage) SignedURL(_ context.Context, bucket, objectName string, ttl time.Duration) (string, error) {
	pth := s.path(bucket, objectName)
	if _, err := os.Stat(pth); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage.SignedURL: %w", err)
	}
	abs, err := filepath.Abs(pth)
	if err != nil {
		return "", fmt.Errorf("storage.SignedURL: %w", err)
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("file://%s?expires=%d", filepath.ToSlash(abs), expires), nil
}
