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
	"path"
	"strconv"
	"sync"
	"time"
)

// Compile-time check to verify implements interface.
var _ Blobstore = (*Memory)(nil)

// Memory implements Blobstore in process memory. It is intended for tests.
type Memory struct {
	lock     sync.Mutex
	data     map[string][]byte
	versions map[string]int64
}

// NewMemory creates a Blobstore that writes data in memory.
func NewMemory(_ context.Context) (Blobstore, error) {
	return &Memory{
		data:     make(map[string][]byte),
		versions: make(map[string]int64),
	}, nil
}

// CreateObject creates a new object.
func (s *Memory) CreateObject(_ context.Context, bucket, objectName string, contents []byte, _ string) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	pth := path.Join(bucket, objectName)
	cp := make([]byte, len(contents))
	copy(cp, contents)
	s.data[pth] = cp
	s.versions[pth]++
	return strconv.FormatInt(s.versions[pth], 10), nil
}

// GetObject returns the contents for the given object. If the object does not
// exist, it returns ErrNotFound.
func (s *Memory) GetObject(_ context.Context, bucket, objectName string) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	pth := path.Join(bucket, objectName)
	v, ok := s.data[pth]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// DeleteObject deletes an object. It returns nil if the object was deleted or
// if the object no longer exists.
func (s *Memory) DeleteObject(_ context.Context, bucket, objectName string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	pth := path.Join(bucket, objectName)
	delete(s.data, pth)
	delete(s.versions, pth)
	return nil
}

// SignedURL returns a synthetic URL carrying the absolute expiry.
func (s *Memory) SignedURL(_ context.Context, bucket, objectName string, ttl time.Duration) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	pth := path.Join(bucket, objectName)
	if _, ok := s.data[pth]; !ok {
		return "", ErrNotFound
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s/%s?expires=%d", bucket, objectName, expires), nil
}
