// Copyright 2025 Stagecraft Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"stagecraft/internal/common"
)

// MemoryClient is an in-process remote repository for tests and local
// runs. Object ids are content hashes, matching the real store's
// content-addressed behavior. An injectable failure hook lets tests
// simulate outages mid-commit.
type MemoryClient struct {
	mu    sync.RWMutex
	files map[string][]byte

	// FailWrites, when non-nil, is consulted before every mutating
	// operation; a non-nil return aborts the operation.
	FailWrites func(path string) error
}

// NewMemoryClient builds an empty in-memory remote store.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{files: make(map[string][]byte)}
}

// Seed inserts files without going through WriteFile.
func (c *MemoryClient) Seed(files map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, content := range files {
		c.files[path] = []byte(content)
	}
}

func (c *MemoryClient) ListTree(ctx context.Context) ([]TreeEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.files))
	for p := range c.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]TreeEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, TreeEntry{
			Path:     p,
			ObjectID: objectID(c.files[p]),
			IsFile:   true,
		})
	}
	return entries, nil
}

func objectID(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))[:12]
}

// checkObjectID enforces conditional writes. Callers hold c.mu.
func (c *MemoryClient) checkObjectID(path, knownObjectID string) error {
	if knownObjectID == "" {
		return nil
	}
	content, ok := c.files[path]
	if !ok || objectID(content) != knownObjectID {
		return fmt.Errorf("%w: %s", common.ErrRemoteConflict, path)
	}
	return nil
}

func (c *MemoryClient) ReadFile(ctx context.Context, path string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	content, ok := c.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (c *MemoryClient) WriteFile(ctx context.Context, path string, content []byte, message, knownObjectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailWrites != nil {
		if err := c.FailWrites(path); err != nil {
			return err
		}
	}
	if err := c.checkObjectID(path, knownObjectID); err != nil {
		return err
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	c.files[path] = stored
	return nil
}

func (c *MemoryClient) DeleteFile(ctx context.Context, path string, message, objectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailWrites != nil {
		if err := c.FailWrites(path); err != nil {
			return err
		}
	}
	if _, ok := c.files[path]; !ok {
		return fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}
	if err := c.checkObjectID(path, objectID); err != nil {
		return err
	}
	delete(c.files, path)
	return nil
}
