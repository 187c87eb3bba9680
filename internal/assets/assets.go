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

// Package assets serves the static fallback bundle, the last rung of
// the resolver chain. The bundle is read-only; resolutions from it are
// labelled so callers can tell fallback content from committed content.
package assets

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	billyutil "github.com/go-git/go-billy/v5/util"

	"stagecraft/internal/artifacts"
	"stagecraft/internal/common"
)

// Bundle is a read-only set of fallback assets.
type Bundle struct {
	fs billy.Filesystem
}

// NewDirBundle serves fallback assets from a directory on disk.
func NewDirBundle(dir string) *Bundle {
	return &Bundle{fs: osfs.New(dir)}
}

// NewMemoryBundle builds a bundle from an in-memory file map.
func NewMemoryBundle(files map[string][]byte) (*Bundle, error) {
	fs := memfs.New()
	for path, content := range files {
		if err := billyutil.WriteFile(fs, path, content, 0o644); err != nil {
			return nil, fmt.Errorf("populate bundle %s: %w", path, err)
		}
	}
	return &Bundle{fs: fs}, nil
}

// DefaultBundle returns the embedded fallback pages: a placeholder
// index and a 404 page.
func DefaultBundle() *Bundle {
	b, err := NewMemoryBundle(map[string][]byte{
		"index.html": artifacts.FallbackIndex,
		"404.html":   artifacts.FallbackNotFound,
	})
	if err != nil {
		// memfs writes cannot fail on embedded content
		panic(err)
	}
	return b
}

// Read returns the asset at path, or common.ErrNotFound.
func (b *Bundle) Read(path string) ([]byte, error) {
	norm, err := common.NormalizeUserPath(path)
	if err != nil {
		return nil, err
	}
	content, err := billyutil.ReadFile(b.fs, norm)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, norm)
		}
		return nil, fmt.Errorf("read asset %s: %w", norm, err)
	}
	return content, nil
}
