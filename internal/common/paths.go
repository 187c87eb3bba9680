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

package common

import (
	"fmt"
	"path"
	"strings"
)

// MaxPathLen bounds user-supplied paths; remote repositories reject longer ones anyway.
const MaxPathLen = 512

// NormalizePath cleans a repository-relative path, removing leading/trailing slashes.
func NormalizePath(p string) string {
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// NormalizeUserPath validates and canonicalizes a user-supplied path.
// Rejects traversal, absolute escapes, and characters outside [A-Za-z0-9._/-].
// Every component that accepts a path from outside the process goes through here.
func NormalizeUserPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if len(p) > MaxPathLen {
		return "", fmt.Errorf("%w: path exceeds %d bytes", ErrInvalidPath, MaxPathLen)
	}
	for _, r := range p {
		if !isPathRune(r) {
			return "", fmt.Errorf("%w: disallowed character %q in %q", ErrInvalidPath, r, p)
		}
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: traversal in %q", ErrInvalidPath, p)
		}
	}
	norm := NormalizePath(p)
	if norm == "" {
		return "", fmt.Errorf("%w: path resolves to root", ErrInvalidPath)
	}
	return norm, nil
}

func isPathRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '/' || r == '-':
		return true
	}
	return false
}

// SplitPath splits a normalized path into its components.
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// ParentPath returns the parent directory of a path, "" at the root.
func ParentPath(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// BaseName returns the final component of a path.
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// TopDir returns the first path component, "" for bare filenames.
func TopDir(p string) string {
	parts := SplitPath(p)
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}
