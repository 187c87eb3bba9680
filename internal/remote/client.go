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

// Package remote defines the contract with the version-controlled
// remote repository holding the committed site. The store offers only
// per-file operations; multi-file atomicity does not exist at this
// boundary and the commit engine reports exactly how far it got.
package remote

import "context"

// TreeEntry is one object in the remote tree listing.
type TreeEntry struct {
	Path     string `json:"path"`
	ObjectID string `json:"objectId"`
	IsFile   bool   `json:"isFile"`
}

// Client is the remote repository contract. Implementations map
// transport failures to common.ErrStoreUnavailable and missing objects
// to common.ErrNotFound.
type Client interface {
	// ListTree returns the current tree listing.
	ListTree(ctx context.Context) ([]TreeEntry, error)
	// ReadFile returns the committed content of path.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile creates or updates path with content. message is the
	// commit message attached to the change. A non-empty knownObjectID
	// makes the write conditional: if the remote object no longer
	// carries that id the operation fails with common.ErrRemoteConflict
	// instead of overwriting an out-of-band change.
	WriteFile(ctx context.Context, path string, content []byte, message, knownObjectID string) error
	// DeleteFile removes path, conditionally on objectID like WriteFile.
	// Deleting an absent path is an error (common.ErrNotFound); the
	// commit planner skips such deletes.
	DeleteFile(ctx context.Context, path string, message, objectID string) error
}

// FilePaths extracts sorted-as-listed file paths from a tree listing.
func FilePaths(entries []TreeEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsFile {
			out = append(out, e.Path)
		}
	}
	return out
}

// ObjectIDs returns a path-to-object-id map for the files in a listing.
func ObjectIDs(entries []TreeEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsFile {
			out[e.Path] = e.ObjectID
		}
	}
	return out
}
