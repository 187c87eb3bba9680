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

package overlay

import "sort"

// MergeFileSet computes the merged file listing: remote paths plus live
// overlay paths, minus tombstoned paths, sorted and deduplicated. It is
// a pure function of its inputs; callers pass a fresh remote listing on
// every call and nothing is cached.
func MergeFileSet(remoteFiles []string, index map[string]IndexEntry) []string {
	seen := make(map[string]struct{}, len(remoteFiles)+len(index))

	for _, p := range remoteFiles {
		if entry, ok := index[p]; ok && entry.Deleted {
			continue
		}
		seen[p] = struct{}{}
	}
	for p, entry := range index {
		if entry.Deleted {
			continue
		}
		seen[p] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
