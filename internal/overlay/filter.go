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

import (
	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultExcludes are patterns dropped from remote listings before
// merging: repository internals and build outputs that the site never
// serves.
var DefaultExcludes = []string{
	".git/",
	"node_modules/",
	".DS_Store",
	"*.log",
}

// ExcludeFilter drops paths matching gitignore-style patterns from
// remote tree listings.
type ExcludeFilter struct {
	matcher *ignore.GitIgnore
}

// NewExcludeFilter compiles gitignore-style patterns. Nil or empty
// patterns produce a filter that excludes nothing.
func NewExcludeFilter(patterns []string) *ExcludeFilter {
	if len(patterns) == 0 {
		return &ExcludeFilter{}
	}
	gi := ignore.CompileIgnoreLines(patterns...)
	return &ExcludeFilter{matcher: gi}
}

// Excluded reports whether path matches an exclude pattern.
func (f *ExcludeFilter) Excluded(path string) bool {
	if f == nil || f.matcher == nil {
		return false
	}
	return f.matcher.MatchesPath(path)
}

// Apply returns the paths that survive the filter, preserving order.
func (f *ExcludeFilter) Apply(paths []string) []string {
	if f == nil || f.matcher == nil {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !f.Excluded(p) {
			out = append(out, p)
		}
	}
	return out
}
