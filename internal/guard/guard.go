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

// Package guard blocks writes and deletes against the paths the system
// itself runs on. Staging a protected path always fails; committing one
// requires an explicit override flag plus the exact confirmation phrase.
// The two checks sit at different trust boundaries and are deliberately
// independent.
package guard

import (
	"fmt"
	"sort"
	"strings"

	"stagecraft/internal/common"
)

// OverridePhrase must be supplied verbatim to commit a protected path.
const OverridePhrase = "OVERRIDE PROTECTED PATHS"

// protectedPaths is the fixed control-plane denylist: the entry worker
// script, its configuration, and the admin shell's own files.
var protectedPaths = map[string]struct{}{
	"worker.js":        {},
	"wrangler.toml":    {},
	"admin/index.html": {},
	"admin/admin.js":   {},
	"admin/admin.css":  {},
}

// IsProtected reports whether the normalized path is on the denylist.
func IsProtected(path string) bool {
	_, ok := protectedPaths[common.NormalizePath(path)]
	return ok
}

// Protected returns the denylist, sorted, for diagnostics.
func Protected() []string {
	out := make([]string, 0, len(protectedPaths))
	for p := range protectedPaths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CheckStage rejects stage-time writes and deletes of protected paths.
func CheckStage(path string) error {
	if IsProtected(path) {
		return fmt.Errorf("%w: %s", common.ErrProtectedPath, common.NormalizePath(path))
	}
	return nil
}

// CheckCommit rejects a commit whose staged set touches protected paths,
// unless the caller passed both the override flag and the exact phrase.
// The returned error lists every offending path.
func CheckCommit(paths []string, override bool, phrase string) error {
	var offending []string
	for _, p := range paths {
		if IsProtected(p) {
			offending = append(offending, common.NormalizePath(p))
		}
	}
	if len(offending) == 0 {
		return nil
	}
	sort.Strings(offending)
	if override && phrase == OverridePhrase {
		return nil
	}
	return fmt.Errorf("%w: %s", common.ErrProtectedPathBlocked, strings.Join(offending, ", "))
}
