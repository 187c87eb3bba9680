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

// Package routes maps preview routes to files and back. The mapping is
// lossy and many-to-one on purpose: several files can collapse onto the
// same route, and mapping a route to a file and back does not always
// return the starting point.
package routes

import (
	"strings"

	"stagecraft/internal/common"
)

// knownDirs are top-level content sections that map to their own route.
var knownDirs = map[string]struct{}{
	"store":   {},
	"pricing": {},
	"blog":    {},
	"docs":    {},
	"about":   {},
	"contact": {},
}

// assetDirs hold supporting files that never have a route of their own.
var assetDirs = map[string]struct{}{
	"css":        {},
	"js":         {},
	"images":     {},
	"assets":     {},
	"static":     {},
	"src":        {},
	"components": {},
}

// RouteToFile maps a preview route to the file that serves it.
func RouteToFile(route string) (string, error) {
	r := route
	if i := strings.IndexAny(r, "?#"); i >= 0 {
		r = r[:i]
	}
	r = strings.TrimPrefix(r, "/preview")
	r = strings.Trim(r, "/")

	if r == "" || r == "index" {
		return "index.html", nil
	}

	if strings.HasSuffix(r, ".html") {
		return common.NormalizeUserPath(r)
	}
	return common.NormalizeUserPath(r + ".html")
}

// FileToRoute maps a file path to the route it affects. Lossy: asset
// files and unknown paths collapse to "/".
func FileToRoute(path string) string {
	norm, err := common.NormalizeUserPath(path)
	if err != nil {
		return "/"
	}

	if norm == "index.html" {
		return "/"
	}
	if strings.HasPrefix(norm, "admin/") || norm == "admin" {
		return "/admin"
	}

	if strings.HasSuffix(norm, ".html") {
		return "/" + strings.TrimSuffix(norm, ".html")
	}

	top := norm
	if i := strings.Index(norm, "/"); i >= 0 {
		top = norm[:i]
	}
	if _, ok := knownDirs[top]; ok {
		return "/" + top
	}
	if _, ok := assetDirs[top]; ok {
		return "/"
	}
	return "/"
}
