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

package routes

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"stagecraft/internal/resolve"
)

const noindexMeta = `<meta name="robots" content="noindex, nofollow">`

// watermarkHTML is the fixed preview banner. Injected only on the
// response path; stored overlay blobs are never modified.
const watermarkHTML = `<div style="position:fixed;bottom:0;left:0;right:0;z-index:99999;` +
	`background:rgba(180,30,30,0.85);color:#fff;text-align:center;` +
	`font:bold 14px/2.2 sans-serif;pointer-events:none;">PREVIEW &mdash; SHADOW STATE</div>`

// zoneHighlightCSS paints translucent outlines on elements matching the
// requested zone selectors.
const zoneHighlightCSS = `<style>%s{outline:3px dashed rgba(255,140,0,0.7);outline-offset:2px;}</style>`

// PreviewEntry pairs a route with its rendered preview URL.
type PreviewEntry struct {
	Route string `json:"route"`
	URL   string `json:"url"`
}

// Renderer renders watermarked preview pages out of resolved content.
type Renderer struct {
	resolver *resolve.Resolver
	baseURL  string
}

// NewRenderer builds a renderer. baseURL prefixes generated preview
// URLs, e.g. "http://127.0.0.1:8787".
func NewRenderer(resolver *resolve.Resolver, baseURL string) *Renderer {
	return &Renderer{resolver: resolver, baseURL: strings.TrimRight(baseURL, "/")}
}

// Render resolves the file behind route and returns the watermarked
// page. zones, when non-empty, are CSS selectors to highlight.
func (r *Renderer) Render(ctx context.Context, route string, zones []string) ([]byte, error) {
	path, err := RouteToFile(route)
	if err != nil {
		return nil, err
	}
	res, err := r.resolver.Resolve(ctx, path, resolve.Options{})
	if err != nil {
		return nil, err
	}
	return Watermark(res.Content, zones), nil
}

// Watermark injects the noindex meta tag, the preview banner, and any
// zone highlights into an HTML document. Content without a closing body
// tag gets the markup appended.
func Watermark(content []byte, zones []string) []byte {
	html := string(content)

	var injected strings.Builder
	injected.WriteString(noindexMeta)
	if len(zones) > 0 {
		injected.WriteString(fmt.Sprintf(zoneHighlightCSS, strings.Join(zones, ",")))
	}
	injected.WriteString(watermarkHTML)

	if i := lastBodyClose(html); i >= 0 {
		return []byte(html[:i] + injected.String() + html[i:])
	}
	return []byte(html + injected.String())
}

// lastBodyClose returns the byte offset of the last closing body tag,
// matched case-insensitively. The scan compares byte windows in place:
// Unicode case folding can change byte lengths (U+0130 lowers to two
// runes), so an offset found in a folded copy does not transfer back.
func lastBodyClose(html string) int {
	const tag = "</body>"
	for i := len(html) - len(tag); i >= 0; i-- {
		if strings.EqualFold(html[i:i+len(tag)], tag) {
			return i
		}
	}
	return -1
}

// BuildPreview maps the requested routes and files to preview entries,
// order preserved; file entries go through FileToRoute first. zones are
// carried on every URL as zone query parameters so the rendered page
// highlights them.
func (r *Renderer) BuildPreview(routes, files, zones []string) []PreviewEntry {
	entries := make([]PreviewEntry, 0, len(routes)+len(files))
	for _, route := range routes {
		entries = append(entries, r.entry(route, zones))
	}
	for _, file := range files {
		entries = append(entries, r.entry(FileToRoute(file), zones))
	}
	return entries
}

func (r *Renderer) entry(route string, zones []string) PreviewEntry {
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	u := r.baseURL + "/preview" + route
	if len(zones) > 0 {
		u += "?" + url.Values{"zone": zones}.Encode()
	}
	return PreviewEntry{
		Route: route,
		URL:   u,
	}
}
