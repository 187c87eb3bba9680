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

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagecraft/internal/assets"
	"stagecraft/internal/dispatch"
	"stagecraft/internal/kv"
	"stagecraft/internal/ledger"
	"stagecraft/internal/overlay"
	"stagecraft/internal/publish"
	"stagecraft/internal/remote"
	"stagecraft/internal/resolve"
	"stagecraft/internal/routes"
	"stagecraft/internal/storage"
	"stagecraft/internal/token"
)

type fixture struct {
	server  *Server
	overlay *overlay.Store
	remote  *remote.MemoryClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ov := overlay.NewStore(kv.NewMemory())
	rc := remote.NewMemoryClient()
	rc.Seed(map[string]string{
		"index.html":   "<html><body>home</body></html>",
		"pricing.html": "<html><body>pricing</body></html>",
	})

	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	resolver := resolve.New(ov, rc, assets.DefaultBundle())
	renderer := routes.NewRenderer(resolver, "http://127.0.0.1:8787")
	engine := publish.NewEngine(ov, rc)
	auth := token.New([]byte("test-secret"), db)
	d := dispatch.New(ledger.New(db), auth, engine, dispatch.NopPlanner{}, ov, renderer, db)

	srv := New(ov, resolver, renderer, d, engine, overlay.NewExcludeFilter(overlay.DefaultExcludes))
	return &fixture{server: srv, overlay: ov, remote: rc}
}

func (f *fixture) request(t *testing.T, method, target string, body []byte, caller bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if caller {
		req.Header.Set(CallerHeader, "test-harness")
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func TestMergedFileListing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.remote.Seed(map[string]string{"node_modules/react/index.js": "x"})

	rec := f.request(t, http.MethodPut, "/api/staged/blog/post.html", []byte("<html></html>"), true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.request(t, http.MethodDelete, "/api/staged/pricing.html", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/files", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Files []string `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, []string{"blog/post.html", "index.html"}, listing.Files)
}

func TestStageWriteAndList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.request(t, http.MethodPut, "/api/staged/blog/post.html", []byte("<html><body>draft</body></html>"), true)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry overlay.IndexEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "blog/post.html", entry.Path)
	assert.False(t, entry.Deleted)

	rec = f.request(t, http.MethodGet, "/api/staged", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Staged []overlay.IndexEntry `json:"staged"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Staged, 1)
	assert.Equal(t, "blog/post.html", listing.Staged[0].Path)
}

func TestStageWriteRequiresCaller(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.request(t, http.MethodPut, "/api/staged/blog/post.html", []byte("x"), false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidPayload")

	index, err := f.overlay.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestStageWriteProtectedPath(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.request(t, http.MethodPut, "/api/staged/worker.js", []byte("x"), true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ProtectedPath")
}

func TestStageDeleteAndUnstage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.request(t, http.MethodDelete, "/api/staged/pricing.html", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry overlay.IndexEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.True(t, entry.Deleted)

	rec = f.request(t, http.MethodDelete, "/api/staged/pricing.html?unstage=true", nil, true)
	require.Equal(t, http.StatusNoContent, rec.Code)

	index, err := f.overlay.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestResolvePrefersStagedContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(t.Context(), "pricing.html", []byte("<html><body>staged</body></html>")))

	rec := f.request(t, http.MethodGet, "/api/resolve/pricing.html", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resolve.SourceOverlay, rec.Header().Get("X-Stagecraft-Source"))
	assert.Contains(t, rec.Body.String(), "staged")

	rec = f.request(t, http.MethodGet, "/api/resolve/index.html", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resolve.SourceRemote, rec.Header().Get("X-Stagecraft-Source"))
}

func TestResolveTombstoneIsGone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.overlay.Delete(t.Context(), "pricing.html"))

	rec := f.request(t, http.MethodGet, "/api/resolve/pricing.html", nil, false)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "Gone")
}

func TestPreviewPageIsWatermarked(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(t.Context(), "pricing.html", []byte("<html><body>new pricing</body></html>")))

	rec := f.request(t, http.MethodGet, "/preview/pricing", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "noindex", rec.Header().Get("X-Robots-Tag"))
	body := rec.Body.String()
	assert.Contains(t, body, "new pricing")
	assert.Contains(t, body, "PREVIEW")
	assert.Contains(t, body, "noindex")
}

func TestPreviewBuild(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	payload, err := json.Marshal(map[string]any{
		"routes": []string{"/pricing"},
		"files":  []string{"blog/post.html"},
	})
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/preview", payload, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Previews []routes.PreviewEntry `json:"previews"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Previews, 2)
	assert.Equal(t, "/pricing", resp.Previews[0].Route)
	assert.True(t, strings.HasPrefix(resp.Previews[0].URL, "http://127.0.0.1:8787/preview/"))
}

func TestCommitFlushesOverlay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(t.Context(), "blog/post.html", []byte("<html><body>post</body></html>")))

	payload, err := json.Marshal(publish.Request{Message: "publish blog post"})
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/commit", payload, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var result publish.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, publish.OutcomeFullyApplied, result.Outcome)

	content, err := f.remote.ReadFile(t.Context(), "blog/post.html")
	require.NoError(t, err)
	assert.Contains(t, string(content), "post")

	index, err := f.overlay.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestActionPreviewThenApply(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(t.Context(), "blog/post.html", []byte("<html><body>post</body></html>")))

	previewPayload, err := json.Marshal(dispatch.Payload{
		Action:         dispatch.ActionPreview,
		IdempotencyKey: "k-preview",
		Command:        "publish the blog post",
	})
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/actions", previewPayload, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var previewResp struct {
		Result struct {
			ConfirmToken string `json:"confirmToken"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &previewResp))
	require.NotEmpty(t, previewResp.Result.ConfirmToken)

	applyPayload, err := json.Marshal(dispatch.Payload{
		Action:         dispatch.ActionApply,
		IdempotencyKey: "k-preview",
		ConfirmToken:   previewResp.Result.ConfirmToken,
	})
	require.NoError(t, err)

	rec = f.request(t, http.MethodPost, "/api/actions", applyPayload, true)
	require.Equal(t, http.StatusOK, rec.Code)
	first := rec.Body.String()

	// Same payload again replays the recorded response verbatim.
	rec = f.request(t, http.MethodPost, "/api/actions", applyPayload, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Stagecraft-Replayed"))
	assert.Equal(t, first, rec.Body.String())
}

func TestActionInvalidPayload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	payload, err := json.Marshal(dispatch.Payload{Action: "apply"})
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/actions", payload, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidPayload")
}

func TestActionBadToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	payload, err := json.Marshal(dispatch.Payload{
		Action:         dispatch.ActionApply,
		IdempotencyKey: "k-bad",
		ConfirmToken:   "not.a-token",
	})
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/actions", payload, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidToken")
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(t.Context(), "about.html", []byte("<html></html>")))

	rec := f.request(t, http.MethodGet, "/api/status", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Staged []overlay.IndexEntry `json:"staged"`
		Audit  []overlay.AuditEntry `json:"audit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Staged, 1)
	require.Len(t, resp.Audit, 1)
	assert.Equal(t, "about.html", resp.Audit[0].Path)
}
