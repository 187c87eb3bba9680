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

// Package integration exercises the full staging pipeline end to end:
// overlay staging, preview rendering, the action dispatcher with its
// idempotency ledger and confirmation tokens, and the commit engine
// against an in-memory remote repository. Each test gets an isolated
// environment with its own ledger database.
package integration

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"

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

// Env is an isolated pipeline environment backed by an in-memory
// overlay and remote, and a real ledger database in a temp dir.
type Env struct {
	t          *testing.T
	Overlay    *overlay.Store
	Remote     *remote.MemoryClient
	Resolver   *resolve.Resolver
	Renderer   *routes.Renderer
	Engine     *publish.Engine
	Dispatcher *dispatch.Dispatcher
	DB         *storage.LedgerDB
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	ov := overlay.NewStore(kv.NewMemory())
	rc := remote.NewMemoryClient()
	rc.Seed(map[string]string{
		"index.html":      "<html><body>home</body></html>",
		"pricing.html":    "<html><body>old pricing</body></html>",
		"blog/hello.html": "<html><body>hello</body></html>",
	})

	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to open ledger database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	resolver := resolve.New(ov, rc, assets.DefaultBundle())
	renderer := routes.NewRenderer(resolver, "http://127.0.0.1:8787")
	engine := publish.NewEngine(ov, rc)
	auth := token.New([]byte("integration-secret"), db)

	return &Env{
		t:          t,
		Overlay:    ov,
		Remote:     rc,
		Resolver:   resolver,
		Renderer:   renderer,
		Engine:     engine,
		Dispatcher: dispatch.New(ledger.New(db), auth, engine, dispatch.NopPlanner{}, ov, renderer, db),
		DB:         db,
	}
}

// Stage writes content into the overlay and fails the test on error.
func (e *Env) Stage(path, content string) {
	e.t.Helper()
	if err := e.Overlay.Write(context.Background(), path, []byte(content)); err != nil {
		e.t.Fatalf("Failed to stage %s: %v", path, err)
	}
}

// StageDelete records a tombstone and fails the test on error.
func (e *Env) StageDelete(path string) {
	e.t.Helper()
	if err := e.Overlay.Delete(context.Background(), path); err != nil {
		e.t.Fatalf("Failed to stage deletion of %s: %v", path, err)
	}
}

// Dispatch runs a payload through the dispatcher and fails the test on
// a dispatch-level error (invalid payloads, ledger failures).
func (e *Env) Dispatch(p dispatch.Payload) dispatch.Outcome {
	e.t.Helper()
	outcome, err := e.Dispatcher.Dispatch(context.Background(), p)
	if err != nil {
		e.t.Fatalf("Dispatch %s/%s failed: %v", p.Action, p.IdempotencyKey, err)
	}
	return outcome
}

// previewResult is the subset of the preview response the tests read.
type previewResult struct {
	Previews     []routes.PreviewEntry `json:"previews"`
	ConfirmToken string                `json:"confirmToken"`
}

// Preview dispatches a preview action and returns the parsed result.
func (e *Env) Preview(key, command string) previewResult {
	e.t.Helper()
	g := NewWithT(e.t)

	outcome := e.Dispatch(dispatch.Payload{
		Action:         dispatch.ActionPreview,
		IdempotencyKey: key,
		Command:        command,
	})
	g.Expect(outcome.Status).To(Equal(200))

	var resp struct {
		Result previewResult `json:"result"`
	}
	g.Expect(json.Unmarshal(outcome.Body, &resp)).To(Succeed())
	g.Expect(resp.Result.ConfirmToken).NotTo(BeEmpty())
	return resp.Result
}

// RemoteContent reads a remote file, failing the test if absent.
func (e *Env) RemoteContent(path string) string {
	e.t.Helper()
	content, err := e.Remote.ReadFile(context.Background(), path)
	if err != nil {
		e.t.Fatalf("Failed to read remote %s: %v", path, err)
	}
	return string(content)
}

// StagedPaths returns the overlay index keys.
func (e *Env) StagedPaths() []string {
	e.t.Helper()
	index, err := e.Overlay.List(context.Background())
	if err != nil {
		e.t.Fatalf("Failed to list overlay: %v", err)
	}
	paths := make([]string, 0, len(index))
	for path := range index {
		paths = append(paths, path)
	}
	return paths
}
