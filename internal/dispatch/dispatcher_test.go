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

package dispatch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	dispatcher *Dispatcher
	overlay    *overlay.Store
	remote     *remote.MemoryClient
	tokens     *token.Authority
	db         *storage.LedgerDB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ov := overlay.NewStore(kv.NewMemory())
	rc := remote.NewMemoryClient()
	tokens := token.New([]byte("test-secret"), db)
	renderer := routes.NewRenderer(resolve.New(ov, rc, nil), "http://127.0.0.1:8787")

	d := New(ledger.New(db), tokens, publish.NewEngine(ov, rc), NopPlanner{}, ov, renderer, db)
	return &fixture{dispatcher: d, overlay: ov, remote: rc, tokens: tokens, db: db}
}

func decodeResponse(t *testing.T, body []byte) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestDispatchRejectsInvalidPayloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name string
		p    Payload
	}{
		{"missing action", Payload{IdempotencyKey: "k"}},
		{"unknown action", Payload{Action: "explode", IdempotencyKey: "k"}},
		{"missing key", Payload{Action: ActionStatus}},
		{"plan without command", Payload{Action: ActionPlan, IdempotencyKey: "k"}},
		{"preview without command", Payload{Action: ActionPreview, IdempotencyKey: "k"}},
		{"apply without token", Payload{Action: ActionApply, IdempotencyKey: "k"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.dispatcher.Dispatch(ctx, tc.p)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestDispatchStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(ctx, "a.html", []byte("a")))

	out, err := f.dispatcher.Dispatch(ctx, Payload{Action: ActionStatus, IdempotencyKey: "status-1"})
	require.NoError(t, err)
	assert.Equal(t, 200, out.Status)
	assert.False(t, out.Replayed)

	resp := decodeResponse(t, out.Body)
	assert.Equal(t, "success", resp.EventType)

	var result statusResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Staged, 1)
	assert.Equal(t, "a.html", result.Staged[0].Path)
}

func TestDispatchPreviewMintsExecuteToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(ctx, "pricing.html", []byte("<body>p</body>")))

	out, err := f.dispatcher.Dispatch(ctx, Payload{
		Action:         ActionPreview,
		IdempotencyKey: "k1",
		Command:        "update the pricing page",
	})
	require.NoError(t, err)
	require.Equal(t, 200, out.Status)

	resp := decodeResponse(t, out.Body)
	var result previewResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.NotEmpty(t, result.ConfirmToken)
	require.Len(t, result.Previews, 1)
	assert.Equal(t, "/pricing", result.Previews[0].Route)

	// The minted token authorizes a mutating action on the same key.
	require.NoError(t, f.tokens.VerifyAndConsume(ctx, result.ConfirmToken, ActionApply, "k1"))
}

func TestPreviewApplyHandoffWithReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(ctx, "pricing.html", []byte("new")))

	// preview mints the token
	out, err := f.dispatcher.Dispatch(ctx, Payload{
		Action: ActionPreview, IdempotencyKey: "k1", Command: "change pricing",
	})
	require.NoError(t, err)
	var previewR previewResult
	require.NoError(t, json.Unmarshal(decodeResponse(t, out.Body).Result, &previewR))

	// apply succeeds once
	applyPayload := Payload{
		Action:         ActionApply,
		IdempotencyKey: "k1",
		ConfirmToken:   previewR.ConfirmToken,
		Message:        "apply pricing",
	}
	first, err := f.dispatcher.Dispatch(ctx, applyPayload)
	require.NoError(t, err)
	assert.Equal(t, 200, first.Status)
	assert.False(t, first.Replayed)

	content, err := f.remote.ReadFile(ctx, "pricing.html")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), content)

	// the identical request replays the cached success without
	// consuming anything again
	second, err := f.dispatcher.Dispatch(ctx, applyPayload)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Body, second.Body)

	// the same token under a fresh key is already spent
	reuse, err := f.dispatcher.Dispatch(ctx, Payload{
		Action:         ActionApply,
		IdempotencyKey: "k2",
		ConfirmToken:   previewR.ConfirmToken,
	})
	require.NoError(t, err)
	assert.Equal(t, 409, reuse.Status)
	resp := decodeResponse(t, reuse.Body)
	assert.Equal(t, "error", resp.EventType)
	assert.Equal(t, "TokenMismatch", resp.Error.Kind)
}

func TestApplyWithBadTokenRecordsError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.dispatcher.Dispatch(ctx, Payload{
		Action:         ActionApply,
		IdempotencyKey: "bad-1",
		ConfirmToken:   "garbage",
	})
	require.NoError(t, err)
	assert.Equal(t, 401, out.Status)

	resp := decodeResponse(t, out.Body)
	assert.Equal(t, "error", resp.EventType)
	assert.Equal(t, "InvalidToken", resp.Error.Kind)

	// The error outcome is replay-safe: the same key returns the same
	// bytes instead of re-attempting.
	replay, err := f.dispatcher.Dispatch(ctx, Payload{
		Action:         ActionApply,
		IdempotencyKey: "bad-1",
		ConfirmToken:   "garbage",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, out.Body, replay.Body)
}

func TestReplayDoesNotAppendEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	p := Payload{Action: ActionStatus, IdempotencyKey: "s1"}
	_, err := f.dispatcher.Dispatch(ctx, p)
	require.NoError(t, err)
	_, err = f.dispatcher.Dispatch(ctx, p)
	require.NoError(t, err)

	events, err := f.db.ListRecentActionEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDispatchPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.remote.Seed(map[string]string{"index.html": "old"})
	require.NoError(t, f.overlay.Write(ctx, "index.html", []byte("new")))

	out, err := f.dispatcher.Dispatch(ctx, Payload{
		Action: ActionPlan, IdempotencyKey: "p1", Command: "refresh the home page",
	})
	require.NoError(t, err)

	var result planResult
	require.NoError(t, json.Unmarshal(decodeResponse(t, out.Body).Result, &result))
	require.Len(t, result.Commit, 1)

	entries, err := f.remote.ListTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, publish.PlanStep{Path: "index.html", Op: publish.OpUpdate, ObjectID: entries[0].ObjectID}, result.Commit[0])
}

func TestRollbackConsumesTokenWithoutCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.overlay.Write(ctx, "a.html", []byte("a")))

	tok, _, err := f.tokens.Mint(ctx, token.ActionExecute, "r1", "trace")
	require.NoError(t, err)

	out, err := f.dispatcher.Dispatch(ctx, Payload{
		Action: ActionRollback, IdempotencyKey: "r1", ConfirmToken: tok,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, out.Status)

	// Rollback does not flush the overlay.
	index, err := f.overlay.List(ctx)
	require.NoError(t, err)
	assert.Len(t, index, 1)
}
