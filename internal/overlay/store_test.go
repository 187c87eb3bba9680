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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagecraft/internal/common"
	"stagecraft/internal/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(kv.NewMemory())
}

func TestStoreWriteAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "index.html", []byte("<html>home</html>")))

	entry, content, err := s.Get(ctx, "index.html")
	require.NoError(t, err)
	assert.Equal(t, "index.html", entry.Path)
	assert.False(t, entry.Deleted)
	assert.Equal(t, len("<html>home</html>"), entry.ByteSize)
	assert.False(t, entry.UpdatedAt.IsZero())
	assert.Equal(t, []byte("<html>home</html>"), content)
}

func TestStoreLastWriteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "pricing.html", []byte("v1")))
	require.NoError(t, s.Write(ctx, "pricing.html", []byte("version two")))

	entry, content, err := s.Get(ctx, "pricing.html")
	require.NoError(t, err)
	assert.Equal(t, []byte("version two"), content)
	assert.Equal(t, len("version two"), entry.ByteSize)
}

func TestStoreDeleteStoresTombstone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "old.html", []byte("stale")))
	require.NoError(t, s.Delete(ctx, "old.html"))

	entry, content, err := s.Get(ctx, "old.html")
	require.NoError(t, err)
	assert.True(t, entry.Deleted)
	assert.Zero(t, entry.ByteSize)
	assert.Nil(t, content)

	// The tombstone stays in the index so the merge view can suppress
	// the remote file.
	index, err := s.List(ctx)
	require.NoError(t, err)
	require.Contains(t, index, "old.html")
	assert.True(t, index["old.html"].Deleted)
}

func TestStoreDeleteWithoutPriorWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	// Tombstoning a path that only exists remotely is a normal staging
	// operation.
	require.NoError(t, s.Delete(ctx, "legacy/old.html"))

	entry, _, err := s.Get(ctx, "legacy/old.html")
	require.NoError(t, err)
	assert.True(t, entry.Deleted)
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	_, _, err := s.Get(ctx, "absent.html")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStoreRejectsProtectedPaths(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	for _, path := range []string{"worker.js", "wrangler.toml", "admin/index.html"} {
		assert.ErrorIs(t, s.Write(ctx, path, []byte("x")), common.ErrProtectedPath, path)
		assert.ErrorIs(t, s.Delete(ctx, path), common.ErrProtectedPath, path)
	}

	// Nothing protected may have landed in the index.
	index, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestStoreRejectsInvalidPaths(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	for _, path := range []string{"", "../etc/passwd", "a b.html"} {
		assert.ErrorIs(t, s.Write(ctx, path, []byte("x")), common.ErrInvalidPath, path)
	}
}

func TestStoreNormalizesPaths(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "/blog//post.html", []byte("p")))

	entry, _, err := s.Get(ctx, "blog/post.html")
	require.NoError(t, err)
	assert.Equal(t, "blog/post.html", entry.Path)
}

func TestStoreUnstage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "draft.html", []byte("d")))
	require.NoError(t, s.Unstage(ctx, "draft.html"))

	_, _, err := s.Get(ctx, "draft.html")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Unstaging twice is fine.
	require.NoError(t, s.Unstage(ctx, "draft.html"))
}

func TestStoreClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "a.html", []byte("a")))
	require.NoError(t, s.Write(ctx, "b.html", []byte("b")))
	require.NoError(t, s.Delete(ctx, "c.html"))

	require.NoError(t, s.Clear(ctx))

	index, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, index)

	_, _, err = s.Get(ctx, "a.html")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStoreAuditTrail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "a.html", []byte("a")))
	require.NoError(t, s.Delete(ctx, "b.html"))
	require.NoError(t, s.Unstage(ctx, "a.html"))

	entries, err := s.Audit(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "write", entries[0].Op)
	assert.Equal(t, "a.html", entries[0].Path)
	assert.Equal(t, "delete", entries[1].Op)
	assert.Equal(t, "unstage", entries[2].Op)

	limited, err := s.Audit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "delete", limited[0].Op)
}
