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

// Package overlay implements the staged-edit layer: a per-path index of
// live edits and tombstones, content blobs, and an append-only audit
// trail, all kept in a key-value store. Staged state only ever leaves
// the overlay through Clear, which the commit engine calls after every
// remote write has succeeded.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"stagecraft/internal/common"
	"stagecraft/internal/guard"
	"stagecraft/internal/kv"
)

const (
	indexPrefix = "overlay:idx:"
	blobPrefix  = "overlay:blob:"
	auditPrefix = "overlay:audit:"
)

// IndexEntry describes one staged path. Deleted marks a tombstone: the
// path is staged for deletion and resolves as gone until committed.
type IndexEntry struct {
	Path      string    `json:"path"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updatedAt"`
	ByteSize  int       `json:"byteSize"`
}

// AuditEntry is one line of the overlay audit trail.
type AuditEntry struct {
	ID    string    `json:"id"`
	Op    string    `json:"op"`
	Path  string    `json:"path"`
	Bytes int       `json:"bytes"`
	At    time.Time `json:"at"`
}

// blobRecord is the stored form of a staged blob or tombstone.
type blobRecord struct {
	Deleted bool   `json:"deleted"`
	Content []byte `json:"content,omitempty"`
}

// Store is the overlay store. Last write wins per path; there is no
// optimistic concurrency between stagers.
type Store struct {
	kv kv.Store
}

// NewStore wraps a key-value store as an overlay store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Write stages content for path. The blob is written before the index
// entry so an interrupted write can leave a blob without an index entry,
// which is invisible garbage, but never an index entry whose blob is
// missing.
func (s *Store) Write(ctx context.Context, path string, content []byte) error {
	norm, err := common.NormalizeUserPath(path)
	if err != nil {
		return err
	}
	if err := guard.CheckStage(norm); err != nil {
		return err
	}

	if err := s.putBlob(ctx, norm, blobRecord{Content: content}); err != nil {
		return err
	}
	entry := IndexEntry{
		Path:      norm,
		UpdatedAt: time.Now().UTC(),
		ByteSize:  len(content),
	}
	if err := s.putIndex(ctx, entry); err != nil {
		return err
	}

	log.Debugf("[Overlay] Write: path=%s bytes=%d", norm, len(content))
	s.appendAudit(ctx, "write", norm, len(content))
	return nil
}

// Delete stages a tombstone for path. The index entry stays so the
// merge view and resolver can suppress the remote file.
func (s *Store) Delete(ctx context.Context, path string) error {
	norm, err := common.NormalizeUserPath(path)
	if err != nil {
		return err
	}
	if err := guard.CheckStage(norm); err != nil {
		return err
	}

	if err := s.putBlob(ctx, norm, blobRecord{Deleted: true}); err != nil {
		return err
	}
	entry := IndexEntry{
		Path:      norm,
		Deleted:   true,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.putIndex(ctx, entry); err != nil {
		return err
	}

	log.Debugf("[Overlay] Delete: path=%s (tombstone)", norm)
	s.appendAudit(ctx, "delete", norm, 0)
	return nil
}

// Unstage removes a staged edit or tombstone without touching the
// remote store. Unstaging an absent path is not an error.
func (s *Store) Unstage(ctx context.Context, path string) error {
	norm, err := common.NormalizeUserPath(path)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, indexPrefix+norm); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, blobPrefix+norm); err != nil {
		return err
	}
	s.appendAudit(ctx, "unstage", norm, 0)
	return nil
}

// Get returns the index entry and staged content for path. Tombstones
// return a true Deleted flag and nil content. Absent paths return
// common.ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (IndexEntry, []byte, error) {
	norm, err := common.NormalizeUserPath(path)
	if err != nil {
		return IndexEntry{}, nil, err
	}

	raw, err := s.kv.Get(ctx, indexPrefix+norm)
	if err != nil {
		return IndexEntry{}, nil, err
	}
	var entry IndexEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return IndexEntry{}, nil, fmt.Errorf("decode index entry %s: %w", norm, err)
	}
	if entry.Deleted {
		return entry, nil, nil
	}

	blobRaw, err := s.kv.Get(ctx, blobPrefix+norm)
	if err != nil {
		return IndexEntry{}, nil, fmt.Errorf("index entry %s has no blob: %w", norm, err)
	}
	var blob blobRecord
	if err := json.Unmarshal(blobRaw, &blob); err != nil {
		return IndexEntry{}, nil, fmt.Errorf("decode blob %s: %w", norm, err)
	}
	return entry, blob.Content, nil
}

// List returns the full overlay index keyed by path.
func (s *Store) List(ctx context.Context) (map[string]IndexEntry, error) {
	out := make(map[string]IndexEntry)
	err := s.kv.Scan(ctx, indexPrefix, func(key string, value []byte) error {
		var entry IndexEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("decode index entry %s: %w", key, err)
		}
		out[entry.Path] = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clear removes every index entry and blob. Only the commit engine
// calls it, and only after all remote writes have succeeded.
func (s *Store) Clear(ctx context.Context) error {
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	for path := range entries {
		if err := s.kv.Delete(ctx, indexPrefix+path); err != nil {
			return err
		}
		if err := s.kv.Delete(ctx, blobPrefix+path); err != nil {
			return err
		}
	}
	log.Debugf("[Overlay] Clear: dropped %d staged entries", len(entries))
	s.appendAudit(ctx, "clear", "", len(entries))
	return nil
}

// Audit returns up to limit audit entries, oldest first. limit <= 0
// returns everything.
func (s *Store) Audit(ctx context.Context, limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.kv.Scan(ctx, auditPrefix, func(key string, value []byte) error {
		var entry AuditEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("decode audit entry %s: %w", key, err)
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) putIndex(ctx context.Context, entry IndexEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode index entry %s: %w", entry.Path, err)
	}
	return s.kv.Put(ctx, indexPrefix+entry.Path, raw)
}

func (s *Store) putBlob(ctx context.Context, path string, blob blobRecord) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode blob %s: %w", path, err)
	}
	return s.kv.Put(ctx, blobPrefix+path, raw)
}

// appendAudit records an audit entry on a best-effort basis. A failed
// audit write never fails the staged operation itself.
func (s *Store) appendAudit(ctx context.Context, op, path string, bytes int) {
	entry := AuditEntry{
		ID:    uuid.New().String(),
		Op:    op,
		Path:  path,
		Bytes: bytes,
		At:    time.Now().UTC(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		log.Warnf("[Overlay] audit encode failed: %v", err)
		return
	}
	key := fmt.Sprintf("%s%020d:%s", auditPrefix, entry.At.UnixNano(), entry.ID)
	if err := s.kv.Put(ctx, key, raw); err != nil {
		log.Warnf("[Overlay] audit write failed: %v", err)
	}
}
