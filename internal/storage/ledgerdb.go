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

// Package storage is the relational layer under the idempotency ledger
// and the token authority. All mutual exclusion in the system reduces
// to two primitives here: the write-once idempotency insert and the
// compare-and-set token consume.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"stagecraft/internal/common"
	"stagecraft/internal/util"
)

// LedgerDB wraps a Bun database instance for type-safe queries against
// the ledger tables.
type LedgerDB struct {
	*bun.DB
	sqlDB *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*LedgerDB, error) {
	sqlDB, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := execStatements(sqlDB, ledgerSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	if err := execStatements(sqlDB, initSchemaInfo, SchemaVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init schema info: %w", err)
	}

	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &LedgerDB{DB: bunDB, sqlDB: sqlDB}, nil
}

// Close closes the underlying database.
func (db *LedgerDB) Close() error {
	return db.DB.Close()
}

// --- Idempotency Operations ---

// GetIdempotencyRecord retrieves a record, or common.ErrNotFound.
func (db *LedgerDB) GetIdempotencyRecord(ctx context.Context, action, idemKey string) (*IdempotencyModel, error) {
	var record IdempotencyModel
	err := db.NewSelect().
		Model(&record).
		Where("action = ?", action).
		Where("idem_key = ?", idemKey).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// InsertIdempotencyRecord inserts a record once. The insert is a no-op
// when the (action, idem_key) pair already exists, so a racing second
// writer observes the first writer's outcome. Returns the stored record.
// Uses retry logic to handle transient "database is locked" errors when
// the server and CLI both have the ledger open.
func (db *LedgerDB) InsertIdempotencyRecord(ctx context.Context, action, idemKey string, status int, payload []byte) (*IdempotencyModel, error) {
	return util.RetryWithResult(ctx,
		func() (*IdempotencyModel, error) {
			return db.insertIdempotencyInternal(ctx, action, idemKey, status, payload)
		},
		util.DatabaseRetryOptions(ctx)...)
}

func (db *LedgerDB) insertIdempotencyInternal(ctx context.Context, action, idemKey string, status int, payload []byte) (*IdempotencyModel, error) {
	model := &IdempotencyModel{
		Action:          action,
		IdemKey:         idemKey,
		Status:          status,
		ResponsePayload: payload,
		CreatedAt:       time.Now().Unix(),
	}
	_, err := db.NewInsert().
		Model(model).
		On("CONFLICT (action, idem_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	// Re-read: a concurrent writer may have won the insert.
	return db.GetIdempotencyRecord(ctx, action, idemKey)
}

// --- Confirm Token Operations ---

// InsertConfirmToken persists a minted token's hash and binding.
func (db *LedgerDB) InsertConfirmToken(ctx context.Context, token *ConfirmTokenModel) error {
	if token.CreatedAt == 0 {
		token.CreatedAt = time.Now().Unix()
	}
	_, err := db.NewInsert().Model(token).Exec(ctx)
	return err
}

// GetConfirmToken retrieves a token record by hash, or common.ErrNotFound.
func (db *LedgerDB) GetConfirmToken(ctx context.Context, tokenHash string) (*ConfirmTokenModel, error) {
	var token ConfirmTokenModel
	err := db.NewSelect().
		Model(&token).
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// ConsumeConfirmToken atomically marks a token used. The guarded update
// is the single-use guarantee: exactly one caller's update matches the
// used_at = 0 predicate. Returns common.ErrTokenAlreadyUsed when another
// caller consumed the token first.
func (db *LedgerDB) ConsumeConfirmToken(ctx context.Context, tokenHash string) error {
	return util.Retry(ctx, func() error {
		result, err := db.NewUpdate().
			Model((*ConfirmTokenModel)(nil)).
			Set("used_at = ?", time.Now().Unix()).
			Where("token_hash = ?", tokenHash).
			Where("used_at = 0").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return common.ErrTokenAlreadyUsed
		}
		return nil
	}, util.DatabaseRetryOptions(ctx)...)
}

// --- Action Event Operations ---

// InsertActionEvent appends one event to the log.
func (db *LedgerDB) InsertActionEvent(ctx context.Context, event *ActionEventModel) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	_, err := db.NewInsert().Model(event).Exec(ctx)
	return err
}

// ListRecentActionEvents returns up to limit events, newest first.
func (db *LedgerDB) ListRecentActionEvents(ctx context.Context, limit int) ([]ActionEventModel, error) {
	var events []ActionEventModel
	err := db.NewSelect().
		Model(&events).
		Order("timestamp DESC").
		Order("event_id").
		Limit(limit).
		Scan(ctx)
	return events, err
}

// --- Schema Info Operations ---

// GetSchemaInfo retrieves a schema info value by key.
func (db *LedgerDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}
