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

package storage

import (
	"github.com/uptrace/bun"
)

// Bun ORM models for the stagecraft ledger database.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// IdempotencyModel represents the idempotency_records table.
// Rows are write-once: the first (action, idem_key) insert wins and every
// later insert for the pair is a no-op.
type IdempotencyModel struct {
	bun.BaseModel `bun:"table:idempotency_records"`

	Action          string `bun:"action,pk"`
	IdemKey         string `bun:"idem_key,pk"`
	Status          int    `bun:"status,notnull"`
	ResponsePayload []byte `bun:"response_payload"`
	CreatedAt       int64  `bun:"created_at,notnull"` // Unix timestamp
}

// ConfirmTokenModel represents the confirm_tokens table. Only the
// sha256 hash of a token is ever stored.
type ConfirmTokenModel struct {
	bun.BaseModel `bun:"table:confirm_tokens"`

	TokenHash string `bun:"token_hash,pk"`
	Action    string `bun:"action,notnull"`
	IdemKey   string `bun:"idem_key,notnull"`
	TraceID   string `bun:"trace_id,notnull"`
	ExpiresAt int64  `bun:"expires_at,notnull"` // Unix timestamp
	UsedAt    int64  `bun:"used_at"`            // 0 = unused
	CreatedAt int64  `bun:"created_at,notnull"` // Unix timestamp
}

// ActionEventModel represents the append-only action_events table.
type ActionEventModel struct {
	bun.BaseModel `bun:"table:action_events"`

	EventID   string `bun:"event_id,pk"`
	Timestamp int64  `bun:"timestamp,notnull"` // Unix timestamp
	TraceID   string `bun:"trace_id,notnull"`
	EventType string `bun:"event_type,notnull"` // "success" or "error"
	Action    string `bun:"action,notnull"`
	IdemKey   string `bun:"idem_key,notnull"`
	Detail    []byte `bun:"detail"` // serialized result or error
}
