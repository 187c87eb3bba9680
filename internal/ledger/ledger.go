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

// Package ledger records the outcome of every mutating action keyed by
// (action, idempotency key). Records are write-once; a replay returns
// the stored outcome byte for byte.
package ledger

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"stagecraft/internal/common"
	"stagecraft/internal/storage"
)

// Record is a stored action outcome.
type Record struct {
	Action  string `json:"action"`
	Key     string `json:"key"`
	Status  int    `json:"status"`
	Payload []byte `json:"payload"`
}

// Ledger is the idempotency ledger.
type Ledger struct {
	db *storage.LedgerDB
}

// New wraps the ledger database.
func New(db *storage.LedgerDB) *Ledger {
	return &Ledger{db: db}
}

// Lookup returns the stored record for (action, key), or nil when the
// pair has not been seen.
func (l *Ledger) Lookup(ctx context.Context, action, key string) (*Record, error) {
	model, err := l.db.GetIdempotencyRecord(ctx, action, key)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Record{
		Action:  model.Action,
		Key:     model.IdemKey,
		Status:  model.Status,
		Payload: model.ResponsePayload,
	}, nil
}

// Record stores the outcome for (action, key) and returns the record
// that ended up stored. When a concurrent caller won the insert, the
// returned record is the winner's, not the arguments.
func (l *Ledger) Record(ctx context.Context, action, key string, status int, payload []byte) (*Record, error) {
	model, err := l.db.InsertIdempotencyRecord(ctx, action, key, status, payload)
	if err != nil {
		return nil, err
	}
	if model.Status != status {
		log.Debugf("[Ledger] record race on (%s, %s): kept first writer's status %d", action, key, model.Status)
	}
	return &Record{
		Action:  model.Action,
		Key:     model.IdemKey,
		Status:  model.Status,
		Payload: model.ResponsePayload,
	}, nil
}
