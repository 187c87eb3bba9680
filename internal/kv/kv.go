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

// Package kv abstracts the key-value store backing the overlay.
//
// Two backends exist behind the same interface: BadgerDB for persistent
// deployments and an in-process map for local runs and tests. Production
// wiring always selects the persistent backend; the memory backend must not
// be assumed durable across processes.
package kv

import "context"

// Store is the key-value contract the overlay is built on.
// Per-key last-write-wins; no cross-key transaction is assumed.
type Store interface {
	// Get returns the value for key, or common.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Scan visits every key with the given prefix in lexicographic order.
	// Returning an error from fn stops the scan and propagates the error.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
	// Close releases backend resources.
	Close() error
}
