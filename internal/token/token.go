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

// Package token mints and consumes the confirmation tokens gating
// mutating actions. A token is a signed, self-contained claim bound to
// one (action, idempotency key) pair with a short expiry. Signature
// verification happens before any payload field is read, so a tampered
// token is rejected without touching storage.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"stagecraft/internal/common"
	"stagecraft/internal/storage"
)

// DefaultTTL is how long a minted token stays valid.
const DefaultTTL = 10 * time.Minute

// ActionExecute is the wildcard action name. A token minted for
// "execute" is accepted by apply, deploy, and rollback; one
// preview-stage handoff authorizes any one subsequent mutating action.
const ActionExecute = "execute"

// executeActions are the actions an "execute" token is valid for.
var executeActions = map[string]struct{}{
	"apply":    {},
	"deploy":   {},
	"rollback": {},
}

const payloadVersion = 1

type payload struct {
	V      int    `json:"v"`
	Action string `json:"action"`
	Key    string `json:"key"`
	Exp    int64  `json:"exp"`
	Nonce  string `json:"nonce"`
}

// Authority mints and verifies confirmation tokens.
type Authority struct {
	secret []byte
	db     *storage.LedgerDB // nil enables stateless mode
	now    func() time.Time
	ttl    time.Duration
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// WithTTL overrides the default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(a *Authority) { a.ttl = ttl }
}

// New builds an authority. The secret must be non-empty; an authority
// without one refuses to mint or verify. db may be nil: tokens then
// carry no replay protection across process restarts, only signature
// and expiry.
func New(secret []byte, db *storage.LedgerDB, opts ...Option) *Authority {
	a := &Authority{
		secret: secret,
		db:     db,
		now:    time.Now,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mint issues a token bound to (action, idemKey) and returns it with
// its expiry. When a ledger database is configured, the token's sha256
// hash is persisted for single-use enforcement.
func (a *Authority) Mint(ctx context.Context, action, idemKey, traceID string) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, errors.New("no signing secret configured")
	}
	expiresAt := a.now().Add(a.ttl)
	p := payload{
		V:      payloadVersion,
		Action: action,
		Key:    idemKey,
		Exp:    expiresAt.Unix(),
		Nonce:  uuid.New().String(),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode token payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	tok := encoded + "." + a.sign(encoded)

	if a.db != nil {
		err := a.db.InsertConfirmToken(ctx, &storage.ConfirmTokenModel{
			TokenHash: hashToken(tok),
			Action:    action,
			IdemKey:   idemKey,
			TraceID:   traceID,
			ExpiresAt: expiresAt.Unix(),
		})
		if err != nil {
			return "", time.Time{}, fmt.Errorf("persist token: %w", err)
		}
	}

	log.Debugf("[Token] minted for action=%s key=%s exp=%s", action, idemKey, expiresAt.UTC().Format(time.RFC3339))
	return tok, expiresAt, nil
}

// VerifyAndConsume checks a token against the requested (action,
// idemKey) and marks it used. Order matters: signature first (fail
// closed before parsing anything), then expiry, then binding, then the
// single-use check against the persisted record.
func (a *Authority) VerifyAndConsume(ctx context.Context, tok, action, idemKey string) error {
	// An empty secret would let anyone forge valid signatures, so an
	// unconfigured authority accepts nothing.
	if len(a.secret) == 0 {
		return fmt.Errorf("%w: no signing secret configured", common.ErrInvalidToken)
	}
	encoded, err := a.verifySignature(tok)
	if err != nil {
		return err
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: malformed payload", common.ErrInvalidToken)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("%w: malformed payload", common.ErrInvalidToken)
	}
	if p.V != payloadVersion {
		return fmt.Errorf("%w: unsupported version %d", common.ErrInvalidToken, p.V)
	}

	if a.now().Unix() >= p.Exp {
		return common.ErrTokenExpired
	}

	if !actionMatches(p.Action, action) || p.Key != idemKey {
		return fmt.Errorf("%w: token bound to (%s, %s)", common.ErrTokenMismatch, p.Action, p.Key)
	}

	if a.db == nil {
		return nil
	}

	record, err := a.db.GetConfirmToken(ctx, hashToken(tok))
	if errors.Is(err, common.ErrNotFound) {
		// Minted by a stateless authority; the signature and expiry
		// above are the only guarantee.
		return nil
	}
	if err != nil {
		return err
	}
	if record.UsedAt != 0 {
		return common.ErrTokenAlreadyUsed
	}
	if a.now().Unix() >= record.ExpiresAt {
		return common.ErrTokenExpired
	}
	return a.db.ConsumeConfirmToken(ctx, hashToken(tok))
}

// verifySignature recomputes the HMAC over the encoded payload and
// compares in constant time. Returns the encoded payload half.
func (a *Authority) verifySignature(tok string) (string, error) {
	encoded, sig, ok := strings.Cut(tok, ".")
	if !ok || encoded == "" || sig == "" {
		return "", fmt.Errorf("%w: malformed token", common.ErrInvalidToken)
	}
	expected := a.sign(encoded)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return "", fmt.Errorf("%w: signature mismatch", common.ErrInvalidToken)
	}
	return encoded, nil
}

func (a *Authority) sign(encoded string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func hashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// actionMatches reports whether a token minted for tokenAction
// authorizes requested. Exact match always does; the execute wildcard
// covers the mutating actions.
func actionMatches(tokenAction, requested string) bool {
	if tokenAction == requested {
		return true
	}
	if tokenAction == ActionExecute {
		_, ok := executeActions[requested]
		return ok
	}
	return false
}
