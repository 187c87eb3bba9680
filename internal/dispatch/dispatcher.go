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

// Package dispatch runs the action state machine: received, authorized,
// cached-replay or token-checked, executing, recorded, done. Every
// terminal outcome, success or error, lands in the idempotency ledger
// before the response leaves, so a retry with the same key replays the
// stored bytes instead of re-executing.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"stagecraft/internal/common"
	"stagecraft/internal/ledger"
	"stagecraft/internal/overlay"
	"stagecraft/internal/publish"
	"stagecraft/internal/routes"
	"stagecraft/internal/storage"
	"stagecraft/internal/token"
)

// Response is the canonical action response. Its serialized form is
// what the ledger stores and what replays return verbatim.
type Response struct {
	EventType string          `json:"eventType"` // "success" or "error"
	TraceID   string          `json:"traceId"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail carries the kind plus a generic message with the original
// detail attached.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Outcome is a dispatched action's terminal result: the HTTP-ish status
// and the canonical response bytes. Replayed marks a ledger hit.
type Outcome struct {
	Status   int
	Body     []byte
	Replayed bool
}

// Dispatcher wires the ledger, the token authority, the commit engine,
// and the external planner behind one entrypoint.
type Dispatcher struct {
	ledger   *ledger.Ledger
	tokens   *token.Authority
	engine   *publish.Engine
	planner  Planner
	overlay  *overlay.Store
	renderer *routes.Renderer
	db       *storage.LedgerDB
}

// New builds a dispatcher.
func New(l *ledger.Ledger, ta *token.Authority, engine *publish.Engine, planner Planner, ov *overlay.Store, renderer *routes.Renderer, db *storage.LedgerDB) *Dispatcher {
	return &Dispatcher{
		ledger:   l,
		tokens:   ta,
		engine:   engine,
		planner:  planner,
		overlay:  ov,
		renderer: renderer,
		db:       db,
	}
}

// Dispatch runs one action request through the state machine.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, err
	}
	if p.TraceID == "" {
		p.TraceID = uuid.New().String()
	}

	// Ledger first: a replay returns the stored outcome without any
	// side effect, including token consumption.
	cached, err := d.ledger.Lookup(ctx, p.Action, p.IdempotencyKey)
	if err != nil {
		return Outcome{}, err
	}
	if cached != nil {
		log.Debugf("[Dispatch] replay hit for (%s, %s)", p.Action, p.IdempotencyKey)
		return Outcome{Status: cached.Status, Body: cached.Payload, Replayed: true}, nil
	}

	if p.Mutating() {
		if err := d.tokens.VerifyAndConsume(ctx, p.ConfirmToken, p.Action, p.IdempotencyKey); err != nil {
			return d.recordError(ctx, p, err)
		}
	}

	result, err := d.execute(ctx, p)
	if err != nil {
		return d.recordError(ctx, p, err)
	}
	return d.recordSuccess(ctx, p, result)
}

func (d *Dispatcher) execute(ctx context.Context, p Payload) (json.RawMessage, error) {
	switch p.Action {
	case ActionStatus:
		return d.executeStatus(ctx)
	case ActionPlan:
		return d.executePlan(ctx, p)
	case ActionPreview:
		return d.executePreview(ctx, p)
	case ActionApply, ActionDeploy:
		return d.executeCommitting(ctx, p)
	case ActionRollback:
		return d.planner.PlanEdits(ctx, p.Action, p.Command, p.Target)
	default:
		return nil, fmt.Errorf("%w: unknown action %s", ErrInvalidPayload, p.Action)
	}
}

type statusResult struct {
	Staged []overlay.IndexEntry       `json:"staged"`
	Events []storage.ActionEventModel `json:"events"`
}

func (d *Dispatcher) executeStatus(ctx context.Context) (json.RawMessage, error) {
	index, err := d.overlay.List(ctx)
	if err != nil {
		return nil, err
	}
	staged := make([]overlay.IndexEntry, 0, len(index))
	for _, entry := range index {
		staged = append(staged, entry)
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i].Path < staged[j].Path })

	events, err := d.db.ListRecentActionEvents(ctx, 20)
	if err != nil {
		return nil, err
	}
	return json.Marshal(statusResult{Staged: staged, Events: events})
}

type planResult struct {
	Actions json.RawMessage    `json:"actions"`
	Commit  []publish.PlanStep `json:"commit"`
}

func (d *Dispatcher) executePlan(ctx context.Context, p Payload) (json.RawMessage, error) {
	actions, err := d.planner.PlanEdits(ctx, ActionPlan, p.Command, p.Target)
	if err != nil {
		return nil, err
	}
	steps, err := d.engine.Plan(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(planResult{Actions: actions, Commit: steps})
}

type previewResult struct {
	Actions      json.RawMessage       `json:"actions"`
	Previews     []routes.PreviewEntry `json:"previews"`
	ConfirmToken string                `json:"confirmToken"`
	ExpiresAt    time.Time             `json:"expiresAt"`
}

// executePreview plans the edits, builds the preview list for every
// staged file, and mints the downstream token. The token is minted as
// "execute" so the one preview handoff authorizes any one of apply,
// deploy, or rollback.
func (d *Dispatcher) executePreview(ctx context.Context, p Payload) (json.RawMessage, error) {
	actions, err := d.planner.PlanEdits(ctx, ActionPreview, p.Command, p.Target)
	if err != nil {
		return nil, err
	}

	index, err := d.overlay.List(ctx)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(index))
	for path := range index {
		files = append(files, path)
	}
	sort.Strings(files)
	previews := d.renderer.BuildPreview(nil, files, p.Zones)

	tok, expiresAt, err := d.tokens.Mint(ctx, token.ActionExecute, p.IdempotencyKey, p.TraceID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(previewResult{
		Actions:      actions,
		Previews:     previews,
		ConfirmToken: tok,
		ExpiresAt:    expiresAt.UTC(),
	})
}

type commitActionResult struct {
	Actions json.RawMessage `json:"actions"`
	Commit  publish.Result  `json:"commit"`
}

func (d *Dispatcher) executeCommitting(ctx context.Context, p Payload) (json.RawMessage, error) {
	actions, err := d.planner.PlanEdits(ctx, p.Action, p.Command, p.Target)
	if err != nil {
		return nil, err
	}
	commit, err := d.engine.Commit(ctx, publish.Request{Message: p.Message})
	if err != nil {
		// The partial outcome still reaches the caller through the
		// recorded error detail.
		return nil, fmt.Errorf("commit %s: %w", commit.Outcome, err)
	}
	return json.Marshal(commitActionResult{Actions: actions, Commit: commit})
}

func (d *Dispatcher) recordSuccess(ctx context.Context, p Payload, result json.RawMessage) (Outcome, error) {
	resp := Response{EventType: "success", TraceID: p.TraceID, Result: result}
	body, err := json.Marshal(resp)
	if err != nil {
		return Outcome{}, err
	}

	stored, err := d.ledger.Record(ctx, p.Action, p.IdempotencyKey, 200, body)
	if err != nil {
		return Outcome{}, err
	}
	if stored.Status != 200 || !bytes.Equal(stored.Payload, body) {
		// Lost the insert race; the first writer's outcome stands.
		return Outcome{Status: stored.Status, Body: stored.Payload, Replayed: true}, nil
	}

	d.appendEvent(ctx, p, "success", result)
	return Outcome{Status: 200, Body: body}, nil
}

func (d *Dispatcher) recordError(ctx context.Context, p Payload, cause error) (Outcome, error) {
	status := common.Status(cause)
	resp := Response{
		EventType: "error",
		TraceID:   p.TraceID,
		Error: &ErrorDetail{
			Kind:    common.Kind(cause),
			Message: fmt.Sprintf("action %s failed", p.Action),
			Detail:  cause.Error(),
		},
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return Outcome{}, err
	}

	stored, err := d.ledger.Record(ctx, p.Action, p.IdempotencyKey, status, body)
	if err != nil {
		return Outcome{}, err
	}
	if stored.Status != status || !bytes.Equal(stored.Payload, body) {
		return Outcome{Status: stored.Status, Body: stored.Payload, Replayed: true}, nil
	}

	detail, _ := json.Marshal(resp.Error)
	d.appendEvent(ctx, p, "error", detail)
	log.Warnf("[Dispatch] %s (%s) failed: %v", p.Action, p.IdempotencyKey, cause)
	return Outcome{Status: status, Body: body}, nil
}

// appendEvent records one event per newly executed action. Replays do
// not reach this point. Event append failures are logged, not fatal:
// the ledger record is already durable.
func (d *Dispatcher) appendEvent(ctx context.Context, p Payload, eventType string, detail json.RawMessage) {
	err := d.db.InsertActionEvent(ctx, &storage.ActionEventModel{
		EventID:   uuid.New().String(),
		TraceID:   p.TraceID,
		EventType: eventType,
		Action:    p.Action,
		IdemKey:   p.IdempotencyKey,
		Detail:    detail,
	})
	if err != nil {
		log.Warnf("[Dispatch] event append failed: %v", err)
	}
}
