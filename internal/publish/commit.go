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

// Package publish flushes the overlay into one commit against the
// remote repository. The remote offers only per-file operations, so a
// commit can fail part-way; the outcome reports exactly how far it got
// and the overlay survives anything short of full success.
package publish

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"stagecraft/internal/guard"
	"stagecraft/internal/overlay"
	"stagecraft/internal/remote"
)

// Operations in a commit plan.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Outcome values.
const (
	OutcomeFullyApplied     = "fully-applied"
	OutcomePartiallyApplied = "partially-applied"
	OutcomeNotApplied       = "not-applied"
)

// PlanStep is one {path, operation} pair of a commit plan. ObjectID is
// the remote object id observed at plan time; updates and deletes carry
// it so the remote call fails on a concurrent out-of-band change
// instead of clobbering it.
type PlanStep struct {
	Path     string `json:"path"`
	Op       string `json:"op"`
	ObjectID string `json:"objectId,omitempty"`
}

// Request carries commit parameters.
type Request struct {
	Message           string `json:"message"`
	OverrideProtected bool   `json:"overrideProtected"`
	Phrase            string `json:"phrase"`
}

// Result reports what a commit did. Outcome is fully-applied,
// partially-applied, or not-applied; Applied lists the remote
// operations that actually happened, in order.
type Result struct {
	Outcome string     `json:"outcome"`
	Applied []PlanStep `json:"applied"`
}

// Engine turns the staged overlay into remote operations.
type Engine struct {
	overlay *overlay.Store
	remote  remote.Client
}

// NewEngine builds a commit engine.
func NewEngine(ov *overlay.Store, rc remote.Client) *Engine {
	return &Engine{overlay: ov, remote: rc}
}

// Commit publishes the staged overlay:
//
//  1. guard check over every staged path;
//  2. list the remote tree to decide create vs update vs delete;
//  3. apply per-path operations in plan order;
//  4. clear the overlay only after every operation succeeded.
//
// On a mid-plan failure the overlay is untouched: it remains the source
// of truth for what has not yet been durably published. Transient
// failures are not retried across the plan; the caller decides whether
// to commit again.
func (e *Engine) Commit(ctx context.Context, req Request) (Result, error) {
	index, err := e.overlay.List(ctx)
	if err != nil {
		return Result{Outcome: OutcomeNotApplied}, err
	}
	if len(index) == 0 {
		return Result{Outcome: OutcomeFullyApplied, Applied: []PlanStep{}}, nil
	}

	paths := make([]string, 0, len(index))
	for p := range index {
		paths = append(paths, p)
	}
	if err := guard.CheckCommit(paths, req.OverrideProtected, req.Phrase); err != nil {
		return Result{Outcome: OutcomeNotApplied}, err
	}

	entries, err := e.remote.ListTree(ctx)
	if err != nil {
		return Result{Outcome: OutcomeNotApplied}, err
	}
	plan := buildPlan(index, remote.ObjectIDs(entries))
	log.Debugf("[Publish] plan has %d steps", len(plan))

	applied := make([]PlanStep, 0, len(plan))
	for _, step := range plan {
		if err := e.applyStep(ctx, step, req.Message); err != nil {
			outcome := OutcomePartiallyApplied
			if len(applied) == 0 {
				outcome = OutcomeNotApplied
			}
			log.Warnf("[Publish] %s %s failed after %d applied steps: %v", step.Op, step.Path, len(applied), err)
			return Result{Outcome: outcome, Applied: applied}, fmt.Errorf("%s %s: %w", step.Op, step.Path, err)
		}
		applied = append(applied, step)
	}

	if err := e.overlay.Clear(ctx); err != nil {
		// Everything is published; a failed clear only risks a
		// redundant re-publish of identical content.
		log.Warnf("[Publish] overlay clear failed after full apply: %v", err)
		return Result{Outcome: OutcomeFullyApplied, Applied: applied}, err
	}

	log.Infof("[Publish] committed %d paths", len(applied))
	return Result{Outcome: OutcomeFullyApplied, Applied: applied}, nil
}

// Plan returns the steps a commit would take right now, without
// touching the remote store's content.
func (e *Engine) Plan(ctx context.Context) ([]PlanStep, error) {
	index, err := e.overlay.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(index) == 0 {
		return []PlanStep{}, nil
	}
	entries, err := e.remote.ListTree(ctx)
	if err != nil {
		return nil, err
	}
	return buildPlan(index, remote.ObjectIDs(entries)), nil
}

func (e *Engine) applyStep(ctx context.Context, step PlanStep, message string) error {
	switch step.Op {
	case OpDelete:
		return e.remote.DeleteFile(ctx, step.Path, message, step.ObjectID)
	default:
		_, content, err := e.overlay.Get(ctx, step.Path)
		if err != nil {
			return err
		}
		return e.remote.WriteFile(ctx, step.Path, content, message, step.ObjectID)
	}
}

// buildPlan orders staged paths into create/update/delete steps against
// the current remote object ids. Deletes of remotely-absent paths are
// dropped: the path is already gone.
func buildPlan(index map[string]overlay.IndexEntry, remoteIDs map[string]string) []PlanStep {
	paths := make([]string, 0, len(index))
	for p := range index {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	plan := make([]PlanStep, 0, len(paths))
	for _, p := range paths {
		id, exists := remoteIDs[p]
		entry := index[p]
		switch {
		case entry.Deleted && !exists:
			continue
		case entry.Deleted:
			plan = append(plan, PlanStep{Path: p, Op: OpDelete, ObjectID: id})
		case exists:
			plan = append(plan, PlanStep{Path: p, Op: OpUpdate, ObjectID: id})
		default:
			plan = append(plan, PlanStep{Path: p, Op: OpCreate})
		}
	}
	return plan
}
