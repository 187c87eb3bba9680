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
)

// Planner is the external patch planner: free-text command in, opaque
// structured edit actions out. The dispatcher passes mode, command, and
// target through and treats the output as a black box.
type Planner interface {
	PlanEdits(ctx context.Context, mode, command, target string) (json.RawMessage, error)
}

// NopPlanner answers every command with an empty action list. Used when
// no external planner is configured and by tests that only exercise the
// dispatch rules.
type NopPlanner struct{}

func (NopPlanner) PlanEdits(ctx context.Context, mode, command, target string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, mode, command, target string) (json.RawMessage, error)

func (f PlannerFunc) PlanEdits(ctx context.Context, mode, command, target string) (json.RawMessage, error) {
	return f(ctx, mode, command, target)
}
