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
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Action names.
const (
	ActionPlan     = "plan"
	ActionPreview  = "preview"
	ActionApply    = "apply"
	ActionDeploy   = "deploy"
	ActionRollback = "rollback"
	ActionStatus   = "status"
)

// ErrInvalidPayload marks a request rejected at the validation
// boundary, before any dispatch state is touched.
var ErrInvalidPayload = errors.New("invalid action payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Payload is the tagged union over the six action kinds. Action selects
// the variant; each variant has its own required-field set, checked by
// Validate before the dispatcher sees the request.
type Payload struct {
	Action         string   `json:"action" validate:"required,oneof=plan preview apply deploy rollback status"`
	IdempotencyKey string   `json:"idempotencyKey" validate:"required"`
	Command        string   `json:"command,omitempty"`
	Target         string   `json:"target,omitempty"`
	ConfirmToken   string   `json:"confirmToken,omitempty"`
	TraceID        string   `json:"traceId,omitempty"`
	Message        string   `json:"message,omitempty"`
	Zones          []string `json:"zones,omitempty"`
}

// Validate checks the shared fields with the validator, then the
// variant-specific requirements.
func (p *Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch p.Action {
	case ActionPlan, ActionPreview:
		if p.Command == "" {
			return fmt.Errorf("%w: %s requires a command", ErrInvalidPayload, p.Action)
		}
	case ActionApply, ActionDeploy, ActionRollback:
		if p.ConfirmToken == "" {
			return fmt.Errorf("%w: %s requires a confirmation token", ErrInvalidPayload, p.Action)
		}
	}
	return nil
}

// Mutating reports whether the action consumes a confirmation token.
func (p *Payload) Mutating() bool {
	switch p.Action {
	case ActionApply, ActionDeploy, ActionRollback:
		return true
	}
	return false
}
