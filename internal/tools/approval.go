// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/identity"
)

// AutonomyLevel is the three-level approval floor from §4.5.
type AutonomyLevel int

const (
	AutonomyRestricted AutonomyLevel = 0 // prompt for every call
	AutonomyStandard   AutonomyLevel = 1 // prompt only for destructive tools
	AutonomyAutonomous AutonomyLevel = 2 // auto-approve everything
)

// ApprovalDecision is the designated UI participant's verdict.
type ApprovalDecision struct {
	Allow      bool
	AlwaysAllow bool // atomically upgrades the stored autonomy level
}

// approveArgs/approveResult are the well-known "request_approval" RPC's
// wire shape, called against the panel participant designated to decide.
type approveArgs struct {
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args"`
}

type approveResult struct {
	Allow       bool `json:"allow"`
	AlwaysAllow bool `json:"always_allow"`
}

// RequestApprovalMethod is the well-known RPC the designated UI participant
// must expose to answer approval prompts.
const RequestApprovalMethod = "request_approval"

// SettingsUpdater persists an autonomy-level upgrade through the Session
// Store, satisfied by *session.SQLiteStore via UpdateSettings.
type SettingsUpdater interface {
	UpdateSettings(ctx context.Context, key identity.SessionKey, blob json.RawMessage) error
}

// Gate screens every tool invocation against the configured autonomy level,
// escalating to a designated panel participant when a prompt is required.
type Gate struct {
	caller   Caller
	settings SettingsUpdater
	self     identity.ClientID
	panel    identity.ClientID
	level    AutonomyLevel
	key      identity.SessionKey
}

// NewGate constructs a Gate for one agent participant (self), escalating to
// panel, starting at level.
func NewGate(caller Caller, settings SettingsUpdater, self, panel identity.ClientID, key identity.SessionKey, level AutonomyLevel) *Gate {
	return &Gate{caller: caller, settings: settings, self: self, panel: panel, key: key, level: level}
}

// Level reports the gate's current autonomy level.
func (g *Gate) Level() AutonomyLevel { return g.level }

// Check screens one invocation of canonicalName, returning nil if allowed
// or errs.ErrApprovalDenied (wrapped) if the user declines.
func (g *Gate) Check(ctx context.Context, canonicalName string, args json.RawMessage) error {
	switch g.level {
	case AutonomyAutonomous:
		return nil
	case AutonomyStandard:
		if !IsDestructive(canonicalName) {
			return nil
		}
	case AutonomyRestricted:
		// every call prompts
	}

	payload, err := json.Marshal(approveArgs{ToolName: canonicalName, Args: args})
	if err != nil {
		return fmt.Errorf("tools: approval: %w", err)
	}
	raw, err := g.caller.Call(ctx, g.self, g.panel, RequestApprovalMethod, payload)
	if err != nil {
		return fmt.Errorf("tools: approval request for %q: %w", canonicalName, err)
	}
	var decision approveResult
	if err := json.Unmarshal(raw, &decision); err != nil {
		return fmt.Errorf("tools: approval: malformed decision: %w", err)
	}
	if decision.AlwaysAllow && g.settings != nil {
		g.level = AutonomyAutonomous
		blob, _ := json.Marshal(map[string]any{"autonomy_level": int(g.level), "approval_ui_shown": true})
		_ = g.settings.UpdateSettings(ctx, g.key, blob)
	}
	if !decision.Allow {
		return fmt.Errorf("tools: %q: %w", canonicalName, errs.ErrApprovalDenied)
	}
	return nil
}
