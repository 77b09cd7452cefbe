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

// Package vendorsdk defines the vendor-neutral black box the Agent Runtime
// (C6) binds to, per spec.md §4.6: a provider exposes StartSession, and a
// Session exposes Prompt/Abort/FollowUp/Stats/Dispose/SupportedModels. It is
// grounded on the teacher's pkg/llm.Provider interface, generalized from a
// single-shot request/response call to a long-lived streaming session, and
// concretely realized by pkg/vendorsdk/claude (anthropic-sdk-go),
// pkg/vendorsdk/bedrock (aws-sdk-go-v2/service/bedrockruntime), and
// pkg/vendorsdk/mock (tests).
package vendorsdk

import "context"

// EventKind discriminates the turn event union the runtime must map.
type EventKind string

const (
	EventTextDelta     EventKind = "text_delta"
	EventTextEnd       EventKind = "text_end"
	EventThinkingDelta EventKind = "thinking_delta"
	EventToolStart     EventKind = "tool_start"
	EventToolEnd       EventKind = "tool_end"
	EventTurnEnd       EventKind = "turn_end"
	EventError         EventKind = "error"
)

// Usage reports token accounting for a completed turn.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	ContextWindowTokens int // the model's total context window, for the 80% warning
}

// Event is one item from a Session's event stream. Only the fields
// matching Kind are populated.
type Event struct {
	Kind EventKind

	TextDelta     string
	ThinkingDelta string

	ToolName   string
	ToolArgs   []byte
	ToolCallID string

	Usage *Usage // set on EventTurnEnd when the vendor reports it

	ErrReason string
}

// Image is a multimodal attachment passed alongside prompt/follow-up text.
type Image struct {
	MediaType string
	Data      []byte
}

// ToolResult is fed back into the SDK's tool-result channel once the
// runtime has executed (or failed to execute) a tool_start.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// StartOptions configures a new session.
type StartOptions struct {
	Model       string
	SystemPrompt string
	Temperature float64
	MaxTokens   int
	ResumeID    string // non-empty to resume a prior vendor-side session
}

// Stats summarizes a session's lifetime token usage.
type Stats struct {
	TotalInputTokens  int
	TotalOutputTokens int
	TurnCount         int
}

// Session is one vendor-side conversation. All methods may block on network
// I/O; callers pass a context for cancellation.
type Session interface {
	// ID is the vendor-assigned session identifier, persisted via
	// session.Store.UpdateSDKSession so a reconnect can resume the same
	// conversation.
	ID() string

	// Prompt starts a new turn and returns its event stream. The channel is
	// closed once EventTurnEnd or EventError has been delivered.
	Prompt(ctx context.Context, text string, images []Image) (<-chan Event, error)

	// FollowUp feeds an interleaved batch of additional text into the
	// session mid-turn, per §4.6's interleave semantics.
	FollowUp(ctx context.Context, text string, images []Image) (<-chan Event, error)

	// SubmitToolResult resumes a turn awaiting a tool_start's result.
	SubmitToolResult(ctx context.Context, result ToolResult) error

	// Abort cancels the in-flight turn, causing its event stream to end
	// with EventError{ErrReason: "aborted"}.
	Abort(ctx context.Context) error

	Stats(ctx context.Context) (Stats, error)

	Dispose(ctx context.Context) error
}

// Provider starts sessions and reports which models it supports.
type Provider interface {
	StartSession(ctx context.Context, opts StartOptions) (Session, error)
	SupportedModels() []string
}
