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

// Package claude adapts the real github.com/anthropics/anthropic-sdk-go
// client to the vendorsdk.Provider/Session contract, replacing the
// teacher's hand-rolled net/http pkg/llm/anthropic.Client with the vendor's
// own SDK and its streaming event union.
package claude

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/pkg/vendorsdk"
)

const (
	// DefaultModel matches the teacher's DefaultAnthropicModel, bumped to a
	// current Claude generation.
	DefaultModel = "claude-sonnet-4-5-20250929"

	// DefaultMaxTokens matches the teacher's DefaultMaxTokens.
	DefaultMaxTokens = 4096

	// DefaultTemperature matches the teacher's DefaultTemperature.
	DefaultTemperature = 1.0

	// DefaultTimeout matches the teacher's DefaultTimeout.
	DefaultTimeout = 60 * time.Second
)

// Config mirrors the teacher's anthropic.Config shape, minus the fields the
// SDK itself now owns (endpoint, HTTP transport).
type Config struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Provider wraps an *anthropic.Client as a vendorsdk.Provider.
type Provider struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewProvider builds a Provider the way the teacher's NewClient resolves
// defaults: explicit config, then environment, then the package default.
func NewProvider(cfg Config) *Provider {
	if cfg.Model == "" {
		if env := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); env != "" {
			cfg.Model = env
		} else {
			cfg.Model = DefaultModel
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}

	opts := []option.RequestOption{option.WithRequestTimeout(cfg.Timeout)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &Provider{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// SupportedModels reports the Claude generations this adapter has been
// exercised against.
func (p *Provider) SupportedModels() []string {
	return []string{
		"claude-sonnet-4-5-20250929",
		"claude-opus-4-1-20250805",
		"claude-3-5-haiku-20241022",
	}
}

// StartSession opens a fresh multi-turn conversation; anthropic-sdk-go is
// itself stateless per call, so the session accumulates the message history
// client-side across Prompt/FollowUp calls.
func (p *Provider) StartSession(ctx context.Context, opts vendorsdk.StartOptions) (vendorsdk.Session, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := p.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := p.temperature
	if opts.Temperature != 0 {
		temperature = opts.Temperature
	}

	id := opts.ResumeID
	if id == "" {
		id = fmt.Sprintf("claude-%d", time.Now().UnixNano())
	}

	return &session{
		client:       p.client,
		id:           id,
		model:        model,
		systemPrompt: opts.SystemPrompt,
		maxTokens:    maxTokens,
		temperature:  temperature,
	}, nil
}

// session holds the client-side turn history for one conversation; the SDK
// has no server-side session concept, so every Prompt/FollowUp replays it.
type session struct {
	client anthropic.Client

	mu       sync.Mutex
	id       string
	model    string
	systemPrompt string
	maxTokens    int
	temperature  float64
	history  []anthropic.MessageParam

	abort func()
}

func (s *session) ID() string { return s.id }

func (s *session) Prompt(ctx context.Context, text string, images []vendorsdk.Image) (<-chan vendorsdk.Event, error) {
	return s.turn(ctx, text, images)
}

func (s *session) FollowUp(ctx context.Context, text string, images []vendorsdk.Image) (<-chan vendorsdk.Event, error) {
	return s.turn(ctx, text, images)
}

func (s *session) turn(ctx context.Context, text string, images []vendorsdk.Image) (<-chan vendorsdk.Event, error) {
	s.mu.Lock()
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)}
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, string(img.Data)))
	}
	s.history = append(s.history, anthropic.NewUserMessage(blocks...))
	history := append([]anthropic.MessageParam(nil), s.history...)
	model := s.model
	maxTokens := s.maxTokens
	temperature := s.temperature
	system := s.systemPrompt
	s.mu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.abort = cancel
	s.mu.Unlock()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  history,
	}
	if temperature != 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	out := make(chan vendorsdk.Event, 16)
	go func() {
		defer close(out)
		defer cancel()

		stream := s.client.Messages.NewStreaming(turnCtx, params)
		var assembled string
		for stream.Next() {
			event := stream.Current()
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta.Delta.Text != "" {
					assembled += delta.Delta.Text
					out <- vendorsdk.Event{Kind: vendorsdk.EventTextDelta, TextDelta: delta.Delta.Text}
				}
				if delta.Delta.Thinking != "" {
					out <- vendorsdk.Event{Kind: vendorsdk.EventThinkingDelta, ThinkingDelta: delta.Delta.Thinking}
				}
			case anthropic.MessageDeltaEvent:
				if delta.Usage.OutputTokens > 0 {
					out <- vendorsdk.Event{Kind: vendorsdk.EventTurnEnd, Usage: &vendorsdk.Usage{
						OutputTokens: int(delta.Usage.OutputTokens),
					}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			reason := err.Error()
			if turnCtx.Err() != nil {
				reason = "aborted"
			}
			out <- vendorsdk.Event{Kind: vendorsdk.EventError, ErrReason: reason}
			return
		}
		out <- vendorsdk.Event{Kind: vendorsdk.EventTextEnd}

		s.mu.Lock()
		s.history = append(s.history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(assembled)))
		s.mu.Unlock()
	}()
	return out, nil
}

func (s *session) SubmitToolResult(ctx context.Context, result vendorsdk.ToolResult) error {
	s.mu.Lock()
	content := result.Content
	if result.IsError {
		content = "Error: " + content
	}
	s.history = append(s.history, anthropic.NewUserMessage(
		anthropic.NewToolResultBlock(result.CallID, content, result.IsError),
	))
	s.mu.Unlock()
	return nil
}

func (s *session) Abort(ctx context.Context) error {
	s.mu.Lock()
	abort := s.abort
	s.mu.Unlock()
	if abort == nil {
		return fmt.Errorf("claude: %w: no turn in flight", errs.ErrCancelled)
	}
	abort()
	return nil
}

func (s *session) Stats(ctx context.Context) (vendorsdk.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return vendorsdk.Stats{TurnCount: len(s.history)}, nil
}

func (s *session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	return nil
}
