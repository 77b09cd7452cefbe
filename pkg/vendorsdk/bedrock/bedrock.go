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

// Package bedrock adapts aws-sdk-go-v2/service/bedrockruntime's
// ConverseStream API to the vendorsdk.Provider/Session contract, the
// Bedrock-hosted counterpart to pkg/vendorsdk/claude — grounded on the same
// teacher pkg/llm/bedrock.Client config shape, now backed by the real SDK
// instead of a hand-rolled signed HTTP client.
package bedrock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/pkg/vendorsdk"
)

// DefaultModelID matches the teacher's bedrock default, bumped to a current
// cross-region Claude inference profile.
const DefaultModelID = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"

// DefaultMaxTokens mirrors pkg/vendorsdk/claude.DefaultMaxTokens.
const DefaultMaxTokens = 4096

// Config configures the Bedrock-hosted Provider.
type Config struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float64
}

// Provider wraps a *bedrockruntime.Client as a vendorsdk.Provider.
type Provider struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float64
}

// NewProvider loads the default AWS config for Region and constructs the
// bedrockruntime client, the way cmd/looms wires aws-sdk-go-v2 clients from
// ambient credentials.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &Provider{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		modelID:     cfg.ModelID,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// SupportedModels reports the cross-region inference profiles this adapter
// has been exercised against.
func (p *Provider) SupportedModels() []string {
	return []string{
		"us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		"us.anthropic.claude-opus-4-1-20250805-v1:0",
	}
}

// StartSession opens a fresh conversation; Bedrock's ConverseStream API is
// stateless per call like the direct Anthropic API, so history accumulates
// client-side exactly as in pkg/vendorsdk/claude.
func (p *Provider) StartSession(ctx context.Context, opts vendorsdk.StartOptions) (vendorsdk.Session, error) {
	modelID := p.modelID
	if opts.Model != "" {
		modelID = opts.Model
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
		id = fmt.Sprintf("bedrock-%d", time.Now().UnixNano())
	}
	return &session{
		client:       p.client,
		id:           id,
		modelID:      modelID,
		systemPrompt: opts.SystemPrompt,
		maxTokens:    maxTokens,
		temperature:  temperature,
	}, nil
}

type session struct {
	client *bedrockruntime.Client

	mu           sync.Mutex
	id           string
	modelID      string
	systemPrompt string
	maxTokens    int
	temperature  float64
	history      []types.Message

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
	blocks := []types.ContentBlock{&types.ContentBlockMemberText{Value: text}}
	for _, img := range images {
		blocks = append(blocks, &types.ContentBlockMemberImage{Value: types.ImageBlock{
			Format: types.ImageFormatPng,
			Source: &types.ImageSourceMemberBytes{Value: img.Data},
		}})
	}
	s.history = append(s.history, types.Message{Role: types.ConversationRoleUser, Content: blocks})
	history := append([]types.Message(nil), s.history...)
	modelID := s.modelID
	maxTokens := int32(s.maxTokens)
	temperature := float32(s.temperature)
	var system []types.SystemContentBlock
	if s.systemPrompt != "" {
		system = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: s.systemPrompt}}
	}
	s.mu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.abort = cancel
	s.mu.Unlock()

	out := make(chan vendorsdk.Event, 16)
	go func() {
		defer close(out)
		defer cancel()

		resp, err := s.client.ConverseStream(turnCtx, &bedrockruntime.ConverseStreamInput{
			ModelId:  aws.String(modelID),
			Messages: history,
			System:   system,
			InferenceConfig: &types.InferenceConfiguration{
				MaxTokens:   aws.Int32(maxTokens),
				Temperature: aws.Float32(temperature),
			},
		})
		if err != nil {
			out <- vendorsdk.Event{Kind: vendorsdk.EventError, ErrReason: err.Error()}
			return
		}

		var assembled string
		stream := resp.GetStream()
		defer stream.Close()
		for event := range stream.Events() {
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if text, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					assembled += text.Value
					out <- vendorsdk.Event{Kind: vendorsdk.EventTextDelta, TextDelta: text.Value}
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					out <- vendorsdk.Event{Kind: vendorsdk.EventTurnEnd, Usage: &vendorsdk.Usage{
						InputTokens:  int(aws.ToInt32(v.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
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
		s.history = append(s.history, types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: assembled}},
		})
		s.mu.Unlock()
	}()
	return out, nil
}

func (s *session) SubmitToolResult(ctx context.Context, result vendorsdk.ToolResult) error {
	s.mu.Lock()
	s.history = append(s.history, types.Message{
		Role: types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
			ToolUseId: aws.String(result.CallID),
			Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: result.Content}},
			Status:    toolResultStatus(result.IsError),
		}}},
	})
	s.mu.Unlock()
	return nil
}

func toolResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func (s *session) Abort(ctx context.Context) error {
	s.mu.Lock()
	abort := s.abort
	s.mu.Unlock()
	if abort == nil {
		return fmt.Errorf("bedrock: %w: no turn in flight", errs.ErrCancelled)
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
