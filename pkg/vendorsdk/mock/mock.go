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

// Package mock implements vendorsdk.Provider/Session without any network
// call, scripted entirely in-process, for internal/agentrt's tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kestrel-systems/parley/pkg/vendorsdk"
)

// Turn is one scripted response a Session.Prompt/FollowUp call replays.
type Turn struct {
	Text       string
	ToolCall   *ToolCall // non-nil to emit a tool_start instead of ending the turn on text alone
	Usage      *vendorsdk.Usage
	Err        string // non-empty to emit EventError instead of a normal turn
	NoText     bool   // true to end the turn with no text_delta at all (edge case §4.6)
}

// ToolCall describes a tool_start/tool_end pair a scripted Turn emits.
type ToolCall struct {
	Name string
	Args []byte
}

// Provider replays a fixed script of Turns in order across Prompt/FollowUp
// calls, looping the last entry once exhausted.
type Provider struct {
	Script []Turn
}

func (p *Provider) SupportedModels() []string { return []string{"mock-1"} }

func (p *Provider) StartSession(ctx context.Context, opts vendorsdk.StartOptions) (vendorsdk.Session, error) {
	id := opts.ResumeID
	if id == "" {
		id = "mock-session"
	}
	return &Session{id: id, script: p.Script}, nil
}

// Session is the mock's in-memory conversation; every call is synchronous
// and instantaneous except where the caller cancels its context.
type Session struct {
	id     string
	script []Turn

	mu       sync.Mutex
	cursor   int
	aborted  int32
	disposed bool

	lastToolResult vendorsdk.ToolResult
	gotToolResult  chan struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) nextTurn() Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return Turn{Text: "(no script configured)"}
	}
	i := s.cursor
	if i >= len(s.script) {
		i = len(s.script) - 1
	} else {
		s.cursor++
	}
	return s.script[i]
}

func (s *Session) Prompt(ctx context.Context, text string, images []vendorsdk.Image) (<-chan vendorsdk.Event, error) {
	return s.emit(ctx, s.nextTurn()), nil
}

func (s *Session) FollowUp(ctx context.Context, text string, images []vendorsdk.Image) (<-chan vendorsdk.Event, error) {
	return s.emit(ctx, s.nextTurn()), nil
}

func (s *Session) emit(ctx context.Context, turn Turn) <-chan vendorsdk.Event {
	out := make(chan vendorsdk.Event, 8)
	go func() {
		defer close(out)

		if turn.Err != "" {
			out <- vendorsdk.Event{Kind: vendorsdk.EventError, ErrReason: turn.Err}
			return
		}
		select {
		case <-ctx.Done():
			out <- vendorsdk.Event{Kind: vendorsdk.EventError, ErrReason: "aborted"}
			return
		default:
		}
		if atomic.LoadInt32(&s.aborted) != 0 {
			atomic.StoreInt32(&s.aborted, 0)
			out <- vendorsdk.Event{Kind: vendorsdk.EventError, ErrReason: "aborted"}
			return
		}

		if !turn.NoText && turn.Text != "" {
			out <- vendorsdk.Event{Kind: vendorsdk.EventTextDelta, TextDelta: turn.Text}
			out <- vendorsdk.Event{Kind: vendorsdk.EventTextEnd}
		}
		if turn.ToolCall != nil {
			callID := fmt.Sprintf("call-%d", s.cursor)
			out <- vendorsdk.Event{
				Kind:       vendorsdk.EventToolStart,
				ToolName:   turn.ToolCall.Name,
				ToolArgs:   turn.ToolCall.Args,
				ToolCallID: callID,
			}
			s.mu.Lock()
			s.gotToolResult = make(chan struct{})
			wait := s.gotToolResult
			s.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
			}
			out <- vendorsdk.Event{Kind: vendorsdk.EventToolEnd, ToolCallID: callID}
		}
		out <- vendorsdk.Event{Kind: vendorsdk.EventTurnEnd, Usage: turn.Usage}
	}()
	return out
}

func (s *Session) SubmitToolResult(ctx context.Context, result vendorsdk.ToolResult) error {
	s.mu.Lock()
	s.lastToolResult = result
	ch := s.gotToolResult
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
	return nil
}

func (s *Session) Abort(ctx context.Context) error {
	atomic.StoreInt32(&s.aborted, 1)
	return nil
}

func (s *Session) Stats(ctx context.Context) (vendorsdk.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return vendorsdk.Stats{TurnCount: s.cursor}, nil
}

func (s *Session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
	return nil
}

var _ vendorsdk.Provider = (*Provider)(nil)
var _ vendorsdk.Session = (*Session)(nil)
