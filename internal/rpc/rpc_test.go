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
package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/wire"
)

// loopDeliverer routes Deliver calls straight back into the same Router's
// Handle synchronously and in order, simulating the broker's point-to-point
// relay without a real transport or channel.
type loopDeliverer struct {
	mu     sync.Mutex
	router *Router
}

func (d *loopDeliverer) Deliver(clientID identity.ClientID, env *wire.Envelope) error {
	d.mu.Lock()
	r := d.router
	d.mu.Unlock()
	_ = r.Handle(context.Background(), "C", clientID, env)
	return nil
}

func newLoopRouter() *Router {
	d := &loopDeliverer{}
	r := New(d, nil)
	d.router = r
	return r
}

func TestCallUnarySuccess(t *testing.T) {
	r := newLoopRouter()
	callee := identity.ClientID("callee-1")
	caller := identity.ClientID("caller-1")

	r.Register(callee, "echo", Method{
		Handler: func(ctx context.Context, args json.RawMessage, emit func(json.RawMessage)) (json.RawMessage, error) {
			return args, nil
		},
	})

	args, _ := json.Marshal(map[string]string{"x": "y"})
	result, err := r.Call(context.Background(), caller, callee, "echo", args)
	require.NoError(t, err)
	require.JSONEq(t, string(args), string(result))
}

func TestCallUnknownMethod(t *testing.T) {
	r := newLoopRouter()
	callee := identity.ClientID("callee-2")
	caller := identity.ClientID("caller-2")

	_, err := r.Call(context.Background(), caller, callee, "nope", nil)
	require.Error(t, err)
}

func TestCallSchemaFailure(t *testing.T) {
	r := newLoopRouter()
	callee := identity.ClientID("callee-3")
	caller := identity.ClientID("caller-3")

	r.Register(callee, "needs_path", Method{
		Handler: func(ctx context.Context, args json.RawMessage, emit func(json.RawMessage)) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"path"},
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
		},
	})

	_, err := r.Call(context.Background(), caller, callee, "needs_path", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestStreamEventsInOrder(t *testing.T) {
	r := newLoopRouter()
	callee := identity.ClientID("callee-4")
	caller := identity.ClientID("caller-4")

	r.Register(callee, "count", Method{
		Handler: func(ctx context.Context, args json.RawMessage, emit func(json.RawMessage)) (json.RawMessage, error) {
			for i := 1; i <= 3; i++ {
				payload, _ := json.Marshal(i)
				emit(payload)
			}
			return json.RawMessage(`"done"`), nil
		},
	})

	var seen []int
	result, err := r.Stream(context.Background(), caller, callee, "count", nil, func(payload json.RawMessage) {
		var n int
		_ = json.Unmarshal(payload, &n)
		seen = append(seen, n)
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, seen)
	require.JSONEq(t, `"done"`, string(result))
}

func TestCallTimeoutSurfacesCancelled(t *testing.T) {
	r := newLoopRouter()
	callee := identity.ClientID("callee-5")
	caller := identity.ClientID("caller-5")

	blocked := make(chan struct{})
	r.Register(callee, "hang", Method{
		Handler: func(ctx context.Context, args json.RawMessage, emit func(json.RawMessage)) (json.RawMessage, error) {
			<-ctx.Done()
			close(blocked)
			return nil, ctx.Err()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Call(ctx, caller, callee, "hang", nil)
	require.Error(t, err)
	require.ErrorAs(t, err, new(*errs.TimeoutError))

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("callee handler was never cancelled")
	}
}

func TestDisconnectedCancelsServingCalls(t *testing.T) {
	r := newLoopRouter()
	callee := identity.ClientID("callee-6")
	caller := identity.ClientID("caller-6")

	started := make(chan struct{})
	cancelled := make(chan struct{})
	r.Register(callee, "hang", Method{
		Handler: func(ctx context.Context, args json.RawMessage, emit func(json.RawMessage)) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		},
	})

	go func() { _, _ = r.Call(context.Background(), caller, callee, "hang", nil) }()
	<-started
	r.Disconnected(callee)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight serve was not cancelled on disconnect")
	}
}
