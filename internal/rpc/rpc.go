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

// Package rpc implements the RPC Layer (C4): request/response and
// streaming method calls between participants, multiplexed on the Channel
// Hub (C2) via the rpc_request/rpc_event/rpc_response/rpc_cancel content
// types, always targeted to callee_id. Schema validation follows
// pkg/mcp/protocol.ValidateToolArguments's gojsonschema usage; the call
// lifecycle bookkeeping is grounded on pkg/mcp/client's pending-request
// table keyed by request id.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/kestrel-systems/parley/internal/broker"
	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/wire"
)

// DefaultUnaryTimeout is the caller-side wait before a call is cancelled
// with reason=timeout, per §5's explicit defaults.
const DefaultUnaryTimeout = 30 * time.Second

// Deliverer is the narrow broker seam the router needs: point-to-point
// delivery by ClientID. Satisfied by *broker.Broker.
type Deliverer interface {
	Deliver(clientID identity.ClientID, env *wire.Envelope) error
}

// WatchDisconnects drains leaves (broker.Broker.OnLeave()) and cancels every
// in-flight call involving the disconnected client, until leaves closes.
func WatchDisconnects(r *Router, leaves <-chan broker.LifecycleEvent) {
	go func() {
		for ev := range leaves {
			r.Disconnected(ev.ClientID)
		}
	}()
}

// Handler implements one local RPC method. It streams zero or more events
// via emit before returning the terminal result (or an error, mapped to
// status=error; ctx.Err() after cancel maps to status=cancelled).
type Handler func(ctx context.Context, args json.RawMessage, emit func(payload json.RawMessage)) (json.RawMessage, error)

// Method pairs a handler with the JSON Schema its args must satisfy.
type Method struct {
	Handler Handler
	Schema  map[string]any // nil = no validation
}

// pendingCall is the caller-side bookkeeping for one in-flight call.
type pendingCall struct {
	caller identity.ClientID
	events chan wire.RPCEventFrame
	done   chan wire.RPCResponseFrame
	cancel context.CancelFunc
}

// Router is the RPC layer's call-lifecycle engine. One Router is wired per
// broker via WithFrameHandler; each in-process participant (Tool Registry,
// Agent Runtime, a local panel adapter) registers its own ClientID's
// methods with Register and calls out with Call/Stream.
type Router struct {
	deliver Deliverer
	logger  *zap.Logger

	mu       sync.Mutex
	methods  map[identity.ClientID]map[string]Method
	pending  map[string]*pendingCall // call_id -> bookkeeping, caller side
	byCallee map[identity.ClientID]map[string]context.CancelFunc // call_id cancels, callee side
}

// New constructs a Router bound to deliver. Wire it into a broker with
// broker.WithFrameHandler(router.Handle).
func New(deliver Deliverer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		deliver:  deliver,
		logger:   logger,
		methods:  make(map[identity.ClientID]map[string]Method),
		pending:  make(map[string]*pendingCall),
		byCallee: make(map[identity.ClientID]map[string]context.CancelFunc),
	}
}

// Register exposes method on behalf of callee, making it callable by any
// participant that targets callee's ClientID.
func (r *Router) Register(callee identity.ClientID, method string, m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.methods[callee] == nil {
		r.methods[callee] = make(map[string]Method)
	}
	r.methods[callee][method] = m
}

// Unregister removes every method callee exposed, called on disconnect.
func (r *Router) Unregister(callee identity.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.methods, callee)
}

// Disconnected cancels every in-flight call the disconnected client
// originated or is servicing, per §5's "disconnect cancels everything
// originating from the disconnected participant."
func (r *Router) Disconnected(clientID identity.ClientID) {
	r.mu.Lock()
	var asCaller []*pendingCall
	for callID, pc := range r.pending {
		if pc.caller == clientID {
			asCaller = append(asCaller, pc)
			delete(r.pending, callID)
		}
	}
	asCallee := r.byCallee[clientID]
	delete(r.byCallee, clientID)
	r.mu.Unlock()

	for _, pc := range asCaller {
		select {
		case pc.done <- wire.RPCResponseFrame{Status: wire.RPCStatusCancelled, Message: errs.ErrDisconnected.Error()}:
		default:
		}
	}
	for _, cancel := range asCallee {
		cancel()
	}
	r.Unregister(clientID)
}

// Handle is the broker.FrameHandler installed for rpc_request/rpc_event/
// rpc_response/rpc_cancel frames.
func (r *Router) Handle(ctx context.Context, _ identity.ChannelID, sender identity.ClientID, env *wire.Envelope) error {
	switch env.Kind {
	case wire.KindRPCRequest:
		var f wire.RPCRequestFrame
		if err := env.Decode(&f); err != nil {
			return err
		}
		go r.serve(sender, f)
		return nil
	case wire.KindRPCEvent:
		var f wire.RPCEventFrame
		if err := env.Decode(&f); err != nil {
			return err
		}
		r.deliverEvent(f)
		return nil
	case wire.KindRPCResponse:
		var f wire.RPCResponseFrame
		if err := env.Decode(&f); err != nil {
			return err
		}
		r.deliverResponse(f)
		return nil
	case wire.KindRPCCancel:
		var f wire.RPCCancelFrame
		if err := env.Decode(&f); err != nil {
			return err
		}
		r.cancelLocal(f.CallID)
		return nil
	default:
		return nil
	}
}

// serve runs a local method on behalf of a remote caller (callee is this
// process); it is the server half of the call lifecycle.
func (r *Router) serve(caller identity.ClientID, f wire.RPCRequestFrame) {
	callee := identity.ClientID(f.CalleeID)
	r.mu.Lock()
	m, ok := r.methods[callee][f.MethodName]
	r.mu.Unlock()
	if !ok {
		r.sendResponse(caller, wire.RPCResponseFrame{
			CallID: f.CallID, Status: wire.RPCStatusError,
			Message: fmt.Sprintf("unknown method %q", f.MethodName),
		})
		return
	}
	if m.Schema != nil {
		if err := validateArgs(m.Schema, f.Args); err != nil {
			r.sendResponse(caller, wire.RPCResponseFrame{
				CallID: f.CallID, Status: wire.RPCStatusError,
				Message: (&errs.SchemaError{MethodName: f.MethodName, Detail: err.Error()}).Error(),
			})
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	if r.byCallee[callee] == nil {
		r.byCallee[callee] = make(map[string]context.CancelFunc)
	}
	r.byCallee[callee][f.CallID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.byCallee[callee], f.CallID)
		r.mu.Unlock()
		cancel()
	}()

	emit := func(payload json.RawMessage) {
		r.mu.Lock()
		_, live := r.byCallee[callee][f.CallID]
		r.mu.Unlock()
		if !live {
			return
		}
		env, err := wire.Encode(wire.KindRPCEvent, wire.RPCEventFrame{CallID: f.CallID, Payload: payload})
		if err != nil {
			return
		}
		_ = r.deliver.Deliver(caller, env)
	}

	result, err := m.Handler(ctx, f.Args, emit)
	resp := wire.RPCResponseFrame{CallID: f.CallID}
	switch {
	case ctx.Err() != nil:
		resp.Status = wire.RPCStatusCancelled
		resp.Message = ctx.Err().Error()
	case err != nil:
		resp.Status = wire.RPCStatusError
		resp.Message = err.Error()
	default:
		resp.Status = wire.RPCStatusOK
		resp.Result = result
	}
	r.sendResponse(caller, resp)
}

func (r *Router) sendResponse(caller identity.ClientID, resp wire.RPCResponseFrame) {
	env, err := wire.Encode(wire.KindRPCResponse, resp)
	if err != nil {
		return
	}
	_ = r.deliver.Deliver(caller, env)
}

func (r *Router) cancelLocal(callID string) {
	r.mu.Lock()
	var cancel context.CancelFunc
	for _, cancels := range r.byCallee {
		if c, ok := cancels[callID]; ok {
			cancel = c
			break
		}
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Router) deliverEvent(f wire.RPCEventFrame) {
	r.mu.Lock()
	pc, ok := r.pending[f.CallID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case pc.events <- f:
	default:
	}
}

func (r *Router) deliverResponse(f wire.RPCResponseFrame) {
	r.mu.Lock()
	pc, ok := r.pending[f.CallID]
	if ok {
		delete(r.pending, f.CallID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case pc.done <- f:
	default:
	}
}

// Call performs a unary RPC: caller -> callee, returns result or a
// terminal error. A cancelled call wraps errs.ErrCancelled and a timed-out
// one wraps *errs.TimeoutError; every other error status, a schema failure
// included, comes back as a plain error carrying the callee's message.
func (r *Router) Call(ctx context.Context, caller, callee identity.ClientID, method string, args json.RawMessage) (json.RawMessage, error) {
	result, _, err := r.call(ctx, caller, callee, method, args, nil)
	return result, err
}

// Stream performs a streaming RPC, invoking onEvent for every rpc_event
// before the terminal response, in emission order.
func (r *Router) Stream(ctx context.Context, caller, callee identity.ClientID, method string, args json.RawMessage, onEvent func(json.RawMessage)) (json.RawMessage, error) {
	result, _, err := r.call(ctx, caller, callee, method, args, onEvent)
	return result, err
}

func (r *Router) call(ctx context.Context, caller, callee identity.ClientID, method string, args json.RawMessage, onEvent func(json.RawMessage)) (json.RawMessage, wire.RPCStatus, error) {
	callID := uuid.NewString()
	callCtx, cancel := context.WithTimeout(ctx, DefaultUnaryTimeout)
	defer cancel()

	pc := &pendingCall{
		caller: caller,
		events: make(chan wire.RPCEventFrame, 64),
		done:   make(chan wire.RPCResponseFrame, 1),
		cancel: cancel,
	}
	r.mu.Lock()
	r.pending[callID] = pc
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, callID)
		r.mu.Unlock()
	}()

	env, err := wire.Encode(wire.KindRPCRequest, wire.RPCRequestFrame{
		CallID: callID, CalleeID: string(callee), MethodName: method, Args: args,
	})
	if err != nil {
		return nil, "", err
	}
	if err := r.deliver.Deliver(callee, env); err != nil {
		return nil, "", fmt.Errorf("rpc: call %s: %w", method, err)
	}

	for {
		select {
		case ef := <-pc.events:
			if onEvent != nil {
				onEvent(ef.Payload)
			}
		case resp := <-pc.done:
			// A call's events are queued before its response arrives; hand
			// on any still buffered so none are lost to select's choice.
			for drained := false; !drained; {
				select {
				case ef := <-pc.events:
					if onEvent != nil {
						onEvent(ef.Payload)
					}
				default:
					drained = true
				}
			}
			switch resp.Status {
			case wire.RPCStatusOK:
				return resp.Result, resp.Status, nil
			case wire.RPCStatusCancelled:
				return nil, resp.Status, fmt.Errorf("rpc: call %s: %w", method, errs.ErrCancelled)
			default:
				return nil, resp.Status, fmt.Errorf("rpc: call %s: %s", method, resp.Message)
			}
		case <-callCtx.Done():
			cancelEnv, _ := wire.Encode(wire.KindRPCCancel, wire.RPCCancelFrame{CallID: callID, Reason: "timeout"})
			_ = r.deliver.Deliver(callee, cancelEnv)
			return nil, wire.RPCStatusCancelled, fmt.Errorf("rpc: call %s: %w", method, &errs.TimeoutError{Op: "rpc_call"})
		}
	}
}

func validateArgs(schema map[string]any, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("malformed args: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(decoded))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			msgs[i] = e.String()
		}
		return fmt.Errorf("invalid args: %v", msgs)
	}
	return nil
}
