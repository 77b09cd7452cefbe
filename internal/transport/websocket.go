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
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/wire"
)

// DefaultMaxFrameBytes bounds a single frame; larger publishes fail the
// sender with errs.ErrPayloadTooLarge instead of closing the connection.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

// WSTransport adapts a coder/websocket connection to the Transport
// interface, framing one JSON object per websocket text message — a
// websocket message is already a frame, so no length-prefixing is needed
// the way a raw TCP stream would require.
type WSTransport struct {
	conn         *websocket.Conn
	maxFrameSize int64

	mu       sync.Mutex
	closed   bool
	events   chan StateChange
	closeErr error
}

// NewWSTransport wraps an already-accepted or already-dialed websocket
// connection.
func NewWSTransport(conn *websocket.Conn, maxFrameSize int64) *WSTransport {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameBytes
	}
	conn.SetReadLimit(maxFrameSize + 4096) // small slack for JSON envelope overhead
	t := &WSTransport{
		conn:         conn,
		maxFrameSize: maxFrameSize,
		events:       make(chan StateChange, 4),
	}
	t.events <- StateChange{State: StateConnected}
	return t
}

func (t *WSTransport) Send(ctx context.Context, env *wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("send %s: encode: %w", env.Kind, err)
	}
	if int64(len(data)) > t.maxFrameSize {
		return fmt.Errorf("send %s: %w", env.Kind, errs.ErrPayloadTooLarge)
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &errs.TransportError{Reason: "write", Err: err}
	}
	return nil
}

func (t *WSTransport) Recv(ctx context.Context) (*wire.Envelope, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		t.surfaceDisconnect(err)
		return nil, &errs.TransportError{Reason: "read", Err: err}
	}
	env, err := wire.Unmarshal(data)
	if err != nil {
		return nil, &errs.ProtocolError{Kind: "decode", Detail: err.Error()}
	}
	return env, nil
}

func (t *WSTransport) Events() <-chan StateChange { return t.events }

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return t.closeErr
	}
	t.closed = true
	t.closeErr = t.conn.Close(websocket.StatusNormalClosure, "closed")
	t.emit(StateChange{State: StateDisconnected, Reason: "closed"})
	close(t.events)
	return t.closeErr
}

func (t *WSTransport) surfaceDisconnect(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.emit(StateChange{State: StateDisconnected, Reason: cause.Error()})
	close(t.events)
}

func (t *WSTransport) emit(sc StateChange) {
	select {
	case t.events <- sc:
	default:
	}
}
