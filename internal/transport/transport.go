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

// Package transport defines the framed, bidirectional byte channel (C1)
// between the broker and a connected participant, and a websocket
// realization of it.
package transport

import (
	"context"

	"github.com/kestrel-systems/parley/internal/wire"
)

// ConnState is one of the explicit connected/disconnected transitions a
// Transport must surface; a disconnect must eventually surface, never hang
// silently.
type ConnState int

const (
	StateConnected ConnState = iota
	StateDisconnected
)

// StateChange is delivered on Transport.Events whenever the connection
// transitions.
type StateChange struct {
	State  ConnState
	Reason string
}

// Transport is a framed, bidirectional byte channel. Ordered and reliable
// within a single connection; keepalives are the transport's concern, not
// the broker's.
type Transport interface {
	// Send writes one frame. Oversized frames fail with errs.ErrPayloadTooLarge
	// without closing the connection.
	Send(ctx context.Context, env *wire.Envelope) error

	// Recv blocks for the next inbound frame.
	Recv(ctx context.Context) (*wire.Envelope, error)

	// Events streams connected/disconnected transitions. Closed after the
	// final disconnected transition is delivered.
	Events() <-chan StateChange

	// Close tears the connection down from this side.
	Close() error
}
