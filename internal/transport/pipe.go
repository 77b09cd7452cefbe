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
	"sync"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/wire"
)

// PipeTransport is an in-process Transport backed by a channel, standing in
// for a real websocket connection in tests and in-process scenario
// harnesses that don't need a network round trip.
type PipeTransport struct {
	out    chan *wire.Envelope
	in     chan *wire.Envelope
	events chan StateChange

	mu     sync.Mutex
	closed bool
}

// NewPipe returns two ends of an in-process connection; writes to one side
// are readable from the other.
func NewPipe() (a, b *PipeTransport) {
	ab := make(chan *wire.Envelope, 64)
	ba := make(chan *wire.Envelope, 64)
	a = &PipeTransport{out: ab, in: ba, events: make(chan StateChange, 4)}
	b = &PipeTransport{out: ba, in: ab, events: make(chan StateChange, 4)}
	a.events <- StateChange{State: StateConnected}
	b.events <- StateChange{State: StateConnected}
	return a, b
}

func (p *PipeTransport) Send(ctx context.Context, env *wire.Envelope) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return &errs.TransportError{Reason: "send on closed pipe"}
	}
	select {
	case p.out <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeTransport) Recv(ctx context.Context) (*wire.Envelope, error) {
	select {
	case env, ok := <-p.in:
		if !ok {
			return nil, &errs.TransportError{Reason: "pipe closed"}
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PipeTransport) Events() <-chan StateChange { return p.events }

func (p *PipeTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.out)
	select {
	case p.events <- StateChange{State: StateDisconnected, Reason: "closed"}:
	default:
	}
	close(p.events)
	return nil
}
