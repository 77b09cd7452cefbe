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
package broker

import (
	"fmt"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/wire"
)

// Deliver sends env directly to one participant's connection, bypassing
// Publish's broadcast/persist path. It is how the RPC layer (C4) routes
// rpc_request/rpc_event/rpc_response/rpc_cancel frames, which are always
// point-to-point rather than fanned out.
func (b *Broker) Deliver(clientID identity.ClientID, env *wire.Envelope) error {
	b.mu.RLock()
	chID, ok := b.byClient[clientID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("broker: deliver: %w", errs.ErrNotFound)
	}
	ch, ok := b.lookupChannel(chID)
	if !ok {
		return fmt.Errorf("broker: deliver: %w", errs.ErrNotFound)
	}
	ch.mu.Lock()
	p, ok := ch.roster[clientID]
	ch.mu.Unlock()
	if !ok {
		return fmt.Errorf("broker: deliver: %w", errs.ErrNotFound)
	}
	select {
	case p.deliver <- env:
		return nil
	default:
		return fmt.Errorf("broker: deliver: %w", errs.ErrBackpressure)
	}
}

// Handle returns the display handle for clientID, or "" if not connected.
func (b *Broker) Handle(clientID identity.ClientID) identity.Handle {
	b.mu.RLock()
	chID, ok := b.byClient[clientID]
	b.mu.RUnlock()
	if !ok {
		return ""
	}
	ch, ok := b.lookupChannel(chID)
	if !ok {
		return ""
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if p, ok := ch.roster[clientID]; ok {
		return p.handle
	}
	return ""
}
