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
package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/identity"
)

type fakeRoster struct {
	clients []identity.ClientID
}

func (f *fakeRoster) Roster(identity.ChannelID) []identity.ClientID { return f.clients }

type fakeCaller struct {
	responses map[string]json.RawMessage
	delay     map[string]time.Duration
}

func (f *fakeCaller) Call(ctx context.Context, caller, callee identity.ClientID, method string, args json.RawMessage) (json.RawMessage, error) {
	key := string(callee) + ":" + method
	if d, ok := f.delay[key]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resp, ok := f.responses[key]; ok {
		return resp, nil
	}
	return nil, context.DeadlineExceeded
}

func TestCanonicalName(t *testing.T) {
	require.Equal(t, "Read", CanonicalName("file.read"))
	require.Equal(t, "unknown.thing", CanonicalName("unknown.thing"))
}

func TestRefreshSkipsTimedOutParticipant(t *testing.T) {
	worker := identity.ClientID("worker-1")
	slow := identity.ClientID("slow-1")
	self := identity.ClientID("agent-1")

	methods, _ := json.Marshal([]MethodDescriptor{{Name: "shell.exec"}})
	caller := &fakeCaller{
		responses: map[string]json.RawMessage{
			string(worker) + ":" + ListMethodsMethod: methods,
		},
		delay: map[string]time.Duration{
			string(slow) + ":" + ListMethodsMethod: 5 * time.Second,
		},
	}
	roster := &fakeRoster{clients: []identity.ClientID{worker, slow, self}}
	reg := New(roster, caller, self)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, reg.Refresh(ctx, "C"))

	entry, ok := reg.Lookup("Bash")
	require.True(t, ok)
	require.Equal(t, worker, entry.Owner)

	_, ok = reg.Lookup("nonexistent")
	require.False(t, ok)
}

func TestGateStandardOnlyPromptsDestructive(t *testing.T) {
	caller := &fakeCaller{responses: map[string]json.RawMessage{}}
	g := NewGate(caller, nil, "agent-1", "panel-1", identity.SessionKey{}, AutonomyStandard)

	require.NoError(t, g.Check(context.Background(), "Read", nil))
}

func TestGateDeniedSurfacesApprovalDenied(t *testing.T) {
	decision, _ := json.Marshal(approveResult{Allow: false})
	caller := &fakeCaller{responses: map[string]json.RawMessage{
		"panel-1:" + RequestApprovalMethod: decision,
	}}
	g := NewGate(caller, nil, "agent-1", "panel-1", identity.SessionKey{}, AutonomyStandard)

	err := g.Check(context.Background(), "Write", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrApprovalDenied)
}

func TestGateAlwaysAllowUpgradesLevel(t *testing.T) {
	decision, _ := json.Marshal(approveResult{Allow: true, AlwaysAllow: true})
	caller := &fakeCaller{responses: map[string]json.RawMessage{
		"panel-1:" + RequestApprovalMethod: decision,
	}}

	var savedBlob json.RawMessage
	updater := settingsUpdaterFunc(func(ctx context.Context, key identity.SessionKey, blob json.RawMessage) error {
		savedBlob = blob
		return nil
	})
	g := NewGate(caller, updater, "agent-1", "panel-1", identity.SessionKey{ChannelID: "c1"}, AutonomyStandard)

	require.NoError(t, g.Check(context.Background(), "Write", nil))
	require.Equal(t, AutonomyAutonomous, g.Level())
	require.Contains(t, string(savedBlob), "autonomy_level")

	// Subsequent destructive calls no longer prompt.
	require.NoError(t, g.Check(context.Background(), "Bash", nil))
}

type settingsUpdaterFunc func(ctx context.Context, key identity.SessionKey, blob json.RawMessage) error

func (f settingsUpdaterFunc) UpdateSettings(ctx context.Context, key identity.SessionKey, blob json.RawMessage) error {
	return f(ctx, key, blob)
}
