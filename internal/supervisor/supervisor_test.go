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
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/internal/wire"
	"github.com/kestrel-systems/parley/pkg/vendorsdk"
	"github.com/kestrel-systems/parley/pkg/vendorsdk/mock"
)

// stubBroker answers every connection's hello with ready and otherwise
// drains frames, standing in for a real broker.Serve loop in tests that
// only exercise Supervisor's spawn/restart/unload bookkeeping.
type stubBroker struct {
	mu      sync.Mutex
	dialed  int
	nextTag int
}

func (b *stubBroker) dial(ctx context.Context) (transport.Transport, error) {
	client, server := transport.NewPipe()

	b.mu.Lock()
	b.dialed++
	tag := fmt.Sprintf("worker-%d", b.nextTag)
	b.nextTag++
	b.mu.Unlock()

	go func() {
		helloEnv, err := server.Recv(ctx)
		if err != nil || helloEnv.Kind != wire.KindHello {
			return
		}
		readyEnv, _ := wire.Encode(wire.KindReady, wire.ReadyFrame{
			ClientID:       tag,
			ChannelID:      "C",
			AssignedHandle: tag,
		})
		if err := server.Send(ctx, readyEnv); err != nil {
			return
		}
		for {
			if _, err := server.Recv(ctx); err != nil {
				return
			}
		}
	}()

	return client, nil
}

func testConfig(t *testing.T, broker *stubBroker, provider vendorsdk.Provider) Config {
	t.Helper()
	return Config{
		Dial:         broker.dial,
		Providers:    func(string) (vendorsdk.Provider, error) { return provider, nil },
		ReaperPeriod: 50 * time.Millisecond,
	}
}

func TestSpawnAssignsWorkerIDAndTracksWorker(t *testing.T) {
	broker := &stubBroker{}
	provider := &mock.Provider{Script: []mock.Turn{{Text: "hi"}}}
	sv := New(testConfig(t, broker, provider))
	sv.RegisterManifest(AgentManifest{AgentType: "claude"})
	require.NoError(t, sv.Start())
	defer sv.Stop(context.Background())

	id, err := sv.Spawn(context.Background(), "claude", StateArgs{Channel: "C", IdentityKey: "K1", Handle: "agent"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return len(sv.Workers()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSpawnUnknownAgentTypeFails(t *testing.T) {
	broker := &stubBroker{}
	sv := New(testConfig(t, broker, &mock.Provider{}))
	_, err := sv.Spawn(context.Background(), "nope", StateArgs{})
	require.Error(t, err)
}

func TestSpawnCoalescesConcurrentRequestsForSameIdentity(t *testing.T) {
	broker := &stubBroker{}
	provider := &mock.Provider{Script: []mock.Turn{{Text: "hi"}}}
	sv := New(testConfig(t, broker, provider))
	sv.RegisterManifest(AgentManifest{AgentType: "claude"})
	require.NoError(t, sv.Start())
	defer sv.Stop(context.Background())

	args := StateArgs{Channel: "C", IdentityKey: "K1", Handle: "agent"}
	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := sv.Spawn(context.Background(), "claude", args)
			require.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id)
	}
	require.Equal(t, 1, broker.dialed)
}

func TestUnloadCancelsWorker(t *testing.T) {
	broker := &stubBroker{}
	provider := &mock.Provider{Script: []mock.Turn{{Text: "hi"}}}
	sv := New(testConfig(t, broker, provider))
	sv.RegisterManifest(AgentManifest{AgentType: "claude"})
	require.NoError(t, sv.Start())
	defer sv.Stop(context.Background())

	id, err := sv.Spawn(context.Background(), "claude", StateArgs{Channel: "C", IdentityKey: "K1", Handle: "agent"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sv.Workers()) == 1 }, time.Second, 5*time.Millisecond)

	sv.Unload(id)
	require.Eventually(t, func() bool { return len(sv.Workers()) == 0 }, time.Second, 5*time.Millisecond)
}

// crashingDial hands out a transport whose Recv always errors after hello,
// simulating a worker whose connection dies immediately so Agent.Run
// returns a non-nil, non-context error and the crash/restart path fires.
type crashingDial struct {
	broker *stubBroker
	calls  int32
}

func (c *crashingDial) dial(ctx context.Context) (transport.Transport, error) {
	atomic.AddInt32(&c.calls, 1)
	client, server := c.broker.rawPipe()
	go func() {
		helloEnv, err := server.Recv(ctx)
		if err != nil || helloEnv.Kind != wire.KindHello {
			return
		}
		readyEnv, _ := wire.Encode(wire.KindReady, wire.ReadyFrame{ClientID: "w", ChannelID: "C", AssignedHandle: "w"})
		_ = server.Send(ctx, readyEnv)
		_ = server.Close()
	}()
	return client, nil
}

func (b *stubBroker) rawPipe() (transport.Transport, transport.Transport) {
	return transport.NewPipe()
}

func TestRestartOnCrashRelaunches(t *testing.T) {
	broker := &stubBroker{}
	dialer := &crashingDial{broker: broker}
	provider := &mock.Provider{Script: []mock.Turn{{Text: "hi"}}}
	sv := New(Config{
		Dial:         dialer.dial,
		Providers:    func(string) (vendorsdk.Provider, error) { return provider, nil },
		ReaperPeriod: 50 * time.Millisecond,
	})
	sv.RegisterManifest(AgentManifest{AgentType: "claude", RestartOnCrash: true})
	require.NoError(t, sv.Start())
	defer sv.Stop(context.Background())

	_, err := sv.Spawn(context.Background(), "claude", StateArgs{Channel: "C", IdentityKey: "K1", Handle: "agent"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&dialer.calls) >= 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestMaxWorkersCapEnforced(t *testing.T) {
	broker := &stubBroker{}
	provider := &mock.Provider{Script: []mock.Turn{{Text: "hi"}}}
	sv := New(Config{
		Dial:         broker.dial,
		Providers:    func(string) (vendorsdk.Provider, error) { return provider, nil },
		MaxWorkers:   1,
		ReaperPeriod: 50 * time.Millisecond,
	})
	sv.RegisterManifest(AgentManifest{AgentType: "claude"})
	require.NoError(t, sv.Start())
	defer sv.Stop(context.Background())

	_, err := sv.Spawn(context.Background(), "claude", StateArgs{Channel: "C", IdentityKey: "K1", Handle: "agent"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sv.Workers()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = sv.Spawn(context.Background(), "claude", StateArgs{Channel: "C", IdentityKey: "K2", Handle: "agent2"})
	require.Error(t, err)
}
