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
package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/parley/internal/identity"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreLoadMissing(t *testing.T) {
	s := newTestStore(t)
	key := identity.SessionKey{ChannelID: "c1", IdentityKey: "k1"}

	got, err := s.Load(context.Background(), key)
	require.NoError(t, err)
	require.Nil(t, got)

	_, ok, err := s.ExistingSession(context.Background(), key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteStoreCommitCheckpointMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := identity.SessionKey{ChannelID: "c1", IdentityKey: "k1"}

	require.NoError(t, s.CommitCheckpoint(ctx, key, 5))
	sess, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 5, sess.CheckpointPubsubID)

	// A stale, smaller checkpoint must not regress the stored value.
	require.NoError(t, s.CommitCheckpoint(ctx, key, 2))
	sess, err = s.Load(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 5, sess.CheckpointPubsubID)

	require.NoError(t, s.CommitCheckpoint(ctx, key, 9))
	sess, err = s.Load(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 9, sess.CheckpointPubsubID)
}

func TestSQLiteStoreUpdateSDKSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := identity.SessionKey{ChannelID: "c1", IdentityKey: "k2"}

	require.NoError(t, s.UpdateSDKSession(ctx, key, "vendor-thread-1"))

	existing, ok, err := s.ExistingSession(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "vendor-thread-1", existing.SDKSessionID)
}

func TestSQLiteStoreSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := identity.SessionKey{ChannelID: "c1", IdentityKey: "k3"}

	blob := json.RawMessage(`{"theme":"dark"}`)
	require.NoError(t, s.UpdateSettings(ctx, key, blob))

	got, err := s.GetSettings(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, string(blob), string(got))
}

func TestSQLiteStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := identity.SessionKey{ChannelID: "c1", IdentityKey: "k4"}

	require.NoError(t, s.CommitCheckpoint(ctx, key, 1))
	require.NoError(t, s.Delete(ctx, key))

	sess, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestSQLiteStoreSubscribeReceivesUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := identity.SessionKey{ChannelID: "c1", IdentityKey: "k5"}

	updates := s.Subscribe(ctx)
	require.NoError(t, s.CommitCheckpoint(ctx, key, 3))

	select {
	case ev := <-updates:
		require.Equal(t, key, ev.Payload.Key)
		require.EqualValues(t, 3, ev.Payload.CheckpointPubsubID)
	default:
		t.Fatal("expected a published update")
	}
}
