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
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/pubsub"
	"github.com/kestrel-systems/parley/internal/wire"
)

// SQLiteStore is the durable Session Store, grounded on
// pkg/communication.SQLiteStore's WAL-mode + busy_timeout discipline:
// writes are fsync'd before acknowledging (SQLite's default synchronous
// mode under WAL), and commit_checkpoint from a stale writer never
// regresses the stored value because CommitCheckpoint's UPDATE stores
// MAX(previous, new).
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex // serializes writers per key at the Go level too
	updates pubsub.Broker[pubsub.Event[Session]]
}

// NewSQLiteStore opens (creating if absent) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite writer serialization; reads share the same WAL connection.

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
	channel_id           TEXT NOT NULL,
	identity_key         TEXT NOT NULL,
	checkpoint_pubsub_id INTEGER NOT NULL DEFAULT 0,
	sdk_session_id       TEXT NOT NULL DEFAULT '',
	settings             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'fresh',
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL,
	PRIMARY KEY (channel_id, identity_key)
);
`)
	if err != nil {
		return fmt.Errorf("session: init schema: %w", err)
	}
	return nil
}

func nowMS() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }

// Load implements Store.Load.
func (s *SQLiteStore) Load(ctx context.Context, key identity.SessionKey) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT checkpoint_pubsub_id, sdk_session_id, settings, status, created_at, updated_at
FROM sessions WHERE channel_id = ? AND identity_key = ?`,
		string(key.ChannelID), string(key.IdentityKey))

	var (
		checkpoint         uint64
		sdkSessionID       string
		settingsText       string
		status             string
		createdAt, updated int64
	)
	if err := row.Scan(&checkpoint, &sdkSessionID, &settingsText, &status, &createdAt, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var settings json.RawMessage
	if settingsText != "" {
		settings = json.RawMessage(settingsText)
	}
	return &Session{
		Key:                key,
		CheckpointPubsubID: checkpoint,
		SDKSessionID:       sdkSessionID,
		Settings:           settings,
		Status:             Status(status),
		CreatedAtUnixMS:    createdAt,
		UpdatedAtUnixMS:    updated,
	}, nil
}

// ExistingSession adapts Load to the narrow view the broker needs at
// admission time (satisfies broker.SessionLookup without internal/broker
// importing this package).
func (s *SQLiteStore) ExistingSession(ctx context.Context, key identity.SessionKey) (*wire.ExistingSession, bool, error) {
	sess, err := s.Load(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if sess == nil {
		return nil, false, nil
	}
	return &wire.ExistingSession{
		Checkpoint:   sess.CheckpointPubsubID,
		SDKSessionID: sess.SDKSessionID,
		Settings:     sess.Settings,
	}, true, nil
}

func (s *SQLiteStore) ensure(ctx context.Context, key identity.SessionKey) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (channel_id, identity_key, checkpoint_pubsub_id, sdk_session_id, settings, status, created_at, updated_at)
VALUES (?, ?, 0, '', '', 'fresh', ?, ?)
ON CONFLICT (channel_id, identity_key) DO NOTHING`,
		string(key.ChannelID), string(key.IdentityKey), now, now)
	return err
}

// CommitCheckpoint implements Store.CommitCheckpoint: monotonic, rejecting a
// strictly smaller value silently (invariant 3 — stored = max(prev, v)).
func (s *SQLiteStore) CommitCheckpoint(ctx context.Context, key identity.SessionKey, pubsubID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(ctx, key); err != nil {
		return fmt.Errorf("session: commit_checkpoint: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions SET checkpoint_pubsub_id = MAX(checkpoint_pubsub_id, ?), updated_at = ?
WHERE channel_id = ? AND identity_key = ?`,
		pubsubID, nowMS(), string(key.ChannelID), string(key.IdentityKey))
	if err != nil {
		return fmt.Errorf("session: commit_checkpoint: %w", err)
	}
	s.publish(ctx, key)
	return nil
}

// UpdateSDKSession implements Store.UpdateSDKSession: last writer wins.
func (s *SQLiteStore) UpdateSDKSession(ctx context.Context, key identity.SessionKey, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(ctx, key); err != nil {
		return fmt.Errorf("session: update_sdk_session: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions SET sdk_session_id = ?, status = 'resumed', updated_at = ?
WHERE channel_id = ? AND identity_key = ?`,
		handle, nowMS(), string(key.ChannelID), string(key.IdentityKey))
	if err != nil {
		return fmt.Errorf("session: update_sdk_session: %w", err)
	}
	s.publish(ctx, key)
	return nil
}

// UpdateSettings implements Store.UpdateSettings: replaces the blob.
func (s *SQLiteStore) UpdateSettings(ctx context.Context, key identity.SessionKey, blob json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(ctx, key); err != nil {
		return fmt.Errorf("session: update_settings: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions SET settings = ?, updated_at = ?
WHERE channel_id = ? AND identity_key = ?`,
		string(blob), nowMS(), string(key.ChannelID), string(key.IdentityKey))
	if err != nil {
		return fmt.Errorf("session: update_settings: %w", err)
	}
	s.publish(ctx, key)
	return nil
}

// GetSettings implements Store.GetSettings.
func (s *SQLiteStore) GetSettings(ctx context.Context, key identity.SessionKey) (json.RawMessage, error) {
	sess, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	return sess.Settings, nil
}

// Delete implements Store.Delete, used only on workspace removal.
func (s *SQLiteStore) Delete(ctx context.Context, key identity.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE channel_id = ? AND identity_key = ?`,
		string(key.ChannelID), string(key.IdentityKey))
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// Subscribe implements Store.Subscribe.
func (s *SQLiteStore) Subscribe(ctx context.Context) <-chan pubsub.Event[Session] {
	return s.updates.Subscribe()
}

func (s *SQLiteStore) publish(ctx context.Context, key identity.SessionKey) {
	sess, err := s.Load(ctx, key)
	if err != nil || sess == nil {
		return
	}
	s.updates.Publish(pubsub.NewUpdatedEvent(*sess))
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
