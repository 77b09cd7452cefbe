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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrel-systems/parley/internal/identity"
)

func TestSessionMerge(t *testing.T) {
	key := identity.SessionKey{ChannelID: "c1", IdentityKey: "k1"}

	tests := []struct {
		name     string
		existing Session
		update   Session
		want     Session
	}{
		{
			name:     "checkpoint advances",
			existing: Session{Key: key, CheckpointPubsubID: 5},
			update:   Session{Key: key, CheckpointPubsubID: 8},
			want:     Session{Key: key, CheckpointPubsubID: 8},
		},
		{
			name:     "stale checkpoint update does not regress",
			existing: Session{Key: key, CheckpointPubsubID: 8},
			update:   Session{Key: key, CheckpointPubsubID: 3},
			want:     Session{Key: key, CheckpointPubsubID: 8},
		},
		{
			name:     "sdk session id set when non-empty",
			existing: Session{Key: key, SDKSessionID: ""},
			update:   Session{Key: key, SDKSessionID: "vendor-thread-1"},
			want:     Session{Key: key, SDKSessionID: "vendor-thread-1"},
		},
		{
			name:     "status defaults preserved when update omits it",
			existing: Session{Key: key, Status: StatusResumed},
			update:   Session{Key: key},
			want:     Session{Key: key, Status: StatusResumed},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.existing.Merge(tc.update)
			assert.Equal(t, tc.want, got)
		})
	}
}
