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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/parley/internal/wire"
)

func TestPipeSendRecv(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	env, err := wire.Encode(wire.KindPong, wire.PongFrame{})
	require.NoError(t, err)

	require.NoError(t, a.Send(ctx, env))

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.KindPong, got.Kind)
}

func TestPipeCloseSurfacesDisconnect(t *testing.T) {
	a, b := NewPipe()
	require.NoError(t, a.Close())

	_, err := b.Recv(context.Background())
	require.Error(t, err)
}
