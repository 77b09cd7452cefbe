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
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Accept upgrades an incoming HTTP request to a websocket Transport. Used by
// the broker's connection handler.
func Accept(w http.ResponseWriter, r *http.Request, maxFrameSize int64) (*WSTransport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return NewWSTransport(conn, maxFrameSize), nil
}

// Dial connects to a broker endpoint as a client.
func Dial(ctx context.Context, url string, maxFrameSize int64) (*WSTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return NewWSTransport(conn, maxFrameSize), nil
}
