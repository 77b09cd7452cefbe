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

// Package wire defines the JSON frame envelope exchanged between broker and
// client, the way pkg/mcp/protocol defines the JSON-RPC 2.0 envelope for
// MCP — one discriminated union keyed by "kind" instead of a method string.
package wire

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the shape of a frame's payload.
type Kind string

const (
	KindHello            Kind = "hello"
	KindReady            Kind = "ready"
	KindReject           Kind = "reject"
	KindPublish          Kind = "publish"
	KindEvent            Kind = "event"
	KindSubscribe        Kind = "subscribe"
	KindUnsubscribe      Kind = "unsubscribe"
	KindRosterUpdate     Kind = "roster_update"
	KindRPCRequest       Kind = "rpc_request"
	KindRPCEvent         Kind = "rpc_event"
	KindRPCResponse      Kind = "rpc_response"
	KindRPCCancel        Kind = "rpc_cancel"
	KindUpdateMetadata   Kind = "update_metadata"
	KindSetChannelTitle  Kind = "set_channel_title"
	KindGetSettings      Kind = "get_settings"
	KindUpdateSettings   Kind = "update_settings"
	KindCommitCheckpoint Kind = "commit_checkpoint"
	KindUpdateSDKSession Kind = "update_sdk_session"
	KindReplayTruncated  Kind = "replay_truncated"
	KindPong             Kind = "pong"
	KindError            Kind = "error"
)

// EventKind distinguishes a live delivery from a replayed one.
type EventKind string

const (
	EventLive   EventKind = "live"
	EventReplay EventKind = "replay"
)

// ContentType enumerates the well-known payload shapes an event/publish
// frame may carry. Any other string is accepted and passed through opaquely.
type ContentType string

const (
	ContentMessage    ContentType = "message"
	ContentTyping     ContentType = "typing"
	ContentInlineUI   ContentType = "inline_ui"
	ContentRPCRequest ContentType = "rpc_request"
	ContentRPCResp    ContentType = "rpc_response"
	ContentRPCEvent   ContentType = "rpc_event"
)

// Attachment is a content-addressed reference to binary data framed
// separately from the JSON envelope.
type Attachment struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Envelope is the outer frame: a discriminated union on Kind. Payload is
// decoded into the concrete type matching Kind via Decode.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a typed payload into an Envelope ready for transport.Send.
func Encode(kind Kind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", kind, err)
	}
	return &Envelope{Kind: kind, Payload: raw}, nil
}

// Marshal encodes and serializes a frame in one step.
func Marshal(kind Kind, payload any) ([]byte, error) {
	env, err := Encode(kind, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal parses a raw frame into an Envelope without decoding its payload.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: invalid frame: %w", err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("wire: frame missing kind")
	}
	return &env, nil
}

// Decode unmarshals the envelope's payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// HelloFrame — client -> broker, admission request.
type HelloFrame struct {
	Token         string         `json:"token"`
	ChannelID     string         `json:"channel_id"`
	ContextID     string         `json:"context_id"`
	Handle        string         `json:"handle"`
	Metadata      map[string]any `json:"metadata"`
	IdentityKey   string         `json:"identity_key"`
	ReplaySinceID *uint64        `json:"replay_since_id,omitempty"`
}

// ExistingSession is the session snapshot returned to a resuming client.
type ExistingSession struct {
	Checkpoint   uint64          `json:"checkpoint"`
	SDKSessionID string          `json:"sdk_session_id,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
}

// ReadyFrame — broker -> client, admission accepted.
type ReadyFrame struct {
	ClientID        string           `json:"client_id"`
	ChannelID       string           `json:"channel_id"`
	AssignedHandle  string           `json:"assigned_handle"`
	ExistingSession *ExistingSession `json:"existing_session,omitempty"`
	ChannelConfig   map[string]any   `json:"channel_config,omitempty"`
}

// RejectFrame — broker -> client, admission refused.
type RejectFrame struct {
	Reason string `json:"reason"`
}

// PublishFrame — client -> broker, new event.
type PublishFrame struct {
	Content            json.RawMessage `json:"content"`
	ContentType        ContentType     `json:"content_type"`
	ReplyTo            string          `json:"reply_to,omitempty"`
	Persist            bool            `json:"persist"`
	TargetedRecipients []string        `json:"targeted,omitempty"`
	Attachments        []Attachment    `json:"attachments,omitempty"`
}

// EventFrame — broker -> client, delivered event.
type EventFrame struct {
	PubsubID    uint64          `json:"pubsub_id"`
	Kind        EventKind       `json:"kind"`
	SenderID    string          `json:"sender_id"`
	Content     json.RawMessage `json:"content"`
	ContentType ContentType     `json:"content_type"`
	ReplyTo     string          `json:"reply_to,omitempty"`
	Persist     bool            `json:"persist"`
	Timestamp   int64           `json:"timestamp"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

// ReplayTruncatedFrame — broker -> client, requested replay_since_id fell
// outside the retained window.
type ReplayTruncatedFrame struct {
	FromID uint64 `json:"from_id"`
}

// RosterParticipant is one entry of a roster_update snapshot.
type RosterParticipant struct {
	ClientID string         `json:"client_id"`
	Handle   string         `json:"handle"`
	Metadata map[string]any `json:"metadata"`
}

// RosterUpdateFrame — broker -> client, roster changed.
type RosterUpdateFrame struct {
	Participants []RosterParticipant `json:"participants"`
}

// RPCRequestFrame — client -> client (via broker), always targeted.
type RPCRequestFrame struct {
	CallID     string          `json:"call_id"`
	CalleeID   string          `json:"callee_id"`
	MethodName string          `json:"method_name"`
	Args       json.RawMessage `json:"args"`
}

// RPCEventFrame — callee -> caller, one of zero or more streaming updates.
type RPCEventFrame struct {
	CallID  string          `json:"call_id"`
	Payload json.RawMessage `json:"payload"`
}

// RPCStatus is the terminal state of an RPC call.
type RPCStatus string

const (
	RPCStatusOK        RPCStatus = "ok"
	RPCStatusError     RPCStatus = "error"
	RPCStatusCancelled RPCStatus = "cancelled"
)

// RPCResponseFrame — callee -> caller, terminal frame for a call.
type RPCResponseFrame struct {
	CallID  string          `json:"call_id"`
	Status  RPCStatus       `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

// RPCCancelFrame — caller -> callee, request early termination.
type RPCCancelFrame struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

// CommitCheckpointFrame — client -> broker.
type CommitCheckpointFrame struct {
	PubsubID uint64 `json:"pubsub_id"`
}

// UpdateSDKSessionFrame — client -> broker.
type UpdateSDKSessionFrame struct {
	HandleOpaque string `json:"handle_opaque"`
}

// SettingsFrame carries a blob for both update_settings (request) and
// get_settings (response).
type SettingsFrame struct {
	Blob json.RawMessage `json:"blob,omitempty"`
}

// SetChannelTitleFrame — client -> broker.
type SetChannelTitleFrame struct {
	Title string `json:"title"`
}

// UpdateMetadataFrame — client -> broker, merges into Participant.Metadata.
type UpdateMetadataFrame struct {
	Metadata map[string]any `json:"metadata"`
}

// SubscribeFrame / UnsubscribeFrame toggle delivery of a secondary channel
// on an already-admitted connection (e.g. a panel observing a worker's
// private diagnostics channel).
type SubscribeFrame struct {
	ChannelID     string  `json:"channel_id"`
	ReplaySinceID *uint64 `json:"replay_since_id,omitempty"`
}

type UnsubscribeFrame struct {
	ChannelID string `json:"channel_id"`
}

// ErrorFrame answers a malformed or rejected frame without poisoning the
// connection.
type ErrorFrame struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PongFrame answers a transport keepalive.
type PongFrame struct{}
