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

// Package errs holds the error kinds shared across the substrate, matching
// the error taxonomy every layer needs to propagate with errors.Is/As.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Layers wrap these with fmt.Errorf("...: %w", ...) so
// callers can still errors.Is/errors.As through the wrapping.
var (
	ErrAuth             = errors.New("auth rejected")
	ErrNotFound         = errors.New("not found")
	ErrSuperseded       = errors.New("superseded by newer connection")
	ErrReplayTruncated  = errors.New("replay window exceeded, client view is stale")
	ErrApprovalDenied   = errors.New("tool call denied by approval gate")
	ErrPayloadTooLarge  = errors.New("frame payload too large")
	ErrCancelled        = errors.New("cancelled")
	ErrDisconnected     = errors.New("disconnected")
	ErrParentCancelled  = errors.New("parent call cancelled")
	ErrStaleCheckpoint  = errors.New("checkpoint not newer than stored value")
	ErrBackpressure     = errors.New("recipient delivery buffer full")
)

// TransportError wraps a disconnect, framing, or oversize-frame failure. It
// is never terminal for the broker, only for the affected connection.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport error: %s", e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps a malformed frame or unknown frame kind. The
// connection survives if resynchronization is possible.
type ProtocolError struct {
	Kind   string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %s", e.Kind, e.Detail)
}

// SchemaError wraps RPC argument validation failures surfaced to the caller
// as rpc_response{status:error}.
type SchemaError struct {
	MethodName string
	Detail     string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error for %s: %s", e.MethodName, e.Detail)
}

// TimeoutError surfaces as cancelled(timeout); the RPC layer does not retry.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s", e.Op)
}

func (e *TimeoutError) Unwrap() error { return ErrCancelled }

// VendorError wraps a failure surfaced from a vendor SDK turn. The agent
// that raised it remains alive; this is reported to the user as a chat
// message, never a process exit.
type VendorError struct {
	Reason string
	Err    error
}

func (e *VendorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vendor error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("vendor error: %s", e.Reason)
}

func (e *VendorError) Unwrap() error { return e.Err }
