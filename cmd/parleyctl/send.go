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
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/internal/wire"
)

var (
	sendChannel string
	sendHandle  string
	sendText    string
	sendListen  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Join a channel as a panel, publish one message, and print replies",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendChannel, "channel", "default", "channel id to join")
	sendCmd.Flags().StringVar(&sendHandle, "handle", "parleyctl", "display handle")
	sendCmd.Flags().StringVar(&sendText, "text", "hello from parleyctl", "message text")
	sendCmd.Flags().DurationVar(&sendListen, "listen", 2*time.Second, "how long to print incoming events before exiting")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	t, err := transport.Dial(ctx, wsURL, 0)
	if err != nil {
		return fmt.Errorf("parleyctl: dial %s: %w", wsURL, err)
	}
	defer t.Close()

	hello := wire.HelloFrame{
		ChannelID:   sendChannel,
		ContextID:   "parleyctl",
		Handle:      sendHandle,
		IdentityKey: "parleyctl-" + uuid.NewString(),
		Metadata:    map[string]any{"type": "panel"},
	}
	env, err := wire.Encode(wire.KindHello, hello)
	if err != nil {
		return err
	}
	if err := t.Send(ctx, env); err != nil {
		return fmt.Errorf("parleyctl: send hello: %w", err)
	}

	reply, err := t.Recv(ctx)
	if err != nil {
		return fmt.Errorf("parleyctl: await ready: %w", err)
	}
	switch reply.Kind {
	case wire.KindReject:
		var rej wire.RejectFrame
		_ = reply.Decode(&rej)
		return fmt.Errorf("parleyctl: admission rejected: %s", rej.Reason)
	case wire.KindReady:
		var ready wire.ReadyFrame
		if err := reply.Decode(&ready); err != nil {
			return err
		}
		fmt.Printf("joined as %s (client_id=%s)\n", ready.AssignedHandle, ready.ClientID)
	default:
		return fmt.Errorf("parleyctl: unexpected frame %s awaiting ready", reply.Kind)
	}

	content, _ := json.Marshal(sendText)
	pub := wire.PublishFrame{
		Content:     content,
		ContentType: wire.ContentMessage,
		Persist:     true,
	}
	pubEnv, err := wire.Encode(wire.KindPublish, pub)
	if err != nil {
		return err
	}
	if err := t.Send(ctx, pubEnv); err != nil {
		return fmt.Errorf("parleyctl: publish: %w", err)
	}

	deadline := time.Now().Add(sendListen)
	for time.Now().Before(deadline) {
		recvCtx, recvCancel := context.WithDeadline(ctx, deadline)
		env, err := t.Recv(recvCtx)
		recvCancel()
		if err != nil {
			break
		}
		if env.Kind != wire.KindEvent {
			continue
		}
		var ev wire.EventFrame
		if err := env.Decode(&ev); err != nil {
			continue
		}
		fmt.Printf("event #%d from %s: %s\n", ev.PubsubID, ev.SenderID, string(ev.Content))
	}
	return nil
}
