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

// Command parleyctl is a thin ops client for a running parleyd: it checks
// admin health over gRPC and can join a channel to publish a message and
// print what comes back, for manual testing without a full panel UI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	adminAddr string
	wsURL     string
)

var rootCmd = &cobra.Command{
	Use:     "parleyctl",
	Short:   "Ops client for a running parleyd",
	Version: "0.1.0",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:7891", "parleyd admin gRPC address")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws-url", "ws://127.0.0.1:7890/ws", "parleyd websocket endpoint")
}
