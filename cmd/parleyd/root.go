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

// Command parleyd runs the agentic messaging substrate: the Channel Hub,
// Session Store, RPC Layer, Tool Registry, Agent Runtime, and Supervisor,
// wired together behind one websocket listener and an admin gRPC surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "parleyd",
	Short:   "Agentic messaging substrate server",
	Long:    `parleyd hosts the pubsub channel fabric, durable session state, RPC layer, and agent supervisor that the rest of the substrate is built on.`,
	Version: "0.1.0",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $PARLEY_DATA_DIR/parleyd.yaml)")
}
