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

// Package config loads substrate-wide configuration via viper, the way
// cmd/looms/config.go loads server/llm/database sections: a YAML file
// discovered across a search path, environment overrides under one
// prefix, and mapstructure-tagged defaults set before Unmarshal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the file viper looks for, sans extension.
const DefaultConfigFileName = "parleyd"

// Config is the root of the substrate's static configuration.
type Config struct {
	DataDir string `mapstructure:"-"`

	Server        ServerConfig        `mapstructure:"server"`
	Broker        BrokerConfig        `mapstructure:"broker"`
	Vendor        VendorConfig        `mapstructure:"vendor"`
	Supervisor    SupervisorConfig    `mapstructure:"supervisor"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig configures the websocket listener and admin surface.
type ServerConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	AdminPort          int    `mapstructure:"admin_port"`
	EnableReflection   bool   `mapstructure:"enable_reflection"`
	MaxFrameBytes      int64  `mapstructure:"max_frame_bytes"`
}

// BrokerConfig configures the Channel Hub.
type BrokerConfig struct {
	ReplayWindow         int           `mapstructure:"replay_window"`
	RosterCoalesceWindow time.Duration `mapstructure:"roster_coalesce_window"`
	SessionDBPath        string        `mapstructure:"session_db_path"`
}

// VendorConfig selects and configures the vendor SDK binding.
type VendorConfig struct {
	Provider          string        `mapstructure:"provider"` // "claude", "bedrock", "mock"
	AnthropicModel    string        `mapstructure:"anthropic_model"`
	BedrockRegion     string        `mapstructure:"bedrock_region"`
	BedrockModelID    string        `mapstructure:"bedrock_model_id"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	TurnWatchdog      time.Duration `mapstructure:"turn_watchdog"`
}

// SupervisorConfig configures worker spawn/idle-unload.
type SupervisorConfig struct {
	IdleUnloadGrace time.Duration `mapstructure:"idle_unload_grace"`
	ActivityGrace   time.Duration `mapstructure:"activity_grace"`
	MaxWorkers      int           `mapstructure:"max_workers"`
}

// ToolsConfig configures discovery and approval defaults.
type ToolsConfig struct {
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	DefaultAutonomy  int           `mapstructure:"default_autonomy"`
}

// ObservabilityConfig configures the embedded tracer.
type ObservabilityConfig struct {
	TracerMode string `mapstructure:"tracer_mode"` // "embedded", "noop"
	MaxSpans   int    `mapstructure:"max_spans"`   // embedded tracer ring buffer size
}

// Load discovers and parses configuration the way cmd/looms/config.go does:
// an explicit path if given, else a search across the data dir, the
// working directory, and /etc; environment variables under the PARLEY_
// prefix override any key.
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dataDir := DataDir()
		viper.AddConfigPath(dataDir)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/parley/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.DataDir = DataDir()
	return &cfg, nil
}

// DataDir returns $PARLEY_DATA_DIR, or ~/.parley if unset.
func DataDir() string {
	if dir := os.Getenv("PARLEY_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(home, ".parley")
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 7890)
	viper.SetDefault("server.admin_port", 7891)
	viper.SetDefault("server.enable_reflection", true)
	viper.SetDefault("server.max_frame_bytes", 1<<20)

	viper.SetDefault("broker.replay_window", 10_000)
	viper.SetDefault("broker.roster_coalesce_window", 100*time.Millisecond)
	viper.SetDefault("broker.session_db_path", filepath.Join(DataDir(), "sessions.db"))

	viper.SetDefault("vendor.provider", "claude")
	viper.SetDefault("vendor.anthropic_model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("vendor.bedrock_region", "us-west-2")
	viper.SetDefault("vendor.bedrock_model_id", "us.anthropic.claude-sonnet-4-5-20250929-v1:0")
	viper.SetDefault("vendor.temperature", 1.0)
	viper.SetDefault("vendor.max_tokens", 4096)
	viper.SetDefault("vendor.turn_watchdog", 120*time.Second)

	viper.SetDefault("supervisor.idle_unload_grace", 10*time.Second)
	viper.SetDefault("supervisor.activity_grace", 2*time.Minute)
	viper.SetDefault("supervisor.max_workers", 32)

	viper.SetDefault("tools.discovery_timeout", 1500*time.Millisecond)
	viper.SetDefault("tools.call_timeout", 30*time.Second)
	viper.SetDefault("tools.default_autonomy", 1)

	viper.SetDefault("observability.tracer_mode", "embedded")
	viper.SetDefault("observability.max_spans", 10000)
}
