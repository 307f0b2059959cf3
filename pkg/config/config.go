package config

// Package config provides a reusable loader for the sidechain node's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"

	"github.com/spf13/viper"

	"synnergy-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config represents the unified configuration for a sidechain node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Storage struct {
		DBPath           string `mapstructure:"db_path" json:"db_path"`
		SnapshotInterval int    `mapstructure:"snapshot_interval" json:"snapshot_interval"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	// Enforcer is the §6 gRPC validator service this node dials for parent
	// chain tips, ancestor header batches, and a health check.
	Enforcer struct {
		Address string `mapstructure:"address" json:"address"`
	} `mapstructure:"enforcer" json:"enforcer"`

	// TargetChains maps a parent-chain tag (btc, bch, ltc, signet, regtest)
	// to its Bitcoin-Core-compatible JSON-RPC endpoint (§6 "configuration
	// file format: a JSON object mapping parent-chain tag to
	// {url, user, password}").
	TargetChains map[string]TargetChainEndpointConfig `mapstructure:"target_chains" json:"target_chains"`

	// Node configures the periodic drivers of §4.8. Values of 0 select the
	// core package's own defaults.
	Node struct {
		TipProbeIntervalMS int `mapstructure:"tip_probe_interval_ms" json:"tip_probe_interval_ms"`
		SwapPollIntervalMS int `mapstructure:"swap_poll_interval_ms" json:"swap_poll_interval_ms"`
	} `mapstructure:"node" json:"node"`
}

// TargetChainEndpointConfig is one entry of the target_chains map.
type TargetChainEndpointConfig struct {
	URL      string `mapstructure:"url" json:"url"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // process environment variables override file values

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNN_ENV", ""))
}
