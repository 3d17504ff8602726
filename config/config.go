// Package config loads the operator's file-based configuration and the
// small set of environment knobs documents separately from it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"communitycore/core/types"
)

// OperatorConfig is the file-based configuration lists under
// "Configuration": operator signing key, token address, community contract
// address, block-freeze seconds, admin-fee fraction, store directory.
type OperatorConfig struct {
	SigningKeystorePath string        `toml:"SigningKeystorePath"`
	TokenAddress        types.Address `toml:"TokenAddress"`
	CommunityAddress    types.Address `toml:"CommunityAddress"`
	AdminAddress        types.Address `toml:"AdminAddress"`
	BlockFreezeSeconds  int64         `toml:"BlockFreezeSeconds"`
	AdminFeeFraction    string        `toml:"AdminFeeFraction"` // decimal, scaled by 1e18
	StoreDir            string        `toml:"StoreDir"`
}

// defaultBlockFreezeSeconds matches documented default.
const defaultBlockFreezeSeconds = 1000

// AdminFeeFractionUint256 parses the configured admin fee fraction.
func (c OperatorConfig) AdminFeeFractionUint256() (*uint256.Int, error) {
	s := strings.TrimSpace(c.AdminFeeFraction)
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("config: invalid AdminFeeFraction %q: %w", s, err)
	}
	return v, nil
}

// Load reads the operator configuration from path, creating a default file
// if none exists yet. Key generation is deliberately absent: signing is the
// out-of-scope wallet's concern, this module only records where its
// keystore lives.
func Load(path string) (*OperatorConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &OperatorConfig{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.BlockFreezeSeconds == 0 {
		cfg.BlockFreezeSeconds = defaultBlockFreezeSeconds
	}
	if cfg.AdminFeeFraction == "" {
		cfg.AdminFeeFraction = "0"
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = filepath.Join(filepath.Dir(path), "community-data")
	}
	return cfg, nil
}

func createDefault(path string) (*OperatorConfig, error) {
	cfg := &OperatorConfig{
		BlockFreezeSeconds: defaultBlockFreezeSeconds,
		AdminFeeFraction:   "0",
		StoreDir:           filepath.Join(filepath.Dir(path), "community-data"),
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *OperatorConfig) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// Env bundles the environment knobs documents alongside the file
// configuration: chain endpoint URL, chain network name, the channel node
// address, storage directory override, quiet flag, reset flag.
type Env struct {
	ChainEndpointURL   string
	ChainNetworkName   string
	ChannelNodeAddress string
	StoreDirOverride   string
	Quiet              bool
	Reset              bool
}

// LoadEnv reads the environment knobs, each under a COMMUNITY_ prefix.
func LoadEnv() Env {
	return Env{
		ChainEndpointURL:   os.Getenv("COMMUNITY_CHAIN_ENDPOINT"),
		ChainNetworkName:   os.Getenv("COMMUNITY_CHAIN_NETWORK"),
		ChannelNodeAddress: os.Getenv("COMMUNITY_CHANNEL_NODE"),
		StoreDirOverride:   os.Getenv("COMMUNITY_STORE_DIR"),
		Quiet:              parseBool(os.Getenv("COMMUNITY_QUIET")),
		Reset:              parseBool(os.Getenv("COMMUNITY_RESET")),
	}
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(s))
	return v
}
