package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"communitycore/config"
)

func TestLoad_CreatesDefaultFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(1000), cfg.BlockFreezeSeconds)
	require.Equal(t, "0", cfg.AdminFeeFraction)

	_, err = os.Stat(path)
	require.NoError(t, err, "Load must persist the default file it created")
}

func TestLoad_RoundTripsAnExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	_, err := config.Load(path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(1000), cfg.BlockFreezeSeconds)
}

func TestAdminFeeFractionUint256_ParsesDecimalString(t *testing.T) {
	cfg := &config.OperatorConfig{AdminFeeFraction: "500000000000000000"}
	fee, err := cfg.AdminFeeFractionUint256()
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", fee.Dec())
}

func TestAdminFeeFractionUint256_EmptyDefaultsToZero(t *testing.T) {
	cfg := &config.OperatorConfig{}
	fee, err := cfg.AdminFeeFractionUint256()
	require.NoError(t, err)
	require.True(t, fee.IsZero())
}

func TestAdminFeeFractionUint256_RejectsGarbage(t *testing.T) {
	cfg := &config.OperatorConfig{AdminFeeFraction: "not-a-number"}
	_, err := cfg.AdminFeeFractionUint256()
	require.Error(t, err)
}

func TestLoadEnv_ReadsCommunityPrefixedVars(t *testing.T) {
	t.Setenv("COMMUNITY_CHAIN_ENDPOINT", "wss://chain.example/ws")
	t.Setenv("COMMUNITY_CHANNEL_NODE", "wss://channel.example/ws")
	t.Setenv("COMMUNITY_RESET", "true")

	env := config.LoadEnv()
	require.Equal(t, "wss://chain.example/ws", env.ChainEndpointURL)
	require.Equal(t, "wss://channel.example/ws", env.ChannelNodeAddress)
	require.True(t, env.Reset)
}
