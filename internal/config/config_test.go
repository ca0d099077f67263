package config_test

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkeep-io/llmgateway/internal/config"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	config.RegisterFlags(cmd)
	return cmd
}

func TestLoad_Defaults(t *testing.T) {
	cmd := newTestCmd()
	cfg, err := config.Load(cmd, "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 60, cfg.RateLimitMax)
	assert.Equal(t, int64(120_000), int64(cfg.BrokerDeadlineMs))
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	cmd := newTestCmd()
	require.NoError(t, cmd.PersistentFlags().Set("port", "9090"))
	require.NoError(t, cmd.PersistentFlags().Set("rate-limit-max", "120"))

	cfg, err := config.Load(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 120, cfg.RateLimitMax)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("GATEWAY_API_KEY", "env-key")
	cmd := newTestCmd()

	cfg, err := config.Load(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
}

func TestLoad_RejectsInvalidRateLimit(t *testing.T) {
	cmd := newTestCmd()
	require.NoError(t, cmd.PersistentFlags().Set("rate-limit-max", "0"))

	_, err := config.Load(cmd, "")
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	cmd := newTestCmd()
	require.NoError(t, cmd.PersistentFlags().Set("port", "70000"))

	_, err := config.Load(cmd, "")
	assert.Error(t, err)
}

func TestBrokerDeadline_ConvertsMillisToDuration(t *testing.T) {
	cfg := config.Config{BrokerDeadlineMs: 5000}
	assert.Equal(t, int64(5_000_000_000), cfg.BrokerDeadline().Nanoseconds())
}
