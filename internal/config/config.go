// Package config loads the gateway's runtime configuration (spec §6.5)
// via viper, following the same flags-then-env-then-defaults precedence
// the pack's cobra/viper CLI uses, with a GATEWAY env prefix. An optional
// config file named by a `--config` flag is read inside Load itself.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every tunable the gateway reads at startup. Field names
// mirror spec §6.5 exactly, plus the SPEC_FULL §6.5/§5.6 additions for
// viper's config file and the optional operator session.
type Config struct {
	Port int
	Host string

	DatabaseDriver string
	DatabasePath   string

	APIKey         string
	AgentSecretKey string
	CORSOrigin     string
	LogLevel       string

	RateLimitMax      int
	BrokerDeadlineMs  int

	// ManagementToken, when non-empty, gates /management/* behind a static
	// bearer secret (SPEC_FULL §5.6); empty leaves the façade open, exactly
	// as spec.md describes it.
	ManagementToken    string
	ManagementTokenTTL time.Duration
}

// BrokerDeadline converts BrokerDeadlineMs into a time.Duration; zero
// disables the deadline.
func (c Config) BrokerDeadline() time.Duration {
	return time.Duration(c.BrokerDeadlineMs) * time.Millisecond
}

// defaults mirrors the teacher's gateway.DefaultConfig pattern: sane
// values a developer can run against with no environment set at all.
func defaults() Config {
	return Config{
		Port:               8080,
		Host:               "0.0.0.0",
		DatabaseDriver:     "sqlite",
		DatabasePath:       "gateway.db",
		CORSOrigin:         "*",
		LogLevel:           "info",
		RateLimitMax:       60,
		BrokerDeadlineMs:   120_000,
		ManagementTokenTTL: time.Hour,
	}
}

// RegisterFlags attaches every configuration flag to cmd's persistent flag
// set, so `gatewayd --help` documents them the way a cobra-based CLI in
// the pack would.
func RegisterFlags(cmd *cobra.Command) {
	d := defaults()
	flags := cmd.PersistentFlags()

	flags.Int("port", d.Port, "HTTP bind port")
	flags.String("host", d.Host, "HTTP bind host")
	flags.String("database-driver", d.DatabaseDriver, `persistence driver ("sqlite" or "postgres")`)
	flags.String("database-path", d.DatabasePath, "sqlite file path or postgres DSN")
	flags.String("api-key", "", "if non-empty, required bearer token on /v1/*")
	flags.String("agent-secret-key", "", "if non-empty, required bearer token on /ws")
	flags.String("cors-origin", d.CORSOrigin, "CORS allow-origin header value")
	flags.String("log-level", d.LogLevel, "zap logging level")
	flags.Int("rate-limit-max", d.RateLimitMax, "requests per minute per client on /v1/*")
	flags.Int("broker-deadline-ms", d.BrokerDeadlineMs, "default per-request deadline in milliseconds, 0 disables it")
	flags.String("management-token", "", "if non-empty, required bearer token or session cookie on /management/*")
	flags.Duration("management-token-ttl", d.ManagementTokenTTL, "accepted but not applied; operator sessions always last one hour")
}

// Load binds viper to cmd's flags and the GATEWAY-prefixed environment,
// reading an optional config file first (flags > env > file > defaults),
// and decodes the merged result into a Config.
func Load(cmd *cobra.Command, cfgFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: failed to read config file %q: %w", cfgFile, err)
		}
	}

	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return Config{}, fmt.Errorf("config: failed to bind flags: %w", err)
	}

	cfg := defaults()
	cfg.Port = v.GetInt("port")
	cfg.Host = v.GetString("host")
	cfg.DatabaseDriver = v.GetString("database-driver")
	cfg.DatabasePath = v.GetString("database-path")
	cfg.APIKey = v.GetString("api-key")
	cfg.AgentSecretKey = v.GetString("agent-secret-key")
	cfg.CORSOrigin = v.GetString("cors-origin")
	cfg.LogLevel = v.GetString("log-level")
	cfg.RateLimitMax = v.GetInt("rate-limit-max")
	cfg.BrokerDeadlineMs = v.GetInt("broker-deadline-ms")
	cfg.ManagementToken = v.GetString("management-token")
	if ttl := v.GetDuration("management-token-ttl"); ttl > 0 {
		cfg.ManagementTokenTTL = ttl
	}

	if cfg.RateLimitMax < 1 {
		return Config{}, fmt.Errorf("config: rate-limit-max must be positive, got %d", cfg.RateLimitMax)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: port out of range: %d", cfg.Port)
	}

	return cfg, nil
}
