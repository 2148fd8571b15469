package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for thoughtgate.yaml/.yml
// in standard locations. The search requires an explicit YAML extension
// to avoid matching the binary itself, which Viper's built-in
// SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("thoughtgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: THOUGHTGATE_UPSTREAM_URL, etc.
	viper.SetEnvPrefix("THOUGHTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindEnvAliases()
	bindNestedEnvKeys()
}

// bindEnvAliases binds the exact top-level env var names named in the
// external-interface table (UPSTREAM_URL, LISTEN, ...) so the contract
// holds even though they don't carry the THOUGHTGATE_ prefix Viper would
// otherwise require for a nested key.
func bindEnvAliases() {
	alias := func(key, env string) { _ = viper.BindEnv(key, env) }

	alias("upstream.url", "UPSTREAM_URL")
	alias("listen", "LISTEN")

	alias("socket.tcp_nodelay", "TCP_NODELAY")
	alias("socket.tcp_keepalive_secs", "TCP_KEEPALIVE_SECS")
	alias("socket.socket_buffer_bytes", "SOCKET_BUFFER_BYTES")

	alias("stream.read_timeout_secs", "STREAM_READ_TIMEOUT_SECS")
	alias("stream.write_timeout_secs", "STREAM_WRITE_TIMEOUT_SECS")
	alias("stream.total_timeout_secs", "STREAM_TOTAL_TIMEOUT_SECS")
	alias("stream.max_concurrent_streams", "MAX_CONCURRENT_STREAMS")
	alias("stream.max_request_body_bytes", "MAX_REQUEST_BODY_BYTES")

	alias("policy.policy_file", "POLICY_FILE")
	alias("policy.schema_file", "SCHEMA_FILE")
	alias("policy.policies", "POLICIES")
	alias("policy.reload_interval_secs", "POLICY_RELOAD_INTERVAL_SECS")

	alias("dev_mode", "DEV_MODE")
	alias("dev_principal", "DEV_PRINCIPAL")
	alias("dev_namespace", "DEV_NAMESPACE")

	alias("approval.timeout_secs", "APPROVAL_TIMEOUT_SECS")
	alias("approval.poll_interval_secs", "APPROVAL_POLL_INTERVAL_SECS")
	alias("approval.poll_max_interval_secs", "APPROVAL_POLL_MAX_INTERVAL_SECS")
	alias("approval.liveness_check", "APPROVAL_LIVENESS_CHECK")
	alias("approval.slack_bot_token", "SLACK_BOT_TOKEN")
	alias("approval.slack_channel", "SLACK_CHANNEL")
	alias("approval.slack_approve_reaction", "SLACK_APPROVE_REACTION")
	alias("approval.slack_reject_reaction", "SLACK_REJECT_REACTION")

	alias("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	alias("rate_limit.rate", "RATE_LIMIT_RATE")
	alias("rate_limit.burst", "RATE_LIMIT_BURST")
	alias("rate_limit.period_secs", "RATE_LIMIT_PERIOD_SECS")
}

// bindNestedEnvKeys binds the remaining config keys for THOUGHTGATE_-
// prefixed env var support, the same way the teacher's bindNestedEnvKeys
// does for SENTINEL_GATE_-prefixed keys.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("lifecycle.drain_timeout_secs")
}

// findConfigFile searches standard locations for a thoughtgate config
// file with an explicit YAML extension (.yaml or .yml). This prevents
// Viper from matching the binary "thoughtgate" (no extension) in the
// current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".thoughtgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "thoughtgate"))
		}
	} else {
		paths = append(paths, "/etc/thoughtgate")
	}
	return findConfigFileInPaths(paths)
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "thoughtgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the assembled Config. Callers should apply
// any CLI flag overrides (e.g. --dev) before SetDevDefaults/Validate if
// they need flags to win over YAML but still be validated; LoadConfig
// itself always applies both dev defaults and validation.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use this when CLI flags may
// override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Unmarshal decodes dev_mode as a bool ("1", "t", "TRUE" all count);
	// only the literal "true" enables dev mode.
	if viper.IsSet("dev_mode") {
		cfg.DevMode = viper.GetString("dev_mode") == "true"
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or an empty string if no config file was found (env vars only).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
