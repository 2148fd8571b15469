package config

import (
	"testing"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestConfigSetDefaults(t *testing.T) {
	resetViper(t)

	var cfg Config
	cfg.SetDefaults()

	if cfg.Listen != "0.0.0.0:8080" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "0.0.0.0:8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if !cfg.Socket.NoDelay {
		t.Error("Socket.NoDelay should default to true")
	}
	if !cfg.Approval.LivenessCheck {
		t.Error("Approval.LivenessCheck should default to true")
	}
	if cfg.Stream.MaxRequestBodyBytes != 1<<20 {
		t.Errorf("MaxRequestBodyBytes = %d, want %d", cfg.Stream.MaxRequestBodyBytes, 1<<20)
	}
}

func TestConfigSetDefaultsHonorsExplicitFalse(t *testing.T) {
	resetViper(t)
	viper.Set("socket.tcp_nodelay", false)
	viper.Set("approval.liveness_check", false)

	var cfg Config
	cfg.SetDefaults()

	if cfg.Socket.NoDelay {
		t.Error("explicit tcp_nodelay=false should not be overridden by the default")
	}
	if cfg.Approval.LivenessCheck {
		t.Error("explicit liveness_check=false should not be overridden by the default")
	}
}

func TestConfigSetDevDefaultsOnlyAppliesWhenDevMode(t *testing.T) {
	resetViper(t)

	var cfg Config
	cfg.SetDevDefaults()
	if cfg.DevPrincipal != "" {
		t.Error("dev defaults should not apply when DevMode is false")
	}

	cfg.DevMode = true
	cfg.SetDevDefaults()
	if cfg.DevPrincipal == "" || cfg.DevNamespace == "" {
		t.Error("dev defaults should fill principal and namespace when DevMode is true")
	}
	if cfg.Policy.Policies == "" {
		t.Error("dev defaults should install a permissive policy when none is configured")
	}
}

func TestConfigDurationHelpersConvertSecondsFields(t *testing.T) {
	cfg := Config{
		Stream: StreamConfig{ReadTimeoutSecs: 30, WriteTimeoutSecs: 45, TotalTimeoutSecs: 300},
	}
	if got := cfg.Stream.ReadTimeout().Seconds(); got != 30 {
		t.Errorf("ReadTimeout = %vs, want 30s", got)
	}
	if got := cfg.Stream.TotalTimeout().Seconds(); got != 300 {
		t.Errorf("TotalTimeout = %vs, want 300s", got)
	}
}
