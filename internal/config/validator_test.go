package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{URL: "http://localhost:3000/mcp"},
		Listen:   "0.0.0.0:8080",
		LogLevel: "info",
	}
}

func TestValidateValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidateMissingUpstreamURL(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Upstream.URL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing upstream URL")
	}
	if !strings.Contains(err.Error(), "Upstream.URL") {
		t.Errorf("error %q does not mention the offending field", err)
	}
}

func TestValidateInvalidListenAddr(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Listen = "not-a-host-port"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for malformed listen address")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.LogLevel = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unrecognized log level")
	}
}

func TestValidateApprovalChannelRequiresBothOrNeither(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Approval.SlackBotToken = "xoxb-test"
	cfg.Approval.SlackChannel = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when slack_bot_token is set without slack_channel")
	}
	if !strings.Contains(err.Error(), "slack_bot_token") {
		t.Errorf("error %q does not mention the mismatched fields", err)
	}
}

func TestValidateApprovalChannelBothEmptyIsValid(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error with no approval channel configured: %v", err)
	}
}
