// Package config provides configuration types for ThoughtGate.
//
// ThoughtGate is environment-variable driven per its external interface
// contract: every setting in this struct has a THOUGHTGATE_-prefixed env
// var, with an optional YAML file layer for local development ergonomics
// that environment variables always override.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level ThoughtGate configuration.
type Config struct {
	// Upstream is the single MCP server this proxy sits in front of.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Listen is the proxy's own inbound address.
	Listen string `yaml:"listen" mapstructure:"listen" validate:"omitempty,hostname_port"`

	// Socket configures TCP-level tuning applied to both the inbound
	// listener and the outbound upstream dial pool.
	Socket SocketConfig `yaml:"socket" mapstructure:"socket"`

	// Stream configures the Green-path body-streaming timers and the
	// global concurrency ceiling.
	Stream StreamConfig `yaml:"stream" mapstructure:"stream"`

	// Policy configures the Cedar policy engine and its hot-reload cadence.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Approval configures the human-in-the-loop approval coordinator and
	// its Slack-shaped reviewer channel.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// Lifecycle configures the graceful-shutdown drain window.
	Lifecycle LifecycleConfig `yaml:"lifecycle" mapstructure:"lifecycle"`

	// RateLimit configures the per-principal request ceiling applied
	// ahead of policy evaluation.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// LogLevel sets the minimum structured-log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// DevMode enables permissive defaults (a dev principal/namespace and
	// a default allow-all policy) so the proxy can run with minimal
	// configuration. Recognized only when the literal value is "true".
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`

	// DevPrincipal and DevNamespace seed the principal identity used
	// when DevMode is on and no upstream auth has supplied one.
	DevPrincipal string `yaml:"dev_principal" mapstructure:"dev_principal"`
	DevNamespace string `yaml:"dev_namespace" mapstructure:"dev_namespace"`
}

// UpstreamConfig configures the single upstream MCP server.
type UpstreamConfig struct {
	// URL is the target MCP server address. Required.
	URL string `yaml:"url" mapstructure:"url" validate:"required,url"`
}

// SocketConfig configures TCP-level socket tuning (internal/nettune).
type SocketConfig struct {
	// NoDelay disables Nagle's algorithm. Defaults to true.
	NoDelay bool `yaml:"tcp_nodelay" mapstructure:"tcp_nodelay"`

	// KeepAliveSecs is the TCP keepalive probe period in seconds.
	// 0 disables keepalive tuning (OS default applies).
	KeepAliveSecs int `yaml:"tcp_keepalive_secs" mapstructure:"tcp_keepalive_secs" validate:"omitempty,min=0"`

	// BufferBytes sets SO_SNDBUF/SO_RCVBUF on both listener and dial
	// sockets. 0 leaves the OS default.
	BufferBytes int `yaml:"socket_buffer_bytes" mapstructure:"socket_buffer_bytes" validate:"omitempty,min=0"`
}

// KeepAlivePeriod returns KeepAliveSecs as a time.Duration.
func (s SocketConfig) KeepAlivePeriod() time.Duration {
	return time.Duration(s.KeepAliveSecs) * time.Second
}

// StreamConfig configures Green-path body streaming timers and the
// global in-flight concurrency ceiling.
type StreamConfig struct {
	ReadTimeoutSecs  int `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs" validate:"omitempty,min=1"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs" validate:"omitempty,min=1"`
	TotalTimeoutSecs int `yaml:"total_timeout_secs" mapstructure:"total_timeout_secs" validate:"omitempty,min=1"`

	// MaxConcurrent is the global semaphore capacity for in-flight
	// requests. 0 means unbounded.
	MaxConcurrent int `yaml:"max_concurrent_streams" mapstructure:"max_concurrent_streams" validate:"omitempty,min=0"`

	// MaxRequestBodyBytes bounds the inbound request body size.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes" mapstructure:"max_request_body_bytes" validate:"omitempty,min=1"`
}

func (s StreamConfig) ReadTimeout() time.Duration  { return time.Duration(s.ReadTimeoutSecs) * time.Second }
func (s StreamConfig) WriteTimeout() time.Duration { return time.Duration(s.WriteTimeoutSecs) * time.Second }
func (s StreamConfig) TotalTimeout() time.Duration { return time.Duration(s.TotalTimeoutSecs) * time.Second }

// PolicyConfig configures the Cedar policy engine.
type PolicyConfig struct {
	// File is the path to the Cedar policy set. Required unless
	// DevMode is on and Policies is also empty, in which case
	// SetDevDefaults installs a permissive in-memory policy.
	File string `yaml:"policy_file" mapstructure:"policy_file"`

	// SchemaFile is the path to the Cedar schema used to validate
	// policy entity types at load time.
	SchemaFile string `yaml:"schema_file" mapstructure:"schema_file"`

	// Policies is an inline policy blob, an alternative to File for
	// environments that cannot mount a file (e.g. a single env var
	// holding the whole policy set).
	Policies string `yaml:"policies" mapstructure:"policies"`

	// ReloadIntervalSecs is the hot-reload poll period. 0 disables
	// polling (the file is loaded once at startup).
	ReloadIntervalSecs int `yaml:"reload_interval_secs" mapstructure:"reload_interval_secs" validate:"omitempty,min=0"`
}

func (p PolicyConfig) ReloadInterval() time.Duration {
	return time.Duration(p.ReloadIntervalSecs) * time.Second
}

// ApprovalConfig configures the approval coordinator and its reviewer
// channel (currently Slack-shaped).
type ApprovalConfig struct {
	TimeoutSecs         int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"omitempty,min=1"`
	PollIntervalSecs    int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs" validate:"omitempty,min=1"`
	PollMaxIntervalSecs int    `yaml:"poll_max_interval_secs" mapstructure:"poll_max_interval_secs" validate:"omitempty,min=1"`
	LivenessCheck       bool   `yaml:"liveness_check" mapstructure:"liveness_check"`
	SlackBotToken       string `yaml:"slack_bot_token" mapstructure:"slack_bot_token"`
	SlackChannel        string `yaml:"slack_channel" mapstructure:"slack_channel"`
	SlackApproveReaction string `yaml:"slack_approve_reaction" mapstructure:"slack_approve_reaction"`
	SlackRejectReaction  string `yaml:"slack_reject_reaction" mapstructure:"slack_reject_reaction"`
}

func (a ApprovalConfig) Timeout() time.Duration         { return time.Duration(a.TimeoutSecs) * time.Second }
func (a ApprovalConfig) PollInterval() time.Duration    { return time.Duration(a.PollIntervalSecs) * time.Second }
func (a ApprovalConfig) PollMaxInterval() time.Duration { return time.Duration(a.PollMaxIntervalSecs) * time.Second }

// LifecycleConfig configures the graceful-shutdown drain window.
type LifecycleConfig struct {
	DrainTimeoutSecs int `yaml:"drain_timeout_secs" mapstructure:"drain_timeout_secs" validate:"omitempty,min=1"`
}

func (l LifecycleConfig) DrainTimeout() time.Duration {
	return time.Duration(l.DrainTimeoutSecs) * time.Second
}

// RateLimitConfig configures the GCRA rate limiter applied per principal
// ahead of policy evaluation; the source IP is not a key (spec §13's supplemented
// rate-limiting feature).
type RateLimitConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	Rate       int  `yaml:"rate" mapstructure:"rate" validate:"omitempty,min=1"`
	Burst      int  `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`
	PeriodSecs int  `yaml:"period_secs" mapstructure:"period_secs" validate:"omitempty,min=1"`
}

func (r RateLimitConfig) Period() time.Duration {
	return time.Duration(r.PeriodSecs) * time.Second
}

// SetDefaults applies sensible default values, matching the teacher's
// SetDefaults pattern of only filling fields still at their zero value
// so explicit config always wins.
func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if !viper.IsSet("socket.tcp_nodelay") {
		c.Socket.NoDelay = true
	}

	if c.Stream.ReadTimeoutSecs == 0 {
		c.Stream.ReadTimeoutSecs = 30
	}
	if c.Stream.WriteTimeoutSecs == 0 {
		c.Stream.WriteTimeoutSecs = 30
	}
	if c.Stream.TotalTimeoutSecs == 0 {
		c.Stream.TotalTimeoutSecs = 300
	}
	if c.Stream.MaxRequestBodyBytes == 0 {
		c.Stream.MaxRequestBodyBytes = 1 << 20 // 1 MiB, per the external-interface default
	}

	if c.Policy.ReloadIntervalSecs == 0 {
		c.Policy.ReloadIntervalSecs = 30
	}

	if c.Approval.TimeoutSecs == 0 {
		c.Approval.TimeoutSecs = 300
	}
	if c.Approval.PollIntervalSecs == 0 {
		c.Approval.PollIntervalSecs = 5
	}
	if c.Approval.PollMaxIntervalSecs == 0 {
		c.Approval.PollMaxIntervalSecs = 30
	}
	// LivenessCheck MUST default to true (external-interface contract).
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly
	// false", the same idiom the teacher uses for HTTPGateway.Enabled
	// and RateLimit.Enabled.
	if !viper.IsSet("approval.liveness_check") {
		c.Approval.LivenessCheck = true
	}
	if c.Approval.SlackApproveReaction == "" {
		c.Approval.SlackApproveReaction = "thumbsup"
	}
	if c.Approval.SlackRejectReaction == "" {
		c.Approval.SlackRejectReaction = "thumbsdown"
	}

	if c.Lifecycle.DrainTimeoutSecs == 0 {
		c.Lifecycle.DrainTimeoutSecs = 30
	}

	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = 100
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.Rate
	}
	if c.RateLimit.PeriodSecs == 0 {
		c.RateLimit.PeriodSecs = 60
	}
}

// SetDevDefaults applies permissive defaults for development mode,
// filled in before validation so required fields are satisfied. Mirrors
// the teacher's SetDevDefaults: called only when DevMode is true, and
// only fills fields still empty.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.DevPrincipal == "" {
		c.DevPrincipal = "dev-agent"
	}
	if c.DevNamespace == "" {
		c.DevNamespace = "dev"
	}
	if c.Policy.File == "" && c.Policy.Policies == "" {
		c.Policy.Policies = `permit(principal, action, resource);`
	}
}
