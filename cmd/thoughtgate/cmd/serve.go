// Package cmd provides the CLI commands for ThoughtGate.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thoughtgate/thoughtgate/internal/adapter/inbound/http"
	"github.com/thoughtgate/thoughtgate/internal/adapter/outbound/celctx"
	"github.com/thoughtgate/thoughtgate/internal/adapter/outbound/cedar"
	"github.com/thoughtgate/thoughtgate/internal/adapter/outbound/memory"
	"github.com/thoughtgate/thoughtgate/internal/adapter/outbound/upstream"
	"github.com/thoughtgate/thoughtgate/internal/approval"
	"github.com/thoughtgate/thoughtgate/internal/approval/reviewer"
	"github.com/thoughtgate/thoughtgate/internal/config"
	"github.com/thoughtgate/thoughtgate/internal/domain/ratelimit"
	"github.com/thoughtgate/thoughtgate/internal/lifecycle"
	"github.com/thoughtgate/thoughtgate/internal/nettune"
	"github.com/thoughtgate/thoughtgate/internal/orchestrator"
	"github.com/thoughtgate/thoughtgate/internal/principal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long: `Start the ThoughtGate proxy server.

ThoughtGate sits in front of a single MCP server (UPSTREAM_URL) and
evaluates every JSON-RPC tool call against a Cedar policy before
forwarding it, rejecting it, or routing it through a human-in-the-loop
Slack approval.

Examples:
  # Start with config file settings
  thoughtgate serve

  # Start with a specific config file
  thoughtgate --config /path/to/thoughtgate.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, permissive defaults)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("thoughtgate stopped")
	return nil
}

// serve wires every adapter together behind the orchestrator and runs
// the inbound HTTP transport until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	p := principal.Detect(devOverrideString(cfg.DevMode), cfg.DevPrincipal, cfg.DevNamespace)
	logger.Info("principal detected",
		"app_name", p.AppName, "namespace", p.Namespace, "service_account", p.ServiceAccount)

	socketCfg := nettune.Config{
		NoDelay:         cfg.Socket.NoDelay,
		KeepAlive:       cfg.Socket.KeepAliveSecs > 0,
		KeepAlivePeriod: cfg.Socket.KeepAlivePeriod(),
		BufferBytes:     cfg.Socket.BufferBytes,
	}

	ctxEval, err := celctx.NewEvaluator()
	if err != nil {
		return fmt.Errorf("build context evaluator: %w", err)
	}

	initialBundle, err := cedar.LoadInitialBundle(cfg.Policy.File, cfg.Policy.Policies, cfg.Policy.SchemaFile, os.ReadFile, logger)
	if err != nil {
		return fmt.Errorf("load policy bundle: %w", err)
	}
	engine := cedar.NewEngine(initialBundle, logger,
		cedar.WithDefaultApprovalTimeout(cfg.Approval.Timeout()),
	)

	if cfg.Policy.ReloadIntervalSecs > 0 && cfg.Policy.File != "" {
		reloader := cedar.NewReloader(engine, cfg.Policy.File, cfg.Policy.SchemaFile, cfg.Policy.ReloadInterval(), logger)
		go reloader.Run(ctx)
		logger.Info("policy hot-reload enabled", "file", cfg.Policy.File, "interval", cfg.Policy.ReloadInterval())
	}

	var coordinator *approval.Coordinator
	if cfg.Approval.SlackBotToken != "" && cfg.Approval.SlackChannel != "" {
		channel := reviewer.NewSlack(cfg.Approval.SlackBotToken, cfg.Approval.SlackChannel)
		coordinator = approval.NewCoordinator(channel, approval.Config{
			PollInterval:    cfg.Approval.PollInterval(),
			MaxPollInterval: cfg.Approval.PollMaxInterval(),
			ApproveReaction: cfg.Approval.SlackApproveReaction,
			RejectReaction:  cfg.Approval.SlackRejectReaction,
		}, ctxEval, logger)
		go coordinator.Run(ctx)
		fingerprint, err := config.BearerFingerprint(cfg.Approval.SlackBotToken)
		if err != nil {
			logger.Warn("failed to fingerprint reviewer channel bot token for audit log", "error", err)
		}
		logger.Info("approval coordinator enabled",
			"channel", cfg.Approval.SlackChannel, "bot_token_fingerprint", fingerprint)
	} else {
		logger.Warn("no Slack bot token/channel configured; tool calls requiring approval will be rejected")
	}

	limiter := memory.NewRateLimiter()
	defer limiter.Stop()
	limiter.StartCleanup(ctx)

	const dialTimeout = 10 * time.Second
	forwarder := upstream.New(cfg.Upstream.URL, socketCfg, dialTimeout, cfg.Stream.TotalTimeout())

	orchestratorCfg := orchestrator.Config{
		MaxConcurrent: cfg.Stream.MaxConcurrent,
		DefaultApprovalWait: cfg.Approval.Timeout(),
	}
	if cfg.RateLimit.Enabled {
		orchestratorCfg.RateLimit = ratelimit.RateLimitConfig{
			Rate:   cfg.RateLimit.Rate,
			Burst:  cfg.RateLimit.Burst,
			Period: cfg.RateLimit.Period(),
		}
	}
	orch := orchestrator.New(engine, coordinator, limiter, forwarder, orchestratorCfg, logger)

	lm := lifecycle.New(lifecycle.Config{DrainTimeout: cfg.Lifecycle.DrainTimeout()}, logger)
	lm.Register(orch)

	transport := http.NewHTTPTransport(orch, lm, p, cfg.Upstream.URL,
		http.WithAddr(cfg.Listen),
		http.WithSocketConfig(socketCfg),
		http.WithMaxRequestBody(cfg.Stream.MaxRequestBodyBytes),
		http.WithLogger(logger),
	)
	lm.Register(transport)

	logger.Info("thoughtgate starting",
		"listen", cfg.Listen,
		"upstream", cfg.Upstream.URL,
		"dev_mode", cfg.DevMode,
		"rate_limit", cfg.RateLimit.Enabled,
		"policy_source", cfg.Policy.File != "" || cfg.Policy.Policies != "",
	)

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.DrainTimeout()+5*time.Second)
		defer cancel()
		exitCode := lm.Drain(drainCtx)
		if exitCode != lifecycle.ExitClean {
			logger.Warn("drain forced, in-flight requests may have been aborted")
		}
		<-errCh
		if exitCode != lifecycle.ExitClean {
			return fmt.Errorf("drain did not finish within %s", cfg.Lifecycle.DrainTimeout())
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// devOverrideString renders dev mode as the literal string principal.Detect
// requires to recognize it ("true" or anything else for unset).
func devOverrideString(devMode bool) string {
	if devMode {
		return "true"
	}
	return ""
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// readPIDFile reads a PID from path, returning 0 if the file is absent
// or its contents cannot be parsed.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// pidFilePath returns the standard location for the ThoughtGate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".thoughtgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "thoughtgate-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
