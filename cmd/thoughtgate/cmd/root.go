// Package cmd provides the CLI commands for ThoughtGate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thoughtgate/thoughtgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "thoughtgate",
	Short: "ThoughtGate - MCP policy enforcement sidecar",
	Long: `ThoughtGate is an HTTP sidecar proxy that sits in front of a single MCP
server, evaluating every JSON-RPC tool call against a Cedar policy before
forwarding it, rejecting it, or routing it through a human-in-the-loop
approval.

Quick start:
  1. Create a config file: thoughtgate.yaml
  2. Run: thoughtgate serve

Configuration:
  Config is loaded from thoughtgate.yaml in the current directory,
  $HOME/.thoughtgate/, or /etc/thoughtgate/.

  Environment variables override config values. Most are bare names
  (UPSTREAM_URL, LISTEN, POLICY_FILE, ...); the rest carry a
  THOUGHTGATE_ prefix.

Commands:
  serve       Start the proxy server
  stop        Stop the running server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./thoughtgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
