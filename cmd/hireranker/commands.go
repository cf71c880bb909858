package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HireRanker gateway server",
		Long: `Start the gateway with the websocket endpoint and the HTTP endpoints
(/token, /lookup, /public-key, /healthz, /metrics).

Graceful shutdown is handled on SIGINT/SIGTERM: new connections are refused,
open connections are closed and in-flight requests are given
server.shutdown_timeout to finish.`,
		Example: `  # Start with default config
  hireranker serve

  # Start with a custom config and debug logging
  hireranker serve --config /etc/hireranker/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), envFile, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML or JSON5 configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the config is expanded")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Token Commands
// =============================================================================

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify client tokens",
	}
	cmd.AddCommand(buildTokenIssueCmd(), buildTokenVerifyCmd())
	return cmd
}

func buildTokenIssueCmd() *cobra.Command {
	var (
		configPath string
		user       string
		expiry     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed token for a user",
		Example: `  hireranker token issue --user alice
  hireranker token issue --user alice --expiry 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenIssue(cmd, resolveConfigPath(configPath), user, expiry)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Username to embed in the token")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to auth.token_expiry)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildTokenVerifyCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token and print its user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenVerify(cmd, resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

// =============================================================================
// Key Commands
// =============================================================================

func buildKeygenCmd() *cobra.Command {
	var (
		out   string
		bits  int
		force bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the server RSA private key",
		Long: `Generate the RSA key the server uses to unwrap RSA-OAEP envelopes.
The public half is served at GET /public-key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd, out, bits, force)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "private.pem", "Output path for the PKCS#8 PEM key")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA modulus size")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing key file")
	return cmd
}

// =============================================================================
// Sessions Commands
// =============================================================================

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage the session store",
	}
	cmd.AddCommand(buildSessionsPruneCmd(), buildSessionsHistoryCmd())
	return cmd
}

func buildSessionsPruneCmd() *cobra.Command {
	var (
		configPath string
		olderThan  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions and history older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsPrune(cmd, resolveConfigPath(configPath), olderThan)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff (defaults to sessions.max_age)")
	return cmd
}

func buildSessionsHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history <connection-id>",
		Short: "Print the stored history for a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsHistory(cmd, resolveConfigPath(configPath), args[0], limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().IntVar(&limit, "limit", 0, "Most recent entries to print (0 for all)")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hireranker %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
