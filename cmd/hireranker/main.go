// Package main provides the CLI entry point for the HireRanker secure
// messaging gateway.
//
// HireRanker accepts websocket clients, authenticates them with signed
// tokens, negotiates an AES-GCM session key over RSA-OAEP and routes their
// requests to an AI processor or the applicant directory.
//
// # Basic Usage
//
// Create the server key once:
//
//	hireranker keygen --out private.pem
//
// Start the server:
//
//	hireranker serve --config hireranker.yaml
//
// Issue a token for manual testing:
//
//	hireranker token issue --user alice
//
// # Environment Variables
//
//   - HIRERANKER_CONFIG: Path to configuration file (default: hireranker.yaml)
//   - Any ${VAR} referenced from the config file, typically JWT_SECRET,
//     ANTHROPIC_API_KEY, OPENAI_API_KEY and DATABASE_URL. A .env file in the
//     working directory is loaded first.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultConfigPath = "hireranker.yaml"
	configEnvVar      = "HIRERANKER_CONFIG"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hireranker",
		Short: "HireRanker - encrypted websocket gateway for AI ranking",
		Long: `HireRanker serves authenticated websocket clients with end-to-end
encrypted request and result envelopes.

Clients obtain a token from POST /token, authenticate over /ws, confirm the
wrapped session key and then send AES-GCM sealed client_request frames.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildTokenCmd(),
		buildKeygenCmd(),
		buildSessionsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies the HIRERANKER_CONFIG override to the default path.
func resolveConfigPath(path string) string {
	if env := strings.TrimSpace(os.Getenv(configEnvVar)); env != "" && (path == "" || path == defaultConfigPath) {
		return env
	}
	if strings.TrimSpace(path) == "" {
		return defaultConfigPath
	}
	return path
}
