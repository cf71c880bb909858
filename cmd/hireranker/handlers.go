package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/auth"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/config"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/gateway"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/keyexchange"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/observability"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/sessions"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, builds the gateway and serves until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath, envFile string, debug bool) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting HireRanker gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"processor", cfg.Processor.Provider,
		"lookup_enabled", cfg.Lookup.Enabled,
		"plaintext_mode", cfg.Crypto.PlaintextMode,
	)
	if cfg.Crypto.PlaintextMode {
		logger.Warn("plaintext mode is enabled; envelopes are not encrypted")
	}

	server, err := gateway.NewServer(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

// =============================================================================
// Token Command Handlers
// =============================================================================

func loadTokenService(configPath string) (*auth.TokenService, *config.Config, error) {
	if err := config.LoadDotEnv(""); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry), cfg, nil
}

func runTokenIssue(cmd *cobra.Command, configPath, user string, expiry time.Duration) error {
	user, err := auth.ValidateUsername(user)
	if err != nil {
		return err
	}
	tokens, cfg, err := loadTokenService(configPath)
	if err != nil {
		return err
	}
	if expiry <= 0 {
		expiry = cfg.Auth.TokenExpiry
	}
	token, err := tokens.IssueWithExpiry(user, time.Now().Add(expiry))
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runTokenVerify(cmd *cobra.Command, configPath, token string) error {
	tokens, _, err := loadTokenService(configPath)
	if err != nil {
		return err
	}
	user, err := tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid token for %s\n", user)
	return nil
}

// =============================================================================
// Key Command Handler
// =============================================================================

func runKeygen(cmd *cobra.Command, out string, bits int, force bool) error {
	if strings.TrimSpace(out) == "" {
		return errors.New("output path is required")
	}
	if _, err := os.Stat(out); err == nil {
		if !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", out)
		}
		if err := os.Remove(out); err != nil {
			return fmt.Errorf("remove existing key: %w", err)
		}
	}
	key, err := keyexchange.GenerateServerKey(bits)
	if err != nil {
		return err
	}
	if err := key.WritePrivateKeyPEM(out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d-bit RSA key to %s\n", key.PublicKey().N.BitLen(), out)
	return nil
}

// =============================================================================
// Sessions Command Handlers
// =============================================================================

func openSessionStore(configPath string) (*sessions.SQLiteStore, *config.Config, error) {
	if err := config.LoadDotEnv(""); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := sessions.NewSQLiteStore(cfg.Sessions.SQLiteConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return store, cfg, nil
}

func runSessionsPrune(cmd *cobra.Command, configPath string, olderThan time.Duration) error {
	store, cfg, err := openSessionStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if olderThan <= 0 {
		olderThan = cfg.Sessions.MaxAge
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	removed, err := store.PruneSessions(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d sessions older than %s\n", removed, olderThan)
	return nil
}

func runSessionsHistory(cmd *cobra.Command, configPath, connectionID string, limit int) error {
	if err := sessions.ValidateConnectionID(connectionID); err != nil {
		return err
	}
	store, _, err := openSessionStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.GetHistory(cmd.Context(), connectionID, limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no history")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s %s\n", entry.CreatedAt.Format(time.RFC3339), entry.Role, entry.Message)
	}
	return nil
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if err := config.LoadDotEnv(""); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := gateway.ValidateSchedule(cfg.Maintenance.Schedule); err != nil {
		return err
	}
	if _, err := keyexchange.LoadServerKey(cfg.Crypto.PrivateKeyPath); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: %v (run `hireranker keygen`)\n", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}
