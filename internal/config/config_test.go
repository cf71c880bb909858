package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
auth:
  jwt_secret: test-secret
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "hireranker.yaml", minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"version", cfg.Version, CurrentVersion},
		{"addr", cfg.Addr(), "0.0.0.0:5000"},
		{"token expiry", cfg.Auth.TokenExpiry, time.Hour},
		{"max auth attempts", cfg.Auth.MaxAuthAttempts, 3},
		{"private key", cfg.Crypto.PrivateKeyPath, "private.pem"},
		{"plaintext mode", cfg.Crypto.PlaintextMode, false},
		{"max history", cfg.Sessions.MaxHistory, 20},
		{"max age", cfg.Sessions.MaxAge, 24 * time.Hour},
		{"concurrency", cfg.Router.Concurrency, 8},
		{"processor timeout", cfg.Router.ProcessorTimeout, 60 * time.Second},
		{"processor", cfg.Processor.Provider, "echo"},
		{"provider timeout", cfg.Processor.Timeout, time.Duration(0)},
		{"token limit", cfg.RateLimit.Token.PerMinute, 5},
		{"request limit", cfg.RateLimit.Request.PerMinute, 150},
		{"events enabled", cfg.Events.Enabled, true},
		{"events output", cfg.Events.Output, "logs/server_events.txt"},
		{"lookup table", cfg.Lookup.Postgres.Table, "applicants"},
		{"schedule", cfg.Maintenance.Schedule, "@every 10m"},
		{"log format", cfg.Logging.Format, "json"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("HIRERANKER_TEST_KEY", "sk-test")
	path := writeConfig(t, "hireranker.yaml", `
version: 1
server:
  host: 127.0.0.1
  port: 8081
  allowed_origins: ["https://app.example.com"]
auth:
  jwt_secret: s3cret
  token_expiry: 30m
crypto:
  private_key_path: /etc/hireranker/private.pem
  plaintext_mode: true
sessions:
  path: /var/lib/hireranker/sessions.db
  busy_timeout: 2s
  max_history: 10
cache:
  ttl: 1m
  max_entries: 50
processor:
  provider: anthropic
  api_key: ${HIRERANKER_TEST_KEY}
  model: claude-sonnet-4-20250514
lookup:
  enabled: true
  postgres:
    dsn: postgres://localhost/hr
events:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8081" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.Processor.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want expanded env value", cfg.Processor.APIKey)
	}
	if cfg.Sessions.Path != "/var/lib/hireranker/sessions.db" || cfg.Sessions.BusyTimeout != 2*time.Second {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if !cfg.Crypto.PlaintextMode {
		t.Error("plaintext_mode not decoded")
	}
	if cfg.Events.Enabled {
		t.Error("events explicitly disabled but enabled after load")
	}
	if cfg.Cache.TTL != time.Minute || cfg.Cache.MaxEntries != 50 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "hireranker.yaml", `
auth:
  jwt_secret: x
server:
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing secret",
			body:    "server:\n  port: 80\n",
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "unknown provider",
			body:    minimalConfig + "processor:\n  provider: bard\n",
			wantErr: "processor.provider",
		},
		{
			name:    "provider without key",
			body:    minimalConfig + "processor:\n  provider: openai\n",
			wantErr: "processor.api_key",
		},
		{
			name:    "lookup without dsn",
			body:    minimalConfig + "lookup:\n  enabled: true\n",
			wantErr: "lookup.postgres.dsn",
		},
		{
			name:    "bad port",
			body:    minimalConfig + "server:\n  port: 70000\n",
			wantErr: "server.port",
		},
		{
			name:    "newer version",
			body:    minimalConfig + "version: 9\n",
			wantErr: "newer than this build",
		},
		{
			name:    "bad log format",
			body:    minimalConfig + "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "hireranker.yaml", tt.body))
			var verr *ConfigValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ConfigValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("auth:\n  jwt_secret: base\ncache:\n  max_entries: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "prod.yaml")
	if err := os.WriteFile(path, []byte("$include: base.yaml\ncache:\n  ttl: 2m\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "base" || cfg.Cache.MaxEntries != 10 || cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("merged config = %+v / %+v", cfg.Auth, cfg.Cache)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644)
	os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644)

	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "hireranker.json5", `{
  // comments and trailing commas are allowed
  auth: { jwt_secret: "j5" },
  router: { concurrency: 2, },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "j5" || cfg.Router.Concurrency != 2 {
		t.Errorf("decoded %+v / %+v", cfg.Auth, cfg.Router)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("HIRERANKER_SET", "value")
	t.Setenv("HIRERANKER_EMPTY", "")
	tests := []struct {
		in   string
		want string
	}{
		{"${HIRERANKER_SET}", "value"},
		{"$HIRERANKER_SET", "value"},
		{"${HIRERANKER_UNSET}", ""},
		{"${HIRERANKER_UNSET:-fallback}", "fallback"},
		{"${HIRERANKER_EMPTY:-fallback}", "fallback"},
		{"${HIRERANKER_SET:-fallback}", "value"},
		{"port: ${HIRERANKER_UNSET:-5000}", "port: 5000"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "hireranker.yaml", minimalConfig+"\n---\nauth:\n  jwt_secret: other\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("expected single document error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HIRERANKER_DOTENV_A=from-file\nHIRERANKER_DOTENV_B=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HIRERANKER_DOTENV_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("HIRERANKER_DOTENV_A") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("HIRERANKER_DOTENV_A"); got != "from-file" {
		t.Errorf("A = %q, want from-file", got)
	}
	if got := os.Getenv("HIRERANKER_DOTENV_B"); got != "from-env" {
		t.Errorf("B = %q, existing variables must win", got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if !cfg.Events.Enabled || cfg.Router.Concurrency != 8 {
		t.Errorf("Default() = %+v", cfg)
	}
}

func TestJSONSchema(t *testing.T) {
	schema, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	for _, key := range []string{"jwt_secret", "plaintext_mode", "max_history"} {
		if !strings.Contains(string(schema), key) {
			t.Errorf("schema missing %q", key)
		}
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
