package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
github:
  token: ghp_test
  owner: archivist
  repo: novels
  path_prefix: books/
  timeout_seconds: 15
gemini:
  api_key: test-key
  model: gemini-2.5-pro
  timeout_seconds: 60
controller:
  delay_seconds: 5
  initial_delay_seconds: 1
  outbound_rps: 0.5
db:
  dsn: postgres://localhost/novelarc
  max_conns: 8
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.GitHub.Owner != "archivist" || cfg.GitHub.Repo != "novels" {
		t.Fatalf("expected github overrides to apply: %+v", cfg.GitHub)
	}
	if cfg.GitHub.PathPrefix != "books/" {
		t.Fatalf("expected path prefix override, got %q", cfg.GitHub.PathPrefix)
	}
	if cfg.Gemini.Model != "gemini-2.5-pro" {
		t.Fatalf("expected model override, got %q", cfg.Gemini.Model)
	}
	if cfg.Gemini.BaseURL == "" {
		t.Fatalf("expected default gemini base URL to survive overrides")
	}
	if cfg.Controller.OutboundRPS != 0.5 {
		t.Fatalf("expected outbound rps 0.5, got %v", cfg.Controller.OutboundRPS)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging disabled")
	}
	if got := cfg.Controller.Delay(); got != 5*time.Second {
		t.Fatalf("expected delay 5s, got %v", got)
	}
	if got := cfg.GitHub.Timeout(); got != 15*time.Second {
		t.Fatalf("expected github timeout 15s, got %v", got)
	}
	if got := cfg.DB.ConnLifetime(); got != 30*time.Minute {
		t.Fatalf("expected default conn lifetime 30m, got %v", got)
	}
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv("NOVELARC_GITHUB_TOKEN", "ghp_env")
	t.Setenv("NOVELARC_GITHUB_OWNER", "archivist")
	t.Setenv("NOVELARC_GITHUB_REPO", "novels")
	t.Setenv("NOVELARC_GEMINI_API_KEY", "env-key")
	t.Setenv("NOVELARC_DB_DSN", "postgres://localhost/novelarc")
	t.Setenv("NOVELARC_CONTROLLER_DELAY_SECONDS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.GitHub.Token != "ghp_env" {
		t.Fatalf("expected github token from env, got %q", cfg.GitHub.Token)
	}
	if cfg.GitHub.Owner != "archivist" || cfg.GitHub.Repo != "novels" {
		t.Fatalf("expected github repo coordinates from env: %+v", cfg.GitHub)
	}
	if cfg.Gemini.APIKey != "env-key" {
		t.Fatalf("expected gemini key from env, got %q", cfg.Gemini.APIKey)
	}
	if cfg.DB.DSN != "postgres://localhost/novelarc" {
		t.Fatalf("expected db dsn from env, got %q", cfg.DB.DSN)
	}
	if got := cfg.Controller.Delay(); got != 7*time.Second {
		t.Fatalf("expected delay 7s from env, got %v", got)
	}
	if cfg.Server.Port != 8080 || cfg.Gemini.Model != "gemini-2.5-flash" {
		t.Fatalf("expected defaults to survive env-only load: %+v", cfg)
	}
	if got := cfg.Controller.InitialDelay(); got != time.Second {
		t.Fatalf("expected default initial delay 1s, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		GitHub:     GitHubConfig{Token: "t", Owner: "o", Repo: "r"},
		Gemini:     GeminiConfig{APIKey: "k"},
		Controller: ControllerConfig{DelaySeconds: 3},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing github token",
			cfg: func() Config {
				c := base
				c.GitHub.Token = ""
				return c
			}(),
			want: "github.token",
		},
		{
			name: "missing github repo",
			cfg: func() Config {
				c := base
				c.GitHub.Repo = ""
				return c
			}(),
			want: "github.owner and github.repo",
		},
		{
			name: "missing gemini key",
			cfg: func() Config {
				c := base
				c.Gemini.APIKey = ""
				return c
			}(),
			want: "gemini.api_key",
		},
		{
			name: "invalid delay",
			cfg: func() Config {
				c := base
				c.Controller.DelaySeconds = 0
				return c
			}(),
			want: "controller.delay_seconds",
		},
		{
			name: "negative outbound rps",
			cfg: func() Config {
				c := base
				c.Controller.OutboundRPS = -1
				return c
			}(),
			want: "controller.outbound_rps",
		},
		{
			name: "dsn without pool size",
			cfg: func() Config {
				c := base
				c.DB.DSN = "postgres://localhost/novelarc"
				return c
			}(),
			want: "db.max_conns",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
