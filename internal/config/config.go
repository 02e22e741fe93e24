// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Controller ControllerConfig `mapstructure:"controller"`
	DB         DBConfig         `mapstructure:"db"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// GitHubConfig identifies the repository that receives chapter files.
type GitHubConfig struct {
	Token          string `mapstructure:"token"`
	Owner          string `mapstructure:"owner"`
	Repo           string `mapstructure:"repo"`
	BaseURL        string `mapstructure:"base_url"`
	PathPrefix     string `mapstructure:"path_prefix"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GeminiConfig configures the generative text provider.
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ControllerConfig governs pacing of the archive loop.
type ControllerConfig struct {
	DelaySeconds        int     `mapstructure:"delay_seconds"`
	InitialDelaySeconds int     `mapstructure:"initial_delay_seconds"`
	OutboundRPS         float64 `mapstructure:"outbound_rps"`
}

// DBConfig controls the optional relational session store. When DSN is empty
// sessions live in memory only.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOVELARC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key gets a default, even the required secrets: AutomaticEnv only
// resolves keys viper has seen, so an unregistered key would be invisible to
// NOVELARC_* overrides when no config file is present.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("github.token", "")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.path_prefix", "novels/")
	v.SetDefault("github.timeout_seconds", 30)
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.timeout_seconds", 120)
	v.SetDefault("controller.delay_seconds", 3)
	v.SetDefault("controller.initial_delay_seconds", 1)
	v.SetDefault("controller.outbound_rps", 0)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.GitHub.Token == "" {
		return fmt.Errorf("github.token must be set")
	}
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		return fmt.Errorf("github.owner and github.repo must be set")
	}
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key must be set")
	}
	if c.Controller.DelaySeconds <= 0 {
		return fmt.Errorf("controller.delay_seconds must be > 0")
	}
	if c.Controller.OutboundRPS < 0 {
		return fmt.Errorf("controller.outbound_rps must be >= 0")
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0 when db.dsn is set")
	}
	return nil
}

// Delay returns the inter-chapter pause as a duration.
func (c ControllerConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}

// InitialDelay returns the pre-first-tick pause as a duration.
func (c ControllerConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

// Timeout returns the GitHub client timeout as a duration.
func (c GitHubConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the provider timeout as a duration.
func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnLifetime returns the pool connection lifetime as a duration.
func (c DBConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMin) * time.Minute
}
