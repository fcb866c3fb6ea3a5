// ABOUTME: Configuration loading and parsing for archie-relay
// ABOUTME: Supports YAML files with environment variable expansion plus env-only operation

package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults for optional configuration. The backend URLs and port come from
// the original deployment; the Google client ID is the relay's registered
// web client and is only overridden for staging.
const (
	DefaultAddr           = ":8082"
	DefaultSendURL        = "http://127.0.0.1:18789/v1/sessions/agent:main:main/send"
	DefaultCompletionsURL = "http://127.0.0.1:18789/v1/chat/completions"
	DefaultModel          = "agent:main"
	DefaultClientID       = "289416413498-vargouibot.apps.googleusercontent.com"
	DefaultIssuer         = "https://accounts.google.com"
	DefaultCertsURL       = "https://www.googleapis.com/oauth2/v1/certs"
	DefaultAllowedEmail   = "vargo.archie@gmail.com"
	DefaultTelegramAPI    = "https://api.telegram.org"
	DefaultTelegramChatID = "6533033158"
)

// Config represents the complete archie-relay configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Backend  BackendConfig  `yaml:"backend"`
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig holds identity verification configuration
type AuthConfig struct {
	// ClientID is the OAuth client ID expected in the token's audience claim
	ClientID string `yaml:"client_id"`
	// AllowedEmail is the single identity permitted on protected endpoints
	AllowedEmail string `yaml:"allowed_email"`
	Issuer       string `yaml:"issuer"`
	CertsURL     string `yaml:"certs_url"`
}

// BackendConfig holds the Clawdbot backend endpoint configuration
type BackendConfig struct {
	// Token is the bearer credential for the backend. Required.
	Token          string `yaml:"token"`
	SendURL        string `yaml:"send_url"`
	CompletionsURL string `yaml:"completions_url"`
	Model          string `yaml:"model"`
}

// TelegramConfig holds the outbound Telegram relay configuration.
// BotToken is optional; without it the relay endpoint reports a
// configuration error.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from the given YAML path, or from the
// environment alone when path is empty. A .env file in the working
// directory is applied first if present. Environment variables in the
// format ${VAR_NAME} are expanded inside the YAML before parsing.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case in production
	_ = godotenv.Load()

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overlays well-known environment variables onto the config.
// Env values take precedence over file values so a deployment can keep
// credentials out of the YAML entirely.
func (c *Config) applyEnv() {
	overlay := []struct {
		env string
		dst *string
	}{
		{"ARCHIE_ADDR", &c.Server.Addr},
		{"CLAWDBOT_TOKEN", &c.Backend.Token},
		{"CLAWDBOT_SEND_URL", &c.Backend.SendURL},
		{"CLAWDBOT_COMPLETIONS_URL", &c.Backend.CompletionsURL},
		{"GOOGLE_CLIENT_ID", &c.Auth.ClientID},
		{"ALLOWED_EMAIL", &c.Auth.AllowedEmail},
		{"TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken},
		{"TELEGRAM_CHAT_ID", &c.Telegram.ChatID},
		{"ARCHIE_LOG_LEVEL", &c.Logging.Level},
		{"ARCHIE_LOG_FORMAT", &c.Logging.Format},
	}

	for _, o := range overlay {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// applyDefaults fills every optional field that is still empty.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Backend.SendURL == "" {
		c.Backend.SendURL = DefaultSendURL
	}
	if c.Backend.CompletionsURL == "" {
		c.Backend.CompletionsURL = DefaultCompletionsURL
	}
	if c.Backend.Model == "" {
		c.Backend.Model = DefaultModel
	}
	if c.Auth.ClientID == "" {
		c.Auth.ClientID = DefaultClientID
	}
	if c.Auth.AllowedEmail == "" {
		c.Auth.AllowedEmail = DefaultAllowedEmail
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = DefaultIssuer
	}
	if c.Auth.CertsURL == "" {
		c.Auth.CertsURL = DefaultCertsURL
	}
	if c.Telegram.ChatID == "" {
		c.Telegram.ChatID = DefaultTelegramChatID
	}
	if c.Telegram.APIBase == "" {
		c.Telegram.APIBase = DefaultTelegramAPI
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.Token == "" {
		return fmt.Errorf("backend.token is required (set CLAWDBOT_TOKEN)")
	}
	return nil
}
