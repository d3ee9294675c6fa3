// Package config holds operator-level configuration for a Portico process.
//
// Set via env vars (PORTICO_*) or a config file (portico.config.yaml).
// Everything here is resolved once at startup, validated, and passed by
// reference into the handler constructors. There is no ambient mutable
// configuration state after Load returns.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the PORTICO_ prefix
// (e.g. "auth_secret" → PORTICO_AUTH_SECRET) and to a YAML field
// in portico.config.yaml.
const (
	KeyDataDir        = "data_dir"
	KeyAuthSecret     = "auth_secret"
	KeySigningKey     = "signing_key"
	KeyOpenAIKey      = "openai_api_key"
	KeyOpenAIBaseURL  = "openai_base_url"
	KeyTiersFile      = "tiers_file"
	KeyCopilotEnabled = "copilot_enabled"
	KeyTokenBudget    = "context_token_budget"
)

// Defaults that do NOT involve crypto material. Crypto keys intentionally
// have no baked-in defaults; when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultTokenBudget = 4000
)

// Config holds resolved operator-level configuration for a Portico process.
type Config struct {
	DataDir        string // Base directory for all state (~/.portico)
	AuthSecret     string // HS256 secret for portal credential verification (≥32 bytes)
	SigningKey     string // HMAC-SHA256 key for usage record signing (≥32 bytes)
	OpenAIKey      string // LLM provider API key
	OpenAIBaseURL  string // Override for the provider endpoint (tests, proxies)
	TiersFile      string // Optional YAML file overriding tier limits
	CopilotEnabled bool   // Whole-subsystem toggle
	TokenBudget    int    // Context window budget in tokens

	usingDefaultAuthSecret bool
	usingDefaultSigningKey bool
}

// DBPath returns the full path to the portal SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "portal.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// UsingDefaultKeys returns true if either crypto key fell back to a
// generated default. Commands should warn when this is the case.
func (c *Config) UsingDefaultKeys() bool {
	return c.usingDefaultAuthSecret || c.usingDefaultSigningKey
}

// WarnIfDefaultKeys logs a warning when crypto keys are not explicitly set.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultAuthSecret {
		log.Warn().Msg("Using generated default PORTICO_AUTH_SECRET — set via env var or config file for production")
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default PORTICO_SIGNING_KEY — set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("PORTICO")
	viper.AutomaticEnv()
	viper.SetDefault(KeyCopilotEnabled, true)
	viper.SetDefault(KeyTokenBudget, DefaultTokenBudget)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        resolveDataDir(),
		AuthSecret:     viper.GetString(KeyAuthSecret),
		SigningKey:     viper.GetString(KeySigningKey),
		OpenAIKey:      viper.GetString(KeyOpenAIKey),
		OpenAIBaseURL:  viper.GetString(KeyOpenAIBaseURL),
		TiersFile:      viper.GetString(KeyTiersFile),
		CopilotEnabled: viper.GetBool(KeyCopilotEnabled),
		TokenBudget:    viper.GetInt(KeyTokenBudget),
	}

	if cfg.AuthSecret == "" {
		cfg.AuthSecret = deriveDefaultKey(cfg.DataDir, "portal-credential")
		cfg.usingDefaultAuthSecret = true
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "usage-signing----")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".portico"
	}
	return filepath.Join(home, ".portico")
}

// deriveDefaultKey produces a deterministic fallback key from the data
// directory path and a salt. Uses SHA-256 so the full salt always contributes
// to the output regardless of path length. This is NOT cryptographically
// strong; it exists solely so `portico serve` works out of the box.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("portico:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if len(c.AuthSecret) < 32 {
		return fmt.Errorf("auth_secret must be at least 32 bytes (got %d); set PORTICO_AUTH_SECRET", len(c.AuthSecret))
	}
	if len(c.SigningKey) < 32 {
		return fmt.Errorf("signing_key must be at least 32 bytes (got %d); set PORTICO_SIGNING_KEY", len(c.SigningKey))
	}
	if c.TokenBudget <= 0 {
		return fmt.Errorf("context_token_budget must be positive")
	}
	return nil
}
