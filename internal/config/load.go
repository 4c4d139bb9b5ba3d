package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/urlutil"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every configuration variable
const EnvPrefix = "NIMBUS_"

// Load reads an optional dotenv file, then parses and validates the
// environment. A missing dotenv file is not an error.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("loading %s: %w", dotenvPath, err)
			}
			log.LogDebugWithFields("config", "No dotenv file found", map[string]any{
				"path": dotenvPath,
			})
		}
	}

	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}

	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// FromEnv parses the environment into a Config and fills derived defaults,
// without validating it
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	// An unparsable BaseURL is reported by Validate.
	callback, err := urlutil.CallbackURL(cfg.BaseURL)
	if err != nil {
		callback = cfg.BaseURL + urlutil.CallbackPath
	}
	if cfg.Google.RedirectURI == "" {
		cfg.Google.RedirectURI = callback
	}
	if cfg.GitHub.RedirectURI == "" {
		cfg.GitHub.RedirectURI = callback
	}
	if len(cfg.Google.Scopes) == 0 {
		cfg.Google.Scopes = []string{"openid", "profile", "email"}
	}
	if len(cfg.GitHub.Scopes) == 0 {
		cfg.GitHub.Scopes = []string{"read:user", "user:email"}
	}
	if cfg.Google.Issuer == "" {
		cfg.Google.Issuer = "https://accounts.google.com"
	}
}
