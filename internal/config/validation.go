package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dgellow/nimbus/internal/log"
)

// MinSessionSecretLength is the minimum accepted session secret size in bytes
const MinSessionSecretLength = 32

// Validate checks a parsed configuration
func Validate(cfg *Config) error {
	if cfg.Addr == "" {
		return fmt.Errorf("addr is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("baseURL must be an absolute URL, got %q", cfg.BaseURL)
	}

	if len(cfg.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("sessionSecret must be at least %d bytes", MinSessionSecretLength)
	}
	if strings.TrimSpace(cfg.SessionKeyID) == "" {
		return fmt.Errorf("sessionKeyId is required")
	}
	if cfg.ChallengeTTL <= 0 {
		return fmt.Errorf("challengeTtl must be positive")
	}

	if !cfg.Google.Enabled() && !cfg.GitHub.Enabled() {
		return fmt.Errorf("at least one identity provider (google or github) must be configured")
	}
	if cfg.Google.ClientID != "" && cfg.Google.ClientSecret == "" {
		return fmt.Errorf("google clientSecret is required when clientId is set")
	}
	if cfg.GitHub.ClientID != "" && cfg.GitHub.ClientSecret == "" {
		return fmt.Errorf("github clientSecret is required when clientId is set")
	}

	if !strings.HasPrefix(cfg.DefaultReturnTo, "/") {
		return fmt.Errorf("defaultReturnTo must be a relative path")
	}

	if err := ValidateStorage(cfg); err != nil {
		return err
	}

	if cfg.RedisURL != "" {
		if _, err := url.Parse(cfg.RedisURL); err != nil {
			return fmt.Errorf("invalid redisUrl: %w", err)
		}
	}

	return nil
}

// ValidateStorage checks only the storage settings. Commands that touch the
// user store without serving logins need nothing else.
func ValidateStorage(cfg *Config) error {
	switch cfg.Storage {
	case StorageMemory:
		log.LogWarnWithFields("config", "Memory storage loses all users on restart", nil)
	case StorageSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("sqlitePath is required for sqlite storage")
		}
	case StorageFirestore:
		if cfg.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore projectId is required for firestore storage")
		}
		if cfg.Firestore.Collection == "" {
			return fmt.Errorf("firestore collection is required for firestore storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (expected memory, sqlite or firestore)", cfg.Storage)
	}
	return nil
}
