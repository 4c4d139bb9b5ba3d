package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// UnmarshalText lets env parsing populate a Secret directly
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// StorageKind selects the user persistence backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageSQLite    StorageKind = "sqlite"
	StorageFirestore StorageKind = "firestore"
)

// ProviderConfig configures one identity provider. A provider is enabled
// when both client id and secret are set.
type ProviderConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret Secret   `env:"CLIENT_SECRET"`
	RedirectURI  string   `env:"REDIRECT_URI"`
	Scopes       []string `env:"SCOPES" envSeparator:","`

	// Issuer is the OIDC issuer used for discovery. Only meaningful for Google.
	Issuer string `env:"ISSUER"`

	// Endpoint overrides for GitHub Enterprise Server
	AuthURL  string `env:"AUTH_URL"`
	TokenURL string `env:"TOKEN_URL"`
	APIURL   string `env:"API_URL"`
}

// Enabled reports whether the provider has credentials configured
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// FirestoreConfig configures the Firestore user store
type FirestoreConfig struct {
	ProjectID  string `env:"PROJECT_ID"`
	Database   string `env:"DATABASE" envDefault:"(default)"`
	Collection string `env:"COLLECTION" envDefault:"nimbus_users"`
}

// Config is the complete process configuration, loaded from the environment
type Config struct {
	Addr           string   `env:"ADDR" envDefault:":5000"`
	BaseURL        string   `env:"BASE_URL" envDefault:"http://localhost:5000"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// LoginURL is where users are sent to restart a failed login.
	LoginURL string `env:"LOGIN_URL" envDefault:"/login"`
	// DefaultReturnTo is the post-login destination when none was captured.
	DefaultReturnTo string `env:"DEFAULT_RETURN_TO" envDefault:"/profile"`

	SessionSecret Secret        `env:"SESSION_SECRET"`
	SessionKeyID  string        `env:"SESSION_KEY_ID" envDefault:"k1"`
	ChallengeTTL  time.Duration `env:"CHALLENGE_TTL" envDefault:"10m"`

	Google ProviderConfig `envPrefix:"GOOGLE_"`
	GitHub ProviderConfig `envPrefix:"GITHUB_"`

	Storage    StorageKind     `env:"STORAGE" envDefault:"sqlite"`
	SQLitePath string          `env:"SQLITE_PATH" envDefault:"nimbus.db"`
	Firestore  FirestoreConfig `envPrefix:"FIRESTORE_"`

	// RedisURL enables the shared replay guard and the redis event stream.
	RedisURL string `env:"REDIS_URL"`
}
