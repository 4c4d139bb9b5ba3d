package idp

import (
	"context"
	"fmt"

	"github.com/dgellow/nimbus/internal/config"
	"github.com/dgellow/nimbus/internal/storage"
)

// Registry maps provider tags to configured providers
type Registry map[storage.Provider]Provider

// Get returns the provider registered for tag
func (r Registry) Get(tag storage.Provider) (Provider, bool) {
	p, ok := r[tag]
	return p, ok
}

// NewRegistry builds a provider for every enabled provider in cfg.
// Google discovery happens here, so ctx bounds the startup network call.
func NewRegistry(ctx context.Context, cfg *config.Config) (Registry, error) {
	r := Registry{}

	if cfg.Google.Enabled() {
		google, err := NewGoogleProvider(ctx, cfg.Google)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		r[storage.ProviderGoogle] = google
	}

	if cfg.GitHub.Enabled() {
		r[storage.ProviderGitHub] = NewGitHubProvider(cfg.GitHub)
	}

	if len(r) == 0 {
		return nil, fmt.Errorf("no identity provider configured")
	}
	return r, nil
}
