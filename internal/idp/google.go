package idp

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dgellow/nimbus/internal/config"
	"github.com/dgellow/nimbus/internal/storage"
	"golang.org/x/oauth2"
)

// GoogleProvider implements the OIDC authorization code flow with PKCE and
// nonce. The ID token is verified against the issuer's published keys.
type GoogleProvider struct {
	config   oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// googleClaims are the ID token claims nimbus reads
type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// NewGoogleProvider runs OIDC discovery against cfg.Issuer and builds the provider
func NewGoogleProvider(ctx context.Context, cfg config.ProviderConfig) (*GoogleProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider %q: %w", cfg.Issuer, err)
	}

	return &GoogleProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     provider.Endpoint(),
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (p *GoogleProvider) Type() storage.Provider {
	return storage.ProviderGoogle
}

// AuthURL includes the S256 challenge and nonce, and asks for offline access
// with an explicit consent prompt
func (p *GoogleProvider) AuthURL(req AuthRequest) string {
	return p.config.AuthCodeURL(req.State,
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oidc.Nonce(req.Nonce),
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
	)
}

func (p *GoogleProvider) Exchange(ctx context.Context, req ExchangeRequest) (*Identity, error) {
	if req.Verifier == "" || req.Nonce == "" {
		return nil, ErrMissingPKCEMaterial
	}

	token, err := p.config.Exchange(ctx, req.Code, oauth2.VerifierOption(req.Verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("no id_token returned")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id_token verification failed: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(req.Nonce)) != 1 {
		return nil, ErrNonceMismatch
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode id_token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("id_token has no email claim")
	}

	return &Identity{
		Provider:      storage.ProviderGoogle,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
