package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dgellow/nimbus/internal/config"
	"github.com/dgellow/nimbus/internal/ioutil"
	"github.com/dgellow/nimbus/internal/storage"
	"github.com/dgellow/nimbus/internal/urlutil"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubProvider implements the Provider interface for GitHub OAuth.
// GitHub uses plain OAuth 2.0 (no OIDC, no PKCE, no nonce) and its REST API
// for the profile.
type GitHubProvider struct {
	config     oauth2.Config
	apiBaseURL string // defaults to https://api.github.com, can be overridden for testing
}

// githubUserResponse represents GitHub's user API response.
type githubUserResponse struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// githubEmailResponse represents an email from GitHub's emails API.
type githubEmailResponse struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHubProvider creates a new GitHub OAuth provider.
func NewGitHubProvider(cfg config.ProviderConfig) *GitHubProvider {
	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	apiBaseURL := "https://api.github.com"
	if cfg.APIURL != "" {
		apiBaseURL = cfg.APIURL
	}

	return &GitHubProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		apiBaseURL: apiBaseURL,
	}
}

func (p *GitHubProvider) Type() storage.Provider {
	return storage.ProviderGitHub
}

// AuthURL carries only state and scope
func (p *GitHubProvider) AuthURL(req AuthRequest) string {
	return p.config.AuthCodeURL(req.State)
}

// Exchange trades the code for an access token and reads the profile.
// Verifier and nonce are ignored.
func (p *GitHubProvider) Exchange(ctx context.Context, req ExchangeRequest) (*Identity, error) {
	token, err := p.config.Exchange(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	client := p.config.Client(ctx, token)

	user, err := p.fetchUser(client)
	if err != nil {
		return nil, err
	}

	// GitHub only shows verified emails in the profile, so a present email is verified
	email := user.Email
	emailVerified := email != ""
	if email == "" {
		primaryEmail, verified, err := p.fetchPrimaryEmail(client)
		if err != nil {
			return nil, fmt.Errorf("failed to get user email: %w", err)
		}
		email = primaryEmail
		emailVerified = verified
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &Identity{
		Provider:      storage.ProviderGitHub,
		Subject:       strconv.FormatInt(user.ID, 10),
		Email:         email,
		EmailVerified: emailVerified,
		Name:          name,
		Picture:       user.AvatarURL,
	}, nil
}

func (p *GitHubProvider) fetchUser(client *http.Client) (*githubUserResponse, error) {
	resp, err := client.Get(urlutil.MustJoinPath(p.apiBaseURL, "user"))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user: status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 512))
	}

	var user githubUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("user response has no id")
	}

	return &user, nil
}

func (p *GitHubProvider) fetchPrimaryEmail(client *http.Client) (string, bool, error) {
	resp, err := client.Get(urlutil.MustJoinPath(p.apiBaseURL, "user", "emails"))
	if err != nil {
		return "", false, fmt.Errorf("failed to get emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("failed to get emails: status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 512))
	}

	var emails []githubEmailResponse
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", false, fmt.Errorf("failed to decode emails: %w", err)
	}

	for _, email := range emails {
		if email.Primary && email.Verified {
			return email.Email, true, nil
		}
	}

	// Fallback to first verified email
	for _, email := range emails {
		if email.Verified {
			return email.Email, true, nil
		}
	}

	return "", false, fmt.Errorf("no verified email found")
}
