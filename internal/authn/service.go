// Package authn exchanges provider authorization codes for local sessions.
package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/nimbus/internal/events"
	"github.com/dgellow/nimbus/internal/idp"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/session"
	"github.com/dgellow/nimbus/internal/storage"
	"golang.org/x/sync/singleflight"
)

// ExchangeRequest is the callback code plus PKCE material
type ExchangeRequest = idp.ExchangeRequest

// LoginResult is a resolved user with a freshly signed session token
type LoginResult struct {
	User    storage.User
	Token   string
	Claims  session.Claims
	Created bool
}

// Service exchanges codes, resolves users and issues session tokens
type Service struct {
	providers idp.Registry
	users     storage.UserStore
	sessions  *session.Manager
	events    events.Publisher
	group     singleflight.Group
	now       func() time.Time
}

// NewService creates the token exchange service. A nil publisher discards events.
func NewService(providers idp.Registry, users storage.UserStore, sessions *session.Manager, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		providers: providers,
		users:     users,
		sessions:  sessions,
		events:    publisher,
		now:       time.Now,
	}
}

// Sessions returns the session manager used to sign tokens
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Login runs the provider exchange for tag, resolves the local user and signs
// a session token for it
func (s *Service) Login(ctx context.Context, tag storage.Provider, req ExchangeRequest) (*LoginResult, error) {
	provider, ok := s.providers.Get(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
	if req.Code == "" {
		return nil, ErrMissingAuthorizationCode
	}

	identity, err := provider.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	if identity.Subject == "" || identity.Email == "" {
		return nil, fmt.Errorf("%s returned an incomplete identity", tag)
	}

	user, created, err := s.ResolveUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	token, claims, err := s.sessions.Issue(*user)
	if err != nil {
		return nil, err
	}

	logPublish(events.TopicUserLoggedIn, s.events.UserLoggedIn(ctx, events.UserEvent{
		UserID:   user.ID,
		Email:    user.Email,
		Provider: string(tag),
	}))

	log.LogInfoWithFields("authn", "User logged in", map[string]any{
		"user_id":  user.ID,
		"provider": string(tag),
		"created":  created,
	})

	return &LoginResult{
		User:    *user,
		Token:   token,
		Claims:  claims,
		Created: created,
	}, nil
}

type resolved struct {
	user    *storage.User
	created bool
}

// ResolveUser finds the user linked to identity or creates one with the
// default role. Existing users are returned unchanged. Concurrent first
// logins for one provider account share a single lookup and insert.
func (s *Service) ResolveUser(ctx context.Context, identity *idp.Identity) (*storage.User, bool, error) {
	key := string(identity.Provider) + ":" + identity.Subject
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.resolve(ctx, identity)
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(resolved)
	u := *r.user
	return &u, r.created, nil
}

func (s *Service) resolve(ctx context.Context, identity *idp.Identity) (resolved, error) {
	existing, err := s.users.FindByProviderID(ctx, identity.Provider, identity.Subject)
	if err == nil {
		return resolved{user: existing}, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return resolved{}, fmt.Errorf("lookup user: %w", err)
	}

	u, err := storage.NewUser(identity.Email, identity.Name, identity.Provider, identity.Subject, s.now())
	if err != nil {
		return resolved{}, err
	}

	created, err := s.users.Create(ctx, u)
	if err == nil {
		logPublish(events.TopicUserCreated, s.events.UserCreated(ctx, events.UserEvent{
			UserID:   created.ID,
			Email:    created.Email,
			Provider: string(identity.Provider),
		}))
		return resolved{user: created, created: true}, nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return resolved{}, fmt.Errorf("create user: %w", err)
	}

	// Another instance may have inserted the same account between our lookup
	// and insert; if so it is now linked to this provider id.
	existing, err = s.users.FindByProviderID(ctx, identity.Provider, identity.Subject)
	if err == nil {
		return resolved{user: existing}, nil
	}
	if errors.Is(err, storage.ErrUserNotFound) {
		log.LogWarnWithFields("authn", "Rejected login with email owned by another account", map[string]any{
			"provider": string(identity.Provider),
		})
		return resolved{}, ErrEmailConflict
	}
	return resolved{}, fmt.Errorf("lookup user: %w", err)
}

// Logout records the end of a session. Tokens are stateless, so clearing the
// cookie is the caller's job.
func (s *Service) Logout(ctx context.Context, id session.Identity) {
	logPublish(events.TopicUserLoggedOut, s.events.UserLoggedOut(ctx, events.UserEvent{
		UserID: id.UserID,
		Email:  id.Email,
	}))
}

// logPublish records a failed delivery. Events are best effort.
func logPublish(topic string, err error) {
	if err != nil {
		log.LogErrorWithFields("authn", "Failed to publish event", map[string]any{
			"topic": topic,
			"error": err.Error(),
		})
	}
}
