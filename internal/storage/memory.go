package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgellow/nimbus/internal/emailutil"
	"github.com/dgellow/nimbus/internal/log"
)

var _ UserStore = (*MemoryStorage)(nil)

// MemoryStorage keeps users in process memory. Uniqueness is enforced under
// a single lock, so concurrent Creates behave like a unique index.
type MemoryStorage struct {
	mu      sync.RWMutex
	users   map[string]*User // by id
	byEmail map[string]string
	byLink  map[string]string // "provider:id" -> user id
	now     func() time.Time
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		byLink:  make(map[string]string),
		now:     time.Now,
	}
}

func linkKey(p Provider, id string) string {
	return string(p) + ":" + id
}

func (s *MemoryStorage) FindByProviderID(_ context.Context, p Provider, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byLink[linkKey(p, id)]
	if !ok || id == "" {
		return nil, ErrUserNotFound
	}
	u := *s.users[userID]
	return &u, nil
}

func (s *MemoryStorage) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byEmail[emailutil.Normalize(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *s.users[userID]
	return &u, nil
}

func (s *MemoryStorage) Create(_ context.Context, u User) (*User, error) {
	u.Email = emailutil.Normalize(u.Email)
	if u.ID == "" || u.Email == "" {
		return nil, fmt.Errorf("user id and email are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return nil, fmt.Errorf("%w: id", ErrDuplicateKey)
	}
	if _, exists := s.byEmail[u.Email]; exists {
		return nil, fmt.Errorf("%w: email", ErrDuplicateKey)
	}
	for _, p := range []Provider{ProviderGoogle, ProviderGitHub} {
		if id := u.ProviderID(p); id != "" {
			if _, exists := s.byLink[linkKey(p, id)]; exists {
				return nil, fmt.Errorf("%w: %s id", ErrDuplicateKey, p)
			}
		}
	}

	stored := u
	s.users[u.ID] = &stored
	s.byEmail[u.Email] = u.ID
	for _, p := range []Provider{ProviderGoogle, ProviderGitHub} {
		if id := u.ProviderID(p); id != "" {
			s.byLink[linkKey(p, id)] = u.ID
		}
	}

	log.LogDebugWithFields("storage", "User created", map[string]any{
		"user_id": u.ID,
		"backend": "memory",
	})
	return &u, nil
}

func (s *MemoryStorage) ListAll(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	slices.SortFunc(users, func(a, b User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return users, nil
}

func (s *MemoryStorage) SetRole(_ context.Context, email string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byEmail[emailutil.Normalize(email)]
	if !ok {
		return ErrUserNotFound
	}
	u := s.users[userID]
	u.Role = role
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
