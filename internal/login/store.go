package login

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/nimbus/internal/cookie"
	"github.com/dgellow/nimbus/internal/crypto"
)

// ErrNoChallenge is returned by Take when no live challenge is stored
var ErrNoChallenge = errors.New("no login challenge")

// ChallengeStore keeps a challenge between the redirect to the provider and
// the callback
type ChallengeStore interface {
	Save(w http.ResponseWriter, c Challenge) error
	// Take returns the stored challenge and erases it, whether or not the
	// caller goes on to accept it
	Take(w http.ResponseWriter, r *http.Request) (Challenge, error)
}

// CookieStore keeps the challenge in the browser, sealed so that the client
// can neither read the verifier nor forge a challenge. One browser holds one
// challenge; starting a second login replaces the first.
type CookieStore struct {
	sealer *crypto.Sealer
	ttl    time.Duration
	now    func() time.Time
}

var _ ChallengeStore = (*CookieStore)(nil)

// NewCookieStore creates a store sealing with key. Challenges older than ttl
// are treated as absent.
func NewCookieStore(key []byte, ttl time.Duration) (*CookieStore, error) {
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return nil, err
	}
	return &CookieStore{sealer: sealer, ttl: ttl, now: time.Now}, nil
}

func (s *CookieStore) Save(w http.ResponseWriter, c Challenge) error {
	plain, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	sealed, err := s.sealer.Seal(plain, []byte(cookie.ChallengeCookie))
	if err != nil {
		return fmt.Errorf("seal challenge: %w", err)
	}
	cookie.SetChallenge(w, sealed, s.ttl)
	return nil
}

func (s *CookieStore) Take(w http.ResponseWriter, r *http.Request) (Challenge, error) {
	raw, err := cookie.GetChallenge(r)
	if err != nil {
		return Challenge{}, ErrNoChallenge
	}
	cookie.ClearChallenge(w)

	plain, err := s.sealer.Open(raw, []byte(cookie.ChallengeCookie))
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrNoChallenge, err)
	}
	var c Challenge
	if err := json.Unmarshal(plain, &c); err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrNoChallenge, err)
	}
	if s.now().After(c.CreatedAt.Add(s.ttl)) {
		return Challenge{}, fmt.Errorf("%w: expired", ErrNoChallenge)
	}
	return c, nil
}
