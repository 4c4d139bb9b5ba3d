package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/nimbus/internal/emailutil"
	"github.com/dgellow/nimbus/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements UserStore using Google Cloud Firestore.
//
// User documents live in the configured collection keyed by user id. Firestore
// has no unique indexes, so every unique value (email and each linked provider
// id) also owns a document in "<collection>_keys". A user and its key documents
// are created in one transaction; a key that already exists aborts the whole
// write with ErrDuplicateKey.
type FirestoreStore struct {
	client        *firestore.Client
	collection    string
	keyCollection string
	now           func() time.Time
}

var _ UserStore = (*FirestoreStore)(nil)

// UserDoc represents a user document in Firestore
type UserDoc struct {
	ID        string    `firestore:"id"`
	Email     string    `firestore:"email"`
	Name      string    `firestore:"name"`
	Role      string    `firestore:"role"`
	GoogleID  string    `firestore:"google_id,omitempty"`
	GitHubID  string    `firestore:"github_id,omitempty"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// keyDoc points a unique value at the user that owns it
type keyDoc struct {
	UserID string `firestore:"user_id"`
}

func (d *UserDoc) toUser() *User {
	return &User{
		ID:        d.ID,
		Email:     d.Email,
		Name:      d.Name,
		Role:      Role(d.Role),
		GoogleID:  d.GoogleID,
		GitHubID:  d.GitHubID,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func fromUser(u User) *UserDoc {
	return &UserDoc{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		GoogleID:  u.GoogleID,
		GitHubID:  u.GitHubID,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NewFirestoreStore creates a new Firestore user store
func NewFirestoreStore(ctx context.Context, projectID, database, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Firestore user store ready", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStore{
		client:        client,
		collection:    collection,
		keyCollection: collection + "_keys",
		now:           time.Now,
	}, nil
}

// emailKey is the key document id for an email. Document ids cannot hold
// "/" and emails may, so the normalized address is hashed.
func emailKey(email string) string {
	sum := sha256.Sum256([]byte(emailutil.Normalize(email)))
	return "email:" + hex.EncodeToString(sum[:])
}

func (s *FirestoreStore) getByID(ctx context.Context, id string) (*User, error) {
	doc, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user from Firestore: %w", err)
	}

	var userDoc UserDoc
	if err := doc.DataTo(&userDoc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return userDoc.toUser(), nil
}

func (s *FirestoreStore) getByKey(ctx context.Context, key string) (*User, error) {
	doc, err := s.client.Collection(s.keyCollection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get key from Firestore: %w", err)
	}

	var k keyDoc
	if err := doc.DataTo(&k); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key: %w", err)
	}
	return s.getByID(ctx, k.UserID)
}

func (s *FirestoreStore) FindByProviderID(ctx context.Context, p Provider, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	return s.getByKey(ctx, linkKey(p, id))
}

func (s *FirestoreStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.getByKey(ctx, emailKey(email))
}

func (s *FirestoreStore) Create(ctx context.Context, u User) (*User, error) {
	u.Email = emailutil.Normalize(u.Email)
	if u.ID == "" || u.Email == "" {
		return nil, fmt.Errorf("user id and email are required")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}

	keys := []string{emailKey(u.Email)}
	for _, p := range []Provider{ProviderGoogle, ProviderGitHub} {
		if id := u.ProviderID(p); id != "" {
			keys = append(keys, linkKey(p, id))
		}
	}

	userRef := s.client.Collection(s.collection).Doc(u.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(userRef, fromUser(u)); err != nil {
			return err
		}
		for _, key := range keys {
			if err := tx.Create(s.client.Collection(s.keyCollection).Doc(key), keyDoc{UserID: u.ID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return nil, fmt.Errorf("failed to create user in Firestore: %w", err)
	}

	log.LogDebugWithFields("storage", "User created", map[string]any{
		"user_id": u.ID,
		"backend": "firestore",
	})
	return &u, nil
}

func (s *FirestoreStore) ListAll(ctx context.Context) ([]User, error) {
	iter := s.client.Collection(s.collection).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	users := []User{}
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate users: %w", err)
		}

		var userDoc UserDoc
		if err := doc.DataTo(&userDoc); err != nil {
			log.LogError("Failed to unmarshal user (id: %s): %v", doc.Ref.ID, err)
			continue
		}
		users = append(users, *userDoc.toUser())
	}
	return users, nil
}

func (s *FirestoreStore) SetRole(ctx context.Context, email string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	u, err := s.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	_, err = s.client.Collection(s.collection).Doc(u.ID).Update(ctx, []firestore.Update{
		{Path: "role", Value: string(role)},
		{Path: "updated_at", Value: s.now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return ErrUserNotFound
	}
	return err
}

// Close closes the Firestore client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
