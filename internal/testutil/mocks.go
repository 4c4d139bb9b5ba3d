// Package testutil holds testify mocks shared by package tests.
package testutil

import (
	"context"

	"github.com/dgellow/nimbus/internal/events"
	"github.com/dgellow/nimbus/internal/storage"
	"github.com/stretchr/testify/mock"
)

type MockUserStore struct {
	mock.Mock
}

var _ storage.UserStore = (*MockUserStore)(nil)

func (m *MockUserStore) FindByProviderID(ctx context.Context, p storage.Provider, id string) (*storage.User, error) {
	args := m.Called(ctx, p, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.User), args.Error(1)
}

func (m *MockUserStore) FindByEmail(ctx context.Context, email string) (*storage.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.User), args.Error(1)
}

func (m *MockUserStore) Create(ctx context.Context, u storage.User) (*storage.User, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.User), args.Error(1)
}

func (m *MockUserStore) ListAll(ctx context.Context) ([]storage.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.User), args.Error(1)
}

func (m *MockUserStore) SetRole(ctx context.Context, email string, role storage.Role) error {
	args := m.Called(ctx, email, role)
	return args.Error(0)
}

func (m *MockUserStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

var _ events.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) UserCreated(ctx context.Context, e events.UserEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockPublisher) UserLoggedIn(ctx context.Context, e events.UserEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockPublisher) UserLoggedOut(ctx context.Context, e events.UserEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
