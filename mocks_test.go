package auth_test

import (
	"context"
	"time"

	auth "github.com/goliatone/go-account-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of auth.CredentialStore.
type MockStore struct {
	mock.Mock
}

var _ auth.CredentialStore = (*MockStore)(nil)

func (m *MockStore) FindByID(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *MockStore) FindByField(ctx context.Context, field auth.AccountField, value string) (*auth.Account, error) {
	args := m.Called(ctx, field, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *MockStore) UpdateFields(ctx context.Context, id uuid.UUID, fields auth.Fields) error {
	args := m.Called(ctx, id, fields)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) RecordLogin(ctx context.Context, id uuid.UUID, refreshToken string, at time.Time) error {
	args := m.Called(ctx, id, refreshToken, at)
	return args.Error(0)
}

func (m *MockStore) ReplaceRefreshToken(ctx context.Context, id uuid.UUID, expected, next string) error {
	args := m.Called(ctx, id, expected, next)
	return args.Error(0)
}

// MockCredential is a testify mock of auth.PasswordCredential.
type MockCredential struct {
	mock.Mock
}

func (m *MockCredential) Hash(plaintext string) (string, error) {
	args := m.Called(plaintext)
	return args.String(0), args.Error(1)
}

func (m *MockCredential) Verify(plaintext, hash string) bool {
	args := m.Called(plaintext, hash)
	return args.Bool(0)
}
