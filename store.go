package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountField names a unique lookup field.
type AccountField string

const (
	FieldUsername AccountField = "username"
	FieldEmail    AccountField = "email"
)

// Fields is a partial account update keyed by column name.
type Fields map[string]any

// Updatable columns. Anything else passed to UpdateFields is rejected.
const (
	ColFullName           = "full_name"
	ColEmail              = "email"
	ColAvatar             = "avatar"
	ColCoverImage         = "cover_image"
	ColPasswordHash       = "password_hash"
	ColRefreshToken       = "refresh_token"
	ColRole               = "role"
	ColIsEmailVerified    = "is_email_verified"
	ColIsActive           = "is_active"
	ColDeactivationReason = "deactivation_reason"
	ColDeactivatedAt      = "deactivated_at"
	ColLastActivityAt     = "last_activity_at"
)

var updatableColumns = map[string]struct{}{
	ColFullName:           {},
	ColEmail:              {},
	ColAvatar:             {},
	ColCoverImage:         {},
	ColPasswordHash:       {},
	ColRefreshToken:       {},
	ColRole:               {},
	ColIsEmailVerified:    {},
	ColIsActive:           {},
	ColDeactivationReason: {},
	ColDeactivatedAt:      {},
	ColLastActivityAt:     {},
}

// CredentialStore is the narrow storage contract the auth services need.
// Every method returns an ErrNotFound kind when the id is absent.
type CredentialStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByField(ctx context.Context, field AccountField, value string) (*Account, error)
	// Create fails with a Conflict kind when the handle or email is taken.
	Create(ctx context.Context, account *Account) (*Account, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields Fields) error
	Delete(ctx context.Context, id uuid.UUID) error

	// RecordLogin overwrites the refresh token and bumps the login counters
	// in a single row update.
	RecordLogin(ctx context.Context, id uuid.UUID, refreshToken string, at time.Time) error
	// ReplaceRefreshToken swaps expected for next only if expected is still
	// the stored value. It fails with a Revoked kind otherwise.
	ReplaceRefreshToken(ctx context.Context, id uuid.UUID, expected, next string) error
}

// TxCredentialStore is implemented by stores that can run several calls in
// one transaction.
type TxCredentialStore interface {
	CredentialStore
	RunInTx(ctx context.Context, fn func(ctx context.Context, store CredentialStore) error) error
}

// runInTx runs fn in a transaction when the store supports it and directly
// otherwise.
func runInTx(ctx context.Context, store CredentialStore, fn func(ctx context.Context, store CredentialStore) error) error {
	if tx, ok := store.(TxCredentialStore); ok {
		return tx.RunInTx(ctx, fn)
	}
	return fn(ctx, store)
}
