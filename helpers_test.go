package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-account-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func testSettings() auth.Settings {
	return auth.Settings{
		AccessTokenSecret:  "access-secret",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenSecret: "refresh-secret",
		RefreshTokenTTL:    240 * time.Hour,
		ResetTokenSecret:   "reset-secret",
		ResetTokenTTL:      15 * time.Minute,
		VerifyTokenSecret:  "verify-secret",
		VerifyTokenTTL:     24 * time.Hour,
		Issuer:             "test-issuer",
		AccessCookieName:   "access_token",
		RefreshCookieName:  "refresh_token",
		PasswordCost:       bcrypt.MinCost,
	}
}

// newTestDB opens a private in-memory sqlite database with the schema applied.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	cfg := auth.DatabaseConfig{
		Driver: auth.DriverSQLite,
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}
	db, err := auth.OpenDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, auth.MigrateDatabase(context.Background(), db, cfg))
	return db
}

func newTestStore(t *testing.T, opts ...auth.AccountStoreOption) *auth.AccountStore {
	t.Helper()
	return auth.NewAccountStore(newTestDB(t), opts...)
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []auth.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType)
	}
	return out
}

func (c *capturingSink) last(kind auth.ActivityEventType) (auth.ActivityEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].EventType == kind {
			return c.events[i], true
		}
	}
	return auth.ActivityEvent{}, false
}

type recordingNotifier struct {
	mu           sync.Mutex
	resets       map[string]string
	verification map[string]string
	err          error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		resets:       map[string]string{},
		verification: map[string]string{},
	}
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, account auth.AccountView, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.resets[account.Email] = token
	return nil
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, account auth.AccountView, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.verification[account.Email] = token
	return nil
}

func (n *recordingNotifier) resetToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resets[email]
}

func (n *recordingNotifier) verifyToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[email]
}

// seedAccount stores an active account with the given password.
func seedAccount(t *testing.T, store auth.CredentialStore, username, email, password string) *auth.Account {
	t.Helper()

	hash, err := auth.NewBcryptCredential(bcrypt.MinCost).Hash(password)
	require.NoError(t, err)

	account, err := store.Create(context.Background(), &auth.Account{
		Username:     username,
		Email:        email,
		FullName:     "Test " + username,
		PasswordHash: hash,
		IsActive:     true,
		Role:         auth.RoleStandard,
	})
	require.NoError(t, err)
	return account
}
