package auth

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger is the logging contract used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity holds the attributes of an authenticated account that downstream
// handlers may rely on.
type Identity interface {
	ID() string
	Username() string
	Email() string
	Role() string
}

// Config holds auth options
type Config interface {
	GetAccessTokenSecret() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenSecret() string
	GetRefreshTokenTTL() time.Duration
	GetResetTokenSecret() string
	GetResetTokenTTL() time.Duration
	GetVerifyTokenSecret() string
	GetVerifyTokenTTL() time.Duration
	GetIssuer() string
	GetAccessCookieName() string
	GetRefreshCookieName() string
	GetCookieSecure() bool
	GetRequireVerifiedEmail() bool
	GetPasswordCost() int
}

// PasswordCredential hashes and verifies secrets.
type PasswordCredential interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// Notifier delivers reset and verification tokens to the account owner.
type Notifier interface {
	SendPasswordReset(ctx context.Context, account AccountView, token string) error
	SendEmailVerification(ctx context.Context, account AccountView, token string) error
}

type defLogger struct {
	l *slog.Logger
}

func newDefLogger() defLogger {
	return defLogger{
		l: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})).
			With("component", "auth"),
	}
}

func (d defLogger) Debug(msg string, args ...any) { d.l.Debug(msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.l.Info(msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.l.Warn(msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.l.Error(msg, args...) }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return newDefLogger()
	}
	return l
}

type logNotifier struct {
	logger Logger
}

// NewLogNotifier returns a Notifier that only logs the delivery. It is the
// default until a mail transport is configured.
func NewLogNotifier(logger Logger) Notifier {
	return logNotifier{logger: normalizeLogger(logger)}
}

func (n logNotifier) SendPasswordReset(_ context.Context, account AccountView, token string) error {
	n.logger.Info("password reset notification", "account_id", account.ID, "email", account.Email, "token", token)
	return nil
}

func (n logNotifier) SendEmailVerification(_ context.Context, account AccountView, token string) error {
	n.logger.Info("email verification notification", "account_id", account.ID, "email", account.Email, "token", token)
	return nil
}

func normalizeNotifier(n Notifier, logger Logger) Notifier {
	if n == nil {
		return NewLogNotifier(logger)
	}
	return n
}
