package auth

import (
	"context"

	"github.com/google/uuid"
)

// RequestAuthenticator resolves an access token into an identity. It never
// refreshes: callers that need renewal call SessionManager.Refresh with the
// refresh token explicitly.
type RequestAuthenticator struct {
	codec  *TokenCodec
	store  CredentialStore
	gate   GatePolicy
	logger Logger
}

// NewRequestAuthenticator returns an authenticator for access tokens.
func NewRequestAuthenticator(codecs *TokenCodecs, store CredentialStore) *RequestAuthenticator {
	return &RequestAuthenticator{
		codec:  codecs.Access,
		store:  store,
		logger: newDefLogger(),
	}
}

func (a *RequestAuthenticator) WithLogger(logger Logger) *RequestAuthenticator {
	a.logger = normalizeLogger(logger)
	return a
}

// WithGatePolicy sets the lifecycle gate applied after the account loads.
func (a *RequestAuthenticator) WithGatePolicy(gate GatePolicy) *RequestAuthenticator {
	a.gate = gate
	return a
}

// Authenticate returns the minimal identity for accessToken.
func (a *RequestAuthenticator) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	account, err := a.AuthenticateAccount(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return IdentityOf(account), nil
}

// AuthenticateToken adapts Authenticate for the jwtware middleware.
func (a *RequestAuthenticator) AuthenticateToken(ctx context.Context, token string) (any, error) {
	return a.Authenticate(ctx, token)
}

// AuthenticateAccount verifies accessToken, reloads the account and applies
// the lifecycle gate. The gate is evaluated against storage on every call so
// a deactivation takes effect before the token expires.
func (a *RequestAuthenticator) AuthenticateAccount(ctx context.Context, accessToken string) (*Account, error) {
	if accessToken == "" {
		return nil, newKindError(KindUnauthenticated, "access token is required", nil)
	}

	claims, err := a.codec.Verify(accessToken)
	if err != nil {
		// expired and tampered tokens look the same to the caller
		a.logger.Info("access token rejected", "reason", KindOf(err))
		return nil, wrapKind(err, KindUnauthenticated, "invalid access token")
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, wrapKind(err, KindUnauthenticated, "invalid access token")
	}

	account, err := a.store.FindByID(ctx, id)
	if err != nil {
		if IsKind(err, KindNotFound) {
			a.logger.Info("access token for missing account", "account_id", id)
			return nil, newKindError(KindUnauthenticated, "invalid access token", nil)
		}
		return nil, internalError(err, "failed to load account")
	}

	if err := a.gate.Check(account); err != nil {
		a.logger.Info("access token blocked by account state", "account_id", id, "state", account.State())
		return nil, err
	}

	return account, nil
}
