package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionManager issues token pairs and owns the stored refresh token. The
// refresh token column is only written through Login, Refresh and Logout,
// which keeps at most one live session per account.
type SessionManager struct {
	store        CredentialStore
	codecs       *TokenCodecs
	gate         GatePolicy
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

// NewSessionManager returns a SessionManager backed by store.
func NewSessionManager(store CredentialStore, codecs *TokenCodecs) *SessionManager {
	return &SessionManager{
		store:        store,
		codecs:       codecs,
		now:          time.Now,
		logger:       newDefLogger(),
		activitySink: noopActivitySink{},
	}
}

func (s *SessionManager) WithLogger(logger Logger) *SessionManager {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting session events.
func (s *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithGatePolicy sets the lifecycle gate consulted on refresh.
func (s *SessionManager) WithGatePolicy(gate GatePolicy) *SessionManager {
	s.gate = gate
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *SessionManager) WithClock(clock func() time.Time) *SessionManager {
	if clock != nil {
		s.now = clock
	}
	return s
}

// withStore returns a copy bound to another store, e.g. a transaction.
func (s *SessionManager) withStore(store CredentialStore) *SessionManager {
	clone := *s
	clone.store = store
	return &clone
}

// Login issues a new pair for an already authenticated account and stores
// the refresh token, replacing any previous one. No pair is returned unless
// the store write succeeded. On success the login counters of account are
// updated in place.
func (s *SessionManager) Login(ctx context.Context, account *Account) (TokenPair, error) {
	if account == nil {
		return TokenPair{}, newKindError(KindInvalidInput, "account must not be nil", nil)
	}

	pair, err := s.issuePair(account)
	if err != nil {
		return TokenPair{}, err
	}

	now := s.now()
	if err := s.store.RecordLogin(ctx, account.ID, pair.RefreshToken, now); err != nil {
		s.logger.Error("session login failed to persist refresh token", "account_id", account.ID, "error", err)
		return TokenPair{}, internalError(err, "failed to persist session")
	}

	account.RefreshToken = pair.RefreshToken
	account.LoginCount++
	account.LastLoginAt = &now
	account.LastActivityAt = &now

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     actorFor(account),
		AccountID: account.ID.String(),
	})

	return pair, nil
}

// Refresh verifies the presented refresh token, checks it is the one stored
// for the account and rotates it. Concurrent refreshes with the same token
// resolve to one success; the others fail as revoked.
func (s *SessionManager) Refresh(ctx context.Context, presented string) (TokenPair, error) {
	if presented == "" {
		return TokenPair{}, newKindError(KindUnauthenticated, "refresh token is required", nil)
	}

	claims, err := s.codecs.Refresh.Verify(presented)
	if err != nil {
		s.logger.Info("refresh token rejected", "reason", KindOf(err))
		return TokenPair{}, wrapKind(err, KindUnauthenticated, "invalid refresh token")
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return TokenPair{}, wrapKind(err, KindUnauthenticated, "invalid refresh token")
	}

	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		if IsKind(err, KindNotFound) {
			s.logger.Info("refresh token for missing account", "account_id", id)
			return TokenPair{}, wrapKind(err, KindUnauthenticated, "invalid refresh token")
		}
		return TokenPair{}, internalError(err, "failed to load account for refresh")
	}

	if account.RefreshToken == "" || account.RefreshToken != presented {
		s.logger.Warn("superseded refresh token presented", "account_id", id)
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventRefreshReuse,
			Actor:     actorFor(account),
			AccountID: account.ID.String(),
		})
		return TokenPair{}, newKindError(KindRevoked, "", nil)
	}

	if err := s.gate.Check(account); err != nil {
		return TokenPair{}, err
	}

	pair, err := s.issuePair(account)
	if err != nil {
		return TokenPair{}, err
	}

	if err := s.store.ReplaceRefreshToken(ctx, account.ID, presented, pair.RefreshToken); err != nil {
		if IsKind(err, KindRevoked) {
			s.logger.Warn("refresh token lost rotation race", "account_id", id)
			return TokenPair{}, err
		}
		return TokenPair{}, internalError(err, "failed to rotate refresh token")
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionRefreshed,
		Actor:     actorFor(account),
		AccountID: account.ID.String(),
	})

	return pair, nil
}

// Logout clears the stored refresh token. Logging out twice, or logging out
// an account that no longer exists, is not an error.
func (s *SessionManager) Logout(ctx context.Context, id uuid.UUID) error {
	if err := s.clear(ctx, id); err != nil {
		return err
	}
	s.recordLogout(ctx, id)
	return nil
}

// clear drops the stored refresh token without emitting activity, for use
// inside a transaction that has not committed yet.
func (s *SessionManager) clear(ctx context.Context, id uuid.UUID) error {
	err := s.store.UpdateFields(ctx, id, Fields{ColRefreshToken: ""})
	if err != nil && !IsKind(err, KindNotFound) {
		return internalError(err, "failed to clear session")
	}
	return nil
}

func (s *SessionManager) recordLogout(ctx context.Context, id uuid.UUID) {
	s.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		Actor:     ActorRef{ID: id.String(), Type: "account"},
		AccountID: id.String(),
	})
}

func (s *SessionManager) issuePair(account *Account) (TokenPair, error) {
	access, err := s.codecs.Access.Issue(accessClaims(account))
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.codecs.Refresh.Issue(refreshClaims(account))
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *SessionManager) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, s.activitySink, s.logger, s.now, event)
}
