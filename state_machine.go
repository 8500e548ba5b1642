package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const defaultDeactivationReason = "User requested deactivation"

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = newKindError(KindInvalidInput, "invalid account state transition", nil)

// ErrTerminalState is returned when attempting to move a deleted account.
var ErrTerminalState = newKindError(KindConflict, "account state is terminal", nil)

// GatePolicy is the single check every authenticated entry point consults.
// Deactivated and deleted accounts never pass. Unverified accounts pass
// unless RequireVerifiedEmail is set.
type GatePolicy struct {
	RequireVerifiedEmail bool
}

// Check returns nil when account may authenticate.
func (g GatePolicy) Check(account *Account) error {
	switch state := account.State(); state {
	case StateDeleted:
		return newKindError(KindUnauthenticated, "account not found", nil)
	case StateDeactivated:
		return newKindError(KindUnauthenticated, "account is deactivated", map[string]any{"state": state})
	case StateUnverified:
		if g.RequireVerifiedEmail {
			return newKindError(KindUnauthenticated, "email address is not verified", map[string]any{"state": state})
		}
	}
	return nil
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*TransitionMetadata)

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(m *TransitionMetadata) {
		m.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition event.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(m *TransitionMetadata) {
		if len(metadata) == 0 {
			return
		}
		if m.Metadata == nil {
			m.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			m.Metadata[k] = v
		}
	}
}

// StatusUpdate is an administrative change of role and lifecycle flags. Nil
// fields are left untouched.
type StatusUpdate struct {
	Role            *Role `json:"role,omitempty"`
	IsActive        *bool `json:"is_active,omitempty"`
	IsEmailVerified *bool `json:"is_email_verified,omitempty"`
}

// AccountLifecycle governs the unverified, active, deactivated and deleted
// states and the side effects of moving between them.
type AccountLifecycle struct {
	store        CredentialStore
	sessions     *SessionManager
	verifyCodec  *TokenCodec
	credential   PasswordCredential
	dummy        *dummyVerifier
	gate         GatePolicy
	transitions  map[AccountState]map[AccountState]struct{}
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

// NewAccountLifecycle returns the lifecycle service.
func NewAccountLifecycle(store CredentialStore, sessions *SessionManager, codecs *TokenCodecs, credential PasswordCredential) *AccountLifecycle {
	return &AccountLifecycle{
		store:       store,
		sessions:    sessions,
		verifyCodec: codecs.Verify,
		credential:  credential,
		dummy:       &dummyVerifier{},
		transitions: map[AccountState]map[AccountState]struct{}{
			StateUnverified: {
				StateActive:      {},
				StateDeactivated: {},
			},
			StateActive: {
				StateUnverified:  {},
				StateDeactivated: {},
			},
			StateDeactivated: {
				StateActive:     {},
				StateUnverified: {},
			},
		},
		now:          time.Now,
		logger:       newDefLogger(),
		activitySink: noopActivitySink{},
	}
}

func (l *AccountLifecycle) WithLogger(logger Logger) *AccountLifecycle {
	l.logger = normalizeLogger(logger)
	return l
}

// WithActivitySink sets the ActivitySink used to publish lifecycle events.
func (l *AccountLifecycle) WithActivitySink(sink ActivitySink) *AccountLifecycle {
	l.activitySink = normalizeActivitySink(sink)
	return l
}

// WithGatePolicy sets the gate used by Gate.
func (l *AccountLifecycle) WithGatePolicy(gate GatePolicy) *AccountLifecycle {
	l.gate = gate
	return l
}

// WithClock injects a custom clock (useful for tests).
func (l *AccountLifecycle) WithClock(clock func() time.Time) *AccountLifecycle {
	if clock != nil {
		l.now = clock
	}
	return l
}

// Gate rejects accounts that must not authenticate.
func (l *AccountLifecycle) Gate(account *Account) error {
	return l.gate.Check(account)
}

// VerifyEmail marks the account of a verify token as verified. Verifying an
// already verified account succeeds without a write.
func (l *AccountLifecycle) VerifyEmail(ctx context.Context, token string) (AccountView, error) {
	claims, err := l.verifyCodec.Verify(token)
	if err != nil {
		l.logger.Info("email verification token rejected", "reason", KindOf(err))
		return AccountView{}, wrapKind(err, KindInvalidToken, "invalid or expired verification token")
	}

	account, err := l.accountForToken(ctx, claims)
	if err != nil {
		return AccountView{}, err
	}

	if account.IsEmailVerified {
		return account.View(), nil
	}

	actor := actorFor(account)
	changed, err := l.apply(ctx, l.store, actor, account, Fields{ColIsEmailVerified: true})
	if err != nil {
		return AccountView{}, err
	}

	l.recordPending(ctx, changed)
	l.record(ctx, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor:     actor,
		AccountID: account.ID.String(),
	})

	return account.View(), nil
}

// Deactivate requires the account password, marks the account inactive and
// clears its session in the same transaction.
func (l *AccountLifecycle) Deactivate(ctx context.Context, id uuid.UUID, password, reason string) error {
	account, err := l.confirmPassword(ctx, id, password)
	if err != nil {
		return err
	}

	if !account.IsActive {
		return nil
	}

	if reason == "" {
		reason = defaultDeactivationReason
	}
	now := l.now().UTC()

	var changed *ActivityEvent
	err = runInTx(ctx, l.store, func(ctx context.Context, store CredentialStore) error {
		var err error
		changed, err = l.apply(ctx, store, actorFor(account), account, Fields{
			ColIsActive:           false,
			ColDeactivationReason: reason,
			ColDeactivatedAt:      now,
		}, WithTransitionReason(reason))
		if err != nil {
			return err
		}
		return l.sessions.withStore(store).clear(ctx, account.ID)
	})
	if err != nil {
		return err
	}

	l.recordPending(ctx, changed)
	l.sessions.recordLogout(ctx, account.ID)
	return nil
}

// Reactivate restores a deactivated account after password confirmation.
// An active account is returned unchanged.
func (l *AccountLifecycle) Reactivate(ctx context.Context, email, password string) (AccountView, error) {
	account, err := l.store.FindByField(ctx, FieldEmail, email)
	if err != nil {
		if IsKind(err, KindNotFound) {
			l.logger.Info("reactivation for unknown email")
			l.dummy.burn(l.credential, password)
			return AccountView{}, newKindError(KindInvalidCredential, "", nil)
		}
		return AccountView{}, internalError(err, "failed to load account for reactivation")
	}

	if !l.credential.Verify(password, account.PasswordHash) {
		l.logger.Info("reactivation with wrong password", "account_id", account.ID)
		return AccountView{}, newKindError(KindInvalidCredential, "", nil)
	}

	if account.IsActive {
		return account.View(), nil
	}

	changed, err := l.apply(ctx, l.store, actorFor(account), account, Fields{
		ColIsActive:           true,
		ColDeactivationReason: "",
		ColDeactivatedAt:      nil,
	}, WithTransitionReason("User requested reactivation"))
	if err != nil {
		return AccountView{}, err
	}
	l.recordPending(ctx, changed)

	return account.View(), nil
}

// Delete permanently removes the account after password confirmation and
// revokes its session.
func (l *AccountLifecycle) Delete(ctx context.Context, id uuid.UUID, password string) error {
	account, err := l.confirmPassword(ctx, id, password)
	if err != nil {
		return err
	}
	return l.remove(ctx, actorFor(account), account)
}

// Remove deletes an account on behalf of an administrator. No password is
// required.
func (l *AccountLifecycle) Remove(ctx context.Context, actor ActorRef, id uuid.UUID) error {
	account, err := l.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return l.remove(ctx, actor, account)
}

func (l *AccountLifecycle) remove(ctx context.Context, actor ActorRef, account *Account) error {
	from := account.State()
	err := runInTx(ctx, l.store, func(ctx context.Context, store CredentialStore) error {
		if err := l.sessions.withStore(store).clear(ctx, account.ID); err != nil {
			return err
		}
		if err := store.Delete(ctx, account.ID); err != nil {
			return internalError(err, "failed to delete account")
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.sessions.recordLogout(ctx, account.ID)
	l.record(ctx, ActivityEvent{
		EventType: ActivityEventStateChanged,
		Actor:     actor,
		AccountID: account.ID.String(),
		FromState: from,
		ToState:   StateDeleted,
	})
	l.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     actor,
		AccountID: account.ID.String(),
	})

	return nil
}

// SetStatus applies an administrative status change. Deactivating an
// account also clears its session.
func (l *AccountLifecycle) SetStatus(ctx context.Context, actor ActorRef, id uuid.UUID, update StatusUpdate) (AccountView, error) {
	fields := Fields{}
	if update.Role != nil {
		if !update.Role.Valid() {
			return AccountView{}, newKindError(KindInvalidInput, "unknown role", map[string]any{"role": *update.Role})
		}
		fields[ColRole] = string(*update.Role)
	}
	if update.IsEmailVerified != nil {
		fields[ColIsEmailVerified] = *update.IsEmailVerified
	}
	if update.IsActive != nil {
		fields[ColIsActive] = *update.IsActive
		if *update.IsActive {
			fields[ColDeactivationReason] = ""
			fields[ColDeactivatedAt] = nil
		} else {
			fields[ColDeactivationReason] = "Deactivated by administrator"
			fields[ColDeactivatedAt] = l.now().UTC()
		}
	}
	if len(fields) == 0 {
		return AccountView{}, newKindError(KindInvalidInput, "no status fields provided", nil)
	}

	account, err := l.store.FindByID(ctx, id)
	if err != nil {
		return AccountView{}, err
	}

	if update.IsActive != nil && *update.IsActive == account.IsActive {
		delete(fields, ColIsActive)
		delete(fields, ColDeactivationReason)
		delete(fields, ColDeactivatedAt)
	}

	var changed *ActivityEvent
	err = runInTx(ctx, l.store, func(ctx context.Context, store CredentialStore) error {
		var err error
		changed, err = l.apply(ctx, store, actor, account, fields, WithTransitionReason("administrative status update"))
		if err != nil {
			return err
		}
		if !account.IsActive {
			return l.sessions.withStore(store).clear(ctx, account.ID)
		}
		return nil
	})
	if err != nil {
		return AccountView{}, err
	}

	l.recordPending(ctx, changed)
	if !account.IsActive {
		l.sessions.recordLogout(ctx, account.ID)
	}

	return account.View(), nil
}

// CurrentState returns the derived state of account.
func (l *AccountLifecycle) CurrentState(account *Account) AccountState {
	return account.State()
}

// apply writes fields, validating the state change they imply, and updates
// account in place. A state change is published to the activity sink.
// apply validates and persists fields. It returns the state change event
// without recording it so callers inside a transaction can emit it after
// commit.
func (l *AccountLifecycle) apply(ctx context.Context, store CredentialStore, actor ActorRef, account *Account, fields Fields, opts ...TransitionOption) (*ActivityEvent, error) {
	if account == nil {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{"reason": "account is nil"})
	}
	if len(fields) == 0 {
		return nil, nil
	}

	from := account.State()
	next := *account
	applyFields(&next, fields)
	target := next.State()

	if from == StateDeleted {
		return nil, ErrTerminalState.Clone().WithMetadata(map[string]any{"from": from, "to": target})
	}
	if from != target && !l.canTransition(from, target) {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{"from": from, "to": target})
	}

	if err := store.UpdateFields(ctx, account.ID, fields); err != nil {
		return nil, internalError(err, "failed to update account state")
	}
	*account = next

	if from == target {
		return nil, nil
	}

	meta := TransitionMetadata{}
	for _, opt := range opts {
		if opt != nil {
			opt(&meta)
		}
	}
	return &ActivityEvent{
		EventType: ActivityEventStateChanged,
		Actor:     actor,
		AccountID: account.ID.String(),
		FromState: from,
		ToState:   target,
		Metadata:  transitionMetadata(meta),
	}, nil
}

func (l *AccountLifecycle) canTransition(from, to AccountState) bool {
	if allowed, ok := l.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (l *AccountLifecycle) confirmPassword(ctx context.Context, id uuid.UUID, password string) (*Account, error) {
	account, err := l.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !l.credential.Verify(password, account.PasswordHash) {
		l.logger.Info("password confirmation failed", "account_id", id)
		return nil, newKindError(KindInvalidCredential, "", nil)
	}
	return account, nil
}

// accountForToken loads the account named by a purpose token. A token for a
// missing account or for an email the account no longer has is invalid.
func (l *AccountLifecycle) accountForToken(ctx context.Context, claims *AccountClaims) (*Account, error) {
	return loadTokenAccount(ctx, l.store, l.logger, claims)
}

func (l *AccountLifecycle) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, l.activitySink, l.logger, l.now, event)
}

func (l *AccountLifecycle) recordPending(ctx context.Context, event *ActivityEvent) {
	if event != nil {
		l.record(ctx, *event)
	}
}

func loadTokenAccount(ctx context.Context, store CredentialStore, logger Logger, claims *AccountClaims) (*Account, error) {
	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, wrapKind(err, KindInvalidToken, "")
	}

	account, err := store.FindByID(ctx, id)
	if err != nil {
		if IsKind(err, KindNotFound) {
			logger.Info("purpose token for missing account", "account_id", id)
			return nil, newKindError(KindInvalidToken, "", nil)
		}
		return nil, internalError(err, "failed to load account")
	}

	if claims.Mail != "" && claims.Mail != account.Email {
		logger.Info("purpose token issued for a previous email", "account_id", id)
		return nil, newKindError(KindInvalidToken, "", nil)
	}

	return account, nil
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

func applyFields(a *Account, fields Fields) {
	for col, v := range fields {
		switch col {
		case ColFullName:
			a.FullName, _ = v.(string)
		case ColEmail:
			a.Email, _ = v.(string)
		case ColAvatar:
			a.Avatar, _ = v.(string)
		case ColCoverImage:
			a.CoverImage, _ = v.(string)
		case ColPasswordHash:
			a.PasswordHash, _ = v.(string)
		case ColRefreshToken:
			a.RefreshToken, _ = v.(string)
		case ColRole:
			if s, ok := v.(string); ok {
				a.Role = Role(s)
			}
		case ColIsEmailVerified:
			a.IsEmailVerified, _ = v.(bool)
		case ColIsActive:
			a.IsActive, _ = v.(bool)
		case ColDeactivationReason:
			a.DeactivationReason, _ = v.(string)
		case ColDeactivatedAt, ColLastActivityAt:
			var t *time.Time
			if ts, ok := v.(time.Time); ok {
				t = &ts
			}
			if col == ColDeactivatedAt {
				a.DeactivatedAt = t
			} else {
				a.LastActivityAt = t
			}
		}
	}
}
