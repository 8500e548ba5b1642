package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ChangePasswordHandler replaces the password of an authenticated account.
// The current session is kept.
type ChangePasswordHandler struct {
	store        CredentialStore
	credential   PasswordCredential
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

func NewChangePasswordHandler(store CredentialStore, credential PasswordCredential) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		store:        store,
		credential:   credential,
		now:          time.Now,
		logger:       newDefLogger(),
		activitySink: noopActivitySink{},
	}
}

func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *ChangePasswordHandler) WithActivitySink(sink ActivitySink) *ChangePasswordHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	id := uuid.MustParse(event.AccountID)

	account, err := h.store.FindByID(ctx, id)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return newKindError(KindUnauthenticated, "", nil)
		}
		return internalError(err, "failed to load account")
	}

	if !h.credential.Verify(event.OldPassword, account.PasswordHash) {
		h.logger.Info("password change with wrong current password", "account_id", id)
		return newKindError(KindInvalidCredential, "invalid old password", nil)
	}

	hash, err := h.credential.Hash(event.NewPassword)
	if err != nil {
		return internalError(err, "failed to hash password")
	}

	if err := h.store.UpdateFields(ctx, id, Fields{ColPasswordHash: hash}); err != nil {
		return internalError(err, "failed to update password")
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     actorFor(account),
		AccountID: account.ID.String(),
	})

	return nil
}
