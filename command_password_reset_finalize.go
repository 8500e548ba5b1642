package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type FinalizePasswordResetHandler struct {
	store        CredentialStore
	credential   PasswordCredential
	resetCodec   *TokenCodec
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(store CredentialStore, credential PasswordCredential, codecs *TokenCodecs) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		store:        store,
		credential:   credential,
		resetCodec:   codecs.Reset,
		now:          time.Now,
		logger:       newDefLogger(),
		activitySink: noopActivitySink{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	claims, err := h.resetCodec.Verify(event.Token)
	if err != nil {
		h.logger.Info("password reset token rejected", "reason", KindOf(err))
		return wrapKind(err, KindInvalidToken, "invalid or expired password reset token")
	}

	account, err := loadTokenAccount(ctx, h.store, h.logger, claims)
	if err != nil {
		return err
	}

	hash, err := h.credential.Hash(event.Password)
	if err != nil {
		return internalError(err, "failed to hash password")
	}

	if err := h.store.UpdateFields(ctx, account.ID, Fields{ColPasswordHash: hash}); err != nil {
		if IsKind(err, KindNotFound) {
			return newKindError(KindInvalidToken, "", nil)
		}
		return internalError(err, "failed to update account password")
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     actorFor(account),
		AccountID: account.ID.String(),
		Metadata: map[string]any{
			"token_issued_at": claims.IssuedAt(),
		},
	})

	return nil
}
