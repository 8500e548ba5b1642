package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// InitializePasswordResetResponse carries the issued reset token.
type InitializePasswordResetResponse struct {
	Token     string
	ExpiresAt time.Time
}

// InitializePasswordResetHandler issues reset tokens. Tokens are not stored:
// any unexpired reset token stays valid until it expires.
type InitializePasswordResetHandler struct {
	store        CredentialStore
	resetCodec   *TokenCodec
	notifier     Notifier
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

func NewInitializePasswordResetHandler(store CredentialStore, codecs *TokenCodecs) *InitializePasswordResetHandler {
	logger := newDefLogger()
	return &InitializePasswordResetHandler{
		store:        store,
		resetCodec:   codecs.Reset,
		notifier:     NewLogNotifier(logger),
		now:          time.Now,
		logger:       logger,
		activitySink: noopActivitySink{},
	}
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *InitializePasswordResetHandler) WithNotifier(n Notifier) *InitializePasswordResetHandler {
	h.notifier = normalizeNotifier(n, h.logger)
	return h
}

func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) (InitializePasswordResetResponse, error) {
	select {
	case <-ctx.Done():
		return InitializePasswordResetResponse{}, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) (InitializePasswordResetResponse, error) {
	event.Email = NormalizeEmail(event.Email)
	if err := event.Validate(); err != nil {
		return InitializePasswordResetResponse{}, err
	}

	account, err := h.store.FindByField(ctx, FieldEmail, event.Email)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return InitializePasswordResetResponse{}, newKindError(KindNotFound, "no account with this email", nil)
		}
		return InitializePasswordResetResponse{}, internalError(err, "failed to retrieve account for password reset")
	}

	token, err := h.resetCodec.Issue(purposeClaims(account))
	if err != nil {
		return InitializePasswordResetResponse{}, err
	}

	if err := h.notifier.SendPasswordReset(ctx, account.View(), token); err != nil {
		return InitializePasswordResetResponse{}, internalError(err, "failed to deliver password reset email")
	}

	now := h.now()
	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType:  ActivityEventPasswordResetRequest,
		Actor:      actorFor(account),
		AccountID:  account.ID.String(),
		OccurredAt: now,
	})

	return InitializePasswordResetResponse{
		Token:     token,
		ExpiresAt: now.Add(h.resetCodec.Lifetime()),
	}, nil
}
