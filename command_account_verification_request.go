package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// AccountVerificationResponse reports the outcome of a resend request.
type AccountVerificationResponse struct {
	// AlreadyVerified is set when no token was issued.
	AlreadyVerified bool
	Token           string
}

// AccountVerificationHandler issues a fresh email verification token.
type AccountVerificationHandler struct {
	store        CredentialStore
	verifyCodec  *TokenCodec
	notifier     Notifier
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

func NewAccountVerificationHandler(store CredentialStore, codecs *TokenCodecs) *AccountVerificationHandler {
	logger := newDefLogger()
	return &AccountVerificationHandler{
		store:        store,
		verifyCodec:  codecs.Verify,
		notifier:     NewLogNotifier(logger),
		now:          time.Now,
		logger:       logger,
		activitySink: noopActivitySink{},
	}
}

func (h *AccountVerificationHandler) WithLogger(logger Logger) *AccountVerificationHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *AccountVerificationHandler) WithNotifier(n Notifier) *AccountVerificationHandler {
	h.notifier = normalizeNotifier(n, h.logger)
	return h
}

func (h *AccountVerificationHandler) WithActivitySink(sink ActivitySink) *AccountVerificationHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

func (h *AccountVerificationHandler) Execute(ctx context.Context, event AccountVerificationRequestMessage) (AccountVerificationResponse, error) {
	select {
	case <-ctx.Done():
		return AccountVerificationResponse{}, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account verification request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *AccountVerificationHandler) execute(ctx context.Context, event AccountVerificationRequestMessage) (AccountVerificationResponse, error) {
	event.Email = NormalizeEmail(event.Email)
	if err := event.Validate(); err != nil {
		return AccountVerificationResponse{}, err
	}

	account, err := h.store.FindByField(ctx, FieldEmail, event.Email)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return AccountVerificationResponse{}, newKindError(KindNotFound, "no account with this email", nil)
		}
		return AccountVerificationResponse{}, internalError(err, "failed to retrieve account for verification")
	}

	if account.IsEmailVerified {
		return AccountVerificationResponse{AlreadyVerified: true}, nil
	}

	token, err := h.verifyCodec.Issue(purposeClaims(account))
	if err != nil {
		return AccountVerificationResponse{}, err
	}

	if err := h.notifier.SendEmailVerification(ctx, account.View(), token); err != nil {
		return AccountVerificationResponse{}, internalError(err, "failed to deliver verification email")
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventVerificationRequested,
		Actor:     actorFor(account),
		AccountID: account.ID.String(),
	})

	return AccountVerificationResponse{Token: token}, nil
}
