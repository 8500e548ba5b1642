package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RegisterAccountResponse is returned by a successful registration.
type RegisterAccountResponse struct {
	Account AccountView
	// VerifyToken is the email verification token handed to the Notifier.
	VerifyToken string
}

// RegisterAccountHandler creates accounts. New accounts are active with an
// unverified email.
type RegisterAccountHandler struct {
	store        CredentialStore
	credential   PasswordCredential
	verifyCodec  *TokenCodec
	notifier     Notifier
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

// NewRegisterAccountHandler creates a handler with sane defaults.
func NewRegisterAccountHandler(store CredentialStore, credential PasswordCredential, codecs *TokenCodecs) *RegisterAccountHandler {
	logger := newDefLogger()
	return &RegisterAccountHandler{
		store:        store,
		credential:   credential,
		verifyCodec:  codecs.Verify,
		notifier:     NewLogNotifier(logger),
		now:          time.Now,
		logger:       logger,
		activitySink: noopActivitySink{},
	}
}

func (h *RegisterAccountHandler) WithLogger(logger Logger) *RegisterAccountHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *RegisterAccountHandler) WithNotifier(n Notifier) *RegisterAccountHandler {
	h.notifier = normalizeNotifier(n, h.logger)
	return h
}

func (h *RegisterAccountHandler) WithActivitySink(sink ActivitySink) *RegisterAccountHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) (RegisterAccountResponse, error) {
	select {
	case <-ctx.Done():
		return RegisterAccountResponse{}, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) (RegisterAccountResponse, error) {
	event.Username = NormalizeHandle(event.Username)
	event.Email = NormalizeEmail(event.Email)

	if err := event.Validate(); err != nil {
		return RegisterAccountResponse{}, err
	}

	hash, err := h.credential.Hash(event.Password)
	if err != nil {
		return RegisterAccountResponse{}, internalError(err, "failed to hash password")
	}

	account, err := h.store.Create(ctx, &Account{
		Username:     event.Username,
		Email:        event.Email,
		FullName:     event.FullName,
		Avatar:       event.Avatar,
		CoverImage:   event.CoverImage,
		PasswordHash: hash,
		Role:         RoleStandard,
		IsActive:     true,
	})
	if err != nil {
		if IsKind(err, KindConflict) {
			h.logger.Info("registration rejected, identity taken", "username", event.Username)
			return RegisterAccountResponse{}, err
		}
		return RegisterAccountResponse{}, internalError(err, "could not create account")
	}

	resp := RegisterAccountResponse{Account: account.View()}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     actorFor(account),
		AccountID: account.ID.String(),
		ToState:   account.State(),
	})

	token, err := h.verifyCodec.Issue(purposeClaims(account))
	if err != nil {
		return RegisterAccountResponse{}, err
	}
	resp.VerifyToken = token

	// the account exists at this point; a failed delivery can be retried
	// through the resend verification flow
	if err := h.notifier.SendEmailVerification(ctx, resp.Account, token); err != nil {
		h.logger.Error("failed to deliver verification email", "account_id", account.ID, "error", err)
	}

	return resp, nil
}

func (h *RegisterAccountHandler) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, h.activitySink, h.logger, h.now, event)
}
