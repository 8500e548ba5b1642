package auth

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// ImageUploader stores an image and returns the URL it is served from.
type ImageUploader interface {
	UploadImage(ctx context.Context, prefix, contentType string, size int64, body io.Reader) (string, error)
}

// ImageKind selects which account image an upload replaces.
type ImageKind string

const (
	ImageAvatar ImageKind = "avatar"
	ImageCover  ImageKind = "cover"
)

// Service composes the credential, session and lifecycle components into the
// account operations exposed over HTTP.
type Service struct {
	store         CredentialStore
	credential    PasswordCredential
	codecs        *TokenCodecs
	sessions      *SessionManager
	lifecycle     *AccountLifecycle
	authenticator *RequestAuthenticator

	register       *RegisterAccountHandler
	changePassword *ChangePasswordHandler
	resetInit      *InitializePasswordResetHandler
	resetFinal     *FinalizePasswordResetHandler
	verification   *AccountVerificationHandler
	bulk           *BulkAccountsHandler

	uploader     ImageUploader
	dummy        *dummyVerifier
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

// ServiceOption customizes a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger     Logger
	notifier   Notifier
	sink       ActivitySink
	uploader   ImageUploader
	credential PasswordCredential
	clock      func() time.Time
}

func WithServiceLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = logger }
}

func WithServiceNotifier(n Notifier) ServiceOption {
	return func(o *serviceOptions) { o.notifier = n }
}

func WithServiceActivitySink(sink ActivitySink) ServiceOption {
	return func(o *serviceOptions) { o.sink = sink }
}

// WithServiceUploader enables avatar and cover uploads.
func WithServiceUploader(u ImageUploader) ServiceOption {
	return func(o *serviceOptions) { o.uploader = u }
}

// WithServiceCredential replaces the bcrypt credential built from Config.
func WithServiceCredential(c PasswordCredential) ServiceOption {
	return func(o *serviceOptions) { o.credential = c }
}

// WithServiceClock injects a custom clock into every component (useful for tests).
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(o *serviceOptions) { o.clock = clock }
}

// NewService validates nothing about cfg beyond what the token codecs need;
// call Settings.Validate first when loading from the environment.
func NewService(cfg Config, store CredentialStore, opts ...ServiceOption) (*Service, error) {
	o := serviceOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	logger := normalizeLogger(o.logger)
	notifier := normalizeNotifier(o.notifier, logger)
	sink := normalizeActivitySink(o.sink)
	clock := o.clock
	if clock == nil {
		clock = time.Now
	}
	credential := o.credential
	if credential == nil {
		credential = NewBcryptCredential(cfg.GetPasswordCost())
	}

	codecs, err := NewTokenCodecs(cfg, WithCodecClock(clock), WithCodecLogger(logger))
	if err != nil {
		return nil, err
	}

	gate := GatePolicy{RequireVerifiedEmail: cfg.GetRequireVerifiedEmail()}

	sessions := NewSessionManager(store, codecs).
		WithLogger(logger).
		WithActivitySink(sink).
		WithGatePolicy(gate).
		WithClock(clock)

	lifecycle := NewAccountLifecycle(store, sessions, codecs, credential).
		WithLogger(logger).
		WithActivitySink(sink).
		WithGatePolicy(gate).
		WithClock(clock)

	authenticator := NewRequestAuthenticator(codecs, store).
		WithLogger(logger).
		WithGatePolicy(gate)

	s := &Service{
		store:         store,
		credential:    credential,
		codecs:        codecs,
		sessions:      sessions,
		lifecycle:     lifecycle,
		authenticator: authenticator,
		uploader:      o.uploader,
		dummy:         &dummyVerifier{},
		now:           clock,
		logger:        logger,
		activitySink:  sink,
	}

	s.register = NewRegisterAccountHandler(store, credential, codecs).
		WithLogger(logger).
		WithNotifier(notifier).
		WithActivitySink(sink)
	s.register.now = clock

	s.changePassword = NewChangePasswordHandler(store, credential).
		WithLogger(logger).
		WithActivitySink(sink)
	s.changePassword.now = clock

	s.resetInit = NewInitializePasswordResetHandler(store, codecs).
		WithLogger(logger).
		WithNotifier(notifier).
		WithActivitySink(sink)
	s.resetInit.now = clock

	s.resetFinal = NewFinalizePasswordResetHandler(store, credential, codecs).
		WithLogger(logger).
		WithActivitySink(sink)
	s.resetFinal.now = clock

	s.bulk = NewBulkAccountsHandler(lifecycle).
		WithLogger(logger)

	s.verification = NewAccountVerificationHandler(store, codecs).
		WithLogger(logger).
		WithNotifier(notifier).
		WithActivitySink(sink)
	s.verification.now = clock

	return s, nil
}

func (s *Service) Sessions() *SessionManager { return s.sessions }
func (s *Service) Lifecycle() *AccountLifecycle { return s.lifecycle }
func (s *Service) Authenticator() *RequestAuthenticator { return s.authenticator }
func (s *Service) Codecs() *TokenCodecs { return s.codecs }
func (s *Service) Store() CredentialStore { return s.store }
func (s *Service) Credential() PasswordCredential { return s.credential }
func (s *Service) Register() *RegisterAccountHandler { return s.register }
func (s *Service) ChangePassword() *ChangePasswordHandler { return s.changePassword }
func (s *Service) RequestReset() *InitializePasswordResetHandler { return s.resetInit }
func (s *Service) CompleteReset() *FinalizePasswordResetHandler { return s.resetFinal }
func (s *Service) BulkAccounts() *BulkAccountsHandler { return s.bulk }
func (s *Service) ResendVerification() *AccountVerificationHandler {
	return s.verification
}

// Login checks the password of the account named by a handle or email and
// opens a session. Unknown identifiers and wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, msg LoginMessage) (AccountView, TokenPair, error) {
	if err := msg.Validate(); err != nil {
		return AccountView{}, TokenPair{}, err
	}

	field, value := msg.lookup()
	account, err := s.store.FindByField(ctx, field, value)
	if err != nil {
		if !IsKind(err, KindNotFound) {
			return AccountView{}, TokenPair{}, internalError(err, "failed to load account for login")
		}
		s.dummy.burn(s.credential, msg.Password)
		s.logger.Info("login for unknown identifier", "field", field)
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"reason": "unknown_identifier", "field": string(field)},
		})
		return AccountView{}, TokenPair{}, newKindError(KindInvalidCredential, "", nil)
	}

	if !s.credential.Verify(msg.Password, account.PasswordHash) {
		s.logger.Info("login with wrong password", "account_id", account.ID)
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     actorFor(account),
			AccountID: account.ID.String(),
			Metadata:  map[string]any{"reason": "wrong_password"},
		})
		return AccountView{}, TokenPair{}, newKindError(KindInvalidCredential, "", nil)
	}

	if err := s.lifecycle.Gate(account); err != nil {
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     actorFor(account),
			AccountID: account.ID.String(),
			Metadata:  map[string]any{"reason": "gate", "state": account.State()},
		})
		return AccountView{}, TokenPair{}, err
	}

	pair, err := s.sessions.Login(ctx, account)
	if err != nil {
		return AccountView{}, TokenPair{}, err
	}

	return account.View(), pair, nil
}

// CurrentAccount returns the read projection of an account.
func (s *Service) CurrentAccount(ctx context.Context, id uuid.UUID) (AccountView, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return AccountView{}, internalError(err, "failed to load account")
	}
	return account.View(), nil
}

// AccountActivity returns the login statistics of an account.
func (s *Service) AccountActivity(ctx context.Context, id uuid.UUID) (AccountActivity, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return AccountActivity{}, internalError(err, "failed to load account")
	}
	return account.Activity(), nil
}

// UpdateDetails changes the display name and email. A changed email is no
// longer verified.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, req UpdateDetailsRequest) (AccountView, error) {
	req.Email = NormalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return AccountView{}, err
	}

	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return AccountView{}, internalError(err, "failed to load account")
	}

	fields := Fields{}
	if req.FullName != account.FullName {
		fields[ColFullName] = req.FullName
	}
	emailChanged := req.Email != account.Email
	if emailChanged {
		fields[ColEmail] = req.Email
		fields[ColIsEmailVerified] = false
	}
	if len(fields) == 0 {
		return account.View(), nil
	}

	actor := actorFor(account)
	changed, err := s.lifecycle.apply(ctx, s.store, actor, account, fields, WithTransitionReason("email changed"))
	if err != nil {
		return AccountView{}, err
	}
	s.lifecycle.recordPending(ctx, changed)

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountUpdated,
		Actor:     actor,
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"email_changed": emailChanged},
	})

	return account.View(), nil
}

// UpdateImage uploads an avatar or cover image and stores its URL.
func (s *Service) UpdateImage(ctx context.Context, id uuid.UUID, kind ImageKind, contentType string, size int64, body io.Reader) (AccountView, error) {
	column := ColAvatar
	switch kind {
	case ImageAvatar:
	case ImageCover:
		column = ColCoverImage
	default:
		return AccountView{}, newKindError(KindInvalidInput, "unknown image kind", map[string]any{"kind": kind})
	}

	if s.uploader == nil {
		return AccountView{}, newKindError(KindInternal, "image storage is not configured", nil)
	}

	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return AccountView{}, internalError(err, "failed to load account")
	}

	url, err := s.uploader.UploadImage(ctx, string(kind)+"/"+account.ID.String(), contentType, size, body)
	if err != nil {
		return AccountView{}, internalError(err, "failed to upload image")
	}

	fields := Fields{column: url}
	if err := s.store.UpdateFields(ctx, account.ID, fields); err != nil {
		return AccountView{}, internalError(err, "failed to store image url")
	}
	applyFields(account, fields)

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountUpdated,
		Actor:     actorFor(account),
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"image": string(kind)},
	})

	return account.View(), nil
}

func (s *Service) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, s.activitySink, s.logger, s.now, event)
}
