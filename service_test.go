package auth_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	auth "github.com/goliatone/go-account-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	service  *auth.Service
	store    *auth.AccountStore
	notifier *recordingNotifier
	sink     *capturingSink
	clock    *testClock
}

func newServiceFixture(t *testing.T, opts ...auth.ServiceOption) *serviceFixture {
	t.Helper()

	clock := newTestClock()
	store := newTestStore(t, auth.WithStoreClock(clock.Now))
	notifier := newRecordingNotifier()
	sink := &capturingSink{}

	opts = append([]auth.ServiceOption{
		auth.WithServiceLogger(nopLogger{}),
		auth.WithServiceNotifier(notifier),
		auth.WithServiceActivitySink(sink),
		auth.WithServiceClock(clock.Now),
	}, opts...)

	service, err := auth.NewService(testSettings(), store, opts...)
	require.NoError(t, err)

	return &serviceFixture{service: service, store: store, notifier: notifier, sink: sink, clock: clock}
}

func (f *serviceFixture) register(t *testing.T, username, email, password string) auth.AccountView {
	t.Helper()
	resp, err := f.service.Register().Execute(context.Background(), auth.RegisterAccountMessage{
		Username: username,
		Email:    email,
		FullName: "Test " + username,
		Password: password,
	})
	require.NoError(t, err)
	return resp.Account
}

func TestNewServiceRejectsMissingSecrets(t *testing.T) {
	settings := testSettings()
	settings.ResetTokenSecret = ""

	_, err := auth.NewService(settings, newTestStore(t))
	assert.Error(t, err)
}

func TestRegisterAndLogin(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	resp, err := f.service.Register().Execute(ctx, auth.RegisterAccountMessage{
		Username: "Alex",
		Email:    "Alex@Example.com",
		FullName: "Alex Smith",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.Equal(t, "alex", resp.Account.Username)
	assert.Equal(t, "alex@example.com", resp.Account.Email)
	assert.Equal(t, auth.StateUnverified, resp.Account.State)
	assert.Equal(t, auth.RoleStandard, resp.Account.Role)
	assert.Equal(t, resp.VerifyToken, f.notifier.verifyToken("alex@example.com"))

	for name, msg := range map[string]auth.LoginMessage{
		"username":            {Username: "ALEX", Password: "password123"},
		"email":               {Email: "alex@example.com", Password: "password123"},
		"identifier as email": {Identifier: "alex@example.com", Password: "password123"},
		"identifier as handle": {Identifier: "alex", Password: "password123"},
	} {
		t.Run(name, func(t *testing.T) {
			view, pair, err := f.service.Login(ctx, msg)
			require.NoError(t, err)
			assert.Equal(t, resp.Account.ID, view.ID)

			identity, err := f.service.Authenticator().Authenticate(ctx, pair.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, view.ID, identity.ID())
		})
	}

	current, err := f.service.CurrentAccount(ctx, uuid.MustParse(resp.Account.ID))
	require.NoError(t, err)
	assert.Equal(t, 4, current.LoginCount)
	assert.Contains(t, f.sink.types(), auth.ActivityEventAccountRegistered)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alex", "alex@example.com", "password123")

	_, err := f.service.Register().Execute(context.Background(), auth.RegisterAccountMessage{
		Username: "other",
		Email:    "ALEX@example.com",
		FullName: "Other",
		Password: "password123",
	})
	require.Error(t, err)
	assert.True(t, auth.IsKind(err, auth.KindConflict))
}

func TestRegisterValidation(t *testing.T) {
	f := newServiceFixture(t)

	cases := []struct {
		name  string
		msg   auth.RegisterAccountMessage
		field string
	}{
		{
			name:  "short password",
			msg:   auth.RegisterAccountMessage{Username: "alex", Email: "alex@example.com", FullName: "A", Password: "short"},
			field: "password",
		},
		{
			name:  "bad email",
			msg:   auth.RegisterAccountMessage{Username: "alex", Email: "not-an-email", FullName: "A", Password: "password123"},
			field: "email",
		},
		{
			name:  "bad handle",
			msg:   auth.RegisterAccountMessage{Username: "al ex!", Email: "alex@example.com", FullName: "A", Password: "password123"},
			field: "username",
		},
		{
			name:  "missing full name",
			msg:   auth.RegisterAccountMessage{Username: "alex", Email: "alex@example.com", Password: "password123"},
			field: "full_name",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Register().Execute(context.Background(), tc.msg)
			require.Error(t, err)
			assert.True(t, auth.IsKind(err, auth.KindInvalidInput), "got %v", err)

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Contains(t, richErr.Metadata, tc.field)
		})
	}
}

func TestRegisterSurvivesNotifierFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.notifier.err = errors.New("smtp down")

	resp, err := f.service.Register().Execute(context.Background(), auth.RegisterAccountMessage{
		Username: "alex",
		Email:    "alex@example.com",
		FullName: "Alex",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.VerifyToken)
}

func TestRegisterCancelledContext(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Register().Execute(ctx, auth.RegisterAccountMessage{
		Username: "alex",
		Email:    "alex@example.com",
		FullName: "Alex",
		Password: "password123",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.store.FindByField(context.Background(), auth.FieldEmail, "alex@example.com")
	assert.True(t, auth.IsKind(err, auth.KindNotFound))
}

func TestLoginFailuresLookAlike(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "alex", "alex@example.com", "password123")

	_, _, unknown := f.service.Login(ctx, auth.LoginMessage{Email: "nobody@example.com", Password: "password123"})
	_, _, wrong := f.service.Login(ctx, auth.LoginMessage{Email: "alex@example.com", Password: "wrong-password"})

	require.Error(t, unknown)
	require.Error(t, wrong)
	assert.True(t, auth.IsKind(unknown, auth.KindInvalidCredential))
	assert.True(t, auth.IsKind(wrong, auth.KindInvalidCredential))
	assert.Equal(t, unknown.Error(), wrong.Error())

	failure, ok := f.sink.last(auth.ActivityEventLoginFailure)
	require.True(t, ok)
	assert.Equal(t, "wrong_password", failure.Metadata["reason"])
}

func TestLoginRequiresIdentifier(t *testing.T) {
	f := newServiceFixture(t)

	_, _, err := f.service.Login(context.Background(), auth.LoginMessage{Password: "password123"})
	assert.True(t, auth.IsKind(err, auth.KindInvalidInput))
}

func TestLoginBlockedForDeactivatedAccount(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	view := f.register(t, "alex", "alex@example.com", "password123")

	require.NoError(t, f.service.Lifecycle().Deactivate(ctx, uuid.MustParse(view.ID), "password123", ""))

	_, _, err := f.service.Login(ctx, auth.LoginMessage{Username: "alex", Password: "password123"})
	assert.True(t, auth.IsKind(err, auth.KindUnauthenticated))

	_, err = f.service.Lifecycle().Reactivate(ctx, "alex@example.com", "password123")
	require.NoError(t, err)

	_, _, err = f.service.Login(ctx, auth.LoginMessage{Username: "alex", Password: "password123"})
	assert.NoError(t, err)
}

func TestLoginRequiresVerifiedEmailWhenConfigured(t *testing.T) {
	clock := newTestClock()
	store := newTestStore(t, auth.WithStoreClock(clock.Now))
	notifier := newRecordingNotifier()

	settings := testSettings()
	settings.RequireVerifiedEmail = true
	service, err := auth.NewService(settings, store,
		auth.WithServiceLogger(nopLogger{}),
		auth.WithServiceNotifier(notifier),
		auth.WithServiceClock(clock.Now),
	)
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := service.Register().Execute(ctx, auth.RegisterAccountMessage{
		Username: "alex", Email: "alex@example.com", FullName: "Alex", Password: "password123",
	})
	require.NoError(t, err)

	_, _, err = service.Login(ctx, auth.LoginMessage{Username: "alex", Password: "password123"})
	assert.True(t, auth.IsKind(err, auth.KindUnauthenticated))

	_, err = service.Lifecycle().VerifyEmail(ctx, resp.VerifyToken)
	require.NoError(t, err)

	_, _, err = service.Login(ctx, auth.LoginMessage{Username: "alex", Password: "password123"})
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	view := f.register(t, "alex", "alex@example.com", "password123")

	_, pair, err := f.service.Login(ctx, auth.LoginMessage{Username: "alex", Password: "password123"})
	require.NoError(t, err)

	err = f.service.ChangePassword().Execute(ctx, auth.ChangePasswordMessage{
		AccountID:   view.ID,
		OldPassword: "not-it",
		NewPassword: "new-password-1",
	})
	assert.True(t, auth.IsKind(err, auth.KindInvalidCredential))

	err = f.service.ChangePassword().Execute(ctx, auth.ChangePasswordMessage{
		AccountID:   view.ID,
		OldPassword: "password123",
		NewPassword: "new-password-1",
	})
	require.NoError(t, err)

	_, _, err = f.service.Login(ctx, auth.LoginMessage{Username: "alex", Password: "password123"})
	assert.True(t, auth.IsKind(err, auth.KindInvalidCredential))

	// the session opened before the change stays valid
	_, err = f.service.Sessions().Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)

	_, _, err = f.service.Login(ctx, auth.LoginMessage{Username: "alex", Password: "new-password-1"})
	assert.NoError(t, err)
	assert.Contains(t, f.sink.types(), auth.ActivityEventPasswordChanged)
}

func TestChangePasswordForMissingAccount(t *testing.T) {
	f := newServiceFixture(t)

	err := f.service.ChangePassword().Execute(context.Background(), auth.ChangePasswordMessage{
		AccountID:   uuid.NewString(),
		OldPassword: "password123",
		NewPassword: "new-password-1",
	})
	assert.True(t, auth.IsKind(err, auth.KindUnauthenticated))
}

func TestPasswordResetFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "alex", "alex@example.com", "password123")

	resp, err := f.service.RequestReset().Execute(ctx, auth.InitializePasswordResetMessage{Email: " ALEX@example.com"})
	require.NoError(t, err)
	assert.Equal(t, resp.Token, f.notifier.resetToken("alex@example.com"))
	assert.True(t, resp.ExpiresAt.Equal(f.clock.Now().Add(testSettings().ResetTokenTTL)))

	err = f.service.CompleteReset().Execute(ctx, auth.FinalizePasswordResetMessage{Token: resp.Token, Password: "brand-new-pass"})
	require.NoError(t, err)

	_, _, err = f.service.Login(ctx, auth.LoginMessage{Email: "alex@example.com", Password: "password123"})
	assert.True(t, auth.IsKind(err, auth.KindInvalidCredential))
	_, _, err = f.service.Login(ctx, auth.LoginMessage{Email: "alex@example.com", Password: "brand-new-pass"})
	assert.NoError(t, err)

	success, ok := f.sink.last(auth.ActivityEventPasswordResetSuccess)
	require.True(t, ok)
	assert.Contains(t, success.Metadata, "token_issued_at")
}

func TestPasswordResetRejections(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reg, err := f.service.Register().Execute(ctx, auth.RegisterAccountMessage{
		Username: "alex", Email: "alex@example.com", FullName: "Alex", Password: "password123",
	})
	require.NoError(t, err)

	_, err = f.service.RequestReset().Execute(ctx, auth.InitializePasswordResetMessage{Email: "nobody@example.com"})
	assert.True(t, auth.IsKind(err, auth.KindNotFound))

	// a verify token cannot reset a password
	err = f.service.CompleteReset().Execute(ctx, auth.FinalizePasswordResetMessage{Token: reg.VerifyToken, Password: "brand-new-pass"})
	assert.True(t, auth.IsKind(err, auth.KindInvalidToken))

	resp, err := f.service.RequestReset().Execute(ctx, auth.InitializePasswordResetMessage{Email: "alex@example.com"})
	require.NoError(t, err)

	f.clock.Advance(testSettings().ResetTokenTTL + 1)
	err = f.service.CompleteReset().Execute(ctx, auth.FinalizePasswordResetMessage{Token: resp.Token, Password: "brand-new-pass"})
	assert.True(t, auth.IsKind(err, auth.KindInvalidToken))

	err = f.service.CompleteReset().Execute(ctx, auth.FinalizePasswordResetMessage{Token: resp.Token, Password: "short"})
	assert.True(t, auth.IsKind(err, auth.KindInvalidInput))
}

func TestPasswordResetTokenDiesWithEmailChange(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	view := f.register(t, "alex", "alex@example.com", "password123")

	resp, err := f.service.RequestReset().Execute(ctx, auth.InitializePasswordResetMessage{Email: "alex@example.com"})
	require.NoError(t, err)

	_, err = f.service.UpdateDetails(ctx, uuid.MustParse(view.ID), auth.UpdateDetailsRequest{FullName: "Alex", Email: "alex@new.example.com"})
	require.NoError(t, err)

	err = f.service.CompleteReset().Execute(ctx, auth.FinalizePasswordResetMessage{Token: resp.Token, Password: "brand-new-pass"})
	assert.True(t, auth.IsKind(err, auth.KindInvalidToken))
}

func TestPasswordResetNotifierFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alex", "alex@example.com", "password123")
	f.notifier.err = errors.New("smtp down")

	_, err := f.service.RequestReset().Execute(context.Background(), auth.InitializePasswordResetMessage{Email: "alex@example.com"})
	assert.True(t, auth.IsKind(err, auth.KindInternal))
}

func TestResendVerification(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "alex", "alex@example.com", "password123")

	resp, err := f.service.ResendVerification().Execute(ctx, auth.AccountVerificationRequestMessage{Email: "alex@example.com"})
	require.NoError(t, err)
	assert.False(t, resp.AlreadyVerified)
	assert.Equal(t, resp.Token, f.notifier.verifyToken("alex@example.com"))

	view, err := f.service.Lifecycle().VerifyEmail(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.StateActive, view.State)

	resp, err = f.service.ResendVerification().Execute(ctx, auth.AccountVerificationRequestMessage{Email: "alex@example.com"})
	require.NoError(t, err)
	assert.True(t, resp.AlreadyVerified)
	assert.Empty(t, resp.Token)

	_, err = f.service.ResendVerification().Execute(ctx, auth.AccountVerificationRequestMessage{Email: "nobody@example.com"})
	assert.True(t, auth.IsKind(err, auth.KindNotFound))
}

func TestUpdateDetails(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reg, err := f.service.Register().Execute(ctx, auth.RegisterAccountMessage{
		Username: "alex", Email: "alex@example.com", FullName: "Alex", Password: "password123",
	})
	require.NoError(t, err)
	id := uuid.MustParse(reg.Account.ID)
	f.register(t, "sam", "sam@example.com", "password123")

	_, err = f.service.Lifecycle().VerifyEmail(ctx, reg.VerifyToken)
	require.NoError(t, err)

	view, err := f.service.UpdateDetails(ctx, id, auth.UpdateDetailsRequest{FullName: "Alex Smith", Email: "alex@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Alex Smith", view.FullName)
	assert.True(t, view.IsEmailVerified, "unchanged email keeps verification")

	view, err = f.service.UpdateDetails(ctx, id, auth.UpdateDetailsRequest{FullName: "Alex Smith", Email: "Alex@Other.com"})
	require.NoError(t, err)
	assert.Equal(t, "alex@other.com", view.Email)
	assert.False(t, view.IsEmailVerified)
	assert.Equal(t, auth.StateUnverified, view.State)

	_, err = f.service.UpdateDetails(ctx, id, auth.UpdateDetailsRequest{FullName: "Alex Smith", Email: "sam@example.com"})
	assert.True(t, auth.IsKind(err, auth.KindConflict), "got %v", err)

	_, err = f.service.UpdateDetails(ctx, id, auth.UpdateDetailsRequest{FullName: "", Email: "alex@other.com"})
	assert.True(t, auth.IsKind(err, auth.KindInvalidInput))
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) UploadImage(ctx context.Context, prefix, contentType string, size int64, body io.Reader) (string, error) {
	args := m.Called(ctx, prefix, contentType, size, body)
	return args.String(0), args.Error(1)
}

func TestUpdateImage(t *testing.T) {
	uploader := new(mockUploader)
	f := newServiceFixture(t, auth.WithServiceUploader(uploader))
	ctx := context.Background()
	view := f.register(t, "alex", "alex@example.com", "password123")
	id := uuid.MustParse(view.ID)

	uploader.On("UploadImage", mock.Anything, "avatar/"+view.ID, "image/png", int64(4), mock.Anything).
		Return("https://cdn.example.com/avatar.png", nil).Once()
	uploader.On("UploadImage", mock.Anything, "cover/"+view.ID, "image/png", int64(4), mock.Anything).
		Return("", errors.New("bucket gone")).Once()

	updated, err := f.service.UpdateImage(ctx, id, auth.ImageAvatar, "image/png", 4, strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatar.png", updated.Avatar)

	_, err = f.service.UpdateImage(ctx, id, auth.ImageCover, "image/png", 4, strings.NewReader("data"))
	assert.True(t, auth.IsKind(err, auth.KindInternal))

	_, err = f.service.UpdateImage(ctx, id, auth.ImageKind("banner"), "image/png", 4, strings.NewReader("data"))
	assert.True(t, auth.IsKind(err, auth.KindInvalidInput))

	loaded, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatar.png", loaded.Avatar)
	assert.Empty(t, loaded.CoverImage)
	uploader.AssertExpectations(t)
}

func TestUpdateImageWithoutStorage(t *testing.T) {
	f := newServiceFixture(t)
	view := f.register(t, "alex", "alex@example.com", "password123")

	_, err := f.service.UpdateImage(context.Background(), uuid.MustParse(view.ID), auth.ImageAvatar, "image/png", 4, strings.NewReader("data"))
	assert.True(t, auth.IsKind(err, auth.KindInternal))
}
