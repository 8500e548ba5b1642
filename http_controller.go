package auth

import (
	"errors"
	"net/http"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/goliatone/go-account-auth/middleware/jwtware"
)

// AccountControllerRoutes holds the route paths relative to Prefix.
type AccountControllerRoutes struct {
	Prefix                  string
	Register                string
	Login                   string
	RefreshToken            string
	ForgotPassword          string
	ResetPassword           string
	VerifyEmail             string
	ResendEmailVerification string
	Reactivate              string
	Logout                  string
	CurrentUser             string
	UpdateAccount           string
	ChangePassword          string
	Avatar                  string
	CoverImage              string
	Deactivate              string
	DeleteAccount           string
	Status                  string
	Activity                string
	Bulk                    string
}

// AccountController exposes Service over HTTP. Errors are returned up the
// router chain to ErrorHandler, which writes the JSON envelope.
type AccountController struct {
	Logger      Logger
	Routes      *AccountControllerRoutes
	IdentityKey string
	// MaxUploadMemory bounds the multipart data kept in memory per upload.
	MaxUploadMemory int64

	service *Service
	cfg     Config
	cookies cookieJar
}

// AccountControllerOption customizes the controller.
type AccountControllerOption func(*AccountController) *AccountController

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerPrefix overrides the "/api/v1/users" base path.
func WithControllerPrefix(prefix string) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Routes.Prefix = prefix
		return c
	}
}

// DefaultMaxUploadMemory is the default in-memory limit for image uploads.
const DefaultMaxUploadMemory = 6 << 20

func NewAccountController(service *Service, cfg Config, opts ...AccountControllerOption) *AccountController {
	if service == nil {
		panic("Missing Service in account controller...")
	}

	c := &AccountController{
		Logger:          newDefLogger(),
		IdentityKey:     DefaultIdentityKey,
		MaxUploadMemory: DefaultMaxUploadMemory,
		service:         service,
		cfg:             cfg,
		cookies:         newCookieJar(cfg),
		Routes: &AccountControllerRoutes{
			Prefix:                  "/api/v1/users",
			Register:                "/register",
			Login:                   "/login",
			RefreshToken:            "/refresh-token",
			ForgotPassword:          "/forgot-password",
			ResetPassword:           "/reset-password/:token",
			VerifyEmail:             "/verify-email/:token",
			ResendEmailVerification: "/resend-email-verification",
			Reactivate:              "/reactivate",
			Logout:                  "/logout",
			CurrentUser:             "/current-user",
			UpdateAccount:           "/update-account",
			ChangePassword:          "/change-password",
			Avatar:                  "/avatar",
			CoverImage:              "/cover-image",
			Deactivate:              "/deactivate",
			DeleteAccount:           "/delete-account",
			Status:                  "/:id/status",
			Activity:                "/:id/activity",
			Bulk:                    "/bulk",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

// AccountRouteRegistrar is the part of router.Router the controller mounts
// routes on.
type AccountRouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Patch(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// RegisterAccountRoutes mounts the account routes under the controller
// prefix of app.
func RegisterAccountRoutes[T any](app router.Router[T], service *Service, cfg Config, opts ...AccountControllerOption) *AccountController {
	controller := NewAccountController(service, cfg, opts...)
	controller.Mount(app.Group(controller.Routes.Prefix))
	return controller
}

// Mount registers the routes on g, which is expected to already carry the
// controller prefix.
func (a *AccountController) Mount(g AccountRouteRegistrar) {
	r := a.Routes

	g.Post(r.Register, a.Register).SetName("account.register")
	g.Post(r.Login, a.Login).SetName("account.login")
	g.Post(r.RefreshToken, a.RefreshToken).SetName("account.refresh")
	g.Post(r.ForgotPassword, a.ForgotPassword).SetName("account.password.forgot")
	g.Post(r.ResetPassword, a.ResetPassword).SetName("account.password.reset")
	g.Get(r.VerifyEmail, a.VerifyEmail).SetName("account.email.verify")
	g.Post(r.ResendEmailVerification, a.ResendEmailVerification).SetName("account.email.resend")
	g.Post(r.Reactivate, a.Reactivate).SetName("account.reactivate")

	protected := a.ProtectedRoute()
	g.Post(r.Logout, a.Logout, protected).SetName("account.logout")
	g.Get(r.CurrentUser, a.CurrentUser, protected).SetName("account.current")
	g.Patch(r.UpdateAccount, a.UpdateAccount, protected).SetName("account.update")
	g.Post(r.ChangePassword, a.ChangePassword, protected).SetName("account.password.change")
	g.Patch(r.Avatar, a.UploadImage(ImageAvatar, "avatar"), protected).SetName("account.avatar")
	g.Patch(r.CoverImage, a.UploadImage(ImageCover, "cover_image"), protected).SetName("account.cover")
	g.Post(r.Deactivate, a.Deactivate, protected).SetName("account.deactivate")
	g.Delete(r.DeleteAccount, a.DeleteAccount, protected).SetName("account.delete")

	admin := a.ProtectedRoute(RoleAdmin)
	g.Post(r.Bulk, a.BulkAccounts, admin).SetName("account.admin.bulk")
	g.Patch(r.Status, a.UpdateStatus, admin).SetName("account.admin.status")
	g.Get(r.Activity, a.Activity, admin).SetName("account.admin.activity")
}

// ProtectedRoute authenticates the access token from the Authorization
// header or the access cookie and stores the Identity in the request locals
// and the request context. With roles, identities holding none of them are
// rejected as forbidden.
func (a *AccountController) ProtectedRoute(roles ...Role) router.MiddlewareFunc {
	cfg := jwtware.Config{
		Authenticator: a.service.Authenticator(),
		ContextKey:    a.IdentityKey,
		TokenLookup:   "header:" + router.HeaderAuthorization + ",cookie:" + a.cfg.GetAccessCookieName(),
		ValidationListeners: []jwtware.ValidationListener{
			func(c router.Context, value any) error {
				if identity, ok := value.(Identity); ok {
					c.SetContext(WithIdentity(c.Context(), identity))
				}
				return nil
			},
		},
		ErrorHandler: func(c router.Context, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				return newKindError(KindUnauthenticated, "access token is required", nil)
			}
			return err
		},
	}
	if len(roles) > 0 {
		cfg.ValidationListeners = append(cfg.ValidationListeners, RequireRole(roles...))
	}
	return jwtware.New(cfg)
}

// RequireRole returns a listener that rejects identities without one of
// roles.
func RequireRole(roles ...Role) jwtware.ValidationListener {
	return func(c router.Context, _ any) error {
		if !HasRole(c.Context(), roles...) {
			return newKindError(KindForbidden, "insufficient role", nil)
		}
		return nil
	}
}

func (a *AccountController) Register(c router.Context) error {
	var msg RegisterAccountMessage
	if err := parseBody(c, &msg); err != nil {
		return err
	}

	resp, err := a.service.Register().Execute(c.Context(), msg)
	if err != nil {
		return err
	}

	return respond(c, http.StatusCreated, "account registered, verification email sent", resp.Account)
}

func (a *AccountController) Login(c router.Context) error {
	var msg LoginMessage
	if err := parseBody(c, &msg); err != nil {
		return err
	}

	view, pair, err := a.service.Login(c.Context(), msg)
	if err != nil {
		return err
	}

	a.cookies.set(c, pair)
	return respond(c, http.StatusOK, "logged in", map[string]any{
		"user":          view,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (a *AccountController) RefreshToken(c router.Context) error {
	token := c.Cookies(a.cfg.GetRefreshCookieName())
	if token == "" {
		var req RefreshRequest
		if len(c.Body()) > 0 {
			if err := parseBody(c, &req); err != nil {
				return err
			}
		}
		token = req.RefreshToken
	}

	pair, err := a.service.Sessions().Refresh(c.Context(), token)
	if err != nil {
		return err
	}

	a.cookies.set(c, pair)
	return respond(c, http.StatusOK, "access token refreshed", map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (a *AccountController) ForgotPassword(c router.Context) error {
	var msg InitializePasswordResetMessage
	if err := parseBody(c, &msg); err != nil {
		return err
	}

	if _, err := a.service.RequestReset().Execute(c.Context(), msg); err != nil {
		return err
	}

	return respond(c, http.StatusOK, "password reset email sent", nil)
}

func (a *AccountController) ResetPassword(c router.Context) error {
	var msg FinalizePasswordResetMessage
	if err := parseBody(c, &msg); err != nil {
		return err
	}
	msg.Token = c.Param("token")

	if err := a.service.CompleteReset().Execute(c.Context(), msg); err != nil {
		return err
	}

	return respond(c, http.StatusOK, "password reset successfully", nil)
}

func (a *AccountController) VerifyEmail(c router.Context) error {
	view, err := a.service.Lifecycle().VerifyEmail(c.Context(), c.Param("token"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "email verified", view)
}

func (a *AccountController) ResendEmailVerification(c router.Context) error {
	var msg AccountVerificationRequestMessage
	if err := parseBody(c, &msg); err != nil {
		return err
	}

	resp, err := a.service.ResendVerification().Execute(c.Context(), msg)
	if err != nil {
		return err
	}

	if resp.AlreadyVerified {
		return respond(c, http.StatusOK, "email is already verified", nil)
	}
	return respond(c, http.StatusOK, "verification email sent", nil)
}

func (a *AccountController) Reactivate(c router.Context) error {
	var req ReactivateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	view, err := a.service.Lifecycle().Reactivate(c.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "account reactivated", view)
}

func (a *AccountController) Logout(c router.Context) error {
	id, err := a.accountID(c)
	if err != nil {
		return err
	}

	if err := a.service.Sessions().Logout(c.Context(), id); err != nil {
		return err
	}
	a.Logger.Debug("account logged out", "account_id", id)

	a.cookies.clear(c)
	return respond(c, http.StatusOK, "logged out", nil)
}

func (a *AccountController) CurrentUser(c router.Context) error {
	id, err := a.accountID(c)
	if err != nil {
		return err
	}

	view, err := a.service.CurrentAccount(c.Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", view)
}

func (a *AccountController) UpdateAccount(c router.Context) error {
	id, err := a.accountID(c)
	if err != nil {
		return err
	}

	var req UpdateDetailsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	view, err := a.service.UpdateDetails(c.Context(), id, req)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "account details updated", view)
}

func (a *AccountController) ChangePassword(c router.Context) error {
	id, err := a.accountID(c)
	if err != nil {
		return err
	}

	var msg ChangePasswordMessage
	if err := parseBody(c, &msg); err != nil {
		return err
	}
	msg.AccountID = id.String()

	if err := a.service.ChangePassword().Execute(c.Context(), msg); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "password changed", nil)
}

// UploadImage handles a multipart upload in field.
func (a *AccountController) UploadImage(kind ImageKind, field string) router.HandlerFunc {
	return func(c router.Context) error {
		id, err := a.accountID(c)
		if err != nil {
			return err
		}

		header, form, err := formFile(c, field, a.MaxUploadMemory)
		if err != nil {
			return newKindError(KindInvalidInput, "image file is required", map[string]any{field: "required"})
		}
		defer form.RemoveAll()

		file, err := header.Open()
		if err != nil {
			return internalError(err, "failed to read upload")
		}
		defer file.Close()

		view, err := a.service.UpdateImage(c.Context(), id, kind, header.Header.Get("Content-Type"), header.Size, file)
		if err != nil {
			return err
		}
		return respond(c, http.StatusOK, string(kind)+" updated", view)
	}
}

func (a *AccountController) Deactivate(c router.Context) error {
	id, err := a.accountID(c)
	if err != nil {
		return err
	}

	var req ConfirmPasswordRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if err := a.service.Lifecycle().Deactivate(c.Context(), id, req.Password, req.Reason); err != nil {
		return err
	}
	a.Logger.Info("account deactivated", "account_id", id)

	a.cookies.clear(c)
	return respond(c, http.StatusOK, "account deactivated", nil)
}

func (a *AccountController) DeleteAccount(c router.Context) error {
	id, err := a.accountID(c)
	if err != nil {
		return err
	}

	var req ConfirmPasswordRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if err := a.service.Lifecycle().Delete(c.Context(), id, req.Password); err != nil {
		return err
	}
	a.Logger.Info("account deleted", "account_id", id)

	a.cookies.clear(c)
	return respond(c, http.StatusOK, "account deleted", nil)
}

func (a *AccountController) UpdateStatus(c router.Context) error {
	target, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return newKindError(KindInvalidInput, "invalid account id", map[string]any{"id": "must be a valid UUID"})
	}

	var update StatusUpdate
	if err := parseBody(c, &update); err != nil {
		return err
	}

	actor := ActorRef{Type: "admin"}
	if identity, ok := IdentityFromContext(c.Context()); ok {
		actor.ID = identity.ID()
	}

	view, err := a.service.Lifecycle().SetStatus(c.Context(), actor, target, update)
	if err != nil {
		return err
	}
	a.Logger.Info("account status updated", "account_id", target, "actor", actor.ID, "state", view.State)
	return respond(c, http.StatusOK, "account status updated", view)
}

func (a *AccountController) Activity(c router.Context) error {
	target, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return newKindError(KindInvalidInput, "invalid account id", map[string]any{"id": "must be a valid UUID"})
	}

	activity, err := a.service.AccountActivity(c.Context(), target)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "account activity fetched", activity)
}

func (a *AccountController) BulkAccounts(c router.Context) error {
	var msg BulkAccountsMessage
	if err := parseBody(c, &msg); err != nil {
		return err
	}

	msg.Actor = ActorRef{Type: "admin"}
	if identity, ok := IdentityFromContext(c.Context()); ok {
		msg.Actor.ID = identity.ID()
	}

	result, err := a.service.BulkAccounts().Execute(c.Context(), msg)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "bulk operation completed", result)
}

func (a *AccountController) accountID(c router.Context) (uuid.UUID, error) {
	identity, ok := GetRouterIdentity(c, a.IdentityKey)
	if !ok {
		return uuid.Nil, newKindError(KindUnauthenticated, "", nil)
	}
	id, err := uuid.Parse(identity.ID())
	if err != nil {
		return uuid.Nil, wrapKind(err, KindUnauthenticated, "")
	}
	return id, nil
}

func parseBody(c router.Context, out any) error {
	if err := c.Bind(out); err != nil {
		return newKindError(KindInvalidInput, "invalid request body", map[string]any{"body": err.Error()})
	}
	return nil
}
