package auth

import (
	"bytes"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// ErrorBody is the error member of the JSON envelope.
type ErrorBody struct {
	Code             int                       `json:"code"`
	TextCode         string                    `json:"text_code"`
	Message          string                    `json:"message"`
	Metadata         map[string]any            `json:"metadata,omitempty"`
	ValidationErrors goerrors.ValidationErrors `json:"validation_errors,omitempty"`
}

// ErrorEnvelope is written for every failed request.
type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// SuccessEnvelope wraps every successful response.
type SuccessEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorHandler is the request boundary and is installed as the fiber app
// ErrorHandler behind the go-router adapter. It is the only place where an
// error kind turns into an HTTP status. Internal errors are logged with their
// cause and reported without details.
func ErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)

	return func(c *fiber.Ctx, err error) error {
		body := errorBody(err)

		if body.TextCode == string(KindInternal) {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"error", err,
			)
		} else {
			logger.Info("request rejected",
				"method", c.Method(),
				"path", c.Path(),
				"text_code", body.TextCode,
				"error", err.Error(),
				"details", print.MaybePrettyJSON(body.Metadata),
			)
		}

		return c.Status(body.Code).JSON(ErrorEnvelope{Error: body})
	}
}

func errorBody(err error) ErrorBody {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErrorBody(fiberErr)
	}

	kind := KindOf(err)
	status := HTTPStatus(kind)
	body := ErrorBody{
		Code:     status,
		TextCode: string(kind),
		Message:  "internal error",
	}

	// token outcomes are internal detail; callers see one unauthenticated error
	if kind == KindTokenExpired || kind == KindTokenMalformed {
		body.TextCode = string(KindUnauthenticated)
		body.Message = ErrUnauthenticated.Message
		return body
	}

	var richErr *goerrors.Error
	if kind != KindInternal && goerrors.As(err, &richErr) {
		body.Message = richErr.Message
		body.Metadata = richErr.Metadata
		body.ValidationErrors = richErr.ValidationErrors
	}

	return body
}

func fiberErrorBody(err *fiber.Error) ErrorBody {
	var kind ErrorKind
	switch err.Code {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity, fiber.StatusRequestEntityTooLarge:
		kind = KindInvalidInput
	case fiber.StatusUnauthorized:
		kind = KindUnauthenticated
	case fiber.StatusForbidden:
		kind = KindForbidden
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		kind = KindNotFound
	default:
		kind = KindInternal
	}

	return ErrorBody{Code: err.Code, TextCode: string(kind), Message: err.Message}
}

// cookieJar writes the session cookies.
type cookieJar struct {
	accessName  string
	refreshName string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	secure      bool
	now         func() time.Time
}

func newCookieJar(cfg Config) cookieJar {
	return cookieJar{
		accessName:  cfg.GetAccessCookieName(),
		refreshName: cfg.GetRefreshCookieName(),
		accessTTL:   cfg.GetAccessTokenTTL(),
		refreshTTL:  cfg.GetRefreshTokenTTL(),
		secure:      cfg.GetCookieSecure(),
		now:         time.Now,
	}
}

func (j cookieJar) set(c router.Context, pair TokenPair) {
	now := j.now()
	j.cookie(c, j.accessName, pair.AccessToken, now.Add(j.accessTTL))
	j.cookie(c, j.refreshName, pair.RefreshToken, now.Add(j.refreshTTL))
}

func (j cookieJar) clear(c router.Context) {
	expired := j.now().Add(-time.Hour * (24 * 365))
	j.cookie(c, j.accessName, "", expired)
	j.cookie(c, j.refreshName, "", expired)
}

func (j cookieJar) cookie(c router.Context, name, value string, expires time.Time) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   j.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func respond(c router.Context, status int, message string, data any) error {
	return c.JSON(status, SuccessEnvelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// formFile reads the first file of a multipart field from the raw request
// body. maxMemory bounds the part kept in memory; larger files spill to
// temporary files removed once the caller is done with the form.
func formFile(c router.Context, field string, maxMemory int64) (*multipart.FileHeader, *multipart.Form, error) {
	mediaType, params, err := mime.ParseMediaType(c.Header(fiber.HeaderContentType))
	if err != nil || mediaType != fiber.MIMEMultipartForm || params["boundary"] == "" {
		return nil, nil, http.ErrNotMultipart
	}

	form, err := multipart.NewReader(bytes.NewReader(c.Body()), params["boundary"]).ReadForm(maxMemory)
	if err != nil {
		return nil, nil, err
	}

	files := form.File[field]
	if len(files) == 0 {
		_ = form.RemoveAll()
		return nil, nil, http.ErrMissingFile
	}
	return files[0], form, nil
}
