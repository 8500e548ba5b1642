package auth

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind identifies one entry of the error taxonomy shared by every
// operation. The value matches the TextCode of the rich error.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "INVALID_INPUT"
	KindConflict          ErrorKind = "CONFLICT"
	KindInvalidCredential ErrorKind = "INVALID_CREDENTIAL"
	KindUnauthenticated   ErrorKind = "UNAUTHENTICATED"
	KindRevoked           ErrorKind = "REVOKED"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidToken      ErrorKind = "INVALID_TOKEN"
	KindInternal          ErrorKind = "INTERNAL"
	KindTokenExpired      ErrorKind = "TOKEN_EXPIRED"
	KindTokenMalformed    ErrorKind = "TOKEN_MALFORMED"
	KindForbidden         ErrorKind = "FORBIDDEN"
)

// ErrInvalidInput is returned when request fields are missing or malformed.
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(string(KindInvalidInput)).
	WithCode(goerrors.CodeBadRequest)

// ErrConflict is returned when a unique identity field is already taken.
var ErrConflict = goerrors.New("account already exists", goerrors.CategoryConflict).
	WithTextCode(string(KindConflict)).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredential is the single failure reported for unknown
// identifiers and wrong passwords alike.
var ErrInvalidCredential = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(string(KindInvalidCredential)).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnauthenticated covers missing, invalid or expired session tokens.
var ErrUnauthenticated = goerrors.New("unauthenticated", goerrors.CategoryAuth).
	WithTextCode(string(KindUnauthenticated)).
	WithCode(goerrors.CodeUnauthorized)

// ErrRevoked is returned when a refresh token verifies but is no longer the
// one stored for the account.
var ErrRevoked = goerrors.New("refresh token expired or used", goerrors.CategoryAuth).
	WithTextCode(string(KindRevoked)).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotFound is returned when an account or resource does not exist.
var ErrNotFound = goerrors.New("not found", goerrors.CategoryNotFound).
	WithTextCode(string(KindNotFound)).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidToken is returned for bad or expired reset and verification tokens.
var ErrInvalidToken = goerrors.New("invalid or expired token", goerrors.CategoryValidation).
	WithTextCode(string(KindInvalidToken)).
	WithCode(goerrors.CodeBadRequest)

// ErrInternal wraps storage and signer failures.
var ErrInternal = goerrors.New("internal error", goerrors.CategoryInternal).
	WithTextCode(string(KindInternal)).
	WithCode(goerrors.CodeInternal)

// ErrTokenExpired is returned by TokenCodec.Verify once a token is past its lifetime.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(string(KindTokenExpired)).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned by TokenCodec.Verify for bad signatures or structure.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(string(KindTokenMalformed)).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when an authenticated account lacks the role a
// route requires.
var ErrForbidden = goerrors.New("forbidden", goerrors.CategoryAuthz).
	WithTextCode(string(KindForbidden)).
	WithCode(goerrors.CodeForbidden)

var kindSentinels = map[ErrorKind]*goerrors.Error{
	KindInvalidInput:      ErrInvalidInput,
	KindConflict:          ErrConflict,
	KindInvalidCredential: ErrInvalidCredential,
	KindUnauthenticated:   ErrUnauthenticated,
	KindRevoked:           ErrRevoked,
	KindNotFound:          ErrNotFound,
	KindInvalidToken:      ErrInvalidToken,
	KindInternal:          ErrInternal,
	KindTokenExpired:      ErrTokenExpired,
	KindTokenMalformed:    ErrTokenMalformed,
	KindForbidden:         ErrForbidden,
}

// KindOf returns the taxonomy kind carried by err. Errors outside the
// taxonomy are reported as KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if _, ok := kindSentinels[ErrorKind(richErr.TextCode)]; ok {
			return ErrorKind(richErr.TextCode)
		}
		if richErr.Category == goerrors.CategoryNotFound {
			return KindNotFound
		}
	}

	return KindInternal
}

// IsKind reports whether err belongs to kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status code used at the request boundary.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindInvalidInput, KindInvalidToken:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindInvalidCredential, KindUnauthenticated, KindRevoked, KindTokenExpired, KindTokenMalformed:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// newKindError returns a copy of the kind sentinel with a custom message and
// optional metadata. Sentinels are never mutated.
func newKindError(kind ErrorKind, message string, metadata map[string]any) *goerrors.Error {
	base, ok := kindSentinels[kind]
	if !ok {
		base = ErrInternal
	}

	clone := base.Clone()
	if message != "" {
		clone.Message = message
	}
	if len(metadata) > 0 {
		clone = clone.WithMetadata(metadata)
	}
	return clone
}

// wrapKind wraps a cause with the category and codes of the kind sentinel.
func wrapKind(err error, kind ErrorKind, message string) *goerrors.Error {
	base, ok := kindSentinels[kind]
	if !ok {
		base = ErrInternal
	}
	if message == "" {
		message = base.Message
	}
	// Wrap clones an existing rich error, so the category is reset as well.
	wrapped := goerrors.Wrap(err, base.Category, message).
		WithTextCode(base.TextCode).
		WithCode(base.Code)
	wrapped.Category = base.Category
	return wrapped
}

// internalError keeps taxonomy errors intact and wraps anything else as Internal.
func internalError(err error, message string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if _, ok := kindSentinels[ErrorKind(richErr.TextCode)]; ok {
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wrapKind(err, KindInternal, message+": operation cancelled")
	}

	return wrapKind(err, KindInternal, message)
}
