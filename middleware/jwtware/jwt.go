// Package jwtware is a go-router middleware that extracts an access token
// from the request and hands it to an Authenticator. It does not parse tokens
// itself and never refreshes them.
package jwtware

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup       = "header:" + router.HeaderAuthorization + ",cookie:access_token"
	defaultContextKey        = "identity"
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
)

// Authenticator resolves a raw access token into a value stored in the
// request locals, usually an identity.
type Authenticator interface {
	AuthenticateToken(ctx context.Context, token string) (any, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, token string) (any, error)

// AuthenticateToken implements Authenticator.
func (f AuthenticatorFunc) AuthenticateToken(ctx context.Context, token string) (any, error) {
	return f(ctx, token)
}

// ValidationListener runs after authentication and may reject the request,
// e.g. for a role check.
type ValidationListener func(ctx router.Context, value any) error

type Config struct {
	// Filter skips the middleware when it returns true.
	Filter func(router.Context) bool
	// Authenticator is required.
	Authenticator Authenticator
	// SuccessHandler replaces the call to the next handler when set.
	SuccessHandler router.HandlerFunc
	// ErrorHandler receives ErrJWTMissingOrMalformed, the authenticator
	// error or a listener error.
	ErrorHandler router.ErrorHandler
	// ValidationListeners run in order once the token is authenticated.
	ValidationListeners []ValidationListener
	// ContextKey is the locals key for the authenticated value.
	ContextKey string
	// TokenLookup is a comma separated list of source:name pairs, e.g.
	// "header:Authorization,cookie:access_token,query:token".
	TokenLookup string
	// AuthScheme is the header scheme, "Bearer" by default.
	AuthScheme string
}

// New returns the middleware.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			raw, err := ExtractRawTokenFromContext(ctx, extractors)
			if err != nil || raw == "" {
				return cfg.ErrorHandler(ctx, ErrJWTMissingOrMalformed)
			}

			value, err := cfg.Authenticator.AuthenticateToken(ctx.Context(), raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, value)

			for _, listener := range cfg.ValidationListeners {
				if err := listener(ctx, value); err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
			}

			if cfg.SuccessHandler != nil {
				return cfg.SuccessHandler(ctx)
			}
			return next(ctx)
		}
	}
}

// GetDefaultConfig fills unset fields.
func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Authenticator == nil {
		panic("jwtware: Authenticator is required")
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if errors.Is(err, ErrJWTMissingOrMalformed) {
				return c.Status(router.StatusBadRequest).SendString(ErrJWTMissingOrMalformed.Error())
			}
			return c.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
		}
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = defaultContextKey
	}
	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	return cfg
}

// ExtractRawTokenFromContext returns the first non empty token found by
// extractors.
func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	err := ErrJWTMissingOrMalformed

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

type JWTExtractor func(c router.Context) (string, error)

// GetExtractors parses a lookup definition such as
// "header:Authorization,cookie:jwt,query:auth_token,param:token".
func GetExtractors(tokenLookup string, authScheme string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "param":
			extractors = append(extractors, jwtFromParam(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		a := c.Header(header)
		l := len(authScheme)
		if l == 0 {
			if a == "" {
				return "", ErrJWTMissingOrMalformed
			}
			return strings.TrimSpace(a), nil
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
