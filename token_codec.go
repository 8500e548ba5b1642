package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec signs and verifies claim sets for a single purpose. It holds no
// mutable state and is safe for concurrent use.
type TokenCodec struct {
	purpose  TokenPurpose
	secret   []byte
	lifetime time.Duration
	issuer   string
	now      func() time.Time
	logger   Logger
}

// CodecOption customizes a TokenCodec.
type CodecOption func(*TokenCodec)

// WithCodecClock injects a custom clock (useful for tests).
func WithCodecClock(clock func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithCodecIssuer sets the iss claim and requires it on verification.
func WithCodecIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		c.issuer = issuer
	}
}

// WithCodecLogger overrides the logger used for verification failures.
func WithCodecLogger(logger Logger) CodecOption {
	return func(c *TokenCodec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewTokenCodec returns a codec for purpose. A missing secret or a non
// positive lifetime is a configuration error.
func NewTokenCodec(purpose TokenPurpose, secret []byte, lifetime time.Duration, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, goerrors.New("token signing secret must not be empty", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"purpose": purpose})
	}
	if lifetime <= 0 {
		return nil, goerrors.New("token lifetime must be positive", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"purpose": purpose, "lifetime": lifetime.String()})
	}

	c := &TokenCodec{
		purpose:  purpose,
		secret:   secret,
		lifetime: lifetime,
		now:      time.Now,
		logger:   newDefLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Purpose returns the purpose this codec signs for.
func (c *TokenCodec) Purpose() TokenPurpose { return c.purpose }

// Lifetime returns the configured token lifetime.
func (c *TokenCodec) Lifetime() time.Duration { return c.lifetime }

// Issue signs claims, stamping purpose, issued-at, expiry and a unique id.
func (c *TokenCodec) Issue(claims AccountClaims) (string, error) {
	now := c.now()

	claims.Purpose = c.purpose
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    c.issuer,
		Subject:   claims.UID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiryFor(now, c.lifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", wrapKind(err, KindInternal, "failed to sign token")
	}
	return signed, nil
}

// expiryFor rounds up to the whole second so the NumericDate encoding never
// shortens the lifetime.
func expiryFor(issuedAt time.Time, lifetime time.Duration) time.Time {
	return issuedAt.Add(lifetime).Add(time.Second - 1).Truncate(time.Second)
}

// Verify checks signature, expiry and purpose. It returns ErrTokenExpired
// once the lifetime has elapsed and ErrTokenMalformed for anything else.
func (c *TokenCodec) Verify(tokenString string) (*AccountClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccountClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			c.logger.Debug("token expired", "purpose", c.purpose)
			return nil, wrapKind(err, KindTokenExpired, ErrTokenExpired.Message)
		}
		c.logger.Warn("token rejected", "purpose", c.purpose, "error", err)
		return nil, wrapKind(err, KindTokenMalformed, ErrTokenMalformed.Message)
	}

	claims, ok := token.Claims.(*AccountClaims)
	if !ok || !token.Valid {
		return nil, newKindError(KindTokenMalformed, "unable to decode token claims", nil)
	}

	if claims.Purpose != c.purpose || claims.UserID() == "" {
		c.logger.Warn("token purpose mismatch", "expected", c.purpose, "got", claims.Purpose)
		return nil, newKindError(KindTokenMalformed, "", map[string]any{"purpose": claims.Purpose})
	}

	return claims, nil
}

// TokenCodecs groups one codec per purpose, each with its own secret and
// lifetime.
type TokenCodecs struct {
	Access  *TokenCodec
	Refresh *TokenCodec
	Reset   *TokenCodec
	Verify  *TokenCodec
}

// NewTokenCodecs builds the four codecs from cfg.
func NewTokenCodecs(cfg Config, opts ...CodecOption) (*TokenCodecs, error) {
	opts = append([]CodecOption{WithCodecIssuer(cfg.GetIssuer())}, opts...)

	var err error
	codecs := &TokenCodecs{}

	if codecs.Access, err = NewTokenCodec(PurposeAccess, []byte(cfg.GetAccessTokenSecret()), cfg.GetAccessTokenTTL(), opts...); err != nil {
		return nil, err
	}
	if codecs.Refresh, err = NewTokenCodec(PurposeRefresh, []byte(cfg.GetRefreshTokenSecret()), cfg.GetRefreshTokenTTL(), opts...); err != nil {
		return nil, err
	}
	if codecs.Reset, err = NewTokenCodec(PurposeReset, []byte(cfg.GetResetTokenSecret()), cfg.GetResetTokenTTL(), opts...); err != nil {
		return nil, err
	}
	if codecs.Verify, err = NewTokenCodec(PurposeVerify, []byte(cfg.GetVerifyTokenSecret()), cfg.GetVerifyTokenTTL(), opts...); err != nil {
		return nil, err
	}

	return codecs, nil
}
