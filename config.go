package auth

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// Settings is the environment backed Config implementation.
type Settings struct {
	AccessTokenSecret    string        `env:"ACCESS_TOKEN_SECRET"`
	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	RefreshTokenSecret   string        `env:"REFRESH_TOKEN_SECRET"`
	RefreshTokenTTL      time.Duration `env:"REFRESH_TOKEN_EXPIRY" envDefault:"240h"`
	ResetTokenSecret     string        `env:"RESET_TOKEN_SECRET"`
	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_EXPIRY" envDefault:"15m"`
	VerifyTokenSecret    string        `env:"VERIFY_TOKEN_SECRET"`
	VerifyTokenTTL       time.Duration `env:"VERIFY_TOKEN_EXPIRY" envDefault:"24h"`
	Issuer               string        `env:"AUTH_ISSUER" envDefault:"go-account-auth"`
	AccessCookieName     string        `env:"AUTH_ACCESS_COOKIE" envDefault:"access_token"`
	RefreshCookieName    string        `env:"AUTH_REFRESH_COOKIE" envDefault:"refresh_token"`
	CookieSecure         bool          `env:"AUTH_COOKIE_SECURE" envDefault:"true"`
	RequireVerifiedEmail bool          `env:"AUTH_REQUIRE_VERIFIED_EMAIL" envDefault:"false"`
	PasswordCost         int           `env:"AUTH_PASSWORD_COST" envDefault:"0"`
}

var _ Config = Settings{}

// LoadSettingsFromEnv parses Settings from the environment and validates them.
func LoadSettingsFromEnv() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return s, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to parse auth settings from env")
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks that every token purpose has a secret and a lifetime.
func (s Settings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.AccessTokenSecret, validation.Required),
		validation.Field(&s.RefreshTokenSecret, validation.Required),
		validation.Field(&s.ResetTokenSecret, validation.Required),
		validation.Field(&s.VerifyTokenSecret, validation.Required),
		validation.Field(&s.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.RefreshTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.ResetTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.VerifyTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.PasswordCost, validation.Min(0), validation.Max(31)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "invalid auth settings")
	}
	return nil
}

func (s Settings) GetAccessTokenSecret() string { return s.AccessTokenSecret }
func (s Settings) GetAccessTokenTTL() time.Duration { return s.AccessTokenTTL }
func (s Settings) GetRefreshTokenSecret() string { return s.RefreshTokenSecret }
func (s Settings) GetRefreshTokenTTL() time.Duration { return s.RefreshTokenTTL }
func (s Settings) GetResetTokenSecret() string { return s.ResetTokenSecret }
func (s Settings) GetResetTokenTTL() time.Duration { return s.ResetTokenTTL }
func (s Settings) GetVerifyTokenSecret() string { return s.VerifyTokenSecret }
func (s Settings) GetVerifyTokenTTL() time.Duration { return s.VerifyTokenTTL }
func (s Settings) GetIssuer() string { return s.Issuer }
func (s Settings) GetAccessCookieName() string { return s.AccessCookieName }
func (s Settings) GetRefreshCookieName() string { return s.RefreshCookieName }
func (s Settings) GetCookieSecure() bool { return s.CookieSecure }
func (s Settings) GetRequireVerifiedEmail() bool { return s.RequireVerifiedEmail }
func (s Settings) GetPasswordCost() int { return s.PasswordCost }
