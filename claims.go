package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPurpose scopes a token to a single workflow.
type TokenPurpose string

const (
	PurposeAccess  TokenPurpose = "access"
	PurposeRefresh TokenPurpose = "refresh"
	PurposeReset   TokenPurpose = "reset"
	PurposeVerify  TokenPurpose = "verify"
)

// AccountClaims is the claim set carried by every token. Which fields are
// populated depends on the purpose: access tokens carry the full identity,
// refresh tokens only the account id, reset and verify tokens the id and
// email.
type AccountClaims struct {
	jwt.RegisteredClaims
	UID      string       `json:"uid"`
	Mail     string       `json:"email,omitempty"`
	Handle   string       `json:"username,omitempty"`
	UserRole string       `json:"role,omitempty"`
	Purpose  TokenPurpose `json:"pur"`
}

// UserID returns the account id
func (c *AccountClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// Role returns the global role
func (c *AccountClaims) Role() string {
	return c.UserRole
}

// Expires returns the expiration time
func (c *AccountClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *AccountClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

func accessClaims(a *Account) AccountClaims {
	return AccountClaims{
		UID:      a.ID.String(),
		Mail:     a.Email,
		Handle:   a.Username,
		UserRole: string(a.Role),
	}
}

func refreshClaims(a *Account) AccountClaims {
	return AccountClaims{UID: a.ID.String()}
}

func purposeClaims(a *Account) AccountClaims {
	return AccountClaims{UID: a.ID.String(), Mail: a.Email}
}
