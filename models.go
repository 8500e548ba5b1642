package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the account's flat role
type Role string

const (
	// RoleStandard is the default role for registered accounts
	RoleStandard Role = "user"
	// RoleModerator can moderate content
	RoleModerator Role = "moderator"
	// RoleAdmin can manage other accounts
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// AccountState is the lifecycle state derived from the persisted flags.
type AccountState string

const (
	StateUnverified  AccountState = "unverified"
	StateActive      AccountState = "active"
	StateDeactivated AccountState = "deactivated"
	StateDeleted     AccountState = "deleted"
)

// Account is the identity record
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID                 uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Username           string     `bun:"username,notnull,unique" json:"username"`
	Email              string     `bun:"email,notnull,unique" json:"email"`
	FullName           string     `bun:"full_name,notnull" json:"full_name"`
	Avatar             string     `bun:"avatar" json:"avatar,omitempty"`
	CoverImage         string     `bun:"cover_image" json:"cover_image,omitempty"`
	PasswordHash       string     `bun:"password_hash,notnull" json:"-"`
	RefreshToken       string     `bun:"refresh_token" json:"-"`
	Role               Role       `bun:"role,notnull" json:"role"`
	IsEmailVerified    bool       `bun:"is_email_verified,notnull" json:"is_email_verified"`
	IsActive           bool       `bun:"is_active,notnull" json:"is_active"`
	DeactivationReason string     `bun:"deactivation_reason" json:"deactivation_reason,omitempty"`
	DeactivatedAt      *time.Time `bun:"deactivated_at,nullzero" json:"deactivated_at,omitempty"`
	LoginCount         int        `bun:"login_count,notnull" json:"login_count"`
	LastLoginAt        *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	LastActivityAt     *time.Time `bun:"last_activity_at,nullzero" json:"last_activity_at,omitempty"`
	CreatedAt          time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// State derives the lifecycle state. Deleted accounts are gone from storage
// so a nil account reports StateDeleted.
func (a *Account) State() AccountState {
	switch {
	case a == nil:
		return StateDeleted
	case !a.IsActive:
		return StateDeactivated
	case !a.IsEmailVerified:
		return StateUnverified
	default:
		return StateActive
	}
}

// View returns the read projection of the account.
func (a *Account) View() AccountView {
	if a == nil {
		return AccountView{}
	}
	return AccountView{
		ID:                 a.ID.String(),
		Username:           a.Username,
		Email:              a.Email,
		FullName:           a.FullName,
		Avatar:             a.Avatar,
		CoverImage:         a.CoverImage,
		Role:               a.Role,
		IsEmailVerified:    a.IsEmailVerified,
		IsActive:           a.IsActive,
		State:              a.State(),
		DeactivationReason: a.DeactivationReason,
		DeactivatedAt:      a.DeactivatedAt,
		LoginCount:         a.LoginCount,
		LastLoginAt:        a.LastLoginAt,
		LastActivityAt:     a.LastActivityAt,
		CreatedAt:          a.CreatedAt,
	}
}

// AccountView is the projection handed to anything that displays an account.
// It never carries the password hash or the refresh token.
type AccountView struct {
	ID                 string       `json:"id"`
	Username           string       `json:"username"`
	Email              string       `json:"email"`
	FullName           string       `json:"full_name"`
	Avatar             string       `json:"avatar,omitempty"`
	CoverImage         string       `json:"cover_image,omitempty"`
	Role               Role         `json:"role"`
	IsEmailVerified    bool         `json:"is_email_verified"`
	IsActive           bool         `json:"is_active"`
	State              AccountState `json:"state"`
	DeactivationReason string       `json:"deactivation_reason,omitempty"`
	DeactivatedAt      *time.Time   `json:"deactivated_at,omitempty"`
	LoginCount         int          `json:"login_count"`
	LastLoginAt        *time.Time   `json:"last_login_at,omitempty"`
	LastActivityAt     *time.Time   `json:"last_activity_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// Activity returns the login statistics of the account.
func (a *Account) Activity() AccountActivity {
	if a == nil {
		return AccountActivity{}
	}
	return AccountActivity{
		AccountID:      a.ID.String(),
		State:          a.State(),
		AccountCreated: a.CreatedAt,
		LastLogin:      a.LastLoginAt,
		LastActivity:   a.LastActivityAt,
		TotalLogins:    a.LoginCount,
	}
}

// AccountActivity is the admin facing summary of how an account is used.
type AccountActivity struct {
	AccountID      string       `json:"account_id"`
	State          AccountState `json:"state"`
	AccountCreated time.Time    `json:"account_created"`
	LastLogin      *time.Time   `json:"last_login,omitempty"`
	LastActivity   *time.Time   `json:"last_activity,omitempty"`
	TotalLogins    int          `json:"total_logins"`
}

// TokenPair is returned by login and refresh. Only the refresh token is
// persisted.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// accountIdentity is the minimal Identity resolved for downstream handlers.
type accountIdentity struct {
	id       string
	username string
	email    string
	role     string
}

func (i accountIdentity) ID() string       { return i.id }
func (i accountIdentity) Username() string { return i.username }
func (i accountIdentity) Email() string    { return i.email }
func (i accountIdentity) Role() string     { return i.role }

// IdentityOf returns the minimal identity of an account.
func IdentityOf(a *Account) Identity {
	return accountIdentity{
		id:       a.ID.String(),
		username: a.Username,
		email:    a.Email,
		role:     string(a.Role),
	}
}

// NormalizeHandle trims and lower-cases a handle.
func NormalizeHandle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
