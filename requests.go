package auth

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

var passwordRules = []validation.Rule{
	validation.Required,
	validation.Length(8, 72),
}

// validationError converts ozzo errors into an InvalidInput error with one
// metadata entry per field.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	var internal validation.InternalError
	if errors.As(err, &internal) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "validation failed to run")
	}

	fields := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
	} else {
		fields["request"] = err.Error()
	}

	meta := make(map[string]any, len(fields))
	for k, v := range fields {
		meta[k] = v
	}

	return goerrors.NewValidationFromMap("invalid request", fields).
		WithTextCode(string(KindInvalidInput)).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(meta)
}

// RegisterAccountMessage is the registration payload.
type RegisterAccountMessage struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Password   string `json:"password"`
	Avatar     string `json:"avatar,omitempty"`
	CoverImage string `json:"cover_image,omitempty"`
}

func (m RegisterAccountMessage) Type() string { return "account.register" }

func (m RegisterAccountMessage) Validate() error {
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Username, validation.Required, validation.Length(3, 64), validation.Match(handlePattern)),
		validation.Field(&m.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&m.FullName, validation.Required, validation.Length(1, 128)),
		validation.Field(&m.Password, passwordRules...),
		validation.Field(&m.Avatar, is.URL),
		validation.Field(&m.CoverImage, is.URL),
	))
}

// LoginMessage accepts either a single identifier (handle or email) or the
// explicit username or email fields.
type LoginMessage struct {
	Identifier string `json:"identifier,omitempty"`
	Username   string `json:"username,omitempty"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password"`
}

func (m LoginMessage) Type() string { return "account.login" }

func (m LoginMessage) Validate() error {
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Identifier, validation.By(func(any) error {
			if m.Identifier == "" && m.Username == "" && m.Email == "" {
				return errors.New("username or email is required")
			}
			return nil
		})),
		validation.Field(&m.Email, is.Email),
		validation.Field(&m.Password, validation.Required),
	))
}

// lookup resolves which unique field the login refers to.
func (m LoginMessage) lookup() (AccountField, string) {
	switch {
	case m.Email != "":
		return FieldEmail, m.Email
	case m.Username != "":
		return FieldUsername, m.Username
	case strings.Contains(m.Identifier, "@"):
		return FieldEmail, m.Identifier
	default:
		return FieldUsername, m.Identifier
	}
}

// ChangePasswordMessage replaces the password of an authenticated account.
type ChangePasswordMessage struct {
	AccountID   string `json:"account_id,omitempty"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (m ChangePasswordMessage) Type() string { return "account.password.change" }

func (m ChangePasswordMessage) Validate() error {
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.AccountID, validation.Required, is.UUID),
		validation.Field(&m.OldPassword, validation.Required),
		validation.Field(&m.NewPassword, passwordRules...),
	))
}

// InitializePasswordResetMessage starts a password reset.
type InitializePasswordResetMessage struct {
	Email string `json:"email"`
}

func (m InitializePasswordResetMessage) Type() string { return "account.password.reset_request" }

func (m InitializePasswordResetMessage) Validate() error {
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	))
}

// FinalizePasswordResetMessage completes a password reset with a reset token.
type FinalizePasswordResetMessage struct {
	Token    string `json:"token"`
	Password string `json:"new_password"`
}

func (m FinalizePasswordResetMessage) Type() string { return "account.password.reset" }

func (m FinalizePasswordResetMessage) Validate() error {
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.Password, passwordRules...),
	))
}

// AccountVerificationRequestMessage asks for a new verification email.
type AccountVerificationRequestMessage struct {
	Email string `json:"email"`
}

func (m AccountVerificationRequestMessage) Type() string { return "account.verification.request" }

func (m AccountVerificationRequestMessage) Validate() error {
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	))
}

// ConfirmPasswordRequest carries the password re-confirmation required by
// deactivate and delete.
type ConfirmPasswordRequest struct {
	Password string `json:"password"`
	Reason   string `json:"reason,omitempty"`
}

func (r ConfirmPasswordRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Reason, validation.Length(0, 500)),
	))
}

// ReactivateRequest restores a deactivated account.
type ReactivateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r ReactivateRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	))
}

// UpdateDetailsRequest changes display name and email.
type UpdateDetailsRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func (r UpdateDetailsRequest) Validate() error {
	return validationError(validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
	))
}

// RefreshRequest carries a refresh token in the body when no cookie is sent.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MaxBulkAccounts caps the number of accounts one bulk request may touch.
const MaxBulkAccounts = 100

// BulkAccountsMessage applies one administrative operation to many accounts.
type BulkAccountsMessage struct {
	Operation  BulkOperation `json:"operation"`
	AccountIDs []string      `json:"account_ids"`
	Actor      ActorRef      `json:"-"`
}

func (m BulkAccountsMessage) Type() string { return "account.bulk" }

func (m BulkAccountsMessage) Validate() error {
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Operation, validation.Required, validation.In(BulkActivate, BulkDeactivate, BulkDelete)),
		validation.Field(&m.AccountIDs, validation.Required, validation.Length(1, MaxBulkAccounts), validation.Each(is.UUID)),
	))
}
