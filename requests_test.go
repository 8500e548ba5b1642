package auth

import (
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginMessageLookup(t *testing.T) {
	tests := []struct {
		name  string
		msg   LoginMessage
		field AccountField
		value string
	}{
		{name: "explicit email", msg: LoginMessage{Email: "a@x.com", Username: "alex"}, field: FieldEmail, value: "a@x.com"},
		{name: "explicit username", msg: LoginMessage{Username: "alex"}, field: FieldUsername, value: "alex"},
		{name: "identifier with at sign", msg: LoginMessage{Identifier: "a@x.com"}, field: FieldEmail, value: "a@x.com"},
		{name: "plain identifier", msg: LoginMessage{Identifier: "alex"}, field: FieldUsername, value: "alex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, value := tt.msg.lookup()
			assert.Equal(t, tt.field, field)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{ Validate() error }
		invalid []string
	}{
		{
			name: "valid registration",
			msg:  RegisterAccountMessage{Username: "alex_1", Email: "a@x.com", FullName: "Alex", Password: "password123"},
		},
		{
			name:    "registration with bad avatar url",
			msg:     RegisterAccountMessage{Username: "alex", Email: "a@x.com", FullName: "Alex", Password: "password123", Avatar: "not a url"},
			invalid: []string{"avatar"},
		},
		{
			name:    "password longer than bcrypt accepts",
			msg:     RegisterAccountMessage{Username: "alex", Email: "a@x.com", FullName: "Alex", Password: strings.Repeat("p", 73)},
			invalid: []string{"password"},
		},
		{
			name:    "login without identifier",
			msg:     LoginMessage{Password: "x"},
			invalid: []string{"identifier"},
		},
		{
			name:    "change password without account",
			msg:     ChangePasswordMessage{OldPassword: "a", NewPassword: "password123"},
			invalid: []string{"account_id"},
		},
		{
			name: "valid change password",
			msg:  ChangePasswordMessage{AccountID: uuid.NewString(), OldPassword: "a", NewPassword: "password123"},
		},
		{
			name:    "reset without token",
			msg:     FinalizePasswordResetMessage{Password: "password123"},
			invalid: []string{"token"},
		},
		{
			name:    "reset request with bad email",
			msg:     InitializePasswordResetMessage{Email: "nope"},
			invalid: []string{"email"},
		},
		{
			name:    "verification request without email",
			msg:     AccountVerificationRequestMessage{},
			invalid: []string{"email"},
		},
		{
			name:    "confirm without password",
			msg:     ConfirmPasswordRequest{Reason: "bye"},
			invalid: []string{"password"},
		},
		{
			name:    "reactivate without email",
			msg:     ReactivateRequest{Password: "x"},
			invalid: []string{"email"},
		},
		{
			name: "valid bulk deactivate",
			msg:  BulkAccountsMessage{Operation: BulkDeactivate, AccountIDs: []string{uuid.NewString()}},
		},
		{
			name:    "bulk with unknown operation",
			msg:     BulkAccountsMessage{Operation: "update", AccountIDs: []string{uuid.NewString()}},
			invalid: []string{"operation"},
		},
		{
			name:    "bulk without accounts",
			msg:     BulkAccountsMessage{Operation: BulkDelete},
			invalid: []string{"account_ids"},
		},
		{
			name:    "bulk with malformed id",
			msg:     BulkAccountsMessage{Operation: BulkActivate, AccountIDs: []string{uuid.NewString(), "42"}},
			invalid: []string{"account_ids"},
		},
		{
			name:    "bulk over the cap",
			msg:     BulkAccountsMessage{Operation: BulkActivate, AccountIDs: manyIDs(MaxBulkAccounts + 1)},
			invalid: []string{"account_ids"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if len(tt.invalid) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, KindInvalidInput, KindOf(err))

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			for _, field := range tt.invalid {
				assert.Contains(t, richErr.ValidationMap(), field)
			}
		})
	}
}

func manyIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	return ids
}
