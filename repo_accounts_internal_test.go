package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestUniqueViolationField(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantField string
		wantOK    bool
	}{
		{
			name: "postgres username constraint with email-like value",
			err: &pgconn.PgError{
				Code:           pgUniqueViolation,
				ConstraintName: "accounts_username_key",
				Detail:         "Key (username)=(myemail) already exists.",
			},
			wantField: "username",
			wantOK:    true,
		},
		{
			name: "postgres email constraint",
			err: &pgconn.PgError{
				Code:           pgUniqueViolation,
				ConstraintName: "accounts_email_key",
				Detail:         "Key (email)=(username@example.com) already exists.",
			},
			wantField: "email",
			wantOK:    true,
		},
		{
			name: "postgres detail only",
			err: &pgconn.PgError{
				Code:   pgUniqueViolation,
				Detail: "Key (email)=(a@b.co) already exists.",
			},
			wantField: "email",
			wantOK:    true,
		},
		{
			name:      "postgres unknown constraint",
			err:       &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "accounts_pkey"},
			wantField: "identifier",
			wantOK:    true,
		},
		{
			name:   "postgres other code",
			err:    &pgconn.PgError{Code: "23502", ConstraintName: "accounts_email_key"},
			wantOK: false,
		},
		{
			name:      "wrapped postgres error",
			err:       fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "accounts_username_key"}),
			wantField: "username",
			wantOK:    true,
		},
		{
			name:      "sqlite username",
			err:       errors.New("constraint failed: UNIQUE constraint failed: accounts.username (2067)"),
			wantField: "username",
			wantOK:    true,
		},
		{
			name:      "sqlite email wrapped",
			err:       fmt.Errorf("create: %w", errors.New("UNIQUE constraint failed: accounts.email")),
			wantField: "email",
			wantOK:    true,
		},
		{
			name:   "unrelated error",
			err:    errors.New("connection refused"),
			wantOK: false,
		},
		{
			name:   "nil",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, ok := uniqueViolation(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantField, field)
		})
	}
}
