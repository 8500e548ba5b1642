package auth

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

const pgUniqueViolation = "23505"

// DefaultStoreTimeout bounds every store call.
var DefaultStoreTimeout = 10 * time.Second

// AccountStore implements CredentialStore on top of bun. It works with the
// sqlite and postgres dialects. Lookups by id, inserts, deletes and column
// updates go through the generic repository; the login and rotation writes
// stay as single conditional UPDATE statements.
type AccountStore struct {
	repository.Repository[*Account]
	db      bun.IDB
	timeout time.Duration
	now     func() time.Time
}

var _ TxCredentialStore = (*AccountStore)(nil)

// AccountStoreOption customizes an AccountStore.
type AccountStoreOption func(*AccountStore)

// WithStoreTimeout overrides DefaultStoreTimeout.
func WithStoreTimeout(d time.Duration) AccountStoreOption {
	return func(s *AccountStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithStoreClock injects a custom clock (useful for tests).
func WithStoreClock(clock func() time.Time) AccountStoreOption {
	return func(s *AccountStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewAccountStore returns a bun backed store.
func NewAccountStore(db *bun.DB, opts ...AccountStoreOption) *AccountStore {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	s := &AccountStore{
		Repository: repo,
		db:         db,
		timeout:    DefaultStoreTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// readCtx bounds reads by the caller context.
func (s *AccountStore) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// writeCtx detaches writes from caller cancellation so a disconnecting
// client cannot leave a request half applied.
func (s *AccountStore) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// RunInTx runs fn against a copy of the store bound to a transaction. The
// transaction is detached from caller cancellation like every other write.
func (s *AccountStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store CredentialStore) error) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		inner := *s
		inner.db = tx
		return fn(ctx, &inner)
	})
}

func (s *AccountStore) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	account, err := s.Repository.GetByIDTx(ctx, s.db, id.String())
	if err != nil {
		return nil, s.mapReadError(err, map[string]any{"id": id.String()})
	}
	return account, nil
}

func (s *AccountStore) FindByField(ctx context.Context, field AccountField, value string) (*Account, error) {
	var normalized string
	switch field {
	case FieldUsername:
		normalized = NormalizeHandle(value)
	case FieldEmail:
		normalized = NormalizeEmail(value)
	default:
		return nil, newKindError(KindInvalidInput, "unsupported lookup field", map[string]any{"field": field})
	}

	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	account := &Account{}
	err := s.db.NewSelect().
		Model(account).
		Where("? = ?", bun.Ident(string(field)), normalized).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, s.mapReadError(err, map[string]any{"field": field})
	}
	return account, nil
}

func (s *AccountStore) Create(ctx context.Context, account *Account) (*Account, error) {
	if account == nil {
		return nil, newKindError(KindInvalidInput, "account must not be nil", nil)
	}

	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	now := s.now().UTC()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Role == "" {
		account.Role = RoleStandard
	}
	account.Username = NormalizeHandle(account.Username)
	account.Email = NormalizeEmail(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	created, err := s.Repository.CreateTx(ctx, s.db, account)
	if err != nil {
		return nil, s.mapWriteError(err, "failed to create account")
	}
	return created, nil
}

func (s *AccountStore) UpdateFields(ctx context.Context, id uuid.UUID, fields Fields) error {
	if len(fields) == 0 {
		return nil
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		if _, ok := updatableColumns[col]; !ok {
			return newKindError(KindInvalidInput, "column is not updatable", map[string]any{"column": col})
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	if _, err := s.Repository.GetByIDTx(ctx, s.db, id.String()); err != nil {
		return s.mapReadError(err, map[string]any{"id": id.String()})
	}

	setColumns := func(q *bun.UpdateQuery) *bun.UpdateQuery {
		for _, col := range columns {
			q = q.Set("? = ?", bun.Ident(col), fields[col])
		}
		return q.Set("updated_at = ?", s.now().UTC())
	}

	_, err := s.Repository.UpdateTx(ctx, s.db, &Account{ID: id},
		repository.UpdateByID(id.String()),
		setColumns,
	)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return newKindError(KindNotFound, "", map[string]any{"id": id.String()})
		}
		return s.mapWriteError(err, "failed to update account")
	}
	return nil
}

func (s *AccountStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	account, err := s.Repository.GetByIDTx(ctx, s.db, id.String())
	if err != nil {
		return s.mapReadError(err, map[string]any{"id": id.String()})
	}

	if err := s.Repository.DeleteTx(ctx, s.db, account); err != nil {
		return s.mapWriteError(err, "failed to delete account")
	}
	return nil
}

func (s *AccountStore) RecordLogin(ctx context.Context, id uuid.UUID, refreshToken string, at time.Time) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	at = at.UTC()
	res, err := s.db.NewUpdate().
		Model((*Account)(nil)).
		Set("refresh_token = ?", refreshToken).
		Set("login_count = login_count + 1").
		Set("last_login_at = ?", at).
		Set("last_activity_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return s.mapWriteError(err, "failed to record login")
	}
	return expectOneRow(res, KindNotFound, map[string]any{"id": id.String()})
}

func (s *AccountStore) ReplaceRefreshToken(ctx context.Context, id uuid.UUID, expected, next string) error {
	if expected == "" {
		return newKindError(KindRevoked, "", nil)
	}

	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	now := s.now().UTC()
	res, err := s.db.NewUpdate().
		Model((*Account)(nil)).
		Set("refresh_token = ?", next).
		Set("last_activity_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("refresh_token = ?", expected).
		Exec(ctx)
	if err != nil {
		return s.mapWriteError(err, "failed to rotate refresh token")
	}
	return expectOneRow(res, KindRevoked, map[string]any{"id": id.String()})
}

func (s *AccountStore) mapReadError(err error, metadata map[string]any) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return newKindError(KindNotFound, "account not found", metadata)
	}
	return internalError(err, "failed to load account")
}

func (s *AccountStore) mapWriteError(err error, message string) error {
	if field, ok := uniqueViolation(err); ok {
		return wrapKind(err, KindConflict, "account with this "+field+" already exists").
			WithMetadata(map[string]any{"field": field})
	}
	return internalError(err, message)
}

func expectOneRow(res sql.Result, kind ErrorKind, metadata map[string]any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return internalError(err, "failed to read affected rows")
	}
	if n == 0 {
		return newKindError(kind, "", metadata)
	}
	return nil
}

var (
	pgKeyDetail      = regexp.MustCompile(`Key \(([a-z_]+)\)=`)
	sqliteUniqueFail = regexp.MustCompile(`UNIQUE constraint failed: [a-z_]+\.([a-z_]+)`)
)

// uniqueViolation detects unique constraint failures from sqlite and
// postgres and reports which identity field collided. Only the constraint
// or column name is inspected, never the offending value.
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return "", false
		}
		if field, ok := fieldFromConstraint(pgErr.ConstraintName); ok {
			return field, true
		}
		if m := pgKeyDetail.FindStringSubmatch(pgErr.Detail); m != nil {
			return identityField(m[1]), true
		}
		return "identifier", true
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		if m := sqliteUniqueFail.FindStringSubmatch(e.Error()); m != nil {
			return identityField(m[1]), true
		}
	}
	return "", false
}

// fieldFromConstraint maps index names like accounts_email_key.
func fieldFromConstraint(name string) (string, bool) {
	for _, field := range []AccountField{FieldEmail, FieldUsername} {
		if strings.HasSuffix(name, "_"+string(field)+"_key") {
			return string(field), true
		}
	}
	return "", false
}

func identityField(column string) string {
	switch AccountField(column) {
	case FieldEmail, FieldUsername:
		return column
	default:
		return "identifier"
	}
}
