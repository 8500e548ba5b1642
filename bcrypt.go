package auth

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = newKindError(KindInvalidInput, "password must not be empty", nil)

// BcryptCredential implements PasswordCredential with bcrypt. The salt is
// generated per call and embedded in the returned hash.
type BcryptCredential struct {
	cost int
}

// NewBcryptCredential returns a bcrypt backed PasswordCredential. A cost of
// zero selects the build default.
func NewBcryptCredential(cost int) *BcryptCredential {
	if cost <= 0 {
		cost = passwordHashCost()
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptCredential{cost: cost}
}

// Hash will generate a password hash
func (b *BcryptCredential) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", newKindError(KindInvalidInput, "password is too long", nil)
		}
		return "", wrapKind(err, KindInternal, "failed to hash password")
	}
	return string(h), nil
}

// Verify reports whether plaintext matches hash. Malformed hashes never
// match.
func (b *BcryptCredential) Verify(plaintext, hash string) bool {
	if plaintext == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// HashPassword hashes with the default cost.
func HashPassword(password string) (string, error) {
	return NewBcryptCredential(0).Hash(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if !NewBcryptCredential(0).Verify(password, hash) {
		return ErrInvalidCredential
	}
	return nil
}

// RandomPasswordHash returns the hash of a random secret. It is used to burn
// comparable time when an identifier does not resolve to an account.
func RandomPasswordHash() string {
	h, err := HashPassword(uuid.NewString())
	if err != nil {
		return RandomPasswordHash()
	}
	return h
}

// dummyVerifier burns one verification against a throwaway hash so unknown
// identifiers take as long as wrong passwords.
type dummyVerifier struct {
	once sync.Once
	hash string
}

func (d *dummyVerifier) burn(cred PasswordCredential, password string) {
	d.once.Do(func() {
		d.hash, _ = cred.Hash(uuid.NewString())
	})
	cred.Verify(password, d.hash)
}
