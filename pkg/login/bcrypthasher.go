package login

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher defines the interface for password hashing implementations
type PasswordHasher interface {
	// Hash hashes a password
	Hash(password string) (string, error)

	// Verify checks if the provided password matches the stored hash
	Verify(password, hashedPassword string) (bool, error)
}

var ErrEmptyPassword = errors.New("password cannot be empty")

// BcryptHasher implements PasswordHasher using bcrypt
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher with bcrypt.DefaultCost
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: bcrypt.DefaultCost}
}

// NewBcryptHasherWithCost is mostly useful in tests, where MinCost keeps them fast
func NewBcryptHasherWithCost(cost int) *BcryptHasher {
	return &BcryptHasher{cost: cost}
}

// Hash implements PasswordHasher.Hash
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}

	return string(hashedBytes), nil
}

// Verify implements PasswordHasher.Verify
func (h *BcryptHasher) Verify(password, hashedPassword string) (bool, error) {
	if password == "" || hashedPassword == "" {
		return false, errors.New("password and hashed password cannot be empty")
	}

	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil // Password doesn't match, but not an error
		}
		return false, err
	}

	return true, nil
}

// MultiHasher hashes with one algorithm and verifies whichever format the
// stored hash is in, so accounts created under an older algorithm keep working.
type MultiHasher struct {
	current PasswordHasher
	bcrypt  *BcryptHasher
	argon2  *Argon2Hasher
}

// NewPasswordHasher returns a MultiHasher that hashes with algorithm
// ("bcrypt" or "argon2id").
func NewPasswordHasher(algorithm string) (*MultiHasher, error) {
	m := &MultiHasher{bcrypt: NewBcryptHasher(), argon2: NewArgon2Hasher()}
	switch strings.ToLower(algorithm) {
	case "", "bcrypt":
		m.current = m.bcrypt
	case "argon2", "argon2id":
		m.current = m.argon2
	default:
		return nil, fmt.Errorf("unsupported password hash algorithm: %s (supported: bcrypt, argon2id)", algorithm)
	}
	return m, nil
}

func (m *MultiHasher) Hash(password string) (string, error) {
	return m.current.Hash(password)
}

func (m *MultiHasher) Verify(password, hashedPassword string) (bool, error) {
	if strings.HasPrefix(hashedPassword, "$argon2id$") {
		return m.argon2.Verify(password, hashedPassword)
	}
	return m.bcrypt.Verify(password, hashedPassword)
}
