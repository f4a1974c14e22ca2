// Package otp generates and checks the one-time codes that prove control of a
// mailbox on the domain being authenticated.
//
// Only a bcrypt hash of a code is ever stored. The raw code exists long
// enough to be mailed to the recipient and is then discarded.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTTL is the lifetime of a code issued on first submission.
	// Corporate mail gateways can hold messages for a long time.
	DefaultTTL = 42 * time.Hour
	// DefaultResendTTL is the lifetime of a code issued by an explicit resend.
	DefaultResendTTL = 10 * time.Minute
	// DefaultMaxAttempts is how many wrong codes a challenge tolerates
	// before it stops accepting guesses.
	DefaultMaxAttempts = 5

	codeMin = 100000
	codeMax = 999999
)

var (
	// ErrMismatch is returned by Compare when the code does not match the hash.
	ErrMismatch = errors.New("otp: code does not match")
	// ErrMalformed is returned when a submitted code is not six digits.
	ErrMalformed = errors.New("otp: code must be 6 digits")
)

// Config controls code lifetimes, the guess budget and hashing cost.
type Config struct {
	TTL         time.Duration
	ResendTTL   time.Duration
	MaxAttempts int
	BcryptCost  int
}

// WithDefaults fills zero fields with package defaults.
func (c Config) WithDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ResendTTL <= 0 {
		c.ResendTTL = DefaultResendTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	return c
}

// Challenge is a freshly issued code together with what gets persisted.
type Challenge struct {
	Code      string // raw code; mail it, never store or log it
	Hash      string
	ExpiresAt time.Time
}

// Issuer creates and checks codes.
type Issuer struct {
	cfg Config
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg Config) *Issuer {
	return &Issuer{cfg: cfg.WithDefaults()}
}

// TTL returns the lifetime used for first-issue codes.
func (i *Issuer) TTL() time.Duration { return i.cfg.TTL }

// ResendTTL returns the lifetime used for resent codes.
func (i *Issuer) ResendTTL() time.Duration { return i.cfg.ResendTTL }

// MaxAttempts returns how many wrong codes one challenge accepts.
func (i *Issuer) MaxAttempts() int { return i.cfg.MaxAttempts }

// Issue generates a new code valid for ttl from now.
func (i *Issuer) Issue(now time.Time, ttl time.Duration) (*Challenge, error) {
	code, err := Generate()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), i.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}
	return &Challenge{
		Code:      code,
		Hash:      string(hash),
		ExpiresAt: now.Add(ttl).UTC(),
	}, nil
}

// Compare checks a submitted code against a stored hash. Surrounding
// whitespace is ignored. bcrypt compares in constant time.
func (i *Issuer) Compare(hash, submitted string) error {
	code := strings.TrimSpace(submitted)
	if !wellFormed(code) {
		return ErrMalformed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("compare otp: %w", err)
	}
	return nil
}

// Generate returns a 6-digit code drawn uniformly from 100000-999999.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// Expired reports whether a challenge with the given expiry is no longer
// valid at now. A nil expiry counts as expired.
func Expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || !now.Before(*expiresAt)
}

func wellFormed(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
