// Package token issues and verifies signed session credentials.
//
// Credentials are HS256 JWTs carrying only the subject and expiry.
// Verification is stateless; revocation before expiry is not supported.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpired indicates the credential's expiry has passed.
	ErrExpired = errors.New("credential expired")

	// ErrMalformed indicates the credential failed parsing, signature
	// verification, or carries no subject.
	ErrMalformed = errors.New("credential malformed")
)

const (
	// LoginTTL is the credential lifetime granted on login.
	LoginTTL = 30 * time.Minute

	// DefaultTTL is the credential lifetime when the caller passes a
	// non-positive ttl to Issue.
	DefaultTTL = 15 * time.Minute
)

// Service signs and verifies session credentials with a shared secret.
type Service struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used in tests to verify expiry
// behavior deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a credential service signing with secret.
func New(secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("empty signing secret")
	}
	s := &Service{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue creates a signed credential for subject expiring after ttl.
// A non-positive ttl falls back to DefaultTTL.
func (s *Service) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("empty subject")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing credential: %w", err)
	}
	return signed, nil
}

// Verify parses and validates credential, returning the subject.
// Expired credentials return ErrExpired; anything else that fails
// validation returns ErrMalformed.
func (s *Service) Verify(credential string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	return claims.Subject, nil
}
