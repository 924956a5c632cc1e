// Package user manages account registration, authentication, and
// password reset over PostgreSQL.
package user

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/docsage/docsage/internal/log"
)

var (
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials indicates the email/password pair does not
	// match an account. Deliberately indistinguishable between unknown
	// email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidResetToken indicates the reset token matches no account.
	ErrInvalidResetToken = errors.New("invalid reset token")

	// ErrNotFound indicates no account matches the lookup.
	ErrNotFound = errors.New("user not found")
)

// resetTokenBytes is the entropy of a password reset token before
// URL-safe base64 encoding.
const resetTokenBytes = 32

// User is an account record. PasswordHash never leaves this package's
// callers via serialization; it carries no JSON tags.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Store persists accounts in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger

	// dummyHash is compared against when the email is unknown so that
	// Authenticate costs one bcrypt verification on every path.
	dummyHash string
}

// NewStore creates an account store over pool. A nil logger falls back
// to slog.Default().
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("docsage-timing-level"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy hash: %w", err)
	}
	return &Store{
		pool:      pool,
		logger:    logger,
		dummyHash: string(dummy),
	}, nil
}

// Register creates an account for email with the given password and
// returns the new user's ID. Email is normalized to lowercase; an
// already-registered email returns ErrDuplicateEmail.
func (s *Store) Register(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if err := validatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id
	`, email, string(hash)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return "", ErrDuplicateEmail
		}
		return "", fmt.Errorf("inserting user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", id)
	return id, nil
}

// Authenticate verifies the email/password pair and returns the
// account. Unknown email and wrong password both return
// ErrInvalidCredentials, and both cost one bcrypt comparison.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.byEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Level timing against the unknown-email path.
			_ = bcrypt.CompareHashAndPassword([]byte(s.dummyHash), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// BeginReset generates and stores a reset token for email, returning
// the token. An unknown email returns ErrNotFound; the HTTP layer
// hides that distinction from callers.
func (s *Store) BeginReset(ctx context.Context, email string) (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating reset token: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)

	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET reset_token = $2 WHERE email = $1
	`, normalizeEmail(email), tok)
	if err != nil {
		return "", fmt.Errorf("storing reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return tok, nil
}

// CompleteReset consumes a reset token, replacing the account's
// password in the same statement that clears the token. A token that
// matches no account returns ErrInvalidResetToken.
func (s *Store) CompleteReset(ctx context.Context, resetToken, newPassword string) error {
	if resetToken == "" {
		return ErrInvalidResetToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, reset_token = NULL
		WHERE reset_token = $1
	`, resetToken, string(hash))
	if err != nil {
		return fmt.Errorf("resetting password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidResetToken
	}

	s.logger.InfoContext(ctx, "password reset completed")
	return nil
}

// ByID returns the account with the given ID, or ErrNotFound.
func (s *Store) ByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return &u, nil
}

func (s *Store) byEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || len(email) > 254 {
		return fmt.Errorf("%w: malformed email", ErrInvalidCredentials)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password too short", ErrInvalidCredentials)
	}
	if len(password) > 72 {
		// bcrypt truncates beyond 72 bytes.
		return fmt.Errorf("%w: password too long", ErrInvalidCredentials)
	}
	return nil
}
