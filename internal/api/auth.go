package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/notify"
	"github.com/docsage/docsage/internal/token"
	"github.com/docsage/docsage/internal/user"
)

// Accounts is the account operations the HTTP layer needs.
type Accounts interface {
	Register(ctx context.Context, email, password string) (string, error)
	Authenticate(ctx context.Context, email, password string) (*user.User, error)
	BeginReset(ctx context.Context, email string) (string, error)
	CompleteReset(ctx context.Context, resetToken, newPassword string) error
}

// Issuer mints session credentials.
type Issuer interface {
	Issue(subject string, ttl time.Duration) (string, error)
}

// authHandler serves registration, login, and password reset.
type authHandler struct {
	accounts Accounts
	issuer   Issuer
	notifier notify.Notifier
	logger   log.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// register handles POST /api/v1/register.
func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}

	id, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "duplicate_email", "email already registered")
		case errors.Is(err, user.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		default:
			h.logger.Error("registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "registration failed")
		}
		return
	}

	cred, err := h.issuer.Issue(id, token.DefaultTTL)
	if err != nil {
		h.logger.Error("issuing credential after registration", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{
		AccessToken: cred,
		TokenType:   "bearer",
	})
}

// login handles POST /api/v1/login.
func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}

	u, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	cred, err := h.issuer.Issue(u.ID, token.LoginTTL)
	if err != nil {
		h.logger.Error("issuing credential after login", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: cred,
		TokenType:   "bearer",
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// forgotPassword handles POST /api/v1/forgot-password. Delivery of
// the token is fire-and-forget; notifier failures are logged, never
// surfaced.
func (h *authHandler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}

	resetToken, err := h.accounts.BeginReset(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown_email", "email not registered")
			return
		}
		h.logger.Error("beginning password reset", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "reset request failed")
		return
	}

	if err := h.notifier.SendReset(r.Context(), req.Email, resetToken); err != nil {
		h.logger.Error("sending reset notification", "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "reset instructions sent",
	})
}

type resetPasswordRequest struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

// resetPassword handles POST /api/v1/reset-password.
func (h *authHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}

	err := h.accounts.CompleteReset(r.Context(), req.ResetToken, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidResetToken):
			writeError(w, http.StatusBadRequest, "invalid_reset_token", "invalid or already used reset token")
		case errors.Is(err, user.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		default:
			h.logger.Error("completing password reset", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "reset failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
