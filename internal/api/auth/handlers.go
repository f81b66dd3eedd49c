package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/evefonwu/auth-profiles/internal/identity"
	"github.com/evefonwu/auth-profiles/internal/middleware"
)

// Handler implements the passwordless auth endpoints under /auth/v1.
type Handler struct {
	svc *identity.Service
}

func NewHandler(svc *identity.Service) *Handler {
	return &Handler{svc: svc}
}

type logoutRequest struct {
	Scope string `json:"scope,omitempty"` // "global" or "local" (default)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MagicLink handles POST /auth/v1/magiclink.
// The response never reveals whether the email belonged to an existing
// account — both paths send a link and answer 200.
func (h *Handler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req identity.MagicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.RequestMagicLink(r.Context(), r, req)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidEmail) {
			writeError(w, http.StatusBadRequest, "a valid email is required")
			return
		}
		slog.Error("Magic link request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send magic link")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "check your email for the sign-in link",
	})
}

// Verify handles GET /auth/v1/verify?token=...&redirect_to=...
// On success it either returns the session as JSON or, when the link was
// requested with a redirect target, sends the browser there with the
// tokens in the URL fragment (kept out of server logs).
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	session, redirectTo, err := h.svc.VerifyMagicLink(r.Context(), r, token)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrExpiredToken):
			writeError(w, http.StatusUnauthorized, "magic link has expired, request a new one")
		case errors.Is(err, identity.ErrInvalidToken):
			writeError(w, http.StatusUnauthorized, "invalid or already used magic link")
		default:
			slog.Error("Magic link verification failed", "error", err)
			writeError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	if override := r.URL.Query().Get("redirect_to"); override != "" {
		redirectTo = override
	}

	if redirectTo != "" {
		fragment := url.Values{}
		fragment.Set("access_token", session.AccessToken)
		fragment.Set("refresh_token", session.RefreshToken)
		fragment.Set("token_type", session.TokenType)
		fragment.Set("expires_at", fmt.Sprintf("%d", session.ExpiresAt))
		http.Redirect(w, r, redirectTo+"#"+fragment.Encode(), http.StatusSeeOther)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Token handles POST /auth/v1/token?grant_type=refresh_token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	grantType := r.URL.Query().Get("grant_type")
	if grantType != "refresh_token" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported grant_type: %s", grantType))
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	session, err := h.svc.Refresh(r.Context(), r, req.RefreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "invalid refresh token")
			return
		}
		slog.Error("Token refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GetUser handles GET /auth/v1/user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r)

	user, err := h.svc.CurrentUser(r.Context(), caller.Sub())
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		slog.Error("Fetch user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateUser handles PUT /auth/v1/user.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r)

	var req identity.UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.svc.UpdateUser(r.Context(), r, caller.Sub(), req)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, identity.ErrEmailTaken):
			writeError(w, http.StatusBadRequest, "email already in use")
		case errors.Is(err, identity.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			slog.Error("Update user failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update user")
		}
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Logout handles POST /auth/v1/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r)

	var req logoutRequest
	json.NewDecoder(r.Body).Decode(&req)

	if err := h.svc.Logout(r.Context(), r, caller.Sub(), middleware.GetSessionID(r), req.Scope); err != nil {
		slog.Error("Logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to log out")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":             message,
		"error_description": message,
	})
}
