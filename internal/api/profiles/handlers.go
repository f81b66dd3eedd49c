package profiles

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/evefonwu/auth-profiles/internal/middleware"
	"github.com/evefonwu/auth-profiles/internal/profile"
	"github.com/evefonwu/auth-profiles/internal/storage"
)

// Handler serves the profile endpoints under /profile/v1. Every data
// access runs under the caller's row-level security context: the handlers
// never decide visibility themselves, they only translate outcomes.
type Handler struct {
	store          *profile.Store
	avatars        *storage.AvatarStore // nil when avatar storage is not configured
	avatarMaxBytes int64
}

func NewHandler(store *profile.Store, avatars *storage.AvatarStore, avatarMaxKB int) *Handler {
	return &Handler{
		store:          store,
		avatars:        avatars,
		avatarMaxBytes: int64(avatarMaxKB) * 1024,
	}
}

// Get handles GET /profile/v1 and GET /profile/v1/{id}. Without an id the
// caller's own profile is returned. Asking for another identity's id is
// legal but yields not-found — the policy layer shows zero foreign rows,
// indistinguishable from a missing row.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r)

	id := chi.URLParam(r, "id")
	if id == "" {
		id = caller.Sub()
	}
	if id == "" {
		// Anonymous caller with no explicit id: zero rows under any policy.
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	p, err := h.store.Fetch(r.Context(), caller, id)
	if err != nil {
		writeProfileError(w, err, "fetch profile")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Patch handles PATCH /profile/v1. Only full_name and avatar_url are
// writable; id, email and the timestamps are server-controlled and
// silently ignored when supplied.
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r)
	if caller.Sub() == "" {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	patch, err := profile.ParsePatch(body)
	if err != nil {
		if errors.Is(err, profile.ErrEmptyPatch) {
			writeError(w, http.StatusBadRequest, "no editable fields in patch")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.store.Update(r.Context(), caller, caller.Sub(), patch)
	if err != nil {
		writeProfileError(w, err, "update profile")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// UploadAvatar handles POST /profile/v1/avatar. The image goes to the
// avatar bucket and the resulting URL is written through the same
// RLS-gated update path as any other profile edit.
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		writeError(w, http.StatusNotImplemented, "avatar storage is not configured")
		return
	}

	caller := middleware.GetCaller(r)
	if caller.Sub() == "" {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if _, ok := storage.ExtensionFor(contentType); !ok {
		writeError(w, http.StatusUnsupportedMediaType, "avatar must be image/png, image/jpeg or image/webp")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.avatarMaxBytes)
	avatarURL, err := h.avatars.Upload(r.Context(), caller.Sub(), contentType, body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "avatar image too large")
			return
		}
		slog.Error("Avatar upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store avatar")
		return
	}

	p, err := h.store.Update(r.Context(), caller, caller.Sub(), profile.Patch{AvatarURL: &avatarURL})
	if err != nil {
		writeProfileError(w, err, "update avatar_url")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func writeProfileError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	case errors.Is(err, profile.ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, "no editable fields in patch")
	default:
		msg := sanitizeDBError(err)
		if msg == "" {
			slog.Error("Profile operation failed", "op", op, "error", err)
			writeError(w, http.StatusInternalServerError, "database operation failed")
			return
		}
		writeError(w, http.StatusBadRequest, msg)
	}
}

// sanitizeDBError maps caller-bug database errors to safe client messages.
// Returns "" for anything that should stay internal.
func sanitizeDBError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "invalid input syntax for type uuid") {
		return "malformed identity id"
	}
	if strings.Contains(msg, "violates row-level security") {
		return "permission denied for this resource"
	}
	if strings.Contains(msg, "violates unique constraint") {
		return "duplicate key value violates unique constraint"
	}
	if strings.Contains(msg, "violates foreign key constraint") {
		return "foreign key constraint violation"
	}
	return ""
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
