package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/evefonwu/auth-profiles/internal/mailer"
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidToken = errors.New("invalid or already used token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmailTaken   = errors.New("email already in use")
	ErrNotFound     = errors.New("user not found")
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Service implements passwordless (magic-link) identity management.
// All queries run on the privileged pool: the auth schema is owned by the
// identity subsystem and is not subject to row-level security.
type Service struct {
	db         *pgxpool.Pool
	mailer     mailer.Mailer
	audit      *AuditLog
	jwtSecret  []byte
	jwtExpiry  time.Duration
	linkExpiry time.Duration
	siteURL    string
}

func NewService(db *pgxpool.Pool, m mailer.Mailer, audit *AuditLog, jwtSecret, siteURL string, jwtExpiry, linkExpiry int) *Service {
	return &Service{
		db:         db,
		mailer:     m,
		audit:      audit,
		jwtSecret:  []byte(jwtSecret),
		jwtExpiry:  time.Duration(jwtExpiry) * time.Second,
		linkExpiry: time.Duration(linkExpiry) * time.Second,
		siteURL:    siteURL,
	}
}

// ---------- Request/Response types ----------

type MagicLinkRequest struct {
	Email      string                 `json:"email"`
	Data       map[string]interface{} `json:"data,omitempty"`
	RedirectTo string                 `json:"redirect_to,omitempty"`
}

type UpdateUserRequest struct {
	Email string                 `json:"email,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

type User struct {
	ID               string                 `json:"id"`
	Aud              string                 `json:"aud"`
	Role             string                 `json:"role"`
	Email            string                 `json:"email"`
	EmailConfirmedAt *string                `json:"email_confirmed_at"`
	LastSignInAt     *string                `json:"last_sign_in_at"`
	UserMetadata     map[string]interface{} `json:"user_metadata"`
	CreatedAt        string                 `json:"created_at"`
	UpdatedAt        string                 `json:"updated_at"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// ---------- Magic link flow ----------

// RequestMagicLink creates the identity if it does not exist yet and emails
// a one-time sign-in link. The identity insert fires the profile
// provisioning trigger in the same transaction, so a user without a
// profile row can never be observed.
func (s *Service) RequestMagicLink(ctx context.Context, r *http.Request, req MagicLinkRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}

	userID, err := s.findOrCreateUser(ctx, email, req.Data)
	if err != nil {
		return err
	}

	tokenID, secret, raw, err := newLinkToken()
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), 12)
	if err != nil {
		return fmt.Errorf("hash link secret: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO auth.magic_links (id, user_id, secret_hash, redirect_to, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tokenID, userID, string(hash), req.RedirectTo, time.Now().Add(s.linkExpiry))
	if err != nil {
		return fmt.Errorf("store magic link: %w", err)
	}

	link := fmt.Sprintf("%s/auth/v1/verify?token=%s", s.siteURL, url.QueryEscape(raw))
	if err := s.mailer.SendMagicLink(ctx, email, link, s.linkExpiry); err != nil {
		return err
	}

	s.audit.Record(ctx, &userID, "magiclink_requested", r, nil)
	return nil
}

func (s *Service) findOrCreateUser(ctx context.Context, email string, data map[string]interface{}) (string, error) {
	var userID string
	err := s.db.QueryRow(ctx, `SELECT id FROM auth.users WHERE email = $1`, email).Scan(&userID)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("look up user: %w", err)
	}

	if data == nil {
		data = map[string]interface{}{}
	}
	metaJSON, _ := json.Marshal(data)

	err = s.db.QueryRow(ctx, `
		INSERT INTO auth.users (email, raw_user_meta_data)
		VALUES ($1, $2)
		RETURNING id
	`, email, string(metaJSON)).Scan(&userID)
	if err != nil {
		// Lost a create race: the other insert won, reuse its row.
		if strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate") {
			if err2 := s.db.QueryRow(ctx, `SELECT id FROM auth.users WHERE email = $1`, email).Scan(&userID); err2 == nil {
				return userID, nil
			}
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	return userID, nil
}

// VerifyMagicLink consumes a one-time token and opens a session. Tokens are
// single use: a concurrent second verification loses the consumed_at update
// and is rejected.
func (s *Service) VerifyMagicLink(ctx context.Context, r *http.Request, rawToken string) (*Session, string, error) {
	tokenID, secret, err := splitLinkToken(rawToken)
	if err != nil {
		return nil, "", err
	}

	var userID, secretHash, redirectTo string
	var expiresAt time.Time
	var consumedAt *time.Time
	err = s.db.QueryRow(ctx, `
		SELECT user_id, secret_hash, redirect_to, expires_at, consumed_at
		FROM auth.magic_links WHERE id = $1
	`, tokenID).Scan(&userID, &secretHash, &redirectTo, &expiresAt, &consumedAt)
	if err != nil {
		return nil, "", ErrInvalidToken
	}
	if consumedAt != nil {
		return nil, "", ErrInvalidToken
	}
	if time.Now().After(expiresAt) {
		return nil, "", ErrExpiredToken
	}
	if bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)) != nil {
		return nil, "", ErrInvalidToken
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE auth.magic_links SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL
	`, tokenID)
	if err != nil {
		return nil, "", fmt.Errorf("consume magic link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, "", ErrInvalidToken
	}

	_, err = s.db.Exec(ctx, `
		UPDATE auth.users
		SET email_confirmed_at = COALESCE(email_confirmed_at, NOW()),
		    last_sign_in_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return nil, "", fmt.Errorf("confirm user: %w", err)
	}

	session, err := s.createSession(ctx, r, userID)
	if err != nil {
		return nil, "", err
	}

	s.audit.Record(ctx, &userID, "magiclink_verified", r, nil)
	return session, redirectTo, nil
}

// ---------- Sessions and tokens ----------

func (s *Service) createSession(ctx context.Context, r *http.Request, userID string) (*Session, error) {
	user, err := s.fetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var userAgent, ip string
	if r != nil {
		userAgent = r.Header.Get("User-Agent")
		ip = r.RemoteAddr
	}

	var sessionID string
	err = s.db.QueryRow(ctx, `
		INSERT INTO auth.sessions (user_id, user_agent, ip)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, userAgent, ip).Scan(&sessionID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	accessToken, expiresAt, err := s.generateAccessToken(userID, user.Email, user.UserMetadata, sessionID)
	if err != nil {
		return nil, fmt.Errorf("generate jwt: %w", err)
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO auth.refresh_tokens (token, user_id, session_id)
		VALUES ($1, $2, $3)
	`, refreshToken, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Session{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(s.jwtExpiry.Seconds()),
		ExpiresAt:    expiresAt,
		RefreshToken: refreshToken,
		User:         *user,
	}, nil
}

// Refresh rotates a refresh token. Presenting an already-revoked token
// revokes the whole session family (rotation attack detection).
func (s *Service) Refresh(ctx context.Context, r *http.Request, refreshToken string) (*Session, error) {
	var tokenID int64
	var userID, sessionID string
	var revoked bool
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, session_id, revoked
		FROM auth.refresh_tokens WHERE token = $1
	`, refreshToken).Scan(&tokenID, &userID, &sessionID, &revoked)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if revoked {
		if _, err := s.db.Exec(ctx, `UPDATE auth.refresh_tokens SET revoked = true WHERE session_id = $1`, sessionID); err != nil {
			return nil, fmt.Errorf("revoke token family: %w", err)
		}
		return nil, ErrInvalidToken
	}

	if _, err := s.db.Exec(ctx, `UPDATE auth.refresh_tokens SET revoked = true, updated_at = NOW() WHERE id = $1`, tokenID); err != nil {
		return nil, fmt.Errorf("revoke old token: %w", err)
	}

	user, err := s.fetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.generateAccessToken(userID, user.Email, user.UserMetadata, sessionID)
	if err != nil {
		return nil, fmt.Errorf("generate jwt: %w", err)
	}

	newToken, err := newRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO auth.refresh_tokens (token, user_id, session_id, parent)
		VALUES ($1, $2, $3, $4)
	`, newToken, userID, sessionID, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	if _, err := s.db.Exec(ctx, `UPDATE auth.sessions SET refreshed_at = NOW(), updated_at = NOW() WHERE id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.audit.Record(ctx, &userID, "token_refreshed", r, nil)

	return &Session{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(s.jwtExpiry.Seconds()),
		ExpiresAt:    expiresAt,
		RefreshToken: newToken,
		User:         *user,
	}, nil
}

// Logout closes the current session, or every session when scope is "global".
// Failures are logged rather than surfaced — the client drops its tokens
// either way — but a failed revocation must leave a trace.
func (s *Service) Logout(ctx context.Context, r *http.Request, userID, sessionID, scope string) error {
	if scope == "global" {
		if _, err := s.db.Exec(ctx, `DELETE FROM auth.sessions WHERE user_id = $1`, userID); err != nil {
			slog.Error("Delete user sessions failed", "user_id", userID, "error", err)
		}
		if _, err := s.db.Exec(ctx, `UPDATE auth.refresh_tokens SET revoked = true WHERE user_id = $1`, userID); err != nil {
			slog.Error("Revoke user refresh tokens failed", "user_id", userID, "error", err)
		}
	} else if sessionID != "" {
		if _, err := s.db.Exec(ctx, `DELETE FROM auth.sessions WHERE id = $1`, sessionID); err != nil {
			slog.Error("Delete session failed", "session_id", sessionID, "error", err)
		}
		if _, err := s.db.Exec(ctx, `UPDATE auth.refresh_tokens SET revoked = true WHERE session_id = $1`, sessionID); err != nil {
			slog.Error("Revoke session refresh tokens failed", "session_id", sessionID, "error", err)
		}
	}

	s.audit.Record(ctx, &userID, "logout", r, map[string]interface{}{"scope": scope})
	return nil
}

// ---------- User record ----------

// CurrentUser returns the authenticated user's identity record.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*User, error) {
	return s.fetchUser(ctx, userID)
}

// UpdateUser changes the identity's email or user metadata. The profile
// row's email is intentionally left at its provisioning-time value — it is
// a copy, not a reference (matching the starter-kit schema).
func (s *Service) UpdateUser(ctx context.Context, r *http.Request, userID string, req UpdateUserRequest) (*User, error) {
	if req.Data != nil {
		metaJSON, _ := json.Marshal(req.Data)
		_, err := s.db.Exec(ctx, `UPDATE auth.users SET raw_user_meta_data = $1, updated_at = NOW() WHERE id = $2`, string(metaJSON), userID)
		if err != nil {
			return nil, fmt.Errorf("update metadata: %w", err)
		}
	}

	if req.Email != "" {
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if !emailRegex.MatchString(email) {
			return nil, ErrInvalidEmail
		}
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM auth.users WHERE email = $1 AND id != $2)`, email, userID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check email availability: %w", err)
		}
		if exists {
			return nil, ErrEmailTaken
		}
		_, err := s.db.Exec(ctx, `UPDATE auth.users SET email = $1, email_confirmed_at = NULL, updated_at = NOW() WHERE id = $2`, email, userID)
		if err != nil {
			return nil, fmt.Errorf("update email: %w", err)
		}
	}

	s.audit.Record(ctx, &userID, "user_updated", r, nil)
	return s.fetchUser(ctx, userID)
}

func (s *Service) fetchUser(ctx context.Context, userID string) (*User, error) {
	var email string
	var emailConfirmedAt, lastSignInAt *time.Time
	var rawMeta []byte
	var createdAt, updatedAt time.Time

	err := s.db.QueryRow(ctx, `
		SELECT email, email_confirmed_at, last_sign_in_at, raw_user_meta_data, created_at, updated_at
		FROM auth.users WHERE id = $1
	`, userID).Scan(&email, &emailConfirmedAt, &lastSignInAt, &rawMeta, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch user: %w", err)
	}

	var meta map[string]interface{}
	json.Unmarshal(rawMeta, &meta)
	if meta == nil {
		meta = map[string]interface{}{}
	}

	return &User{
		ID:               userID,
		Aud:              "authenticated",
		Role:             "authenticated",
		Email:            email,
		EmailConfirmedAt: formatTimePtr(emailConfirmedAt),
		LastSignInAt:     formatTimePtr(lastSignInAt),
		UserMetadata:     meta,
		CreatedAt:        createdAt.Format(time.RFC3339),
		UpdatedAt:        updatedAt.Format(time.RFC3339),
	}, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// ---------- Access tokens ----------

func (s *Service) generateAccessToken(userID, email string, userMeta map[string]interface{}, sessionID string) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(s.jwtExpiry).Unix()

	claims := jwt.MapClaims{
		"aud":           "authenticated",
		"exp":           expiresAt,
		"iat":           now.Unix(),
		"iss":           s.siteURL + "/auth/v1",
		"sub":           userID,
		"email":         email,
		"user_metadata": userMeta,
		"role":          "authenticated",
		"amr":           []map[string]interface{}{{"method": "magiclink", "timestamp": now.Unix()}},
		"session_id":    sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	return signed, expiresAt, err
}
