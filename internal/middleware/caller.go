package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/evefonwu/auth-profiles/internal/database"
)

type contextKey string

const (
	contextCaller    contextKey = "caller"
	contextSessionID contextKey = "session_id"
)

// CallerResolver turns a request into a database.Caller. A valid bearer
// token yields an authenticated caller carrying the token's claims; a
// missing or invalid one yields the anonymous caller, which downstream
// row-level security resolves to zero visible rows.
type CallerResolver struct {
	jwtSecret []byte
}

func NewCallerResolver(jwtSecret string) *CallerResolver {
	return &CallerResolver{jwtSecret: []byte(jwtSecret)}
}

// Resolve always lets the request through, attaching the resolved caller.
func (m *CallerResolver) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, sessionID := m.callerFromRequest(r)

		ctx := r.Context()
		ctx = context.WithValue(ctx, contextCaller, caller)
		ctx = context.WithValue(ctx, contextSessionID, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous callers. Must run after Resolve.
func (m *CallerResolver) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetCaller(r).Sub() == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":             "not authenticated",
				"error_description": "a valid bearer token is required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *CallerResolver) callerFromRequest(r *http.Request) (database.Caller, string) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return database.Anon(), ""
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")
	if tokenStr == auth || tokenStr == "" {
		return database.Anon(), ""
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return database.Anon(), ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return database.Anon(), ""
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return database.Anon(), ""
	}
	email, _ := claims["email"].(string)
	sessionID, _ := claims["session_id"].(string)

	extra := database.Claims{}
	if meta, ok := claims["user_metadata"]; ok {
		extra["user_metadata"] = meta
	}
	if sessionID != "" {
		extra["session_id"] = sessionID
	}

	return database.User(sub, email, extra), sessionID
}

// GetCaller extracts the resolved caller from the request context.
// Requests that never passed through Resolve count as anonymous.
func GetCaller(r *http.Request) database.Caller {
	if c, ok := r.Context().Value(contextCaller).(database.Caller); ok {
		return c
	}
	return database.Anon()
}

// GetSessionID extracts the caller's session id ("" when anonymous).
func GetSessionID(r *http.Request) string {
	s, _ := r.Context().Value(contextSessionID).(string)
	return s
}
