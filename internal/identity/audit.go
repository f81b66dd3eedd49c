package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog writes auth events to auth.audit_log.
type AuditLog struct {
	db *pgxpool.Pool
}

func NewAuditLog(db *pgxpool.Pool) *AuditLog {
	return &AuditLog{db: db}
}

// Record logs an auth event. Best-effort — errors are ignored since audit
// logging must never break the sign-in flow.
func (a *AuditLog) Record(ctx context.Context, userID *string, action string, r *http.Request, metadata map[string]interface{}) {
	var ip, ua string
	if r != nil {
		ip = clientIP(r)
		ua = r.Header.Get("User-Agent")
	}

	metaJSON := []byte("{}")
	if metadata != nil {
		metaJSON, _ = json.Marshal(metadata)
	}

	a.db.Exec(ctx, `
		INSERT INTO auth.audit_log (user_id, action, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, action, ip, ua, string(metaJSON))
}

func clientIP(r *http.Request) string {
	// Proxy headers are client-controlled; only honor them when the
	// deployment says a trusted proxy sets them.
	if os.Getenv("TRUST_PROXY") == "true" {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.Index(xff, ","); idx > 0 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx > 0 {
		ip = ip[:idx]
	}
	return ip
}
