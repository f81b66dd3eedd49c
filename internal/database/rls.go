package database

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Claims holds the JWT claims installed into the database session so
// row-level security predicates can evaluate the caller's identity.
type Claims map[string]interface{}

// Caller is the identity under which a database operation executes.
// Role selects the PostgreSQL role for the transaction; Claims supply
// request.jwt.claim.* settings for policy predicates.
type Caller struct {
	Role   string
	Claims Claims
}

// Anon is an unauthenticated caller: no sub claim, so every ownership
// predicate evaluates false and zero rows are visible or mutable.
func Anon() Caller {
	return Caller{Role: "anon", Claims: Claims{"role": "anon"}}
}

// Service is the elevated caller used by the identity subsystem itself.
// It bypasses the role switch entirely, so RLS does not apply.
func Service() Caller {
	return Caller{Role: "service_role"}
}

// User is an authenticated caller scoped to a single identity.
func User(sub, email string, extra Claims) Caller {
	claims := Claims{"sub": sub, "email": email, "role": "authenticated"}
	for k, v := range extra {
		claims[k] = v
	}
	return Caller{Role: "authenticated", Claims: claims}
}

// Sub returns the caller's identity id ("" for anonymous callers).
func (c Caller) Sub() string {
	sub, _ := c.Claims["sub"].(string)
	return sub
}

// validRoleName ensures role names only contain safe characters
// (SET LOCAL ROLE cannot be parameterized).
var validRoleName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithCaller runs a callback within a transaction that carries the
// caller's RLS context: SET LOCAL ROLE plus the JWT claims as
// parameterized set_config() values. service_role skips the role switch
// and runs unrestricted.
func WithCaller[T any](
	ctx context.Context,
	pool *pgxpool.Pool,
	caller Caller,
	fn func(tx pgx.Tx) (T, error),
) (T, error) {
	var zero T

	tx, err := pool.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if caller.Role != "service_role" {
		if !validRoleName.MatchString(caller.Role) {
			return zero, fmt.Errorf("invalid role name: %s", caller.Role)
		}

		// Role names cannot be parameterized; the regex above guards them.
		_, err = tx.Exec(ctx, fmt.Sprintf(`SET LOCAL ROLE "%s"`, caller.Role))
		if err != nil {
			return zero, fmt.Errorf("set role %s: %w", caller.Role, err)
		}

		claimsJSON, _ := json.Marshal(caller.Claims)
		_, err = tx.Exec(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, string(claimsJSON))
		if err != nil {
			return zero, fmt.Errorf("set jwt claims: %w", err)
		}

		if sub := caller.Sub(); sub != "" {
			_, _ = tx.Exec(ctx, `SELECT set_config('request.jwt.claim.sub', $1, true)`, sub)
		}
		if r, ok := caller.Claims["role"].(string); ok && r != "" {
			_, _ = tx.Exec(ctx, `SELECT set_config('request.jwt.claim.role', $1, true)`, r)
		}
		if email, ok := caller.Claims["email"].(string); ok && email != "" {
			_, _ = tx.Exec(ctx, `SELECT set_config('request.jwt.claim.email', $1, true)`, email)
		}
	}

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("commit tx: %w", err)
	}

	return result, nil
}
