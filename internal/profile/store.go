package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evefonwu/auth-profiles/internal/database"
)

// Store reads and writes public.profiles under the caller's row-level
// security context. It never creates rows — provisioning belongs to the
// identity subsystem's trigger — and it never deletes them.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Fetch returns the profile for the given identity id as seen by the
// caller. The policy layer scopes visibility, so asking for someone
// else's id yields ErrNotFound, the same as a missing row.
func (s *Store) Fetch(ctx context.Context, caller database.Caller, identityID string) (*Profile, error) {
	return database.WithCaller(ctx, s.db, caller, func(tx pgx.Tx) (*Profile, error) {
		row := tx.QueryRow(ctx, `
			SELECT id, email, full_name, avatar_url, created_at, updated_at
			FROM public.profiles WHERE id = $1
		`, identityID)
		return scanProfile(row)
	})
}

// Update writes the patch to the caller's row and returns the result.
// updated_at is assigned by the timestamp trigger regardless of input.
// A non-owner caller updates zero rows and gets ErrNotFound.
func (s *Store) Update(ctx context.Context, caller database.Caller, identityID string, patch Patch) (*Profile, error) {
	if patch.IsEmpty() {
		return nil, ErrEmptyPatch
	}

	setClauses := make([]string, 0, 2)
	args := []interface{}{identityID}
	if patch.FullName != nil {
		args = append(args, *patch.FullName)
		setClauses = append(setClauses, fmt.Sprintf("full_name = $%d", len(args)))
	}
	if patch.AvatarURL != nil {
		args = append(args, *patch.AvatarURL)
		setClauses = append(setClauses, fmt.Sprintf("avatar_url = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		UPDATE public.profiles SET %s
		WHERE id = $1
		RETURNING id, email, full_name, avatar_url, created_at, updated_at
	`, strings.Join(setClauses, ", "))

	return database.WithCaller(ctx, s.db, caller, func(tx pgx.Tx) (*Profile, error) {
		return scanProfile(tx.QueryRow(ctx, query, args...))
	})
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var avatarURL *string
	var createdAt, updatedAt time.Time

	err := row.Scan(&p.ID, &p.Email, &p.FullName, &avatarURL, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	p.AvatarURL = avatarURL
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}
