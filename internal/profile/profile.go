package profile

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound covers both a genuinely missing row and a row the caller
	// may not see — row-level security makes the two indistinguishable.
	ErrNotFound   = errors.New("profile not found")
	ErrEmptyPatch = errors.New("no editable fields in patch")
)

// Profile is the application-owned display record, one row per identity.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patch carries the only two caller-editable columns. Everything else —
// id, email, created_at, updated_at — is server-controlled and silently
// dropped by ParsePatch even when a client supplies it.
type Patch struct {
	FullName  *string
	AvatarURL *string
}

// ParsePatch extracts the editable fields from a JSON object body.
func ParsePatch(body []byte) (Patch, error) {
	var raw struct {
		FullName  *string `json:"full_name"`
		AvatarURL *string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Patch{}, err
	}

	p := Patch{FullName: raw.FullName, AvatarURL: raw.AvatarURL}
	if p.IsEmpty() {
		return Patch{}, ErrEmptyPatch
	}
	return p, nil
}

func (p Patch) IsEmpty() bool {
	return p.FullName == nil && p.AvatarURL == nil
}
