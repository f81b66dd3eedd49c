package profile

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// ParsePatch
// ---------------------------------------------------------------------------

func TestParsePatch_EditableFields(t *testing.T) {
	p, err := ParsePatch([]byte(`{"full_name": "Alice Chen", "avatar_url": "https://cdn.example.com/a.png"}`))
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}

	if p.FullName == nil || *p.FullName != "Alice Chen" {
		t.Errorf("unexpected FullName: %v", p.FullName)
	}
	if p.AvatarURL == nil || *p.AvatarURL != "https://cdn.example.com/a.png" {
		t.Errorf("unexpected AvatarURL: %v", p.AvatarURL)
	}
}

func TestParsePatch_PartialPatch(t *testing.T) {
	p, err := ParsePatch([]byte(`{"full_name": "Alice"}`))
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}

	if p.FullName == nil || *p.FullName != "Alice" {
		t.Errorf("unexpected FullName: %v", p.FullName)
	}
	if p.AvatarURL != nil {
		t.Errorf("AvatarURL should stay unset, got %v", *p.AvatarURL)
	}
}

func TestParsePatch_ExplicitNullClearsNothing(t *testing.T) {
	// JSON null and an absent key are the same to the patch: the column
	// keeps its value. Clearing avatar_url takes an empty string.
	_, err := ParsePatch([]byte(`{"full_name": null}`))
	if !errors.Is(err, ErrEmptyPatch) {
		t.Errorf("expected ErrEmptyPatch for all-null body, got %v", err)
	}

	p, err := ParsePatch([]byte(`{"avatar_url": ""}`))
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if p.AvatarURL == nil || *p.AvatarURL != "" {
		t.Errorf("empty string should be a real value, got %v", p.AvatarURL)
	}
}

func TestParsePatch_DropsServerControlledFields(t *testing.T) {
	// id, email and the timestamps are server-controlled; a client supplying
	// them changes nothing, and a body containing only them is empty.
	body := []byte(`{
		"id": "550e8400-e29b-41d4-a716-446655440000",
		"email": "attacker@example.com",
		"created_at": "1999-01-01T00:00:00Z",
		"updated_at": "1999-01-01T00:00:00Z"
	}`)

	_, err := ParsePatch(body)
	if !errors.Is(err, ErrEmptyPatch) {
		t.Errorf("expected ErrEmptyPatch when only server-controlled fields are supplied, got %v", err)
	}
}

func TestParsePatch_ServerFieldsAlongsideEditableOnes(t *testing.T) {
	body := []byte(`{"email": "attacker@example.com", "full_name": "Alice"}`)

	p, err := ParsePatch(body)
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if p.FullName == nil || *p.FullName != "Alice" {
		t.Errorf("editable field lost: %v", p.FullName)
	}
}

func TestParsePatch_EmptyObject(t *testing.T) {
	_, err := ParsePatch([]byte(`{}`))
	if !errors.Is(err, ErrEmptyPatch) {
		t.Errorf("expected ErrEmptyPatch, got %v", err)
	}
}

func TestParsePatch_InvalidJSON(t *testing.T) {
	_, err := ParsePatch([]byte(`{"full_name": `))
	if err == nil {
		t.Fatal("expected error for truncated JSON")
	}
	if errors.Is(err, ErrEmptyPatch) {
		t.Error("malformed JSON must not be reported as an empty patch")
	}
}

// ---------------------------------------------------------------------------
// Store semantics (integration)
// ---------------------------------------------------------------------------

func TestStore_FetchForeignRowIsNotFound_Documentation(t *testing.T) {
	t.Skip("requires database connection -- integration test")

	// Fetching another identity's profile id returns ErrNotFound: the
	// select policy hides the row, so a denied row and a missing row are
	// the same answer.
}

func TestStore_UpdateStampsUpdatedAt_Documentation(t *testing.T) {
	t.Skip("requires database connection -- integration test")

	// After Update, updated_at moves forward regardless of what the client
	// sent: the BEFORE UPDATE trigger overwrites it with NOW().
}
