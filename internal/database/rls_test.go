package database

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Caller constructors
// ---------------------------------------------------------------------------

func TestAnon_HasNoSub(t *testing.T) {
	c := Anon()

	if c.Role != "anon" {
		t.Errorf("expected role 'anon', got %q", c.Role)
	}
	if c.Sub() != "" {
		t.Errorf("expected empty sub for anonymous caller, got %q", c.Sub())
	}
}

func TestService_BypassesRoleSwitch(t *testing.T) {
	c := Service()

	if c.Role != "service_role" {
		t.Errorf("expected role 'service_role', got %q", c.Role)
	}
}

func TestUser_CarriesIdentityClaims(t *testing.T) {
	c := User("550e8400-e29b-41d4-a716-446655440000", "alice@example.com", nil)

	if c.Role != "authenticated" {
		t.Errorf("expected role 'authenticated', got %q", c.Role)
	}
	if c.Sub() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("unexpected sub: %q", c.Sub())
	}
	if c.Claims["email"] != "alice@example.com" {
		t.Errorf("unexpected email claim: %v", c.Claims["email"])
	}
	if c.Claims["role"] != "authenticated" {
		t.Errorf("unexpected role claim: %v", c.Claims["role"])
	}
}

func TestUser_MergesExtraClaims(t *testing.T) {
	c := User("550e8400-e29b-41d4-a716-446655440000", "alice@example.com", Claims{
		"session_id": "sess-1",
	})

	if c.Claims["session_id"] != "sess-1" {
		t.Errorf("expected extra claim to survive merge, got %v", c.Claims["session_id"])
	}
	// Extras never displace the identity claims.
	if c.Sub() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("unexpected sub after merge: %q", c.Sub())
	}
}

func TestClaims_MarshalToJSONObject(t *testing.T) {
	c := User("550e8400-e29b-41d4-a716-446655440000", "alice@example.com", nil)

	data, err := json.Marshal(c.Claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	if decoded["sub"] != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("unexpected sub in marshaled claims: %v", decoded["sub"])
	}
}

// ---------------------------------------------------------------------------
// Role name validation
// ---------------------------------------------------------------------------

func TestValidRoleName(t *testing.T) {
	valid := []string{"anon", "authenticated", "service_role", "_internal", "role2"}
	for _, name := range valid {
		if !validRoleName.MatchString(name) {
			t.Errorf("expected %q to be a valid role name", name)
		}
	}

	invalid := []string{"", "role; DROP TABLE users", `role"`, "role name", "1role", "role-x"}
	for _, name := range invalid {
		if validRoleName.MatchString(name) {
			t.Errorf("expected %q to be rejected as a role name", name)
		}
	}
}

// ---------------------------------------------------------------------------
// Row-level security behavior (integration)
// ---------------------------------------------------------------------------

func TestWithCaller_OwnRowVisible_Documentation(t *testing.T) {
	t.Skip("requires database connection -- integration test")

	// An authenticated caller sees exactly their own profiles row:
	//   caller := User(id, email, nil)
	//   WithCaller(ctx, pool, caller, ...SELECT * FROM public.profiles...)
	// returns one row with profile.id == caller.Sub(). Selecting another
	// identity's id returns zero rows, indistinguishable from a missing row.
}

func TestWithCaller_AnonSeesZeroRows_Documentation(t *testing.T) {
	t.Skip("requires database connection -- integration test")

	// The anonymous caller carries no sub claim, so auth.uid() is NULL and
	// every policy predicate is false: SELECT, UPDATE and DELETE against
	// public.profiles all touch zero rows.
}

func TestWithCaller_RollbackOnCallbackError_Documentation(t *testing.T) {
	t.Skip("requires database connection -- integration test")

	// When the callback returns an error the transaction rolls back: an
	// UPDATE issued before the error is not visible afterwards. On success
	// the transaction commits and the write is durable.
}

func TestWithCaller_ServiceRoleBypassesPolicies_Documentation(t *testing.T) {
	t.Skip("requires database connection -- integration test")

	// Service() keeps the pool's owning role, so RLS does not constrain it:
	// it can read every profiles row regardless of the sub claim. Only the
	// identity subsystem uses it.
}
