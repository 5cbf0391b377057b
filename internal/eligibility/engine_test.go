package eligibility

import "testing"

func TestAllowAllIsNoop(t *testing.T) {
	e := NewAllowAll()
	if !e.IsNoop() {
		t.Fatalf("expected noop engine")
	}
	if !e.Allowed("anyone", []string{"worker", "validator"}) {
		t.Fatalf("allow-all must allow everyone")
	}
}

func TestDenyWinsOverAllow(t *testing.T) {
	e := NewFromConfig(Config{
		DefaultAction: "allow",
		Roles: map[string]RoleRule{
			"worker": {
				Allow: []string{"w-1", "w-2"},
				Deny:  []string{"w-2"},
			},
		},
	})
	if !e.Allowed("w-1", []string{"worker"}) {
		t.Fatalf("w-1 is on the allow list")
	}
	if e.Allowed("w-2", []string{"worker"}) {
		t.Fatalf("deny must win over allow for w-2")
	}
}

func TestNonEmptyAllowListClosesRole(t *testing.T) {
	e := NewFromConfig(Config{
		DefaultAction: "allow",
		Roles: map[string]RoleRule{
			"validator": {Allow: []string{"v-1"}},
		},
	})
	if !e.Allowed("v-1", []string{"validator"}) {
		t.Fatalf("listed validator must be allowed")
	}
	if e.Allowed("v-9", []string{"validator"}) {
		t.Fatalf("unlisted address must be rejected for a closed role")
	}
	// Roles with no rule fall back to the default action.
	if !e.Allowed("v-9", []string{"worker"}) {
		t.Fatalf("unconfigured role must follow default allow")
	}
}

func TestDefaultDeny(t *testing.T) {
	e := NewFromConfig(Config{DefaultAction: "deny"})
	if e.Allowed("anyone", []string{"worker"}) {
		t.Fatalf("default deny must reject unconfigured roles")
	}
}

func TestAllRolesMustPass(t *testing.T) {
	e := NewFromConfig(Config{
		DefaultAction: "allow",
		Roles: map[string]RoleRule{
			"validator": {Allow: []string{"v-1"}},
		},
	})
	if e.Allowed("w-1", []string{"worker", "validator"}) {
		t.Fatalf("an address failing any requested role must be rejected")
	}
}

func TestAddressMatchingIsCaseInsensitive(t *testing.T) {
	e := NewFromConfig(Config{
		Roles: map[string]RoleRule{
			"worker": {Allow: []string{"Worker-One"}},
		},
	})
	if !e.Allowed("worker-one", []string{"worker"}) {
		t.Fatalf("address comparison must ignore case")
	}
}
