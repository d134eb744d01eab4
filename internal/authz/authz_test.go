package authz

import "testing"

func TestCanModerate(t *testing.T) {
	cases := []struct {
		name        string
		principalID string
		authorID    string
		role        Role
		visibility  bool
		deletion    bool
	}{
		{name: "author moderates own prompt", principalID: "u1", authorID: "u1", role: RoleUser, visibility: true, deletion: true},
		{name: "stranger gets nothing", principalID: "u2", authorID: "u1", role: RoleUser, visibility: false, deletion: false},
		{name: "owner deletes but cannot toggle visibility", principalID: "u2", authorID: "u1", role: RoleOwner, visibility: false, deletion: true},
		{name: "owner over own prompt", principalID: "u1", authorID: "u1", role: RoleOwner, visibility: true, deletion: true},
		{name: "anonymous gets nothing", principalID: "", authorID: "u1", role: RoleUser, visibility: false, deletion: false},
		{name: "anonymous with owner role still gets nothing", principalID: "", authorID: "u1", role: RoleOwner, visibility: false, deletion: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CanModerate(tc.principalID, tc.authorID, tc.role)
			if got.CanToggleVisibility != tc.visibility {
				t.Fatalf("CanToggleVisibility = %v, want %v", got.CanToggleVisibility, tc.visibility)
			}
			if got.CanDelete != tc.deletion {
				t.Fatalf("CanDelete = %v, want %v", got.CanDelete, tc.deletion)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("owner"); got != RoleOwner {
		t.Fatalf("Normalize(owner) = %q", got)
	}
	if got := Normalize("admin"); got != RoleUser {
		t.Fatalf("Normalize(admin) = %q, want user", got)
	}
	if got := Normalize(""); got != RoleUser {
		t.Fatalf("Normalize(empty) = %q, want user", got)
	}
}
