package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"promptdeck/api/internal/store"
)

type fakeProfileStore struct {
	getProfileFn        func(ctx context.Context, profileID string) (store.Profile, error)
	createProfileFn     func(ctx context.Context, profile store.Profile) error
	updateProfileRoleFn func(ctx context.Context, profileID, role string) error
}

func (f *fakeProfileStore) GetProfile(ctx context.Context, profileID string) (store.Profile, error) {
	return f.getProfileFn(ctx, profileID)
}

func (f *fakeProfileStore) CreateProfile(ctx context.Context, profile store.Profile) error {
	return f.createProfileFn(ctx, profile)
}

func (f *fakeProfileStore) UpdateProfileRole(ctx context.Context, profileID, role string) error {
	if f.updateProfileRoleFn == nil {
		return errors.New("unexpected role update")
	}
	return f.updateProfileRoleFn(ctx, profileID, role)
}

func TestResolveProvisionsProfileOnFirstSight(t *testing.T) {
	var created store.Profile
	fake := &fakeProfileStore{
		getProfileFn: func(_ context.Context, _ string) (store.Profile, error) {
			return store.Profile{}, sql.ErrNoRows
		},
		createProfileFn: func(_ context.Context, profile store.Profile) error {
			created = profile
			return nil
		},
	}
	resolver := NewResolver(fake, "founder@promptdeck.dev")

	profile, err := resolver.Resolve(context.Background(), "user_1", "casey@example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if created.ID != "user_1" {
		t.Fatalf("created profile id = %q", created.ID)
	}
	if profile.DisplayName != "casey" {
		t.Fatalf("display name = %q, want local part", profile.DisplayName)
	}
	if profile.Role != "user" {
		t.Fatalf("role = %q, want user", profile.Role)
	}
}

func TestResolveProvisionsFounderAsOwner(t *testing.T) {
	fake := &fakeProfileStore{
		getProfileFn: func(_ context.Context, _ string) (store.Profile, error) {
			return store.Profile{}, sql.ErrNoRows
		},
		createProfileFn: func(_ context.Context, _ store.Profile) error { return nil },
	}
	resolver := NewResolver(fake, "founder@promptdeck.dev")

	profile, err := resolver.Resolve(context.Background(), "user_1", "Founder@Promptdeck.dev")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if profile.Role != "owner" {
		t.Fatalf("role = %q, want owner", profile.Role)
	}
}

func TestResolveHealsDriftedRole(t *testing.T) {
	var corrected string
	fake := &fakeProfileStore{
		getProfileFn: func(_ context.Context, profileID string) (store.Profile, error) {
			return store.Profile{ID: profileID, DisplayName: "founder", Role: "user"}, nil
		},
		updateProfileRoleFn: func(_ context.Context, _, role string) error {
			corrected = role
			return nil
		},
	}
	resolver := NewResolver(fake, "founder@promptdeck.dev")

	profile, err := resolver.Resolve(context.Background(), "user_1", "founder@promptdeck.dev")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if corrected != "owner" {
		t.Fatalf("corrected role = %q, want owner", corrected)
	}
	if profile.Role != "owner" {
		t.Fatalf("returned role = %q, want owner", profile.Role)
	}
}

func TestResolveRoleCorrectionIsIdempotent(t *testing.T) {
	updates := 0
	fake := &fakeProfileStore{
		getProfileFn: func(_ context.Context, profileID string) (store.Profile, error) {
			return store.Profile{ID: profileID, DisplayName: "founder", Role: "owner"}, nil
		},
		updateProfileRoleFn: func(_ context.Context, _, _ string) error {
			updates++
			return nil
		},
	}
	resolver := NewResolver(fake, "founder@promptdeck.dev")

	for i := 0; i < 2; i++ {
		profile, err := resolver.Resolve(context.Background(), "user_1", "founder@promptdeck.dev")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if profile.Role != "owner" {
			t.Fatalf("role = %q, want owner", profile.Role)
		}
	}
	if updates != 0 {
		t.Fatalf("role updates = %d, want 0 when nothing drifted", updates)
	}
}

func TestResolveDemotesTamperedOwnerRole(t *testing.T) {
	var corrected string
	fake := &fakeProfileStore{
		getProfileFn: func(_ context.Context, profileID string) (store.Profile, error) {
			return store.Profile{ID: profileID, DisplayName: "casey", Role: "owner"}, nil
		},
		updateProfileRoleFn: func(_ context.Context, _, role string) error {
			corrected = role
			return nil
		},
	}
	resolver := NewResolver(fake, "founder@promptdeck.dev")

	profile, err := resolver.Resolve(context.Background(), "user_1", "casey@example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if corrected != "user" {
		t.Fatalf("corrected role = %q, want user", corrected)
	}
	if profile.Role != "user" {
		t.Fatalf("returned role = %q, want user", profile.Role)
	}
}

func TestResolveSettlesConcurrentProvisionByRereading(t *testing.T) {
	reads := 0
	fake := &fakeProfileStore{
		getProfileFn: func(_ context.Context, profileID string) (store.Profile, error) {
			reads++
			if reads == 1 {
				return store.Profile{}, sql.ErrNoRows
			}
			return store.Profile{ID: profileID, DisplayName: "casey", Role: "user"}, nil
		},
		createProfileFn: func(_ context.Context, _ store.Profile) error {
			return store.ErrDuplicate
		},
	}
	resolver := NewResolver(fake, "founder@promptdeck.dev")

	profile, err := resolver.Resolve(context.Background(), "user_1", "casey@example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if profile.ID != "user_1" {
		t.Fatalf("profile id = %q", profile.ID)
	}
	if reads != 2 {
		t.Fatalf("profile reads = %d, want re-read after duplicate", reads)
	}
}

func TestResolveSurfacesUnsettledProvisionConflict(t *testing.T) {
	fake := &fakeProfileStore{
		getProfileFn: func(_ context.Context, _ string) (store.Profile, error) {
			return store.Profile{}, sql.ErrNoRows
		},
		createProfileFn: func(_ context.Context, _ store.Profile) error {
			return store.ErrDuplicate
		},
	}
	resolver := NewResolver(fake, "founder@promptdeck.dev")

	_, err := resolver.Resolve(context.Background(), "user_1", "casey@example.com")
	if !errors.Is(err, ErrProvisionConflict) {
		t.Fatalf("err = %v, want ErrProvisionConflict", err)
	}
}

func TestResolveRejectsEmptyPrincipal(t *testing.T) {
	resolver := NewResolver(&fakeProfileStore{}, "founder@promptdeck.dev")
	if _, err := resolver.Resolve(context.Background(), "", "casey@example.com"); err == nil {
		t.Fatal("expected error for empty principal id")
	}
}
