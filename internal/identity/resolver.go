package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"promptdeck/api/internal/authz"
	"promptdeck/api/internal/store"
)

// ErrProvisionConflict reports a concurrent first-resolution race that could
// not be settled by re-reading the profile.
var ErrProvisionConflict = errors.New("profile provisioning conflict")

type ProfileStore interface {
	GetProfile(ctx context.Context, profileID string) (store.Profile, error)
	CreateProfile(ctx context.Context, profile store.Profile) error
	UpdateProfileRole(ctx context.Context, profileID, role string) error
}

// Resolver maps an authenticated principal to its profile, provisioning one
// lazily on first sight. The founder address arrives by configuration so the
// elevated role is never tied to a literal in code.
type Resolver struct {
	profiles     ProfileStore
	founderEmail string
}

func NewResolver(profiles ProfileStore, founderEmail string) *Resolver {
	return &Resolver{profiles: profiles, founderEmail: founderEmail}
}

// Resolve returns the profile for principalID, creating it when absent and
// correcting a drifted role on every call. The stored role is owner exactly
// when the verified contact matches the configured founder address, so the
// correction runs in both directions and is a no-op when nothing drifted.
func (r *Resolver) Resolve(ctx context.Context, principalID, verifiedContact string) (store.Profile, error) {
	if principalID == "" {
		return store.Profile{}, errors.New("resolve: empty principal id")
	}

	expectedRole := string(authz.RoleUser)
	if r.founderEmail != "" && strings.EqualFold(verifiedContact, r.founderEmail) {
		expectedRole = string(authz.RoleOwner)
	}

	profile, err := r.profiles.GetProfile(ctx, principalID)
	if errors.Is(err, sql.ErrNoRows) {
		profile = store.Profile{
			ID:          principalID,
			DisplayName: displayNameFromContact(verifiedContact),
			Role:        expectedRole,
		}
		if createErr := r.profiles.CreateProfile(ctx, profile); createErr != nil {
			if !errors.Is(createErr, store.ErrDuplicate) {
				return store.Profile{}, fmt.Errorf("provision profile: %w", createErr)
			}
			// Lost a concurrent first-resolution race. The other writer's
			// row wins; settle by re-reading instead of retrying the insert.
			profile, err = r.profiles.GetProfile(ctx, principalID)
			if err != nil {
				return store.Profile{}, fmt.Errorf("%w: %v", ErrProvisionConflict, err)
			}
			return r.heal(ctx, profile, expectedRole)
		}
		return profile, nil
	}
	if err != nil {
		return store.Profile{}, fmt.Errorf("load profile: %w", err)
	}

	return r.heal(ctx, profile, expectedRole)
}

func (r *Resolver) heal(ctx context.Context, profile store.Profile, expectedRole string) (store.Profile, error) {
	if profile.Role == expectedRole {
		return profile, nil
	}
	if err := r.profiles.UpdateProfileRole(ctx, profile.ID, expectedRole); err != nil {
		return store.Profile{}, fmt.Errorf("correct profile role: %w", err)
	}
	profile.Role = expectedRole
	return profile, nil
}

func displayNameFromContact(contact string) string {
	local := contact
	if at := strings.Index(contact, "@"); at > 0 {
		local = contact[:at]
	}
	if local == "" {
		return "member"
	}
	return local
}
