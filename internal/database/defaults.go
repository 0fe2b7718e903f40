package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/jask/focusguard/internal/database/repository"
)

// DefaultIdentity is the profile used when the user has not chosen one.
const DefaultIdentity = "local"

// SeedDefaults ensures the default profile exists for new databases.
// It is idempotent and safe to run on every startup. The seeded profile has no
// role, so the user must pick one before searching.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	profiles := repository.NewProfileRepo(db)
	existing, err := profiles.List(ctx)
	if err == nil && len(existing) > 0 {
		return nil
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("profile:"+DefaultIdentity)).String()
	return profiles.Upsert(ctx, repository.Profile{ID: id, Identity: DefaultIdentity, DisplayName: "Local user"})
}
