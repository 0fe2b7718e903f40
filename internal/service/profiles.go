package service

import (
	"context"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"

	"github.com/jask/focusguard/internal/database/repository"
	"github.com/jask/focusguard/internal/policy"
)

// Identity is a resolved profile handed to the core.
type Identity struct {
	Name        string
	DisplayName string
	Role        policy.Role
}

// ProfileService resolves identities to roles. Unknown identities resolve
// with RoleUnset, which the core refuses to operate under.
type ProfileService struct {
	Profiles *repository.ProfileRepo
}

func (s *ProfileService) Resolve(ctx context.Context, identity string) (Identity, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Identity{}, errors.Wrap(ErrInvalidInput, "identity is empty")
	}
	p, err := s.Profiles.GetByIdentity(ctx, identity)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "load profile %q", identity)
	}
	if p == nil {
		return Identity{Name: identity}, nil
	}
	return Identity{Name: p.Identity, DisplayName: p.DisplayName, Role: policy.Parse(p.Role)}, nil
}

// Save creates or updates a profile. The role must be an operating role.
func (s *ProfileService) Save(ctx context.Context, identity, displayName string, role policy.Role) (Identity, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Identity{}, errors.Wrap(ErrInvalidInput, "identity is empty")
	}
	if !role.Valid() {
		return Identity{}, errors.Wrapf(ErrInvalidInput, "role %s is not one of researcher, student, teacher", role)
	}
	p := repository.Profile{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte("profile:"+identity)).String(),
		Identity:    identity,
		DisplayName: strings.TrimSpace(displayName),
		Role:        string(role),
	}
	if err := s.Profiles.Upsert(ctx, p); err != nil {
		return Identity{}, errors.Wrapf(err, "save profile %q", identity)
	}
	return Identity{Name: identity, DisplayName: p.DisplayName, Role: role}, nil
}

func (s *ProfileService) List(ctx context.Context) ([]Identity, error) {
	ps, err := s.Profiles.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list profiles")
	}
	out := make([]Identity, 0, len(ps))
	for _, p := range ps {
		out = append(out, Identity{Name: p.Identity, DisplayName: p.DisplayName, Role: policy.Parse(p.Role)})
	}
	return out, nil
}
