package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// ErrVersionExists is returned by AppendVersion when another writer already
// stored the same version number.
var ErrVersionExists = errors.New("profile version already exists")

// Filter controls profile listing.
type Filter struct {
	Name    *string
	Enabled *bool
}

// Repository defines persistence for approval profiles and their versions.
// Lookups return nil, nil when nothing matches.
type Repository interface {
	// Create stores a profile and its first version atomically.
	// Returns apperr.ErrAlreadyExists on name collision.
	Create(ctx context.Context, p *Profile, v *Version) error
	AppendVersion(ctx context.Context, v *Version) error
	// Revise appends v and persists p's name, enabled flag and UpdatedAt in
	// one step: either both are stored or neither. Returns ErrVersionExists
	// or apperr.ErrAlreadyExists like AppendVersion and Update.
	Revise(ctx context.Context, p *Profile, v *Version) error
	GetByUUID(ctx context.Context, profileUUID uuid.UUID) (*Profile, error)
	GetByName(ctx context.Context, name string) (*Profile, error)
	GetVersion(ctx context.Context, profileUUID uuid.UUID, version int) (*Version, error)
	GetLatestVersion(ctx context.Context, profileUUID uuid.UUID) (*Version, error)
	ListVersions(ctx context.Context, profileUUID uuid.UUID) ([]*Version, error)
	List(ctx context.Context, filter Filter, sec security.Filter, limit, offset int) ([]*Profile, int, error)
	// Update persists name, enabled flag and UpdatedAt. Returns
	// apperr.ErrAlreadyExists when the new name is taken.
	Update(ctx context.Context, p *Profile) error
	// Delete removes the profile and its versions. Returns apperr.ErrConflict
	// while a pending approval references the profile; the check and the
	// delete are atomic with respect to approval creation.
	Delete(ctx context.Context, profileUUID uuid.UUID) error
}
