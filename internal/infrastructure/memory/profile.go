// Package memory holds in-memory repository implementations used in dev
// mode and tests. Values are copied on the way in and out so callers never
// share state with the store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// ProfileRepository is an in-memory profile.Repository.
type ProfileRepository struct {
	mu       sync.RWMutex
	nextID   int64
	profiles map[uuid.UUID]*profile.Profile
	versions map[uuid.UUID]map[int]*profile.Version
	// set by NewApprovalRepositoryFor
	approvals *ApprovalRepository
}

// NewProfileRepository creates an empty repository.
func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{
		profiles: make(map[uuid.UUID]*profile.Profile),
		versions: make(map[uuid.UUID]map[int]*profile.Version),
	}
}

func (r *ProfileRepository) Create(ctx context.Context, p *profile.Profile, v *profile.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTaken(p.Name, uuid.Nil) {
		return apperr.AlreadyExists("approval profile %q", p.Name)
	}
	r.nextID++
	p.ID = r.nextID
	cp := *p
	r.profiles[p.UUID] = &cp
	r.versions[p.UUID] = map[int]*profile.Version{v.Version: cloneVersion(v)}
	return nil
}

func (r *ProfileRepository) AppendVersion(ctx context.Context, v *profile.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.versions[v.ProfileUUID]
	if !ok {
		return apperr.NotFound("approval profile %s", v.ProfileUUID)
	}
	if _, exists := versions[v.Version]; exists {
		return profile.ErrVersionExists
	}
	versions[v.Version] = cloneVersion(v)
	return nil
}

func (r *ProfileRepository) GetByUUID(ctx context.Context, profileUUID uuid.UUID) (*profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[profileUUID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *ProfileRepository) GetByName(ctx context.Context, name string) (*profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.profiles {
		if strings.EqualFold(p.Name, name) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ProfileRepository) GetVersion(ctx context.Context, profileUUID uuid.UUID, version int) (*profile.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[profileUUID][version]
	if !ok {
		return nil, nil
	}
	return cloneVersion(v), nil
}

func (r *ProfileRepository) GetLatestVersion(ctx context.Context, profileUUID uuid.UUID) (*profile.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *profile.Version
	for _, v := range r.versions[profileUUID] {
		if latest == nil || v.Version > latest.Version {
			latest = v
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneVersion(latest), nil
}

func (r *ProfileRepository) ListVersions(ctx context.Context, profileUUID uuid.UUID) ([]*profile.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*profile.Version, 0, len(r.versions[profileUUID]))
	for _, v := range r.versions[profileUUID] {
		out = append(out, cloneVersion(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *ProfileRepository) List(ctx context.Context, filter profile.Filter, sec security.Filter, limit, offset int) ([]*profile.Profile, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*profile.Profile
	for _, p := range r.profiles {
		if filter.Name != nil && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(*filter.Name)) {
			continue
		}
		if filter.Enabled != nil && p.Enabled != *filter.Enabled {
			continue
		}
		if !sec.Allows(p.UUID) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	return page(out, limit, offset), total, nil
}

func (r *ProfileRepository) Revise(ctx context.Context, p *profile.Profile, v *profile.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.UUID]; !ok {
		return apperr.NotFound("approval profile %s", p.UUID)
	}
	if _, exists := r.versions[p.UUID][v.Version]; exists {
		return profile.ErrVersionExists
	}
	if err := r.update(p); err != nil {
		return err
	}
	r.versions[p.UUID][v.Version] = cloneVersion(v)
	return nil
}

func (r *ProfileRepository) Update(ctx context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(p)
}

func (r *ProfileRepository) update(p *profile.Profile) error {
	stored, ok := r.profiles[p.UUID]
	if !ok {
		return apperr.NotFound("approval profile %s", p.UUID)
	}
	if r.nameTaken(p.Name, p.UUID) {
		return apperr.AlreadyExists("approval profile %q", p.Name)
	}
	stored.Name = p.Name
	stored.Enabled = p.Enabled
	stored.UpdatedAt = p.UpdatedAt
	return nil
}

func (r *ProfileRepository) Delete(ctx context.Context, profileUUID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.approvals != nil {
		n, err := r.approvals.CountPendingByProfile(ctx, profileUUID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("approval profile %s has %d pending approvals", profileUUID, n)
		}
	}
	delete(r.profiles, profileUUID)
	delete(r.versions, profileUUID)
	return nil
}

func (r *ProfileRepository) nameTaken(name string, except uuid.UUID) bool {
	for id, p := range r.profiles {
		if id != except && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func cloneVersion(v *profile.Version) *profile.Version {
	cp := *v
	cp.Steps = append([]profile.Step(nil), v.Steps...)
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
