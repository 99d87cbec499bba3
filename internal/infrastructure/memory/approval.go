package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// ApprovalRepository is an in-memory approval.Repository with
// compare-and-swap semantics on Approval.Version.
type ApprovalRepository struct {
	mu        sync.RWMutex
	nextID    int64
	approvals map[uuid.UUID]*approval.Approval
	profiles  *ProfileRepository
}

// NewApprovalRepository creates an empty repository.
func NewApprovalRepository() *ApprovalRepository {
	return &ApprovalRepository{approvals: make(map[uuid.UUID]*approval.Approval)}
}

// NewApprovalRepositoryFor creates an approval repository tied to profiles:
// Create requires the referenced profile version to exist and
// ProfileRepository.Delete refuses profiles with pending approvals. Both
// checks run under the profile lock, taken before the approval lock.
func NewApprovalRepositoryFor(profiles *ProfileRepository) *ApprovalRepository {
	r := NewApprovalRepository()
	r.profiles = profiles
	profiles.mu.Lock()
	profiles.approvals = r
	profiles.mu.Unlock()
	return r
}

func (r *ApprovalRepository) Create(ctx context.Context, a *approval.Approval) error {
	if r.profiles != nil {
		r.profiles.mu.RLock()
		defer r.profiles.mu.RUnlock()
		if _, ok := r.profiles.versions[a.ProfileUUID][a.ProfileVersion]; !ok {
			return apperr.NotFound("approval profile %s version %d", a.ProfileUUID, a.ProfileVersion)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.approvals[a.UUID]; ok {
		return apperr.AlreadyExists("approval %s", a.UUID)
	}
	r.nextID++
	a.ID = r.nextID
	r.approvals[a.UUID] = cloneApproval(a)
	return nil
}

func (r *ApprovalRepository) GetByUUID(ctx context.Context, approvalUUID uuid.UUID) (*approval.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.approvals[approvalUUID]
	if !ok {
		return nil, nil
	}
	return cloneApproval(a), nil
}

func (r *ApprovalRepository) List(ctx context.Context, f approval.Filter, sec security.Filter, limit, offset int) (*approval.Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*approval.Approval
	for _, a := range r.approvals {
		if !matchApproval(a, f) || !sec.Allows(a.UUID) {
			continue
		}
		out = append(out, cloneApproval(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return &approval.Page{Items: page(out, limit, offset), Total: len(out)}, nil
}

func (r *ApprovalRepository) Update(ctx context.Context, a *approval.Approval, rec *approval.Record, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.approvals[a.UUID]
	if !ok {
		return apperr.NotFound("approval %s", a.UUID)
	}
	if stored.Version != expectedVersion {
		return approval.ErrStaleVersion
	}
	stored.Status = a.Status
	stored.ClosedAt = a.ClosedAt
	stored.ExecutionError = a.ExecutionError
	stored.Version = a.Version
	if rec != nil {
		cp := *rec
		stored.Records = append(stored.Records, &cp)
	}
	return nil
}

func (r *ApprovalRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*approval.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*approval.Approval
	for _, a := range r.approvals {
		if a.IsExpired(now) {
			out = append(out, cloneApproval(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return page(out, limit, 0), nil
}

func (r *ApprovalRepository) CountPendingByProfile(ctx context.Context, profileUUID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.approvals {
		if a.ProfileUUID == profileUUID && a.Status == approval.StatusPending {
			n++
		}
	}
	return n, nil
}

func matchApproval(a *approval.Approval, f approval.Filter) bool {
	switch {
	case f.Status != nil && a.Status != *f.Status:
		return false
	case f.ResourceType != nil && a.ResourceType != *f.ResourceType:
		return false
	case f.Action != nil && a.Action != *f.Action:
		return false
	case f.ObjectUUID != nil && a.ObjectUUID != *f.ObjectUUID:
		return false
	case f.RequesterUUID != nil && a.RequesterUUID != *f.RequesterUUID:
		return false
	case f.ProfileUUID != nil && a.ProfileUUID != *f.ProfileUUID:
		return false
	}
	return true
}

func cloneApproval(a *approval.Approval) *approval.Approval {
	cp := *a
	cp.Payload = append([]byte(nil), a.Payload...)
	cp.Records = make([]*approval.Record, len(a.Records))
	for i, rec := range a.Records {
		rc := *rec
		cp.Records[i] = &rc
	}
	return &cp
}
