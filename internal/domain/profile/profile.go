package profile

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
)

// Profile is an approval profile. Its versions are stored separately and the
// latest version is always the one with the highest number.
type Profile struct {
	ID        int64     `json:"-"`
	UUID      uuid.UUID `json:"uuid"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Step is one stage of a version requiring a quorum of approve votes.
type Step struct {
	Order             int      `json:"order"`
	Description       string   `json:"description,omitempty"`
	RequiredApprovals int      `json:"requiredApprovals"`
	Approver          Approver `json:"approver"`
}

// Version is an immutable snapshot of a profile's policy.
type Version struct {
	ProfileUUID uuid.UUID `json:"profileUuid"`
	Version     int       `json:"version"`
	Description string    `json:"description,omitempty"`
	ExpiryHours int       `json:"expiryHours"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   *string   `json:"createdBy,omitempty"`
}

// Request carries the editable content of a profile.
type Request struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ExpiryHours int    `json:"expiryHours"`
	Enabled     *bool  `json:"enabled,omitempty"`
	Steps       []Step `json:"steps"`
}

// View is a profile together with one of its versions.
type View struct {
	Profile
	LatestVersion int      `json:"latestVersion"`
	Version       *Version `json:"version"`
}

// Expiry returns how long an approval created from this version stays open.
// Zero means approvals never expire.
func (v *Version) Expiry() time.Duration {
	return time.Duration(v.ExpiryHours) * time.Hour
}

// SortedSteps returns the steps in evaluation order.
func (v *Version) SortedSteps() []Step {
	steps := make([]Step, len(v.Steps))
	copy(steps, v.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

// Step looks up a step by its order value.
func (v *Version) Step(order int) (Step, bool) {
	for _, s := range v.Steps {
		if s.Order == order {
			return s, true
		}
	}
	return Step{}, false
}

// NewVersion builds version number n of a profile from a validated request.
func NewVersion(profileUUID uuid.UUID, n int, req Request, createdBy *string) *Version {
	steps := make([]Step, len(req.Steps))
	copy(steps, req.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return &Version{
		ProfileUUID: profileUUID,
		Version:     n,
		Description: req.Description,
		ExpiryHours: req.ExpiryHours,
		Steps:       steps,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   createdBy,
	}
}

// ValidateRequest checks a create/edit request.
func ValidateRequest(req *Request) error {
	if req == nil {
		return apperr.Validation("request is nil")
	}
	if strings.TrimSpace(req.Name) == "" {
		return apperr.Validation("name is required")
	}
	if req.ExpiryHours < 0 {
		return apperr.Validation("expiryHours must not be negative")
	}
	return ValidateSteps(req.Steps)
}

// ValidateSteps checks that at least one step exists, orders are unique,
// quorums are positive and each approver designation is exhaustive.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return apperr.Validation("at least one approval step is required")
	}
	seen := make(map[int]struct{}, len(steps))
	for _, s := range steps {
		if _, ok := seen[s.Order]; ok {
			return apperr.Validation("duplicate step order %d", s.Order)
		}
		seen[s.Order] = struct{}{}
		if s.RequiredApprovals < 1 {
			return apperr.Validation("step %d: requiredApprovals must be at least 1", s.Order)
		}
		if err := s.Approver.Validate(); err != nil {
			return apperr.Validation("step %d: %v", s.Order, err)
		}
	}
	return nil
}
