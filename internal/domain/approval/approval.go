package approval

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
)

// Status represents approval status.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
	StatusFailed   Status = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Decision represents a vote.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Approval is one approval request bound to a profile version snapshot.
type Approval struct {
	ID             int64           `json:"-"`
	UUID           uuid.UUID       `json:"uuid"`
	ProfileUUID    uuid.UUID       `json:"approvalProfileUuid"`
	ProfileVersion int             `json:"version"`
	ResourceType   string          `json:"resource"`
	Action         string          `json:"resourceAction"`
	ObjectUUID     uuid.UUID       `json:"objectUuid"`
	RequesterUUID  uuid.UUID       `json:"creatorUuid"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      *time.Time      `json:"expiryAt,omitempty"`
	ClosedAt       *time.Time      `json:"closedAt,omitempty"`
	ExecutionError *string         `json:"executionError,omitempty"`
	// Version is the optimistic concurrency counter; every persisted change increments it.
	Version int       `json:"-"`
	Records []*Record `json:"records,omitempty"`
}

// Record is one vote cast on an approval.
type Record struct {
	ID           int64     `json:"-"`
	UUID         uuid.UUID `json:"uuid"`
	ApprovalUUID uuid.UUID `json:"approvalUuid"`
	StepOrder    int       `json:"stepOrder"`
	UserUUID     uuid.UUID `json:"userUuid"`
	Decision     Decision  `json:"decision"`
	Comment      *string   `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewApproval creates a pending approval for the given version snapshot.
func NewApproval(v *profile.Version, resourceType, action string, objectUUID, requester uuid.UUID, payload json.RawMessage, now time.Time) *Approval {
	a := &Approval{
		UUID:           uuid.New(),
		ProfileUUID:    v.ProfileUUID,
		ProfileVersion: v.Version,
		ResourceType:   resourceType,
		Action:         action,
		ObjectUUID:     objectUUID,
		RequesterUUID:  requester,
		Payload:        payload,
		Status:         StatusPending,
		CreatedAt:      now,
		Version:        1,
	}
	if exp := v.Expiry(); exp > 0 {
		at := now.Add(exp)
		a.ExpiresAt = &at
	}
	return a
}

// IsExpired reports whether a pending approval has passed its expiry.
func (a *Approval) IsExpired(now time.Time) bool {
	return a.Status == StatusPending && a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Close moves a pending approval to a terminal status. It is a no-op on terminal approvals.
func (a *Approval) Close(status Status, now time.Time) bool {
	if a.Status.IsTerminal() || !status.IsTerminal() {
		return false
	}
	a.Status = status
	a.ClosedAt = &now
	return true
}

// StepTally summarises the votes recorded for one step.
type StepTally struct {
	Approvals int
	Voters    map[uuid.UUID]struct{}
}

// Tally groups records by step order.
func Tally(records []*Record) map[int]*StepTally {
	out := make(map[int]*StepTally)
	for _, r := range records {
		t, ok := out[r.StepOrder]
		if !ok {
			t = &StepTally{Voters: make(map[uuid.UUID]struct{})}
			out[r.StepOrder] = t
		}
		t.Voters[r.UserUUID] = struct{}{}
		if r.Decision == DecisionApprove {
			t.Approvals++
		}
	}
	return out
}

// StepSatisfied reports whether the step reached its quorum.
func StepSatisfied(step profile.Step, tally map[int]*StepTally) bool {
	t, ok := tally[step.Order]
	return ok && t.Approvals >= step.RequiredApprovals
}

// AllSatisfied reports whether every step of v reached its quorum.
func AllSatisfied(v *profile.Version, records []*Record) bool {
	_, pending := CurrentStep(v, records)
	return !pending
}

// CurrentStep returns the first unsatisfied step in ascending order, or false
// when every step reached its quorum.
func CurrentStep(v *profile.Version, records []*Record) (profile.Step, bool) {
	tally := Tally(records)
	for _, s := range v.SortedSteps() {
		if !StepSatisfied(s, tally) {
			return s, true
		}
	}
	return profile.Step{}, false
}
