package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// ErrStaleVersion is returned by Update when the stored approval no longer
// carries the expected version.
var ErrStaleVersion = errors.New("approval was modified concurrently")

// Filter controls approval listing.
type Filter struct {
	Status        *Status
	ResourceType  *string
	Action        *string
	ObjectUUID    *uuid.UUID
	RequesterUUID *uuid.UUID
	ProfileUUID   *uuid.UUID
}

// Page is one page of approvals plus the total matching count.
type Page struct {
	Items []*Approval `json:"approvals"`
	Total int         `json:"totalItems"`
}

// Repository defines persistence for approvals.
type Repository interface {
	Create(ctx context.Context, approval *Approval) error
	// GetByUUID returns the approval with its records ordered by creation, or nil, nil.
	GetByUUID(ctx context.Context, approvalUUID uuid.UUID) (*Approval, error)
	List(ctx context.Context, filter Filter, sec security.Filter, limit, offset int) (*Page, error)
	// Update persists status fields and the new Version, and appends rec when
	// non-nil, only if the stored version equals expectedVersion. Otherwise it
	// returns ErrStaleVersion and changes nothing.
	Update(ctx context.Context, approval *Approval, rec *Record, expectedVersion int) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Approval, error)
	CountPendingByProfile(ctx context.Context, profileUUID uuid.UUID) (int, error)
}
