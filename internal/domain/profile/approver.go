package profile

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// ApproverKind tags the variant held by an Approver.
type ApproverKind string

const (
	ApproverUser ApproverKind = "USER"
	ApproverRole ApproverKind = "ROLE"
)

// Approver designates who may vote on a step: exactly one user or exactly one role.
// The zero value is invalid.
type Approver struct {
	kind ApproverKind
	user uuid.UUID
	role string
}

// UserApprover designates a single user.
func UserApprover(userUUID uuid.UUID) Approver {
	return Approver{kind: ApproverUser, user: userUUID}
}

// RoleApprover designates every holder of a role.
func RoleApprover(role string) Approver {
	return Approver{kind: ApproverRole, role: strings.TrimSpace(role)}
}

func (a Approver) Kind() ApproverKind { return a.kind }

// User returns the designated user when the approver is a user.
func (a Approver) User() (uuid.UUID, bool) {
	return a.user, a.kind == ApproverUser
}

// Role returns the designated role when the approver is a role.
func (a Approver) Role() (string, bool) {
	return a.role, a.kind == ApproverRole
}

// Validate checks that exactly one designation is set.
func (a Approver) Validate() error {
	switch a.kind {
	case ApproverUser:
		if a.user == uuid.Nil {
			return apperr.Validation("approver user must be set")
		}
	case ApproverRole:
		if a.role == "" {
			return apperr.Validation("approver role must be set")
		}
	default:
		return apperr.Validation("approver must designate exactly one of user or role")
	}
	return nil
}

// Allows reports whether actor may vote for this designation.
func (a Approver) Allows(actor security.Actor) bool {
	switch a.kind {
	case ApproverUser:
		return actor.UserUUID == a.user
	case ApproverRole:
		return actor.HasRole(a.role)
	}
	return false
}

func (a Approver) String() string {
	switch a.kind {
	case ApproverUser:
		return "user:" + a.user.String()
	case ApproverRole:
		return "role:" + a.role
	}
	return "invalid"
}

type approverJSON struct {
	UserUUID *uuid.UUID `json:"userUuid,omitempty"`
	Role     *string    `json:"role,omitempty"`
}

func (a Approver) MarshalJSON() ([]byte, error) {
	var out approverJSON
	switch a.kind {
	case ApproverUser:
		u := a.user
		out.UserUUID = &u
	case ApproverRole:
		r := a.role
		out.Role = &r
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts {"userUuid": ...} or {"role": ...}; both or neither is a validation error.
func (a *Approver) UnmarshalJSON(data []byte) error {
	var in approverJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.UserUUID != nil && in.Role != nil:
		return apperr.Validation("approver must not set both userUuid and role")
	case in.UserUUID != nil:
		*a = UserApprover(*in.UserUUID)
	case in.Role != nil:
		*a = RoleApprover(*in.Role)
	default:
		return apperr.Validation("approver must set one of userUuid or role")
	}
	return a.Validate()
}
