package security

import (
	"strings"

	"github.com/google/uuid"
)

// Actor describes the authenticated caller supplied by the authorization layer.
type Actor struct {
	UserUUID uuid.UUID
	Username string
	Roles    []string
}

// HasRole reports whether the actor holds role (case-insensitive).
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func (a Actor) ActorString() string {
	if a.Username != "" {
		return "user:" + a.Username
	}
	return "user:" + a.UserUUID.String()
}

// Filter is the visibility predicate applied by list operations. The core
// does not interpret where it comes from.
type Filter struct {
	AreOnlySpecificObjectsAllowed bool
	AllowedObjects                []uuid.UUID
	ForbiddenObjects              []uuid.UUID
}

// AllowAll returns a filter that hides nothing.
func AllowAll() Filter {
	return Filter{}
}

// Allows reports whether the object is visible under the filter.
func (f Filter) Allows(objectUUID uuid.UUID) bool {
	if f.AreOnlySpecificObjectsAllowed {
		return contains(f.AllowedObjects, objectUUID)
	}
	return !contains(f.ForbiddenObjects, objectUUID)
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
