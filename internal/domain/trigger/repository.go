package trigger

import (
	"context"

	"github.com/google/uuid"
)

// Filter represents filters for listing triggers
type Filter struct {
	ResourceType *string
	Event        *string
}

// Repository defines the interface for trigger persistence
type Repository interface {
	Create(ctx context.Context, t *Trigger) error
	Update(ctx context.Context, t *Trigger) error
	GetByUUID(ctx context.Context, triggerUUID uuid.UUID) (*Trigger, error)
	// List returns triggers ordered by creation time.
	List(ctx context.Context, filter Filter) ([]*Trigger, error)
	Delete(ctx context.Context, triggerUUID uuid.UUID) error
}

// ObjectStore loads and saves the objects triggers act on.
type ObjectStore interface {
	Load(ctx context.Context, resourceType string, objectUUID uuid.UUID) (*Object, error)
	Save(ctx context.Context, obj *Object) error
}
