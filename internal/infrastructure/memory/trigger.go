package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/trigger"
)

// TriggerRepository is an in-memory trigger.Repository.
type TriggerRepository struct {
	mu       sync.RWMutex
	seq      int64
	order    map[uuid.UUID]int64
	triggers map[uuid.UUID]*trigger.Trigger
}

// NewTriggerRepository creates an empty repository.
func NewTriggerRepository() *TriggerRepository {
	return &TriggerRepository{
		order:    make(map[uuid.UUID]int64),
		triggers: make(map[uuid.UUID]*trigger.Trigger),
	}
}

func (r *TriggerRepository) Create(ctx context.Context, t *trigger.Trigger) error {
	cp, err := cloneTrigger(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.triggers[t.UUID]; ok {
		return apperr.AlreadyExists("trigger %s", t.UUID)
	}
	for _, existing := range r.triggers {
		if existing.Name == t.Name {
			return apperr.AlreadyExists("trigger %q", t.Name)
		}
	}
	r.seq++
	r.order[t.UUID] = r.seq
	r.triggers[t.UUID] = cp
	return nil
}

func (r *TriggerRepository) Update(ctx context.Context, t *trigger.Trigger) error {
	cp, err := cloneTrigger(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.triggers[t.UUID]; !ok {
		return apperr.NotFound("trigger %s", t.UUID)
	}
	for id, existing := range r.triggers {
		if id != t.UUID && existing.Name == t.Name {
			return apperr.AlreadyExists("trigger %q", t.Name)
		}
	}
	r.triggers[t.UUID] = cp
	return nil
}

func (r *TriggerRepository) GetByUUID(ctx context.Context, triggerUUID uuid.UUID) (*trigger.Trigger, error) {
	r.mu.RLock()
	t, ok := r.triggers[triggerUUID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return cloneTrigger(t)
}

func (r *TriggerRepository) List(ctx context.Context, f trigger.Filter) ([]*trigger.Trigger, error) {
	r.mu.RLock()
	var matched []*trigger.Trigger
	for _, t := range r.triggers {
		if f.ResourceType != nil && t.ResourceType != *f.ResourceType {
			continue
		}
		if f.Event != nil && t.Event != *f.Event {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return r.order[matched[i].UUID] < r.order[matched[j].UUID] })
	r.mu.RUnlock()

	out := make([]*trigger.Trigger, 0, len(matched))
	for _, t := range matched {
		cp, err := cloneTrigger(t)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (r *TriggerRepository) Delete(ctx context.Context, triggerUUID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.triggers, triggerUUID)
	delete(r.order, triggerUUID)
	return nil
}

// cloneTrigger deep-copies through JSON; condition values are untyped.
func cloneTrigger(t *trigger.Trigger) (*trigger.Trigger, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var cp trigger.Trigger
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// ObjectStore is an in-memory trigger.ObjectStore.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[uuid.UUID]*trigger.Object
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[uuid.UUID]*trigger.Object)}
}

func (s *ObjectStore) Load(ctx context.Context, resourceType string, objectUUID uuid.UUID) (*trigger.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[objectUUID]
	if !ok || o.ResourceType != resourceType {
		return nil, nil
	}
	return cloneObject(o), nil
}

func (s *ObjectStore) Save(ctx context.Context, obj *trigger.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.UUID] = cloneObject(obj)
	return nil
}

func cloneObject(o *trigger.Object) *trigger.Object {
	cp := &trigger.Object{UUID: o.UUID, ResourceType: o.ResourceType}
	if o.Properties != nil {
		cp.Properties = make(map[string]any, len(o.Properties))
		for k, v := range o.Properties {
			cp.Properties[k] = v
		}
	}
	if o.Custom != nil {
		cp.Custom = make(map[string]any, len(o.Custom))
		for k, v := range o.Custom {
			cp.Custom[k] = v
		}
	}
	return cp
}
