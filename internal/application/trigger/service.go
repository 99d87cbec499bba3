package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/notification"
	domain "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/trigger"
)

// ApprovalAction is the approval action under which deferred trigger executions wait.
const ApprovalAction = "trigger"

// ApprovalRequester opens approvals for triggers bound to an approval profile.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, profileUUID uuid.UUID, resourceType, action string, objectUUID, requester uuid.UUID, payload json.RawMessage) (*approval.Approval, error)
}

// Outcome reports what processing an event did.
type Outcome struct {
	ObjectUUID uuid.UUID      `json:"objectUuid"`
	Ignored    bool           `json:"ignored"`
	Matched    []uuid.UUID    `json:"matchedTriggers"`
	Applied    []uuid.UUID    `json:"appliedTriggers"`
	Pending    []uuid.UUID    `json:"pendingApprovals"`
	Failed     []Failure      `json:"failedTriggers"`
	Object     *domain.Object `json:"object,omitempty"`
}

// Failure is a matched trigger that could not be applied or deferred.
type Failure struct {
	TriggerUUID uuid.UUID `json:"triggerUuid"`
	Message     string    `json:"message"`
}

type deferred struct {
	TriggerUUID uuid.UUID `json:"triggerUuid"`
	Event       string    `json:"event"`
}

// Service manages triggers and runs them on resource events.
type Service struct {
	repo       domain.Repository
	objects    domain.ObjectStore
	approvals  ApprovalRequester
	dispatcher notification.Dispatcher
	logger     zerolog.Logger
}

// NewService creates a trigger service. approvals may be nil when no
// trigger is bound to an approval profile.
func NewService(repo domain.Repository, objects domain.ObjectStore, approvals ApprovalRequester, dispatcher notification.Dispatcher, logger zerolog.Logger) *Service {
	if dispatcher == nil {
		dispatcher = notification.Nop{}
	}
	return &Service{
		repo:       repo,
		objects:    objects,
		approvals:  approvals,
		dispatcher: dispatcher,
		logger:     logger.With().Str("service", "trigger").Logger(),
	}
}

// Create validates and stores a trigger.
func (s *Service) Create(ctx context.Context, t *domain.Trigger) (*domain.Trigger, error) {
	if t == nil {
		return nil, apperr.Validation("trigger is required")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.ApprovalProfileUUID != nil && s.approvals == nil {
		return nil, apperr.Validation("approval gated triggers are not available")
	}
	now := time.Now().UTC()
	t.UUID = uuid.New()
	t.CreatedAt, t.UpdatedAt = now, now
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("trigger", t.UUID.String()).Str("name", t.Name).Msg("trigger created")
	return t, nil
}

// Update replaces a trigger's definition.
func (s *Service) Update(ctx context.Context, triggerUUID uuid.UUID, t *domain.Trigger) (*domain.Trigger, error) {
	if t == nil {
		return nil, apperr.Validation("trigger is required")
	}
	existing, err := s.Get(ctx, triggerUUID)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.UUID = existing.UUID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a trigger.
func (s *Service) Get(ctx context.Context, triggerUUID uuid.UUID) (*domain.Trigger, error) {
	t, err := s.repo.GetByUUID(ctx, triggerUUID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.NotFound("trigger %s", triggerUUID)
	}
	return t, nil
}

// List returns triggers in creation order.
func (s *Service) List(ctx context.Context, filter domain.Filter) ([]*domain.Trigger, error) {
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.Trigger{}
	}
	return items, nil
}

// Delete removes a trigger.
func (s *Service) Delete(ctx context.Context, triggerUUID uuid.UUID) error {
	if _, err := s.Get(ctx, triggerUUID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, triggerUUID)
}

// SaveObject registers or replaces an object triggers can act on.
func (s *Service) SaveObject(ctx context.Context, obj *domain.Object) error {
	if obj == nil || obj.UUID == uuid.Nil || strings.TrimSpace(obj.ResourceType) == "" {
		return apperr.Validation("object uuid and resource are required")
	}
	return s.objects.Save(ctx, obj)
}

// GetObject returns an object by resource type and uuid.
func (s *Service) GetObject(ctx context.Context, resourceType string, objectUUID uuid.UUID) (*domain.Object, error) {
	obj, err := s.objects.Load(ctx, resourceType, objectUUID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperr.NotFound("%s %s", resourceType, objectUUID)
	}
	return obj, nil
}

// Process evaluates the triggers registered for the event against the
// event's object. A matching ignore trigger stops processing; triggers bound
// to an approval profile defer their executions until approved. A trigger
// whose approval cannot be opened is reported in Outcome.Failed and does not
// stop the others.
func (s *Service) Process(ctx context.Context, ev domain.Event) (*Outcome, error) {
	if strings.TrimSpace(ev.ResourceType) == "" || strings.TrimSpace(ev.Name) == "" {
		return nil, apperr.Validation("event resource and name are required")
	}
	obj, err := s.objects.Load(ctx, ev.ResourceType, ev.ObjectUUID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperr.NotFound("%s %s", ev.ResourceType, ev.ObjectUUID)
	}
	triggers, err := s.repo.List(ctx, domain.Filter{ResourceType: &ev.ResourceType, Event: &ev.Name})
	if err != nil {
		return nil, err
	}

	out := &Outcome{ObjectUUID: obj.UUID, Matched: []uuid.UUID{}, Applied: []uuid.UUID{}, Pending: []uuid.UUID{}, Failed: []Failure{}}
	for _, t := range triggers {
		if !t.IgnoreTrigger || !s.matches(t, obj) {
			continue
		}
		out.Matched = append(out.Matched, t.UUID)
		out.Ignored = true
		out.Object = obj
		s.logger.Debug().Str("trigger", t.UUID.String()).Str("object", obj.UUID.String()).Msg("event ignored")
		return out, nil
	}

	changed := false
	for _, t := range triggers {
		if t.IgnoreTrigger || !s.matches(t, obj) {
			continue
		}
		out.Matched = append(out.Matched, t.UUID)
		if t.ApprovalProfileUUID != nil {
			a, err := s.requestApproval(ctx, t, ev, obj)
			if err != nil {
				s.logger.Warn().Err(err).Str("trigger", t.UUID.String()).Str("object", obj.UUID.String()).Msg("trigger approval not requested")
				out.Failed = append(out.Failed, Failure{TriggerUUID: t.UUID, Message: err.Error()})
				continue
			}
			out.Pending = append(out.Pending, a.UUID)
			continue
		}
		apply(t, obj)
		changed = true
		out.Applied = append(out.Applied, t.UUID)
	}

	if changed {
		if err := s.objects.Save(ctx, obj); err != nil {
			return nil, err
		}
		s.notifyApplied(obj, out.Applied)
	}
	out.Object = obj
	return out, nil
}

func (s *Service) requestApproval(ctx context.Context, t *domain.Trigger, ev domain.Event, obj *domain.Object) (*approval.Approval, error) {
	if s.approvals == nil {
		return nil, apperr.Validation("trigger %s requires approval but approvals are not available", t.UUID)
	}
	payload, err := json.Marshal(deferred{TriggerUUID: t.UUID, Event: ev.Name})
	if err != nil {
		return nil, err
	}
	return s.approvals.RequestApproval(ctx, *t.ApprovalProfileUUID, ev.ResourceType, ApprovalAction, obj.UUID, ev.RequesterUUID, payload)
}

// Execute applies a trigger whose approval was granted. It implements the
// approval executor for ApprovalAction.
func (s *Service) Execute(ctx context.Context, a *approval.Approval) error {
	var d deferred
	if err := json.Unmarshal(a.Payload, &d); err != nil {
		return fmt.Errorf("decode deferred trigger: %w", err)
	}
	t, err := s.repo.GetByUUID(ctx, d.TriggerUUID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("trigger %s no longer exists", d.TriggerUUID)
	}
	obj, err := s.objects.Load(ctx, a.ResourceType, a.ObjectUUID)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("%s %s no longer exists", a.ResourceType, a.ObjectUUID)
	}
	apply(t, obj)
	if err := s.objects.Save(ctx, obj); err != nil {
		return err
	}
	s.logger.Info().Str("trigger", t.UUID.String()).Str("approval", a.UUID.String()).Msg("approved trigger applied")
	s.notifyApplied(obj, []uuid.UUID{t.UUID})
	return nil
}

func (s *Service) matches(t *domain.Trigger, obj *domain.Object) bool {
	ok, err := Matches(t.Conditions, obj)
	if err != nil {
		s.logger.Warn().Err(err).Str("trigger", t.UUID.String()).Msg("trigger condition evaluation failed")
		return false
	}
	return ok
}

func apply(t *domain.Trigger, obj *domain.Object) {
	for _, action := range t.Actions {
		for _, e := range action.Executions {
			if e.Type == domain.ExecutionSetField {
				obj.SetField(e.FieldSource, e.FieldIdentifier, e.Value)
			}
		}
	}
}

func (s *Service) notifyApplied(obj *domain.Object, triggers []uuid.UUID) {
	s.dispatcher.Dispatch(notification.NewMessage(notification.EventTriggerApplied, "Triggers applied", &obj.UUID, map[string]interface{}{
		"resource": obj.ResourceType,
		"triggers": triggers,
	}))
}
