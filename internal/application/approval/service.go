package approval

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	domainApproval "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/notification"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// Executor runs the action an approval was holding once it is approved.
type Executor interface {
	Execute(ctx context.Context, a *domainApproval.Approval) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, a *domainApproval.Approval) error

func (f ExecutorFunc) Execute(ctx context.Context, a *domainApproval.Approval) error {
	return f(ctx, a)
}

// Wildcards accepted by RegisterExecutor.
const (
	AnyAction   = "*"
	AnyResource = "*"
)

// Metrics receives approval counters.
type Metrics interface {
	VoteCast(decision string)
	Transition(status string)
}

type nopMetrics struct{}

func (nopMetrics) VoteCast(string)   {}
func (nopMetrics) Transition(string) {}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithVoteRetry bounds how long a vote keeps retrying after losing a concurrent update.
func WithVoteRetry(maxElapsed time.Duration) Option {
	return func(s *Service) { s.voteRetry = maxElapsed }
}

// Service drives approvals through their lifecycle.
type Service struct {
	approvals  domainApproval.Repository
	profiles   profile.Repository
	dispatcher notification.Dispatcher
	metrics    Metrics
	logger     zerolog.Logger

	now       func() time.Time
	voteRetry time.Duration

	mu        sync.RWMutex
	executors map[string]Executor
}

// NewService creates an approval service.
func NewService(
	approvals domainApproval.Repository,
	profiles profile.Repository,
	dispatcher notification.Dispatcher,
	metrics Metrics,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	if dispatcher == nil {
		dispatcher = notification.Nop{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	s := &Service{
		approvals:  approvals,
		profiles:   profiles,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.With().Str("service", "approval").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		voteRetry:  5 * time.Second,
		executors:  make(map[string]Executor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterExecutor binds the gated action for (resourceType, action).
// Lookup prefers an exact match, then AnyAction, then AnyResource.
func (s *Service) RegisterExecutor(resourceType, action string, e Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[executorKey(resourceType, action)] = e
}

func (s *Service) executor(resourceType, action string) Executor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range []string{
		executorKey(resourceType, action),
		executorKey(resourceType, AnyAction),
		executorKey(AnyResource, action),
	} {
		if e, ok := s.executors[key]; ok {
			return e
		}
	}
	return nil
}

func executorKey(resourceType, action string) string {
	return strings.ToLower(resourceType) + "/" + strings.ToLower(action)
}

// CreateApproval opens a pending approval bound to the given version snapshot.
func (s *Service) CreateApproval(ctx context.Context, v *profile.Version, resourceType, action string, objectUUID, requester uuid.UUID, payload json.RawMessage) (*domainApproval.Approval, error) {
	if v == nil {
		return nil, apperr.Validation("approval profile version is required")
	}
	if strings.TrimSpace(resourceType) == "" || strings.TrimSpace(action) == "" {
		return nil, apperr.Validation("resource and action are required")
	}
	if err := profile.ValidateSteps(v.Steps); err != nil {
		return nil, err
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, apperr.Validation("payload must be valid JSON")
	}

	a := domainApproval.NewApproval(v, resourceType, action, objectUUID, requester, payload, s.now())
	if err := s.approvals.Create(ctx, a); err != nil {
		return nil, err
	}
	s.metrics.Transition(string(a.Status))
	s.logger.Info().
		Str("approval", a.UUID.String()).
		Str("profile", a.ProfileUUID.String()).
		Int("version", a.ProfileVersion).
		Str("resource", resourceType).
		Str("action", action).
		Msg("approval created")

	first := v.SortedSteps()[0]
	s.notify(notification.EventApprovalCreated, "Approval requested", a, &first)
	return a, nil
}

// RequestApproval opens an approval against the latest version of an enabled profile.
func (s *Service) RequestApproval(ctx context.Context, profileUUID uuid.UUID, resourceType, action string, objectUUID, requester uuid.UUID, payload json.RawMessage) (*domainApproval.Approval, error) {
	p, err := s.profiles.GetByUUID(ctx, profileUUID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("approval profile %s", profileUUID)
	}
	if !p.Enabled {
		return nil, apperr.Validation("approval profile %s is disabled", p.Name)
	}
	v, err := s.profiles.GetLatestVersion(ctx, profileUUID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFound("approval profile %s has no versions", profileUUID)
	}
	return s.CreateApproval(ctx, v, resourceType, action, objectUUID, requester, payload)
}

// CastVote records a decision on one step. Concurrent votes on the same
// approval are serialized through the repository's version check.
func (s *Service) CastVote(ctx context.Context, approvalUUID uuid.UUID, stepOrder int, actor security.Actor, decision domainApproval.Decision, comment *string) (*domainApproval.Approval, error) {
	if decision != domainApproval.DecisionApprove && decision != domainApproval.DecisionReject {
		return nil, apperr.Validation("unknown decision %q", decision)
	}
	if actor.UserUUID == uuid.Nil {
		return nil, apperr.Validation("voter identity is required")
	}

	var (
		result  *domainApproval.Approval
		version *profile.Version
		release bool
	)
	op := func() error {
		a, v, err := s.load(ctx, approvalUUID)
		if err != nil {
			return backoff.Permanent(err)
		}
		step, ok := v.Step(stepOrder)
		if !ok {
			return backoff.Permanent(apperr.NotFound("step %d of approval %s", stepOrder, approvalUUID))
		}

		now := s.now()
		if a.IsExpired(now) && !domainApproval.AllSatisfied(v, a.Records) {
			if err := s.expire(ctx, a, now); err != nil {
				if errors.Is(err, domainApproval.ErrStaleVersion) {
					return err
				}
				return backoff.Permanent(err)
			}
			return backoff.Permanent(apperr.Validation("approval %s has expired", approvalUUID))
		}
		if err := checkVote(a, v, step, actor); err != nil {
			return backoff.Permanent(err)
		}

		rec := &domainApproval.Record{
			UUID:         uuid.New(),
			ApprovalUUID: a.UUID,
			StepOrder:    step.Order,
			UserUUID:     actor.UserUUID,
			Decision:     decision,
			Comment:      comment,
			CreatedAt:    now,
		}
		expected := a.Version
		a.Version++
		a.Records = append(a.Records, rec)
		if decision == domainApproval.DecisionReject {
			a.Close(domainApproval.StatusRejected, now)
		}
		if err := s.approvals.Update(ctx, a, rec, expected); err != nil {
			if errors.Is(err, domainApproval.ErrStaleVersion) {
				return err
			}
			return backoff.Permanent(err)
		}
		result, version = a, v
		release = decision == domainApproval.DecisionApprove && domainApproval.AllSatisfied(v, a.Records)
		return nil
	}
	if err := s.retry(ctx, op); err != nil {
		return nil, err
	}

	s.metrics.VoteCast(string(decision))
	s.logger.Info().
		Str("approval", approvalUUID.String()).
		Int("step", stepOrder).
		Str("actor", actor.ActorString()).
		Str("decision", string(decision)).
		Msg("vote recorded")

	switch {
	case result.Status == domainApproval.StatusRejected:
		s.metrics.Transition(string(result.Status))
		s.notify(notification.EventApprovalClosed, "Approval rejected", result, nil)
	case release:
		if err := s.release(ctx, result); err != nil {
			return nil, err
		}
	default:
		next, _ := domainApproval.CurrentStep(version, result.Records)
		s.notify(notification.EventApprovalVoted, "Approval vote recorded", result, &next)
	}
	return result, nil
}

func checkVote(a *domainApproval.Approval, v *profile.Version, step profile.Step, actor security.Actor) error {
	if a.Status != domainApproval.StatusPending {
		return apperr.Validation("approval %s is %s", a.UUID, a.Status)
	}
	if domainApproval.AllSatisfied(v, a.Records) {
		return apperr.Validation("approval %s already reached every quorum", a.UUID)
	}
	if !step.Approver.Allows(actor) {
		return apperr.Validation("%s is not an approver for step %d", actor.ActorString(), step.Order)
	}
	tally := domainApproval.Tally(a.Records)
	if domainApproval.StepSatisfied(step, tally) {
		return apperr.Validation("step %d is already satisfied", step.Order)
	}
	for _, prev := range v.SortedSteps() {
		if prev.Order >= step.Order {
			break
		}
		if !domainApproval.StepSatisfied(prev, tally) {
			return apperr.Validation("step %d cannot be voted before step %d is satisfied", step.Order, prev.Order)
		}
	}
	// A role quorum counts distinct members; a user-designated step counts
	// each confirmation of that user.
	if _, isRole := step.Approver.Role(); isRole {
		if t, ok := tally[step.Order]; ok {
			if _, voted := t.Voters[actor.UserUUID]; voted {
				return apperr.Validation("%s already voted on step %d", actor.ActorString(), step.Order)
			}
		}
	}
	return nil
}

// release runs the held action and closes the approval as APPROVED, or
// FAILED when the action returns an error. The vote that completed the last
// quorum calls it, and so does the expiry sweep for an approval that vote
// never closed, so executors must tolerate a repeated run.
func (s *Service) release(ctx context.Context, a *domainApproval.Approval) error {
	ctx = context.WithoutCancel(ctx)
	status := domainApproval.StatusApproved
	var execErr *string
	if e := s.executor(a.ResourceType, a.Action); e != nil {
		if err := e.Execute(ctx, a); err != nil {
			msg := err.Error()
			execErr = &msg
			status = domainApproval.StatusFailed
			s.logger.Error().Err(err).Str("approval", a.UUID.String()).Msg("approved action failed")
		}
	} else {
		s.logger.Warn().
			Str("approval", a.UUID.String()).
			Str("resource", a.ResourceType).
			Str("action", a.Action).
			Msg("no executor registered for approved action")
	}

	op := func() error {
		cur, err := s.approvals.GetByUUID(ctx, a.UUID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if cur == nil {
			return backoff.Permanent(apperr.NotFound("approval %s", a.UUID))
		}
		if !cur.Close(status, s.now()) {
			*a = *cur
			return nil
		}
		cur.ExecutionError = execErr
		expected := cur.Version
		cur.Version++
		if err := s.approvals.Update(ctx, cur, nil, expected); err != nil {
			if errors.Is(err, domainApproval.ErrStaleVersion) {
				return err
			}
			return backoff.Permanent(err)
		}
		*a = *cur
		return nil
	}
	if err := s.retry(ctx, op); err != nil {
		return err
	}
	s.metrics.Transition(string(a.Status))
	s.logger.Info().Str("approval", a.UUID.String()).Str("status", string(a.Status)).Msg("approval closed")
	s.notify(notification.EventApprovalClosed, "Approval "+strings.ToLower(string(a.Status)), a, nil)
	return nil
}

// expire persists the EXPIRED transition. A stale version is returned as is
// so callers can re-read.
func (s *Service) expire(ctx context.Context, a *domainApproval.Approval, now time.Time) error {
	expected := a.Version
	if !a.Close(domainApproval.StatusExpired, now) {
		return nil
	}
	a.Version++
	if err := s.approvals.Update(ctx, a, nil, expected); err != nil {
		return err
	}
	s.metrics.Transition(string(a.Status))
	s.logger.Info().Str("approval", a.UUID.String()).Msg("approval expired")
	s.notify(notification.EventApprovalClosed, "Approval expired", a, nil)
	return nil
}

// ExpireApprovals closes up to limit pending approvals past their expiry.
// An approval whose every step is satisfied was never closed by its
// release, so the sweep runs the release again instead of expiring it.
func (s *Service) ExpireApprovals(ctx context.Context, limit int) (int, error) {
	now := s.now()
	candidates, err := s.approvals.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, c := range candidates {
		a, v, err := s.load(ctx, c.UUID)
		if err != nil {
			s.logger.Warn().Err(err).Str("approval", c.UUID.String()).Msg("failed to load expiring approval")
			continue
		}
		if !a.IsExpired(now) {
			continue
		}
		if domainApproval.AllSatisfied(v, a.Records) {
			s.logger.Warn().Str("approval", a.UUID.String()).Msg("releasing approval left pending after its final vote")
			if err := s.release(ctx, a); err != nil {
				s.logger.Warn().Err(err).Str("approval", a.UUID.String()).Msg("failed to release approval")
			}
			continue
		}
		if err := s.expire(ctx, a, now); err != nil {
			if !errors.Is(err, domainApproval.ErrStaleVersion) {
				s.logger.Warn().Err(err).Str("approval", a.UUID.String()).Msg("failed to expire approval")
			}
			continue
		}
		expired++
	}
	return expired, nil
}

// List returns approvals visible under sec.
func (s *Service) List(ctx context.Context, filter domainApproval.Filter, sec security.Filter, limit, offset int) (*domainApproval.Page, error) {
	page, err := s.approvals.List(ctx, filter, sec, limit, offset)
	if err != nil {
		return nil, err
	}
	if page.Items == nil {
		page.Items = []*domainApproval.Approval{}
	}
	return page, nil
}

// ListUserApprovals returns pending approvals whose current step actor may vote on.
func (s *Service) ListUserApprovals(ctx context.Context, actor security.Actor, sec security.Filter, limit, offset int) (*domainApproval.Page, error) {
	const batch = 200
	pending := domainApproval.StatusPending
	filter := domainApproval.Filter{Status: &pending}
	now := s.now()
	versions := make(map[string]*profile.Version)

	var matched []*domainApproval.Approval
	for off := 0; ; off += batch {
		page, err := s.approvals.List(ctx, filter, sec, batch, off)
		if err != nil {
			return nil, err
		}
		for _, a := range page.Items {
			if a.IsExpired(now) {
				continue
			}
			key := a.ProfileUUID.String() + "/" + itoa(a.ProfileVersion)
			v, ok := versions[key]
			if !ok {
				v, err = s.profiles.GetVersion(ctx, a.ProfileUUID, a.ProfileVersion)
				if err != nil {
					return nil, err
				}
				versions[key] = v
			}
			if v == nil {
				continue
			}
			full, err := s.approvals.GetByUUID(ctx, a.UUID)
			if err != nil {
				return nil, err
			}
			if full == nil {
				continue
			}
			step, ok := domainApproval.CurrentStep(v, full.Records)
			if !ok || checkVote(full, v, step, actor) != nil {
				continue
			}
			matched = append(matched, full)
		}
		if len(page.Items) < batch {
			break
		}
	}

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return &domainApproval.Page{Items: append([]*domainApproval.Approval{}, matched[offset:end]...), Total: total}, nil
}

// StepProgress is a step of the snapshot version with its votes.
type StepProgress struct {
	profile.Step
	Approvals int                       `json:"approvals"`
	Satisfied bool                      `json:"satisfied"`
	Records   []*domainApproval.Record `json:"records"`
}

// Detail is an approval resolved against the version it was created from.
type Detail struct {
	Approval    *domainApproval.Approval `json:"approval"`
	Description string                   `json:"description,omitempty"`
	ExpiryHours int                      `json:"expiryHours"`
	Version     int                      `json:"version"`
	CurrentStep *int                     `json:"currentStep,omitempty"`
	Steps       []StepProgress           `json:"steps"`
}

// GetApprovalDetail returns the approval with the steps of its version
// snapshot. A pending approval past its expiry is expired on read.
func (s *Service) GetApprovalDetail(ctx context.Context, approvalUUID uuid.UUID) (*Detail, error) {
	a, v, err := s.load(ctx, approvalUUID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if a.IsExpired(now) && !domainApproval.AllSatisfied(v, a.Records) {
		if err := s.expire(ctx, a, now); err != nil && !errors.Is(err, domainApproval.ErrStaleVersion) {
			return nil, err
		}
		if a, v, err = s.load(ctx, approvalUUID); err != nil {
			return nil, err
		}
	}

	d := &Detail{
		Approval:    a,
		Description: v.Description,
		ExpiryHours: v.ExpiryHours,
		Version:     v.Version,
	}
	tally := domainApproval.Tally(a.Records)
	for _, step := range v.SortedSteps() {
		p := StepProgress{Step: step, Satisfied: domainApproval.StepSatisfied(step, tally), Records: []*domainApproval.Record{}}
		if t, ok := tally[step.Order]; ok {
			p.Approvals = t.Approvals
		}
		for _, r := range a.Records {
			if r.StepOrder == step.Order {
				p.Records = append(p.Records, r)
			}
		}
		d.Steps = append(d.Steps, p)
	}
	if a.Status == domainApproval.StatusPending {
		if cur, ok := domainApproval.CurrentStep(v, a.Records); ok {
			order := cur.Order
			d.CurrentStep = &order
		}
	}
	return d, nil
}

func (s *Service) load(ctx context.Context, approvalUUID uuid.UUID) (*domainApproval.Approval, *profile.Version, error) {
	a, err := s.approvals.GetByUUID(ctx, approvalUUID)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, apperr.NotFound("approval %s", approvalUUID)
	}
	v, err := s.profiles.GetVersion(ctx, a.ProfileUUID, a.ProfileVersion)
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		return nil, nil, apperr.NotFound("approval profile %s version %d", a.ProfileUUID, a.ProfileVersion)
	}
	return a, v, nil
}

func (s *Service) retry(ctx context.Context, op backoff.Operation) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = s.voteRetry
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if errors.Is(err, domainApproval.ErrStaleVersion) {
		return apperr.Conflict("approval is being modified concurrently, retry later")
	}
	return err
}

func (s *Service) notify(event, title string, a *domainApproval.Approval, next *profile.Step) {
	msg := notification.NewMessage(event, title, &a.UUID, map[string]interface{}{
		"approvalUuid": a.UUID.String(),
		"status":       a.Status,
		"resource":     a.ResourceType,
		"action":       a.Action,
		"objectUuid":   a.ObjectUUID.String(),
		"version":      a.ProfileVersion,
	})
	msg.ToUsers(a.RequesterUUID)
	if next != nil {
		if id, ok := next.Approver.User(); ok {
			msg.ToUsers(id)
		}
		if role, ok := next.Approver.Role(); ok {
			msg.ToRoles(role)
		}
	}
	s.dispatcher.Dispatch(msg)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
