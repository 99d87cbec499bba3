package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/notification"
	domainProfile "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// PendingCounter reports in-flight approvals bound to a profile.
type PendingCounter interface {
	CountPendingByProfile(ctx context.Context, profileUUID uuid.UUID) (int, error)
}

// ListResult is one page of profiles.
type ListResult struct {
	Profiles []*domainProfile.Profile `json:"approvalProfiles"`
	Total    int                      `json:"totalItems"`
}

// BulkError reports a profile a bulk operation could not process.
type BulkError struct {
	UUID    uuid.UUID `json:"uuid"`
	Message string    `json:"message"`
}

// Service manages approval profiles and their versions.
type Service struct {
	repo       domainProfile.Repository
	pending    PendingCounter
	dispatcher notification.Dispatcher
	logger     zerolog.Logger
}

// NewService creates a profile service.
func NewService(repo domainProfile.Repository, pending PendingCounter, dispatcher notification.Dispatcher, logger zerolog.Logger) *Service {
	if dispatcher == nil {
		dispatcher = notification.Nop{}
	}
	return &Service{
		repo:       repo,
		pending:    pending,
		dispatcher: dispatcher,
		logger:     logger.With().Str("service", "approval_profile").Logger(),
	}
}

// Create stores a new profile with version 1.
func (s *Service) Create(ctx context.Context, req domainProfile.Request, actor security.Actor) (*domainProfile.View, error) {
	if err := domainProfile.ValidateRequest(&req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	existing, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.AlreadyExists("approval profile with name %q", name)
	}

	now := time.Now().UTC()
	p := &domainProfile.Profile{
		UUID:      uuid.New(),
		Name:      name,
		Enabled:   req.Enabled == nil || *req.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	v := domainProfile.NewVersion(p.UUID, 1, req, createdBy(actor))
	if err := s.repo.Create(ctx, p, v); err != nil {
		return nil, err
	}
	s.logger.Info().Str("profile", p.UUID.String()).Str("name", p.Name).Msg("approval profile created")
	return &domainProfile.View{Profile: *p, LatestVersion: 1, Version: v}, nil
}

// Edit appends a new version built from req together with the profile's
// name and enabled flag. Published versions are never touched.
func (s *Service) Edit(ctx context.Context, profileUUID uuid.UUID, req domainProfile.Request, actor security.Actor) (*domainProfile.View, error) {
	if err := domainProfile.ValidateRequest(&req); err != nil {
		return nil, err
	}
	p, err := s.mustGet(ctx, profileUUID)
	if err != nil {
		return nil, err
	}

	p.Name = strings.TrimSpace(req.Name)
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	p.UpdatedAt = time.Now().UTC()

	var v *domainProfile.Version
	op := func() error {
		latest, err := s.repo.GetLatestVersion(ctx, profileUUID)
		if err != nil {
			return backoff.Permanent(err)
		}
		next := 1
		if latest != nil {
			next = latest.Version + 1
		}
		v = domainProfile.NewVersion(profileUUID, next, req, createdBy(actor))
		err = s.repo.Revise(ctx, p, v)
		if err == nil || errors.Is(err, domainProfile.ErrVersionExists) {
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 10), ctx)); err != nil {
		if errors.Is(err, domainProfile.ErrVersionExists) {
			return nil, apperr.Conflict("approval profile %s is being edited concurrently", profileUUID)
		}
		return nil, err
	}

	s.logger.Info().Str("profile", profileUUID.String()).Int("version", v.Version).Msg("approval profile version appended")
	return &domainProfile.View{Profile: *p, LatestVersion: v.Version, Version: v}, nil
}

// Get returns the profile with the requested version, or the latest when version is nil.
func (s *Service) Get(ctx context.Context, profileUUID uuid.UUID, version *int) (*domainProfile.View, error) {
	p, err := s.mustGet(ctx, profileUUID)
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.GetLatestVersion(ctx, profileUUID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, apperr.NotFound("approval profile %s has no versions", profileUUID)
	}
	v := latest
	if version != nil && *version != latest.Version {
		v, err = s.repo.GetVersion(ctx, profileUUID, *version)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, apperr.NotFound("approval profile %s version %d", profileUUID, *version)
		}
	}
	return &domainProfile.View{Profile: *p, LatestVersion: latest.Version, Version: v}, nil
}

// List returns profiles visible under sec.
func (s *Service) List(ctx context.Context, filter domainProfile.Filter, sec security.Filter, limit, offset int) (*ListResult, error) {
	items, total, err := s.repo.List(ctx, filter, sec, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domainProfile.Profile{}
	}
	return &ListResult{Profiles: items, Total: total}, nil
}

// ListVersions returns every version of a profile in ascending order.
func (s *Service) ListVersions(ctx context.Context, profileUUID uuid.UUID) ([]*domainProfile.Version, error) {
	if _, err := s.mustGet(ctx, profileUUID); err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, profileUUID)
}

// Enable marks a profile usable for new approvals.
func (s *Service) Enable(ctx context.Context, profileUUID uuid.UUID) error {
	return s.setEnabled(ctx, profileUUID, true)
}

// Disable stops new approvals from using the profile. Pending approvals are unaffected.
func (s *Service) Disable(ctx context.Context, profileUUID uuid.UUID) error {
	return s.setEnabled(ctx, profileUUID, false)
}

func (s *Service) setEnabled(ctx context.Context, profileUUID uuid.UUID, enabled bool) error {
	p, err := s.mustGet(ctx, profileUUID)
	if err != nil {
		return err
	}
	if p.Enabled == enabled {
		return nil
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Str("profile", profileUUID.String()).Bool("enabled", enabled).Msg("approval profile state changed")
	return nil
}

// Delete removes a profile and all its versions. It fails with a conflict
// while any pending approval references one of its versions.
func (s *Service) Delete(ctx context.Context, profileUUID uuid.UUID) error {
	if _, err := s.mustGet(ctx, profileUUID); err != nil {
		return err
	}
	n, err := s.pending.CountPendingByProfile(ctx, profileUUID)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("approval profile %s has %d pending approvals", profileUUID, n)
	}
	if err := s.repo.Delete(ctx, profileUUID); err != nil {
		return err
	}
	s.logger.Info().Str("profile", profileUUID.String()).Msg("approval profile deleted")
	return nil
}

// BulkDelete deletes each profile independently and reports the ones that failed.
func (s *Service) BulkDelete(ctx context.Context, ids []uuid.UUID) []BulkError {
	var failed []BulkError
	var deleted []uuid.UUID
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			failed = append(failed, BulkError{UUID: id, Message: err.Error()})
			continue
		}
		deleted = append(deleted, id)
	}
	if len(deleted) > 0 {
		s.dispatcher.Dispatch(notification.NewMessage(
			notification.EventProfilesDeleted,
			"Approval profiles deleted",
			nil,
			map[string]interface{}{"deleted": deleted, "failed": len(failed)},
		))
	}
	return failed
}

func (s *Service) mustGet(ctx context.Context, profileUUID uuid.UUID) (*domainProfile.Profile, error) {
	p, err := s.repo.GetByUUID(ctx, profileUUID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("approval profile %s", profileUUID)
	}
	return p, nil
}

func createdBy(actor security.Actor) *string {
	if actor.UserUUID == uuid.Nil && actor.Username == "" {
		return nil
	}
	s := actor.ActorString()
	return &s
}
