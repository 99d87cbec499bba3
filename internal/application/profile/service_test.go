package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/notification"
	domainProfile "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/memory"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []*notification.Message
}

func (d *recordingDispatcher) Dispatch(msg *notification.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

type fixture struct {
	svc        *Service
	repo       *memory.ProfileRepository
	approvals  *memory.ApprovalRepository
	dispatcher *recordingDispatcher
}

func newFixture() *fixture {
	f := &fixture{
		repo:       memory.NewProfileRepository(),
		dispatcher: &recordingDispatcher{},
	}
	f.approvals = memory.NewApprovalRepositoryFor(f.repo)
	f.svc = NewService(f.repo, f.approvals, f.dispatcher, zerolog.Nop())
	return f
}

var admin = security.Actor{UserUUID: uuid.New(), Username: "admin", Roles: []string{"admin"}}

func request(name string, quorum int) domainProfile.Request {
	return domainProfile.Request{
		Name:        name,
		Description: "two eyes",
		ExpiryHours: 24,
		Steps: []domainProfile.Step{
			{Order: 1, RequiredApprovals: quorum, Approver: domainProfile.RoleApprover("admin")},
		},
	}
}

func TestCreate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	view, err := f.svc.Create(ctx, request("issue", 1), admin)
	require.NoError(t, err)
	assert.Equal(t, 1, view.LatestVersion)
	assert.Equal(t, 1, view.Version.Version)
	assert.True(t, view.Enabled)
	require.NotNil(t, view.Version.CreatedBy)
	assert.Equal(t, "user:admin", *view.Version.CreatedBy)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := f.svc.Create(ctx, request("issue", 2), admin)
		assert.True(t, errors.Is(err, apperr.ErrAlreadyExists))
	})

	t.Run("zero steps", func(t *testing.T) {
		req := request("empty", 1)
		req.Steps = nil
		_, err := f.svc.Create(ctx, req, admin)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})

	t.Run("approver without designation", func(t *testing.T) {
		req := request("both", 1)
		req.Steps[0].Approver = domainProfile.Approver{}
		_, err := f.svc.Create(ctx, req, admin)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})

	t.Run("created disabled", func(t *testing.T) {
		req := request("off", 1)
		disabled := false
		req.Enabled = &disabled
		view, err := f.svc.Create(ctx, req, security.Actor{})
		require.NoError(t, err)
		assert.False(t, view.Enabled)
		assert.Nil(t, view.Version.CreatedBy)
	})
}

func TestEdit_AppendsVersion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, request("issue", 1), admin)
	require.NoError(t, err)

	edited, err := f.svc.Edit(ctx, created.UUID, request("issue", 3), admin)
	require.NoError(t, err)
	assert.Equal(t, 2, edited.LatestVersion)
	assert.Equal(t, 3, edited.Version.Steps[0].RequiredApprovals)

	v1 := 1
	old, err := f.svc.Get(ctx, created.UUID, &v1)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version.Steps[0].RequiredApprovals)
	assert.Equal(t, 2, old.LatestVersion)

	latest, err := f.svc.Get(ctx, created.UUID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version.Version)
	assert.NotEqual(t, old.Version.Steps, latest.Version.Steps)

	versions, err := f.svc.ListVersions(ctx, created.UUID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestEdit_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Edit(ctx, uuid.New(), request("missing", 1), admin)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	a, err := f.svc.Create(ctx, request("a", 1), admin)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, request("b", 1), admin)
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, a.UUID, request("b", 1), admin)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyExists))

	bad := request("a", 0)
	_, err = f.svc.Edit(ctx, a.UUID, bad, admin)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

// contendedRepo loses every version race.
type contendedRepo struct {
	*memory.ProfileRepository
}

func (contendedRepo) Revise(context.Context, *domainProfile.Profile, *domainProfile.Version) error {
	return domainProfile.ErrVersionExists
}

func TestEdit_RenameOnlyWithNewVersion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, request("issue", 1), admin)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, request("taken", 1), admin)
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, created.UUID, request("taken", 2), admin)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyExists))
	versions, err := f.repo.ListVersions(ctx, created.UUID)
	require.NoError(t, err)
	assert.Len(t, versions, 1, "rejected rename must not append a version")

	svc := NewService(contendedRepo{f.repo}, f.approvals, nil, zerolog.Nop())
	disabled := false
	req := request("renamed", 2)
	req.Enabled = &disabled
	_, err = svc.Edit(ctx, created.UUID, req, admin)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	p, err := f.repo.GetByUUID(ctx, created.UUID)
	require.NoError(t, err)
	assert.Equal(t, "issue", p.Name)
	assert.True(t, p.Enabled)
}

func TestEdit_ConcurrentVersionsAreContiguous(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, request("issue", 1), admin)
	require.NoError(t, err)

	const editors = 5
	var wg sync.WaitGroup
	errs := make(chan error, editors)
	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			_, err := f.svc.Edit(ctx, created.UUID, request("issue", q), admin)
			errs <- err
		}(i + 2)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := f.svc.ListVersions(ctx, created.UUID)
	require.NoError(t, err)
	require.Len(t, versions, editors+1)
	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
	}
}

func TestGet_UnknownVersion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, request("issue", 1), admin)
	require.NoError(t, err)

	v := 7
	_, err = f.svc.Get(ctx, created.UUID, &v)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.Get(ctx, uuid.New(), nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestEnableDisable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, request("issue", 1), admin)
	require.NoError(t, err)

	require.NoError(t, f.svc.Disable(ctx, created.UUID))
	view, err := f.svc.Get(ctx, created.UUID, nil)
	require.NoError(t, err)
	assert.False(t, view.Enabled)

	require.NoError(t, f.svc.Enable(ctx, created.UUID))
	view, err = f.svc.Get(ctx, created.UUID, nil)
	require.NoError(t, err)
	assert.True(t, view.Enabled)

	assert.True(t, errors.Is(f.svc.Disable(ctx, uuid.New()), apperr.ErrNotFound))
}

func TestList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var ids []uuid.UUID
	for _, name := range []string{"alpha", "beta", "gamma"} {
		v, err := f.svc.Create(ctx, request(name, 1), admin)
		require.NoError(t, err)
		ids = append(ids, v.UUID)
	}

	res, err := f.svc.List(ctx, domainProfile.Filter{}, security.AllowAll(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Profiles, 2)

	sec := security.Filter{ForbiddenObjects: []uuid.UUID{ids[1]}}
	res, err = f.svc.List(ctx, domainProfile.Filter{}, sec, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	for _, p := range res.Profiles {
		assert.NotEqual(t, ids[1], p.UUID)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, request("issue", 1), admin)
	require.NoError(t, err)
	v, err := f.repo.GetLatestVersion(ctx, created.UUID)
	require.NoError(t, err)

	a := approval.NewApproval(v, "certificate", "issue", uuid.New(), admin.UserUUID, nil, time.Now().UTC())
	require.NoError(t, f.approvals.Create(ctx, a))

	err = f.svc.Delete(ctx, created.UUID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	a.Close(approval.StatusRejected, time.Now().UTC())
	a.Version++
	require.NoError(t, f.approvals.Update(ctx, a, nil, 1))

	require.NoError(t, f.svc.Delete(ctx, created.UUID))
	_, err = f.svc.Get(ctx, created.UUID, nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	assert.True(t, errors.Is(f.svc.Delete(ctx, created.UUID), apperr.ErrNotFound))
}

// racingCounter stores a pending approval right after reporting the count,
// the way a request landing between the check and the delete would.
type racingCounter struct {
	*memory.ApprovalRepository
	afterCount func()
}

func (c racingCounter) CountPendingByProfile(ctx context.Context, profileUUID uuid.UUID) (int, error) {
	n, err := c.ApprovalRepository.CountPendingByProfile(ctx, profileUUID)
	c.afterCount()
	return n, err
}

func TestDelete_ApprovalCreatedDuringDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, request("issue", 1), admin)
	require.NoError(t, err)
	v, err := f.repo.GetLatestVersion(ctx, created.UUID)
	require.NoError(t, err)

	a := approval.NewApproval(v, "certificate", "issue", uuid.New(), admin.UserUUID, nil, time.Now().UTC())
	counter := racingCounter{ApprovalRepository: f.approvals, afterCount: func() {
		require.NoError(t, f.approvals.Create(ctx, a))
	}}
	svc := NewService(f.repo, counter, nil, zerolog.Nop())

	err = svc.Delete(ctx, created.UUID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	stored, err := f.repo.GetVersion(ctx, created.UUID, v.Version)
	require.NoError(t, err)
	assert.NotNil(t, stored, "version of a pending approval must survive")

	// Once the profile is gone no approval can reference it.
	a.Close(approval.StatusRejected, time.Now().UTC())
	a.Version++
	require.NoError(t, f.approvals.Update(ctx, a, nil, 1))
	require.NoError(t, f.svc.Delete(ctx, created.UUID))
	late := approval.NewApproval(v, "certificate", "issue", uuid.New(), admin.UserUUID, nil, time.Now().UTC())
	assert.True(t, errors.Is(f.approvals.Create(ctx, late), apperr.ErrNotFound))
}

func TestBulkDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, request("a", 1), admin)
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, request("b", 1), admin)
	require.NoError(t, err)
	missing := uuid.New()

	failed := f.svc.BulkDelete(ctx, []uuid.UUID{a.UUID, missing, b.UUID})
	require.Len(t, failed, 1)
	assert.Equal(t, missing, failed[0].UUID)

	require.Len(t, f.dispatcher.msgs, 1)
	assert.Equal(t, notification.EventProfilesDeleted, f.dispatcher.msgs[0].Event)
}
