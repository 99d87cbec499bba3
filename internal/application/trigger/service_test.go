package trigger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appApproval "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	domainApproval "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
	domain "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/trigger"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/memory"
)

type fixture struct {
	svc       *Service
	approvals *appApproval.Service
	profiles  *memory.ProfileRepository
	objects   *memory.ObjectStore
}

func newFixture() *fixture {
	f := &fixture{
		profiles: memory.NewProfileRepository(),
		objects:  memory.NewObjectStore(),
	}
	f.approvals = appApproval.NewService(memory.NewApprovalRepositoryFor(f.profiles), f.profiles, nil, nil, zerolog.Nop())
	f.svc = NewService(memory.NewTriggerRepository(), f.objects, f.approvals, nil, zerolog.Nop())
	f.approvals.RegisterExecutor(appApproval.AnyResource, ApprovalAction, f.svc)
	return f
}

func (f *fixture) object(t *testing.T, props map[string]any) *domain.Object {
	t.Helper()
	obj := &domain.Object{UUID: uuid.New(), ResourceType: "certificate", Properties: props}
	require.NoError(t, f.objects.Save(context.Background(), obj))
	return obj
}

func setField(source domain.FieldSource, id string, value any) []domain.Action {
	return []domain.Action{{
		Name:       "set " + id,
		Executions: []domain.Execution{{Type: domain.ExecutionSetField, FieldSource: source, FieldIdentifier: id, Value: value}},
	}}
}

func when(id string, op domain.Operator, value any) []domain.ConditionGroup {
	return []domain.ConditionGroup{{
		Name:  id,
		Items: []domain.ConditionItem{{FieldSource: domain.SourceProperty, FieldIdentifier: id, Operator: op, Value: value}},
	}}
}

func TestCRUD(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, &domain.Trigger{
		Name: "owner", ResourceType: "certificate", Event: "issued",
		Actions: setField(domain.SourceCustom, "owner", "pki"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TypeEvent, created.Type)

	_, err = f.svc.Create(ctx, &domain.Trigger{
		Name: "bad", ResourceType: "certificate", Event: "issued", IgnoreTrigger: true,
		Actions: setField(domain.SourceCustom, "owner", "pki"),
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	upd := &domain.Trigger{Name: "owner", ResourceType: "certificate", Event: "issued", IgnoreTrigger: true}
	updated, err := f.svc.Update(ctx, created.UUID, upd)
	require.NoError(t, err)
	assert.True(t, updated.IgnoreTrigger)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = f.svc.Update(ctx, created.UUID, &domain.Trigger{Name: "owner", ResourceType: "certificate", Event: "issued"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	list, err := f.svc.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.svc.Delete(ctx, created.UUID))
	_, err = f.svc.Get(ctx, created.UUID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(f.svc.Delete(ctx, created.UUID), apperr.ErrNotFound))
}

func TestProcess_AppliesMatchingTriggers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, &domain.Trigger{
		Name: "tag rsa", ResourceType: "certificate", Event: "issued",
		Conditions: when("keyAlgorithm", domain.OpEquals, "RSA"),
		Actions:    setField(domain.SourceCustom, "team", "pki"),
	})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, &domain.Trigger{
		Name: "tag ec", ResourceType: "certificate", Event: "issued",
		Conditions: when("keyAlgorithm", domain.OpEquals, "EC"),
		Actions:    setField(domain.SourceCustom, "team", "iot"),
	})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, &domain.Trigger{
		Name: "other event", ResourceType: "certificate", Event: "revoked",
		Actions: setField(domain.SourceProperty, "note", "revoked"),
	})
	require.NoError(t, err)

	obj := f.object(t, map[string]any{"keyAlgorithm": "RSA"})
	out, err := f.svc.Process(ctx, domain.Event{ResourceType: "certificate", Name: "issued", ObjectUUID: obj.UUID})
	require.NoError(t, err)
	assert.False(t, out.Ignored)
	assert.Len(t, out.Matched, 1)
	assert.Len(t, out.Applied, 1)
	assert.Empty(t, out.Pending)

	stored, err := f.objects.Load(ctx, "certificate", obj.UUID)
	require.NoError(t, err)
	assert.Equal(t, "pki", stored.Custom["team"])
	_, hasNote := stored.Properties["note"]
	assert.False(t, hasNote)
}

func TestProcess_IgnoreTriggerStopsProcessing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, &domain.Trigger{
		Name: "tag", ResourceType: "certificate", Event: "discovered",
		Actions: setField(domain.SourceCustom, "seen", true),
	})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, &domain.Trigger{
		Name: "skip test certs", ResourceType: "certificate", Event: "discovered", IgnoreTrigger: true,
		Conditions: when("commonName", domain.OpEndsWith, ".test"),
	})
	require.NoError(t, err)

	ignored := f.object(t, map[string]any{"commonName": "foo.test"})
	out, err := f.svc.Process(ctx, domain.Event{ResourceType: "certificate", Name: "discovered", ObjectUUID: ignored.UUID})
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Empty(t, out.Applied)
	stored, err := f.objects.Load(ctx, "certificate", ignored.UUID)
	require.NoError(t, err)
	assert.Nil(t, stored.Custom)

	kept := f.object(t, map[string]any{"commonName": "foo.example"})
	out, err = f.svc.Process(ctx, domain.Event{ResourceType: "certificate", Name: "discovered", ObjectUUID: kept.UUID})
	require.NoError(t, err)
	assert.False(t, out.Ignored)
	assert.Len(t, out.Applied, 1)
}

func TestProcess_ApprovalGatedTrigger(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	approver := security.Actor{UserUUID: uuid.New(), Username: "approver", Roles: []string{"raadmin"}}
	p := &profile.Profile{UUID: uuid.New(), Name: "trigger approvals", Enabled: true}
	v := profile.NewVersion(p.UUID, 1, profile.Request{
		Steps: []profile.Step{{Order: 1, RequiredApprovals: 1, Approver: profile.RoleApprover("raadmin")}},
	}, nil)
	require.NoError(t, f.profiles.Create(ctx, p, v))

	_, err := f.svc.Create(ctx, &domain.Trigger{
		Name: "gated", ResourceType: "certificate", Event: "issued",
		Actions:             setField(domain.SourceProperty, "owner", "security"),
		ApprovalProfileUUID: &p.UUID,
	})
	require.NoError(t, err)

	obj := f.object(t, map[string]any{"owner": "unknown"})
	out, err := f.svc.Process(ctx, domain.Event{ResourceType: "certificate", Name: "issued", ObjectUUID: obj.UUID, RequesterUUID: uuid.New()})
	require.NoError(t, err)
	require.Len(t, out.Pending, 1)
	assert.Empty(t, out.Applied)

	stored, err := f.objects.Load(ctx, "certificate", obj.UUID)
	require.NoError(t, err)
	assert.Equal(t, "unknown", stored.Properties["owner"], "executions wait for approval")

	a, err := f.approvals.CastVote(ctx, out.Pending[0], 1, approver, domainApproval.DecisionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, domainApproval.StatusApproved, a.Status)

	stored, err = f.objects.Load(ctx, "certificate", obj.UUID)
	require.NoError(t, err)
	assert.Equal(t, "security", stored.Properties["owner"])
}

func (f *fixture) gate(t *testing.T, name string, enabled bool) uuid.UUID {
	t.Helper()
	p := &profile.Profile{UUID: uuid.New(), Name: name, Enabled: enabled}
	v := profile.NewVersion(p.UUID, 1, profile.Request{
		Steps: []profile.Step{{Order: 1, RequiredApprovals: 1, Approver: profile.RoleApprover("raadmin")}},
	}, nil)
	require.NoError(t, f.profiles.Create(context.Background(), p, v))
	return p.UUID
}

func TestProcess_FailedApprovalDoesNotAbortOthers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	open := f.gate(t, "open", true)
	closed := f.gate(t, "closed", false)

	gated, err := f.svc.Create(ctx, &domain.Trigger{
		Name: "gated", ResourceType: "certificate", Event: "issued",
		Actions:             setField(domain.SourceCustom, "reviewed", true),
		ApprovalProfileUUID: &open,
	})
	require.NoError(t, err)
	broken, err := f.svc.Create(ctx, &domain.Trigger{
		Name: "broken", ResourceType: "certificate", Event: "issued",
		Actions:             setField(domain.SourceCustom, "blocked", true),
		ApprovalProfileUUID: &closed,
	})
	require.NoError(t, err)
	direct, err := f.svc.Create(ctx, &domain.Trigger{
		Name: "direct", ResourceType: "certificate", Event: "issued",
		Actions: setField(domain.SourceCustom, "owner", "pki"),
	})
	require.NoError(t, err)

	obj := f.object(t, map[string]any{"commonName": "a.example"})
	out, err := f.svc.Process(ctx, domain.Event{ResourceType: "certificate", Name: "issued", ObjectUUID: obj.UUID, RequesterUUID: uuid.New()})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{gated.UUID, broken.UUID, direct.UUID}, out.Matched)
	assert.Equal(t, []uuid.UUID{direct.UUID}, out.Applied)
	require.Len(t, out.Pending, 1)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, broken.UUID, out.Failed[0].TriggerUUID)
	assert.Contains(t, out.Failed[0].Message, "disabled")

	stored, err := f.objects.Load(ctx, "certificate", obj.UUID)
	require.NoError(t, err)
	assert.Equal(t, "pki", stored.Custom["owner"])

	d, err := f.approvals.GetApprovalDetail(ctx, out.Pending[0])
	require.NoError(t, err)
	assert.Equal(t, domainApproval.StatusPending, d.Approval.Status)
	assert.Equal(t, open, d.Approval.ProfileUUID)
}

func TestProcess_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Process(ctx, domain.Event{ResourceType: "certificate", Name: "issued", ObjectUUID: uuid.New()})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.Process(ctx, domain.Event{Name: "issued"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestObjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	err := f.svc.SaveObject(ctx, &domain.Object{UUID: uuid.New()})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	obj := &domain.Object{UUID: uuid.New(), ResourceType: "certificate", Properties: map[string]any{"cn": "a"}}
	require.NoError(t, f.svc.SaveObject(ctx, obj))

	got, err := f.svc.GetObject(ctx, "certificate", obj.UUID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Properties["cn"])

	_, err = f.svc.GetObject(ctx, "raProfile", obj.UUID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
