package compliance

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
	"go.uber.org/mock/gomock"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/certificate"
	domain "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance/mocks"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/notification"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/memory"
)

const x509Kind domain.Kind = "x509"

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []*notification.Message
}

func (d *recordingDispatcher) Dispatch(msg *notification.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

type engineFixture struct {
	engine     *Engine
	client     *mocks.MockConnectorClient
	certs      *memory.CertificateRepository
	profiles   *memory.ComplianceProfileRepository
	index      *Index
	dispatcher *recordingDispatcher
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	ctrl := gomock.NewController(t)
	f := &engineFixture{
		client:     mocks.NewMockConnectorClient(ctrl),
		certs:      memory.NewCertificateRepository(),
		profiles:   memory.NewComplianceProfileRepository(),
		index:      NewIndex(memory.NewIndexRepository(), nil, zerolog.Nop()),
		dispatcher: &recordingDispatcher{},
	}
	f.engine = NewEngine(f.certs, f.profiles, f.index, f.client, f.dispatcher, nil, cfg, zerolog.Nop())
	return f
}

// connector publishes rules in the index and returns a reference to it.
func (f *engineFixture) connector(t *testing.T, name string, rules ...uuid.UUID) domain.ConnectorRef {
	t.Helper()
	ref := domain.ConnectorRef{UUID: uuid.New(), Name: name, URL: "http://" + name, Kind: x509Kind}
	var catalog []*domain.Rule
	for _, r := range rules {
		catalog = append(catalog, &domain.Rule{UUID: r, Name: "rule-" + r.String()[:8]})
	}
	require.NoError(t, f.index.SyncCatalog(context.Background(), ref.UUID, x509Kind, catalog, nil))
	return ref
}

func (f *engineFixture) profile(t *testing.T, refs ...domain.ConnectorRef) *domain.Profile {
	t.Helper()
	p := &domain.Profile{Name: "profile-" + uuid.NewString()[:8]}
	for _, ref := range refs {
		p.Providers = append(p.Providers, domain.Provider{Connector: ref})
	}
	require.NoError(t, f.engine.SaveProfile(context.Background(), p))
	return p
}

func (f *engineFixture) certificate(t *testing.T, profileUUID *uuid.UUID) *certificate.Certificate {
	t.Helper()
	c := &certificate.Certificate{UUID: uuid.New(), CommonName: "example.com", Content: "MIIB", ComplianceProfileUUID: profileUUID}
	require.NoError(t, f.engine.RegisterCertificate(context.Background(), c))
	return c
}

func TestCheckCertificate_MergesConnectors(t *testing.T) {
	f := newEngineFixture(t, Config{ConnectorTimeout: time.Second})
	ctx := context.Background()

	okRule, nokRule, unknownRule := uuid.New(), uuid.New(), uuid.New()
	good := f.connector(t, "good", okRule, nokRule)
	broken := f.connector(t, "broken")
	p := f.profile(t, good, broken)
	cert := f.certificate(t, &p.UUID)

	f.client.EXPECT().QueryCompliance(gomock.Any(), good, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.ConnectorRef, req *domain.Request) ([]domain.RuleResult, error) {
			assert.Equal(t, cert.UUID, req.CertificateUUID)
			assert.Equal(t, "MIIB", req.Certificate)
			return []domain.RuleResult{
				{RuleUUID: okRule, Status: domain.StatusOK},
				{RuleUUID: nokRule, Status: domain.StatusNOK, Detail: "key too short"},
				{RuleUUID: unknownRule, Status: domain.StatusOK},
			}, nil
		})
	f.client.EXPECT().QueryCompliance(gomock.Any(), broken, gomock.Any()).
		Return(nil, apperr.Connector(errors.New("connection refused"), "connector broken"))

	res, err := f.engine.CheckCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	require.Len(t, res.Checks, 2)

	goodCheck := res.Checks[domain.CheckName(good)]
	require.NotNil(t, goodCheck)
	assert.Equal(t, domain.StatusNOK, goodCheck.Status)
	assert.Equal(t, domain.StatusOK, goodCheck.Rules[okRule.String()].Status)
	assert.Equal(t, "key too short", goodCheck.Rules[nokRule.String()].Detail)
	assert.Equal(t, domain.StatusUnknownRule, goodCheck.Rules[unknownRule.String()].Status)

	brokenCheck := res.Checks[domain.CheckName(broken)]
	require.NotNil(t, brokenCheck)
	assert.Equal(t, domain.StatusFailed, brokenCheck.Status)
	assert.Contains(t, brokenCheck.Message, "connection refused")

	stored, err := f.engine.GetCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, res, stored.ValidationResult)
	assert.Equal(t, 1, f.certs.ResultWrites(cert.UUID))
}

func TestCheckCertificate_UnknownRuleDoesNotFail(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	known, unknown := uuid.New(), uuid.New()
	ref := f.connector(t, "provider", known)
	p := f.profile(t, ref)
	cert := f.certificate(t, &p.UUID)

	f.client.EXPECT().QueryCompliance(gomock.Any(), ref, gomock.Any()).Return([]domain.RuleResult{
		{RuleUUID: known, Status: domain.StatusOK},
		{RuleUUID: unknown, Status: domain.StatusNOK, Detail: "key size 1024 below 2048"},
	}, nil)

	res, err := f.engine.CheckCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, res.Status)
	check := res.Checks[domain.CheckName(ref)]
	require.Len(t, check.Rules, 2)

	outcome := check.Rules[unknown.String()]
	require.NotNil(t, outcome)
	assert.Equal(t, domain.StatusUnknownRule, outcome.Status)
	assert.Equal(t, domain.StatusNOK, outcome.ReportedStatus)
	assert.Equal(t, "key size 1024 below 2048", outcome.Detail)
}

func TestCheckCertificate_TimeoutDegradesToFailed(t *testing.T) {
	f := newEngineFixture(t, Config{ConnectorTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	ref := f.connector(t, "slow")
	p := f.profile(t, ref)
	cert := f.certificate(t, &p.UUID)

	f.client.EXPECT().QueryCompliance(gomock.Any(), ref, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.ConnectorRef, _ *domain.Request) ([]domain.RuleResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	res, err := f.engine.CheckCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, res.Checks[domain.CheckName(ref)].Message, "timed out")
}

func TestCheckCertificate_MalformedStatus(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	rule := uuid.New()
	ref := f.connector(t, "odd", rule)
	p := f.profile(t, ref)
	cert := f.certificate(t, &p.UUID)

	f.client.EXPECT().QueryCompliance(gomock.Any(), ref, gomock.Any()).
		Return([]domain.RuleResult{{RuleUUID: rule, Status: "MAYBE"}}, nil)

	res, err := f.engine.CheckCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	check := res.Checks[domain.CheckName(ref)]
	assert.Equal(t, domain.StatusFailed, check.Status)
	assert.Nil(t, check.Rules)
}

func TestCheckCertificate_NoProfile(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()
	cert := f.certificate(t, nil)

	res, err := f.engine.CheckCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNA, res.Status)
	assert.Empty(t, res.Checks)

	_, err = f.engine.CheckCertificate(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCheckCertificate_OverwritesResult(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	rule := uuid.New()
	ref := f.connector(t, "provider", rule)
	p := f.profile(t, ref)
	cert := f.certificate(t, &p.UUID)

	gomock.InOrder(
		f.client.EXPECT().QueryCompliance(gomock.Any(), ref, gomock.Any()).
			Return([]domain.RuleResult{{RuleUUID: rule, Status: domain.StatusNOK}}, nil),
		f.client.EXPECT().QueryCompliance(gomock.Any(), ref, gomock.Any()).
			Return([]domain.RuleResult{{RuleUUID: rule, Status: domain.StatusOK}}, nil),
	)

	first, err := f.engine.CheckCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNOK, first.Status)

	second, err := f.engine.CheckCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, second.Status)

	stored, err := f.engine.GetCertificate(ctx, cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, stored.ValidationResult.Status)
	assert.Equal(t, 2, f.certs.ResultWrites(cert.UUID))
}

func TestCheckProfile_ContinuesPastFailures(t *testing.T) {
	f := newEngineFixture(t, Config{BatchWorkers: 2})
	ctx := context.Background()

	rule := uuid.New()
	ref := f.connector(t, "provider", rule)
	p := f.profile(t, ref)
	certs := []*certificate.Certificate{f.certificate(t, &p.UUID), f.certificate(t, &p.UUID), f.certificate(t, &p.UUID)}
	failing := certs[1].UUID
	f.certificate(t, nil)

	f.client.EXPECT().QueryCompliance(gomock.Any(), ref, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.ConnectorRef, req *domain.Request) ([]domain.RuleResult, error) {
			if req.CertificateUUID == failing {
				return nil, apperr.Connector(nil, "provider unreachable")
			}
			return []domain.RuleResult{{RuleUUID: rule, Status: domain.StatusOK}}, nil
		}).Times(3)

	report, err := f.engine.CheckProfile(ctx, p.UUID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 3)
	require.NotNil(t, report.FinishedAt)
	for _, item := range report.Items {
		want := domain.StatusOK
		if item.CertificateUUID == failing {
			want = domain.StatusFailed
		}
		assert.Equal(t, want, item.Status, item.CertificateUUID.String())
		assert.Empty(t, item.Error)
	}

	for _, c := range certs {
		stored, err := f.engine.GetCertificate(ctx, c.UUID)
		require.NoError(t, err)
		require.NotNil(t, stored.ValidationResult)
	}
	require.Len(t, f.dispatcher.msgs, 1)
	assert.Equal(t, notification.EventComplianceChecked, f.dispatcher.msgs[0].Event)

	_, err = f.engine.CheckProfile(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCheckProfileAsync(t *testing.T) {
	f := newEngineFixture(t, Config{})

	rule := uuid.New()
	ref := f.connector(t, "provider", rule)
	p := f.profile(t, ref)
	cert := f.certificate(t, &p.UUID)

	release := make(chan struct{})
	f.client.EXPECT().QueryCompliance(gomock.Any(), ref, gomock.Any()).
		DoAndReturn(func(context.Context, domain.ConnectorRef, *domain.Request) ([]domain.RuleResult, error) {
			<-release
			return []domain.RuleResult{{RuleUUID: rule, Status: domain.StatusOK}}, nil
		})

	ack := f.engine.CheckProfileAsync(p.UUID)
	assert.Equal(t, p.UUID, ack.ProfileUUID)
	assert.NotEqual(t, uuid.Nil, ack.BatchID)

	close(release)
	f.engine.Wait()

	report, err := f.engine.Batch(ack.BatchID)
	require.NoError(t, err)
	require.NotNil(t, report.FinishedAt)
	assert.Equal(t, 1, report.Total)

	stored, err := f.engine.GetCertificate(context.Background(), cert.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, stored.ValidationResult.Status)

	// unknown profiles are only logged
	missing := f.engine.CheckProfileAsync(uuid.New())
	f.engine.Wait()
	_, err = f.engine.Batch(missing.BatchID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCheckAll(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	rule := uuid.New()
	ref := f.connector(t, "provider", rule)
	p1 := f.profile(t, ref)
	p2 := f.profile(t, ref)
	f.certificate(t, &p1.UUID)
	f.certificate(t, &p2.UUID)

	f.client.EXPECT().QueryCompliance(gomock.Any(), ref, gomock.Any()).
		Return([]domain.RuleResult{{RuleUUID: rule, Status: domain.StatusNA}}, nil).Times(2)

	reports, err := f.engine.CheckAll(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestSaveProfile_Validation(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()
	ref := f.connector(t, "provider", uuid.New())

	err := f.engine.SaveProfile(ctx, &domain.Profile{Name: ""})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	err = f.engine.SaveProfile(ctx, &domain.Profile{Name: "p", Providers: []domain.Provider{{Connector: ref, Rules: []uuid.UUID{uuid.New()}}}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	err = f.engine.SaveProfile(ctx, &domain.Profile{Name: "p", Providers: []domain.Provider{{Connector: ref}, {Connector: ref}}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	missing := uuid.New()
	err = f.engine.RegisterCertificate(ctx, &certificate.Certificate{UUID: uuid.New(), ComplianceProfileUUID: &missing})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
