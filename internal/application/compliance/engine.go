package compliance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/certificate"
	domain "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/notification"
)

// Metrics receives compliance counters.
type Metrics interface {
	CheckCompleted(status string)
	ConnectorCall(connector string, elapsed time.Duration, failed bool)
}

type nopMetrics struct{}

func (nopMetrics) CheckCompleted(string)                     {}
func (nopMetrics) ConnectorCall(string, time.Duration, bool) {}

// Config bounds the engine's concurrency.
type Config struct {
	ConnectorTimeout     time.Duration
	ConnectorConcurrency int
	BatchWorkers         int
}

func (c Config) withDefaults() Config {
	if c.ConnectorTimeout <= 0 {
		c.ConnectorTimeout = 30 * time.Second
	}
	if c.ConnectorConcurrency <= 0 {
		c.ConnectorConcurrency = 4
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = 4
	}
	return c
}

// BatchItem is the outcome of one certificate in a batch.
type BatchItem struct {
	CertificateUUID uuid.UUID     `json:"certificateUuid"`
	Status          domain.Status `json:"status,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// BatchReport summarises a profile-wide check. Failed counts certificates
// that errored or had a FAILED check.
type BatchReport struct {
	BatchID     uuid.UUID   `json:"batchId"`
	ProfileUUID uuid.UUID   `json:"complianceProfileUuid"`
	StartedAt   time.Time   `json:"startedAt"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
	Total       int         `json:"total"`
	Failed      int         `json:"failed"`
	Items       []BatchItem `json:"items"`
}

// BatchAck acknowledges an asynchronous batch.
type BatchAck struct {
	BatchID     uuid.UUID `json:"batchId"`
	ProfileUUID uuid.UUID `json:"complianceProfileUuid"`
	AcceptedAt  time.Time `json:"acceptedAt"`
}

// Engine evaluates certificates against their compliance profile connectors.
type Engine struct {
	certs      certificate.Repository
	profiles   domain.ProfileRepository
	index      *Index
	client     domain.ConnectorClient
	dispatcher notification.Dispatcher
	metrics    Metrics
	cfg        Config
	logger     zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	batches map[uuid.UUID]*BatchReport
}

// NewEngine creates a compliance engine.
func NewEngine(
	certs certificate.Repository,
	profiles domain.ProfileRepository,
	index *Index,
	client domain.ConnectorClient,
	dispatcher notification.Dispatcher,
	metrics Metrics,
	cfg Config,
	logger zerolog.Logger,
) *Engine {
	if dispatcher == nil {
		dispatcher = notification.Nop{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Engine{
		certs:      certs,
		profiles:   profiles,
		index:      index,
		client:     client,
		dispatcher: dispatcher,
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("service", "compliance").Logger(),
		batches:    make(map[uuid.UUID]*BatchReport),
	}
}

// SaveProfile validates a compliance profile against the index and stores it.
func (e *Engine) SaveProfile(ctx context.Context, p *domain.Profile) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return apperr.Validation("compliance profile name is required")
	}
	if p.UUID == uuid.Nil {
		p.UUID = uuid.New()
	}
	seen := make(map[uuid.UUID]struct{}, len(p.Providers))
	for _, pr := range p.Providers {
		ref := pr.Connector
		if ref.UUID == uuid.Nil || strings.TrimSpace(ref.URL) == "" || ref.Kind == "" {
			return apperr.Validation("connector uuid, url and kind are required")
		}
		if _, dup := seen[ref.UUID]; dup {
			return apperr.Validation("connector %s is listed twice", ref.UUID)
		}
		seen[ref.UUID] = struct{}{}
		for _, r := range pr.Rules {
			ok, err := e.index.RuleExists(ctx, r, ref.UUID, ref.Kind)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Validation("rule %s is not published by connector %s", r, ref.UUID)
			}
		}
		for _, g := range pr.Groups {
			ok, err := e.index.GroupExists(ctx, g, ref.UUID, ref.Kind)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Validation("group %s is not published by connector %s", g, ref.UUID)
			}
		}
	}
	return e.profiles.Save(ctx, p)
}

// GetProfile returns a compliance profile.
func (e *Engine) GetProfile(ctx context.Context, profileUUID uuid.UUID) (*domain.Profile, error) {
	p, err := e.profiles.GetByUUID(ctx, profileUUID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("compliance profile %s", profileUUID)
	}
	return p, nil
}

// ListProfiles returns every compliance profile.
func (e *Engine) ListProfiles(ctx context.Context) ([]*domain.Profile, error) {
	return e.profiles.List(ctx)
}

// RegisterCertificate stores or replaces a certificate record.
func (e *Engine) RegisterCertificate(ctx context.Context, cert *certificate.Certificate) error {
	if cert == nil || cert.UUID == uuid.Nil {
		return apperr.Validation("certificate uuid is required")
	}
	if cert.ComplianceProfileUUID != nil {
		if _, err := e.GetProfile(ctx, *cert.ComplianceProfileUUID); err != nil {
			return err
		}
	}
	cert.UpdatedAt = time.Now().UTC()
	return e.certs.Save(ctx, cert)
}

// GetCertificate returns a certificate with its last validation result.
func (e *Engine) GetCertificate(ctx context.Context, certUUID uuid.UUID) (*certificate.Certificate, error) {
	cert, err := e.certs.GetByUUID(ctx, certUUID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, apperr.NotFound("certificate %s", certUUID)
	}
	return cert, nil
}

// CheckCertificate queries every connector of the certificate's compliance
// profile and overwrites the certificate's validation result with the merged
// outcome. Connector failures become FAILED checks; they are not returned.
func (e *Engine) CheckCertificate(ctx context.Context, certUUID uuid.UUID) (*domain.Result, error) {
	cert, err := e.GetCertificate(ctx, certUUID)
	if err != nil {
		return nil, err
	}

	var providers []domain.Provider
	if cert.ComplianceProfileUUID != nil {
		p, err := e.GetProfile(ctx, *cert.ComplianceProfileUUID)
		if err != nil {
			return nil, err
		}
		providers = p.Providers
	}

	checks := make([]*domain.CheckResult, len(providers))
	var g errgroup.Group
	g.SetLimit(e.cfg.ConnectorConcurrency)
	for i, pr := range providers {
		i, pr := i, pr
		g.Go(func() error {
			checks[i] = e.checkProvider(ctx, cert, pr)
			return nil
		})
	}
	_ = g.Wait()

	result := domain.Merge(checks, time.Now().UTC())
	if err := e.certs.SaveValidationResult(ctx, cert.UUID, result); err != nil {
		return nil, err
	}
	e.metrics.CheckCompleted(string(result.Status))
	e.logger.Debug().
		Str("certificate", cert.UUID.String()).
		Str("status", string(result.Status)).
		Int("checks", len(result.Checks)).
		Msg("compliance check completed")
	return result, nil
}

func (e *Engine) checkProvider(ctx context.Context, cert *certificate.Certificate, pr domain.Provider) *domain.CheckResult {
	ref := pr.Connector
	check := &domain.CheckResult{ConnectorUUID: ref.UUID, ConnectorName: ref.Name}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectorTimeout)
	defer cancel()
	start := time.Now()
	results, err := e.client.QueryCompliance(callCtx, ref, &domain.Request{
		CertificateUUID: cert.UUID,
		Certificate:     cert.Content,
		Rules:           pr.Rules,
		Groups:          pr.Groups,
	})
	e.metrics.ConnectorCall(ref.Name, time.Since(start), err != nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperr.Connector(err, "connector %s timed out", ref.UUID)
		}
		e.logger.Warn().Err(err).
			Str("certificate", cert.UUID.String()).
			Str("connector", ref.UUID.String()).
			Msg("compliance connector call failed")
		check.Status = domain.StatusFailed
		check.Message = err.Error()
		return check
	}

	check.Rules = make(map[string]*domain.RuleOutcome, len(results))
	for _, r := range results {
		switch r.Status {
		case domain.StatusOK, domain.StatusNOK, domain.StatusNA:
		default:
			check.Status = domain.StatusFailed
			check.Message = apperr.Connector(nil, "connector %s returned status %q for rule %s", ref.UUID, r.Status, r.RuleUUID).Error()
			check.Rules = nil
			return check
		}
		known, err := e.index.RuleExists(ctx, r.RuleUUID, ref.UUID, ref.Kind)
		if err != nil {
			check.Status = domain.StatusFailed
			check.Message = fmt.Sprintf("rule index unavailable: %v", err)
			check.Rules = nil
			return check
		}
		outcome := &domain.RuleOutcome{Status: r.Status, Detail: r.Detail}
		if !known {
			outcome.ReportedStatus = outcome.Status
			outcome.Status = domain.StatusUnknownRule
			e.logger.Warn().
				Str("connector", ref.UUID.String()).
				Str("rule", r.RuleUUID.String()).
				Msg("connector reported unknown compliance rule")
		}
		check.Rules[r.RuleUUID.String()] = outcome
	}
	check.Status = domain.Summarize(check.Rules)
	return check
}

// CheckProfile checks every certificate assigned to the profile. Failures
// are recorded per certificate and never stop the batch.
func (e *Engine) CheckProfile(ctx context.Context, profileUUID uuid.UUID) (*BatchReport, error) {
	return e.runBatch(ctx, uuid.New(), profileUUID)
}

func (e *Engine) runBatch(ctx context.Context, batchID, profileUUID uuid.UUID) (*BatchReport, error) {
	if _, err := e.GetProfile(ctx, profileUUID); err != nil {
		return nil, err
	}
	certs, err := e.certs.ListByComplianceProfile(ctx, profileUUID)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{
		BatchID:     batchID,
		ProfileUUID: profileUUID,
		StartedAt:   time.Now().UTC(),
		Total:       len(certs),
		Items:       make([]BatchItem, len(certs)),
	}
	e.storeBatch(report)

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchWorkers)
	for i, cert := range certs {
		i, cert := i, cert
		g.Go(func() error {
			item := BatchItem{CertificateUUID: cert.UUID}
			res, err := e.CheckCertificate(ctx, cert.UUID)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Status = res.Status
			}
			report.Items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Items, func(i, j int) bool {
		return report.Items[i].CertificateUUID.String() < report.Items[j].CertificateUUID.String()
	})
	for _, it := range report.Items {
		if it.Error != "" || it.Status == domain.StatusFailed {
			report.Failed++
		}
	}
	done := time.Now().UTC()
	report.FinishedAt = &done
	e.storeBatch(report)

	e.logger.Info().
		Str("batch", batchID.String()).
		Str("profile", profileUUID.String()).
		Int("total", report.Total).
		Int("failed", report.Failed).
		Msg("compliance batch finished")
	e.dispatcher.Dispatch(notification.NewMessage(notification.EventComplianceChecked, "Compliance check finished", &profileUUID, map[string]interface{}{
		"batchId": batchID.String(),
		"total":   report.Total,
		"failed":  report.Failed,
	}))
	return report, nil
}

// CheckProfileAsync starts a batch in the background and returns at once.
// The batch is not bound to the caller's lifetime; its outcome is visible
// through the certificates' validation results and Batch.
func (e *Engine) CheckProfileAsync(profileUUID uuid.UUID) BatchAck {
	ack := BatchAck{BatchID: uuid.New(), ProfileUUID: profileUUID, AcceptedAt: time.Now().UTC()}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.runBatch(context.Background(), ack.BatchID, profileUUID); err != nil {
			e.logger.Error().Err(err).
				Str("batch", ack.BatchID.String()).
				Str("profile", profileUUID.String()).
				Msg("compliance batch failed")
		}
	}()
	return ack
}

// CheckAll runs a batch for every compliance profile.
func (e *Engine) CheckAll(ctx context.Context) ([]*BatchReport, error) {
	profiles, err := e.profiles.List(ctx)
	if err != nil {
		return nil, err
	}
	var reports []*BatchReport
	for _, p := range profiles {
		r, err := e.CheckProfile(ctx, p.UUID)
		if err != nil {
			e.logger.Error().Err(err).Str("profile", p.UUID.String()).Msg("scheduled compliance check failed")
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Batch returns the report of a batch started by this process.
func (e *Engine) Batch(batchID uuid.UUID) (*BatchReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.batches[batchID]
	if !ok {
		return nil, apperr.NotFound("compliance batch %s", batchID)
	}
	cp := *r
	return &cp, nil
}

// Wait blocks until background batches finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) storeBatch(r *BatchReport) {
	cp := *r
	cp.Items = append([]BatchItem(nil), r.Items...)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches[r.BatchID] = &cp
}
