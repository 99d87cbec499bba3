package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/certificate"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

// CertificateRepository is an in-memory certificate.Repository.
type CertificateRepository struct {
	mu    sync.RWMutex
	certs map[uuid.UUID]*certificate.Certificate
	// writes counts SaveValidationResult calls per certificate.
	writes map[uuid.UUID]int
}

// NewCertificateRepository creates an empty repository.
func NewCertificateRepository() *CertificateRepository {
	return &CertificateRepository{
		certs:  make(map[uuid.UUID]*certificate.Certificate),
		writes: make(map[uuid.UUID]int),
	}
}

func (r *CertificateRepository) Save(ctx context.Context, cert *certificate.Certificate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cert
	r.certs[cert.UUID] = &cp
	return nil
}

func (r *CertificateRepository) GetByUUID(ctx context.Context, certUUID uuid.UUID) (*certificate.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.certs[certUUID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CertificateRepository) ListByComplianceProfile(ctx context.Context, profileUUID uuid.UUID) ([]*certificate.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*certificate.Certificate
	for _, c := range r.certs {
		if c.ComplianceProfileUUID != nil && *c.ComplianceProfileUUID == profileUUID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID.String() < out[j].UUID.String() })
	return out, nil
}

func (r *CertificateRepository) SaveValidationResult(ctx context.Context, certUUID uuid.UUID, result *compliance.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[certUUID]
	if !ok {
		return apperr.NotFound("certificate %s", certUUID)
	}
	c.ValidationResult = result
	c.UpdatedAt = time.Now().UTC()
	r.writes[certUUID]++
	return nil
}

// ResultWrites returns how many times a validation result was stored for the certificate.
func (r *CertificateRepository) ResultWrites(certUUID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes[certUUID]
}
