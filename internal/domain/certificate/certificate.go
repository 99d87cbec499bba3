package certificate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

// Certificate is the subset of a certificate record the compliance pipeline reads and writes.
type Certificate struct {
	UUID                  uuid.UUID          `json:"uuid"`
	SerialNumber          string             `json:"serialNumber"`
	CommonName            string             `json:"commonName"`
	Content               string             `json:"certificateContent"`
	ComplianceProfileUUID *uuid.UUID         `json:"complianceProfileUuid,omitempty"`
	ValidationResult      *compliance.Result `json:"complianceResult,omitempty"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// Repository defines the certificate persistence used by the compliance engine.
type Repository interface {
	Save(ctx context.Context, cert *Certificate) error
	GetByUUID(ctx context.Context, certUUID uuid.UUID) (*Certificate, error)
	ListByComplianceProfile(ctx context.Context, profileUUID uuid.UUID) ([]*Certificate, error)
	// SaveValidationResult overwrites the stored result.
	SaveValidationResult(ctx context.Context, certUUID uuid.UUID, result *compliance.Result) error
}
