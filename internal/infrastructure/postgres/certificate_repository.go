package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/certificate"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

// CertificateRepository implements certificate.Repository.
type CertificateRepository struct {
	pool *pgxpool.Pool
}

func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{pool: pool}
}

const certificateColumns = `uuid, serial_number, common_name, content, compliance_profile_uuid, validation_result, updated_at`

func (r *CertificateRepository) Save(ctx context.Context, cert *certificate.Certificate) error {
	result, err := marshalResult(cert.ValidationResult)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (uuid) DO UPDATE SET
			serial_number=EXCLUDED.serial_number,
			common_name=EXCLUDED.common_name,
			content=EXCLUDED.content,
			compliance_profile_uuid=EXCLUDED.compliance_profile_uuid,
			validation_result=EXCLUDED.validation_result,
			updated_at=EXCLUDED.updated_at
	`, cert.UUID, cert.SerialNumber, cert.CommonName, cert.Content, cert.ComplianceProfileUUID, result, cert.UpdatedAt)
	return err
}

func (r *CertificateRepository) GetByUUID(ctx context.Context, certUUID uuid.UUID) (*certificate.Certificate, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE uuid=$1`, certUUID)
	return scanCertificate(row)
}

func (r *CertificateRepository) ListByComplianceProfile(ctx context.Context, profileUUID uuid.UUID) ([]*certificate.Certificate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+certificateColumns+` FROM certificates
		WHERE compliance_profile_uuid=$1 ORDER BY uuid ASC
	`, profileUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*certificate.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CertificateRepository) SaveValidationResult(ctx context.Context, certUUID uuid.UUID, result *compliance.Result) error {
	data, err := marshalResult(result)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE certificates SET validation_result=$1, updated_at=$2 WHERE uuid=$3
	`, data, time.Now().UTC(), certUUID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("certificate %s", certUUID)
	}
	return nil
}

func marshalResult(result *compliance.Result) (interface{}, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}

func scanCertificate(row pgx.Row) (*certificate.Certificate, error) {
	var c certificate.Certificate
	var result []byte
	err := row.Scan(&c.UUID, &c.SerialNumber, &c.CommonName, &c.Content, &c.ComplianceProfileUUID, &result, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) > 0 {
		c.ValidationResult = &compliance.Result{}
		if err := json.Unmarshal(result, c.ValidationResult); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
