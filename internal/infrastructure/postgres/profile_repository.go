package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// ProfileRepository implements profile.Repository.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

const profileColumns = `id, uuid, name, enabled, created_at, updated_at`

const versionColumns = `profile_uuid, version, description, expiry_hours, steps, created_at, created_by`

func (r *ProfileRepository) Create(ctx context.Context, p *profile.Profile, v *profile.Version) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO approval_profiles (uuid, name, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, p.UUID, p.Name, p.Enabled, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("approval profile %q", p.Name)
		}
		return err
	}
	if err := insertVersion(ctx, tx, v); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ProfileRepository) AppendVersion(ctx context.Context, v *profile.Version) error {
	err := insertVersion(ctx, r.pool, v)
	if isUniqueViolation(err) {
		return profile.ErrVersionExists
	}
	return err
}

func insertVersion(ctx context.Context, db querier, v *profile.Version) error {
	steps, err := json.Marshal(v.Steps)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO approval_profile_versions (`+versionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, v.ProfileUUID, v.Version, v.Description, v.ExpiryHours, steps, v.CreatedAt, v.CreatedBy)
	return err
}

func (r *ProfileRepository) GetByUUID(ctx context.Context, profileUUID uuid.UUID) (*profile.Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM approval_profiles WHERE uuid=$1`, profileUUID)
	return scanProfile(row)
}

func (r *ProfileRepository) GetByName(ctx context.Context, name string) (*profile.Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM approval_profiles WHERE lower(name)=lower($1)`, name)
	return scanProfile(row)
}

func (r *ProfileRepository) GetVersion(ctx context.Context, profileUUID uuid.UUID, version int) (*profile.Version, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM approval_profile_versions
		WHERE profile_uuid=$1 AND version=$2
	`, profileUUID, version)
	return scanVersion(row)
}

func (r *ProfileRepository) GetLatestVersion(ctx context.Context, profileUUID uuid.UUID) (*profile.Version, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM approval_profile_versions
		WHERE profile_uuid=$1 ORDER BY version DESC LIMIT 1
	`, profileUUID)
	return scanVersion(row)
}

func (r *ProfileRepository) ListVersions(ctx context.Context, profileUUID uuid.UUID) ([]*profile.Version, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+versionColumns+` FROM approval_profile_versions
		WHERE profile_uuid=$1 ORDER BY version ASC
	`, profileUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*profile.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *ProfileRepository) List(ctx context.Context, filter profile.Filter, sec security.Filter, limit, offset int) ([]*profile.Profile, int, error) {
	var c conditions
	if filter.Name != nil {
		c.add("name ILIKE '%' || ? || '%'", *filter.Name)
	}
	if filter.Enabled != nil {
		c.add("enabled=?", *filter.Enabled)
	}
	c.visible("uuid", sec)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM approval_profiles`+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageSQL, args := c.page(limit, offset)
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+` FROM approval_profiles`+c.where()+` ORDER BY id ASC`+pageSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *ProfileRepository) Revise(ctx context.Context, p *profile.Profile, v *profile.Version) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertVersion(ctx, tx, v); err != nil {
		if isUniqueViolation(err) {
			return profile.ErrVersionExists
		}
		return err
	}
	if err := updateProfile(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ProfileRepository) Update(ctx context.Context, p *profile.Profile) error {
	return updateProfile(ctx, r.pool, p)
}

func updateProfile(ctx context.Context, db querier, p *profile.Profile) error {
	tag, err := db.Exec(ctx, `
		UPDATE approval_profiles SET name=$1, enabled=$2, updated_at=$3 WHERE uuid=$4
	`, p.Name, p.Enabled, p.UpdatedAt, p.UUID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("approval profile %q", p.Name)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("approval profile %s", p.UUID)
	}
	return nil
}

// Delete holds the profile row lock across the pending check so a concurrent
// ApprovalRepository.Create either lands first and blocks the delete, or
// finds the profile gone.
func (r *ProfileRepository) Delete(ctx context.Context, profileUUID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM approval_profiles WHERE uuid=$1 FOR UPDATE`, profileUUID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	var pending int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM approvals WHERE profile_uuid=$1 AND status=$2
	`, profileUUID, approval.StatusPending).Scan(&pending); err != nil {
		return err
	}
	if pending > 0 {
		return apperr.Conflict("approval profile %s has %d pending approvals", profileUUID, pending)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM approval_profiles WHERE uuid=$1`, profileUUID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var p profile.Profile
	err := row.Scan(&p.ID, &p.UUID, &p.Name, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func scanVersion(row pgx.Row) (*profile.Version, error) {
	var v profile.Version
	var steps []byte
	err := row.Scan(&v.ProfileUUID, &v.Version, &v.Description, &v.ExpiryHours, &steps, &v.CreatedAt, &v.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(steps, &v.Steps); err != nil {
		return nil, err
	}
	return &v, nil
}
