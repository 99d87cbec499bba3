package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// ApprovalRepository implements approval.Repository.
type ApprovalRepository struct {
	pool *pgxpool.Pool
}

func NewApprovalRepository(pool *pgxpool.Pool) *ApprovalRepository {
	return &ApprovalRepository{pool: pool}
}

const approvalColumns = `id, uuid, profile_uuid, profile_version, resource_type, action, object_uuid, requester_uuid, payload, status, created_at, expires_at, closed_at, execution_error, version`

// Create takes a shared lock on the profile row so the profile cannot be
// deleted while the approval is being inserted.
func (r *ApprovalRepository) Create(ctx context.Context, a *approval.Approval) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM approval_profiles WHERE uuid=$1 FOR SHARE`, a.ProfileUUID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("approval profile %s", a.ProfileUUID)
	}
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO approvals
		(uuid, profile_uuid, profile_version, resource_type, action, object_uuid, requester_uuid, payload, status, created_at, expires_at, closed_at, execution_error, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`, a.UUID, a.ProfileUUID, a.ProfileVersion, a.ResourceType, a.Action, a.ObjectUUID, a.RequesterUUID, nullJSON(a.Payload), a.Status, a.CreatedAt, a.ExpiresAt, a.ClosedAt, a.ExecutionError, a.Version).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("approval %s", a.UUID)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (r *ApprovalRepository) GetByUUID(ctx context.Context, approvalUUID uuid.UUID) (*approval.Approval, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE uuid=$1`, approvalUUID)
	a, err := scanApproval(row)
	if err != nil || a == nil {
		return a, err
	}
	a.Records, err = r.records(ctx, approvalUUID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *ApprovalRepository) records(ctx context.Context, approvalUUID uuid.UUID) ([]*approval.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, uuid, approval_uuid, step_order, user_uuid, decision, comment, created_at
		FROM approval_records WHERE approval_uuid=$1 ORDER BY id ASC
	`, approvalUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*approval.Record
	for rows.Next() {
		var rec approval.Record
		if err := rows.Scan(&rec.ID, &rec.UUID, &rec.ApprovalUUID, &rec.StepOrder, &rec.UserUUID, &rec.Decision, &rec.Comment, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *ApprovalRepository) List(ctx context.Context, filter approval.Filter, sec security.Filter, limit, offset int) (*approval.Page, error) {
	var c conditions
	if filter.Status != nil {
		c.add("status=?", *filter.Status)
	}
	if filter.ResourceType != nil {
		c.add("resource_type=?", *filter.ResourceType)
	}
	if filter.Action != nil {
		c.add("action=?", *filter.Action)
	}
	if filter.ObjectUUID != nil {
		c.add("object_uuid=?", *filter.ObjectUUID)
	}
	if filter.RequesterUUID != nil {
		c.add("requester_uuid=?", *filter.RequesterUUID)
	}
	if filter.ProfileUUID != nil {
		c.add("profile_uuid=?", *filter.ProfileUUID)
	}
	c.visible("uuid", sec)

	page := &approval.Page{Items: []*approval.Approval{}}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM approvals`+c.where(), c.args...).Scan(&page.Total); err != nil {
		return nil, err
	}

	pageSQL, args := c.page(limit, offset)
	rows, err := r.pool.Query(ctx, `SELECT `+approvalColumns+` FROM approvals`+c.where()+` ORDER BY id DESC`+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, a)
	}
	return page, rows.Err()
}

// Update performs a compare-and-swap on the version column and appends the
// vote record in the same transaction.
func (r *ApprovalRepository) Update(ctx context.Context, a *approval.Approval, rec *approval.Record, expectedVersion int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE approvals
		SET status=$1, closed_at=$2, execution_error=$3, version=$4
		WHERE uuid=$5 AND version=$6
	`, a.Status, a.ClosedAt, a.ExecutionError, a.Version, a.UUID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM approvals WHERE uuid=$1)`, a.UUID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("approval %s", a.UUID)
		}
		return approval.ErrStaleVersion
	}

	if rec != nil {
		err := tx.QueryRow(ctx, `
			INSERT INTO approval_records (uuid, approval_uuid, step_order, user_uuid, decision, comment, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id
		`, rec.UUID, rec.ApprovalUUID, rec.StepOrder, rec.UserUUID, rec.Decision, rec.Comment, rec.CreatedAt).Scan(&rec.ID)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *ApprovalRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*approval.Approval, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+approvalColumns+` FROM approvals
		WHERE status=$1 AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`, approval.StatusPending, now, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, a := range out {
		if a.Records, err = r.records(ctx, a.UUID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ApprovalRepository) CountPendingByProfile(ctx context.Context, profileUUID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM approvals WHERE profile_uuid=$1 AND status=$2
	`, profileUUID, approval.StatusPending).Scan(&n)
	return n, err
}

func scanApproval(row pgx.Row) (*approval.Approval, error) {
	var a approval.Approval
	var payload []byte
	err := row.Scan(&a.ID, &a.UUID, &a.ProfileUUID, &a.ProfileVersion, &a.ResourceType, &a.Action, &a.ObjectUUID, &a.RequesterUUID, &payload, &a.Status, &a.CreatedAt, &a.ExpiresAt, &a.ClosedAt, &a.ExecutionError, &a.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(payload) > 0 {
		a.Payload = payload
	}
	return &a, nil
}

// nullJSON binds an empty document as SQL NULL.
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
