package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

// IndexRepository implements compliance.IndexRepository.
type IndexRepository struct {
	pool *pgxpool.Pool
}

func NewIndexRepository(pool *pgxpool.Pool) *IndexRepository {
	return &IndexRepository{pool: pool}
}

func (r *IndexRepository) RuleExists(ctx context.Context, ruleUUID, connectorUUID uuid.UUID, kind compliance.Kind) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM compliance_rules WHERE connector_uuid=$1 AND kind=$2 AND uuid=$3)
	`, connectorUUID, kind, ruleUUID).Scan(&exists)
	return exists, err
}

func (r *IndexRepository) GroupExists(ctx context.Context, groupUUID, connectorUUID uuid.UUID, kind compliance.Kind) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM compliance_groups WHERE connector_uuid=$1 AND kind=$2 AND uuid=$3)
	`, connectorUUID, kind, groupUUID).Scan(&exists)
	return exists, err
}

func (r *IndexRepository) ListRules(ctx context.Context, connectorUUID uuid.UUID, kind compliance.Kind) ([]*compliance.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT uuid, connector_uuid, kind, group_uuid, name, description
		FROM compliance_rules WHERE connector_uuid=$1 AND kind=$2 ORDER BY name ASC
	`, connectorUUID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*compliance.Rule
	for rows.Next() {
		var rule compliance.Rule
		if err := rows.Scan(&rule.UUID, &rule.ConnectorUUID, &rule.Kind, &rule.GroupUUID, &rule.Name, &rule.Description); err != nil {
			return nil, err
		}
		out = append(out, &rule)
	}
	return out, rows.Err()
}

func (r *IndexRepository) ListGroups(ctx context.Context, connectorUUID uuid.UUID, kind compliance.Kind) ([]*compliance.Group, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT uuid, connector_uuid, kind, name, description
		FROM compliance_groups WHERE connector_uuid=$1 AND kind=$2 ORDER BY name ASC
	`, connectorUUID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*compliance.Group
	for rows.Next() {
		var g compliance.Group
		if err := rows.Scan(&g.UUID, &g.ConnectorUUID, &g.Kind, &g.Name, &g.Description); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// ReplaceCatalog deletes and reinserts the catalog of one (connector, kind)
// inside a single transaction.
func (r *IndexRepository) ReplaceCatalog(ctx context.Context, connectorUUID uuid.UUID, kind compliance.Kind, rules []*compliance.Rule, groups []*compliance.Group) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM compliance_rules WHERE connector_uuid=$1 AND kind=$2`, connectorUUID, kind); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM compliance_groups WHERE connector_uuid=$1 AND kind=$2`, connectorUUID, kind); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, g := range groups {
		batch.Queue(`
			INSERT INTO compliance_groups (connector_uuid, kind, uuid, name, description)
			VALUES ($1,$2,$3,$4,$5)
		`, connectorUUID, kind, g.UUID, g.Name, g.Description)
	}
	for _, rule := range rules {
		batch.Queue(`
			INSERT INTO compliance_rules (connector_uuid, kind, uuid, group_uuid, name, description)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, connectorUUID, kind, rule.UUID, rule.GroupUUID, rule.Name, rule.Description)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ComplianceProfileRepository implements compliance.ProfileRepository.
type ComplianceProfileRepository struct {
	pool *pgxpool.Pool
}

func NewComplianceProfileRepository(pool *pgxpool.Pool) *ComplianceProfileRepository {
	return &ComplianceProfileRepository{pool: pool}
}

func (r *ComplianceProfileRepository) Save(ctx context.Context, p *compliance.Profile) error {
	providers, err := json.Marshal(p.Providers)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO compliance_profiles (uuid, name, providers) VALUES ($1,$2,$3)
		ON CONFLICT (uuid) DO UPDATE SET name=EXCLUDED.name, providers=EXCLUDED.providers
	`, p.UUID, p.Name, providers)
	return err
}

func (r *ComplianceProfileRepository) GetByUUID(ctx context.Context, profileUUID uuid.UUID) (*compliance.Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT uuid, name, providers FROM compliance_profiles WHERE uuid=$1`, profileUUID)
	return scanComplianceProfile(row)
}

func (r *ComplianceProfileRepository) List(ctx context.Context) ([]*compliance.Profile, error) {
	rows, err := r.pool.Query(ctx, `SELECT uuid, name, providers FROM compliance_profiles ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*compliance.Profile{}
	for rows.Next() {
		p, err := scanComplianceProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanComplianceProfile(row pgx.Row) (*compliance.Profile, error) {
	var p compliance.Profile
	var providers []byte
	if err := row.Scan(&p.UUID, &p.Name, &providers); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(providers, &p.Providers); err != nil {
		return nil, err
	}
	return &p, nil
}
