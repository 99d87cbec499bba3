package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/trigger"
)

// TriggerRepository implements trigger.Repository.
type TriggerRepository struct {
	pool *pgxpool.Pool
}

func NewTriggerRepository(pool *pgxpool.Pool) *TriggerRepository {
	return &TriggerRepository{pool: pool}
}

const triggerColumns = `uuid, name, description, type, resource_type, event, ignore_trigger, combinator, conditions, actions, approval_profile_uuid, created_at, updated_at`

func (r *TriggerRepository) Create(ctx context.Context, t *trigger.Trigger) error {
	conditions, actions, err := marshalTriggerBody(t)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO triggers (`+triggerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, t.UUID, t.Name, t.Description, t.Type, t.ResourceType, t.Event, t.IgnoreTrigger, t.Combinator, conditions, actions, t.ApprovalProfileUUID, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.AlreadyExists("trigger %q", t.Name)
	}
	return err
}

func (r *TriggerRepository) Update(ctx context.Context, t *trigger.Trigger) error {
	conditions, actions, err := marshalTriggerBody(t)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE triggers
		SET name=$1, description=$2, type=$3, resource_type=$4, event=$5, ignore_trigger=$6, combinator=$7, conditions=$8, actions=$9, approval_profile_uuid=$10, updated_at=$11
		WHERE uuid=$12
	`, t.Name, t.Description, t.Type, t.ResourceType, t.Event, t.IgnoreTrigger, t.Combinator, conditions, actions, t.ApprovalProfileUUID, t.UpdatedAt, t.UUID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("trigger %q", t.Name)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("trigger %s", t.UUID)
	}
	return nil
}

func (r *TriggerRepository) GetByUUID(ctx context.Context, triggerUUID uuid.UUID) (*trigger.Trigger, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE uuid=$1`, triggerUUID)
	return scanTrigger(row)
}

func (r *TriggerRepository) List(ctx context.Context, filter trigger.Filter) ([]*trigger.Trigger, error) {
	var c conditions
	if filter.ResourceType != nil {
		c.add("resource_type=?", *filter.ResourceType)
	}
	if filter.Event != nil {
		c.add("event=?", *filter.Event)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+triggerColumns+` FROM triggers`+c.where()+` ORDER BY id ASC`, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*trigger.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TriggerRepository) Delete(ctx context.Context, triggerUUID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM triggers WHERE uuid=$1`, triggerUUID)
	return err
}

func marshalTriggerBody(t *trigger.Trigger) ([]byte, []byte, error) {
	conditions, err := json.Marshal(nonNil(t.Conditions))
	if err != nil {
		return nil, nil, err
	}
	actions, err := json.Marshal(nonNil(t.Actions))
	if err != nil {
		return nil, nil, err
	}
	return conditions, actions, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanTrigger(row pgx.Row) (*trigger.Trigger, error) {
	var t trigger.Trigger
	var conditions, actions []byte
	err := row.Scan(&t.UUID, &t.Name, &t.Description, &t.Type, &t.ResourceType, &t.Event, &t.IgnoreTrigger, &t.Combinator, &conditions, &actions, &t.ApprovalProfileUUID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(conditions, &t.Conditions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actions, &t.Actions); err != nil {
		return nil, err
	}
	return &t, nil
}

// ObjectStore implements trigger.ObjectStore over the trigger_objects table.
type ObjectStore struct {
	pool *pgxpool.Pool
}

func NewObjectStore(pool *pgxpool.Pool) *ObjectStore {
	return &ObjectStore{pool: pool}
}

func (s *ObjectStore) Load(ctx context.Context, resourceType string, objectUUID uuid.UUID) (*trigger.Object, error) {
	var properties, custom []byte
	obj := &trigger.Object{}
	err := s.pool.QueryRow(ctx, `
		SELECT uuid, resource_type, properties, custom FROM trigger_objects
		WHERE uuid=$1 AND resource_type=$2
	`, objectUUID, resourceType).Scan(&obj.UUID, &obj.ResourceType, &properties, &custom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(properties, &obj.Properties); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(custom, &obj.Custom); err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *ObjectStore) Save(ctx context.Context, obj *trigger.Object) error {
	properties, err := json.Marshal(nonNilMap(obj.Properties))
	if err != nil {
		return err
	}
	custom, err := json.Marshal(nonNilMap(obj.Custom))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trigger_objects (uuid, resource_type, properties, custom) VALUES ($1,$2,$3,$4)
		ON CONFLICT (uuid) DO UPDATE SET resource_type=EXCLUDED.resource_type, properties=EXCLUDED.properties, custom=EXCLUDED.custom
	`, obj.UUID, obj.ResourceType, properties, custom)
	return err
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
