package compliance

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_connector.go -package=mocks . ConnectorClient

import (
	"context"

	"github.com/google/uuid"
)

// IndexRepository holds the per-connector catalog of rules and groups.
type IndexRepository interface {
	RuleExists(ctx context.Context, ruleUUID, connectorUUID uuid.UUID, kind Kind) (bool, error)
	GroupExists(ctx context.Context, groupUUID, connectorUUID uuid.UUID, kind Kind) (bool, error)
	ListRules(ctx context.Context, connectorUUID uuid.UUID, kind Kind) ([]*Rule, error)
	ListGroups(ctx context.Context, connectorUUID uuid.UUID, kind Kind) ([]*Group, error)
	// ReplaceCatalog swaps the full catalog of one (connector, kind).
	ReplaceCatalog(ctx context.Context, connectorUUID uuid.UUID, kind Kind, rules []*Rule, groups []*Group) error
}

// ProfileRepository holds compliance profiles.
type ProfileRepository interface {
	Save(ctx context.Context, p *Profile) error
	GetByUUID(ctx context.Context, profileUUID uuid.UUID) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
}

// ConnectorClient queries a compliance provider. Implementations wrap
// network and protocol failures as apperr.ErrConnector.
type ConnectorClient interface {
	QueryCompliance(ctx context.Context, ref ConnectorRef, req *Request) ([]RuleResult, error)
}
