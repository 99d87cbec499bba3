package compliance

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	domain "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

// ExistenceCache remembers existence answers, positive and negative.
type ExistenceCache interface {
	Lookup(ctx context.Context, key string) (exists, hit bool, err error)
	Store(ctx context.Context, key string, exists bool) error
	// Generation returns the current generation of scope, zero when unset.
	Generation(ctx context.Context, scope string) (int64, error)
	// Advance moves scope to its next generation.
	Advance(ctx context.Context, scope string) error
	// Invalidate drops every key starting with prefix.
	Invalidate(ctx context.Context, prefix string) error
}

// Index answers whether a provider rule or group is known.
type Index struct {
	repo   domain.IndexRepository
	cache  ExistenceCache
	logger zerolog.Logger
}

// NewIndex creates an index service. cache may be nil.
func NewIndex(repo domain.IndexRepository, cache ExistenceCache, logger zerolog.Logger) *Index {
	return &Index{
		repo:   repo,
		cache:  cache,
		logger: logger.With().Str("service", "compliance_index").Logger(),
	}
}

// RuleExists reports whether the connector published the rule under kind.
func (i *Index) RuleExists(ctx context.Context, ruleUUID, connectorUUID uuid.UUID, kind domain.Kind) (bool, error) {
	return i.exists(ctx, "rule", connectorUUID, kind, ruleUUID, func() (bool, error) {
		return i.repo.RuleExists(ctx, ruleUUID, connectorUUID, kind)
	})
}

// GroupExists reports whether the connector published the group under kind.
func (i *Index) GroupExists(ctx context.Context, groupUUID, connectorUUID uuid.UUID, kind domain.Kind) (bool, error) {
	return i.exists(ctx, "group", connectorUUID, kind, groupUUID, func() (bool, error) {
		return i.repo.GroupExists(ctx, groupUUID, connectorUUID, kind)
	})
}

// exists reads through the cache. Keys carry the catalog generation read
// before the store, so an answer loaded before a sync is stored under a
// generation that later lookups no longer use.
func (i *Index) exists(ctx context.Context, what string, connectorUUID uuid.UUID, kind domain.Kind, id uuid.UUID, load func() (bool, error)) (bool, error) {
	if i.cache == nil {
		return load()
	}
	gen, err := i.cache.Generation(ctx, generationScope(connectorUUID, kind))
	if err != nil {
		i.logger.Warn().Err(err).Str("connector", connectorUUID.String()).Msg("existence cache generation lookup failed")
		return load()
	}
	key := cacheKey(what, connectorUUID, kind, gen, id)
	exists, hit, err := i.cache.Lookup(ctx, key)
	if err != nil {
		i.logger.Warn().Err(err).Str("key", key).Msg("existence cache lookup failed")
	} else if hit {
		return exists, nil
	}
	exists, err = load()
	if err != nil {
		return false, err
	}
	if err := i.cache.Store(ctx, key, exists); err != nil {
		i.logger.Warn().Err(err).Str("key", key).Msg("existence cache store failed")
	}
	return exists, nil
}

// ListRules returns the catalog rules of a connector.
func (i *Index) ListRules(ctx context.Context, connectorUUID uuid.UUID, kind domain.Kind) ([]*domain.Rule, error) {
	return i.repo.ListRules(ctx, connectorUUID, kind)
}

// ListGroups returns the catalog groups of a connector.
func (i *Index) ListGroups(ctx context.Context, connectorUUID uuid.UUID, kind domain.Kind) ([]*domain.Group, error) {
	return i.repo.ListGroups(ctx, connectorUUID, kind)
}

// SyncCatalog replaces the catalog a connector publishes for kind.
func (i *Index) SyncCatalog(ctx context.Context, connectorUUID uuid.UUID, kind domain.Kind, rules []*domain.Rule, groups []*domain.Group) error {
	if connectorUUID == uuid.Nil {
		return apperr.Validation("connector uuid is required")
	}
	if strings.TrimSpace(string(kind)) == "" {
		return apperr.Validation("kind is required")
	}

	groupSet := make(map[uuid.UUID]struct{}, len(groups))
	for _, g := range groups {
		if g == nil || g.UUID == uuid.Nil {
			return apperr.Validation("group uuid is required")
		}
		if _, dup := groupSet[g.UUID]; dup {
			return apperr.Validation("duplicate group %s", g.UUID)
		}
		groupSet[g.UUID] = struct{}{}
		g.ConnectorUUID, g.Kind = connectorUUID, kind
	}
	ruleSet := make(map[uuid.UUID]struct{}, len(rules))
	for _, r := range rules {
		if r == nil || r.UUID == uuid.Nil {
			return apperr.Validation("rule uuid is required")
		}
		if _, dup := ruleSet[r.UUID]; dup {
			return apperr.Validation("duplicate rule %s", r.UUID)
		}
		ruleSet[r.UUID] = struct{}{}
		if r.GroupUUID != nil {
			if _, ok := groupSet[*r.GroupUUID]; !ok {
				return apperr.Validation("rule %s references unknown group %s", r.UUID, *r.GroupUUID)
			}
		}
		r.ConnectorUUID, r.Kind = connectorUUID, kind
	}

	if err := i.repo.ReplaceCatalog(ctx, connectorUUID, kind, rules, groups); err != nil {
		return err
	}
	if i.cache != nil {
		if err := i.cache.Advance(ctx, generationScope(connectorUUID, kind)); err != nil {
			i.logger.Warn().Err(err).Str("connector", connectorUUID.String()).Msg("existence cache generation advance failed")
		}
		// Entries of earlier generations are unreachable; drop them.
		for _, what := range []string{"rule", "group"} {
			if err := i.cache.Invalidate(ctx, cachePrefix(what, connectorUUID, kind)); err != nil {
				i.logger.Warn().Err(err).Str("connector", connectorUUID.String()).Msg("existence cache invalidation failed")
			}
		}
	}
	i.logger.Info().
		Str("connector", connectorUUID.String()).
		Str("kind", string(kind)).
		Int("rules", len(rules)).
		Int("groups", len(groups)).
		Msg("compliance catalog synced")
	return nil
}

func cachePrefix(what string, connectorUUID uuid.UUID, kind domain.Kind) string {
	return what + ":" + connectorUUID.String() + ":" + string(kind) + ":"
}

func cacheKey(what string, connectorUUID uuid.UUID, kind domain.Kind, gen int64, id uuid.UUID) string {
	return cachePrefix(what, connectorUUID, kind) + strconv.FormatInt(gen, 10) + ":" + id.String()
}

func generationScope(connectorUUID uuid.UUID, kind domain.Kind) string {
	return connectorUUID.String() + ":" + string(kind)
}
