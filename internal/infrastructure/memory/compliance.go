package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

type catalogKey struct {
	connector uuid.UUID
	kind      compliance.Kind
}

type catalog struct {
	rules  map[uuid.UUID]*compliance.Rule
	groups map[uuid.UUID]*compliance.Group
}

// IndexRepository is an in-memory compliance.IndexRepository.
type IndexRepository struct {
	mu       sync.RWMutex
	catalogs map[catalogKey]*catalog
}

// NewIndexRepository creates an empty index.
func NewIndexRepository() *IndexRepository {
	return &IndexRepository{catalogs: make(map[catalogKey]*catalog)}
}

func (r *IndexRepository) RuleExists(ctx context.Context, ruleUUID, connectorUUID uuid.UUID, kind compliance.Kind) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.catalogs[catalogKey{connectorUUID, kind}]
	if !ok {
		return false, nil
	}
	_, ok = c.rules[ruleUUID]
	return ok, nil
}

func (r *IndexRepository) GroupExists(ctx context.Context, groupUUID, connectorUUID uuid.UUID, kind compliance.Kind) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.catalogs[catalogKey{connectorUUID, kind}]
	if !ok {
		return false, nil
	}
	_, ok = c.groups[groupUUID]
	return ok, nil
}

func (r *IndexRepository) ListRules(ctx context.Context, connectorUUID uuid.UUID, kind compliance.Kind) ([]*compliance.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*compliance.Rule
	if c, ok := r.catalogs[catalogKey{connectorUUID, kind}]; ok {
		for _, rule := range c.rules {
			cp := *rule
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *IndexRepository) ListGroups(ctx context.Context, connectorUUID uuid.UUID, kind compliance.Kind) ([]*compliance.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*compliance.Group
	if c, ok := r.catalogs[catalogKey{connectorUUID, kind}]; ok {
		for _, g := range c.groups {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *IndexRepository) ReplaceCatalog(ctx context.Context, connectorUUID uuid.UUID, kind compliance.Kind, rules []*compliance.Rule, groups []*compliance.Group) error {
	c := &catalog{
		rules:  make(map[uuid.UUID]*compliance.Rule, len(rules)),
		groups: make(map[uuid.UUID]*compliance.Group, len(groups)),
	}
	for _, rule := range rules {
		cp := *rule
		c.rules[rule.UUID] = &cp
	}
	for _, g := range groups {
		cp := *g
		c.groups[g.UUID] = &cp
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogs[catalogKey{connectorUUID, kind}] = c
	return nil
}

// ComplianceProfileRepository is an in-memory compliance.ProfileRepository.
type ComplianceProfileRepository struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*compliance.Profile
}

// NewComplianceProfileRepository creates an empty repository.
func NewComplianceProfileRepository() *ComplianceProfileRepository {
	return &ComplianceProfileRepository{profiles: make(map[uuid.UUID]*compliance.Profile)}
}

func (r *ComplianceProfileRepository) Save(ctx context.Context, p *compliance.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.UUID] = cloneComplianceProfile(p)
	return nil
}

func (r *ComplianceProfileRepository) GetByUUID(ctx context.Context, profileUUID uuid.UUID) (*compliance.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[profileUUID]
	if !ok {
		return nil, nil
	}
	return cloneComplianceProfile(p), nil
}

func (r *ComplianceProfileRepository) List(ctx context.Context) ([]*compliance.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*compliance.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, cloneComplianceProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneComplianceProfile(p *compliance.Profile) *compliance.Profile {
	cp := *p
	cp.Providers = make([]compliance.Provider, len(p.Providers))
	for i, pr := range p.Providers {
		pr.Rules = append([]uuid.UUID(nil), pr.Rules...)
		pr.Groups = append([]uuid.UUID(nil), pr.Groups...)
		cp.Providers[i] = pr
	}
	return &cp
}
