// Package cache mirrors authoritative on-chain template and claim state
// into a fast-read store. The mirror is advisory and eventually consistent;
// it never decides a mint, it only spares callers doomed transactions.
package cache

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
)

// Store abstracts the cache backend. All writes are idempotent: template
// upserts are keyed by template ID, and RecordClaim inserts at most one row
// per (profile, template) pair, bumping supply only on first insert.
type Store interface {
	UpsertTemplate(ctx context.Context, t eligibility.Template) error
	Template(ctx context.Context, templateID *big.Int) (*eligibility.Template, error)
	TemplateIDs(ctx context.Context) ([]*big.Int, error)
	RecordClaim(ctx context.Context, rec eligibility.ClaimRecord) error
	HasClaimed(ctx context.Context, profileID, templateID *big.Int) (bool, error)
	ClaimsFor(ctx context.Context, profileID *big.Int) ([]eligibility.ClaimRecord, error)
}

// MemoryStore backs tests and single-node dev. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]eligibility.Template
	updated   map[string]time.Time
	claims    map[string]eligibility.ClaimRecord // profileId|templateId
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]eligibility.Template),
		updated:   make(map[string]time.Time),
		claims:    make(map[string]eligibility.ClaimRecord),
	}
}

func (m *MemoryStore) UpsertTemplate(_ context.Context, t eligibility.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID.String()] = t
	m.updated[t.ID.String()] = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Template(_ context.Context, templateID *big.Int) (*eligibility.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, found := m.templates[templateID.String()]
	if !found {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStore) TemplateIDs(_ context.Context) ([]*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]*big.Int, 0, len(m.templates))
	for _, t := range m.templates {
		ids = append(ids, new(big.Int).Set(t.ID))
	}
	return ids, nil
}

func (m *MemoryStore) RecordClaim(_ context.Context, rec eligibility.ClaimRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.ProfileID.String() + "|" + rec.TemplateID.String()
	if _, exists := m.claims[key]; exists {
		return nil
	}
	m.claims[key] = rec
	if t, found := m.templates[rec.TemplateID.String()]; found {
		t.CurrentSupply++
		m.templates[rec.TemplateID.String()] = t
	}
	return nil
}

func (m *MemoryStore) HasClaimed(_ context.Context, profileID, templateID *big.Int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, found := m.claims[profileID.String()+"|"+templateID.String()]
	return found, nil
}

func (m *MemoryStore) ClaimsFor(_ context.Context, profileID *big.Int) ([]eligibility.ClaimRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []eligibility.ClaimRecord
	for _, rec := range m.claims {
		if rec.ProfileID.Cmp(profileID) == 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}
