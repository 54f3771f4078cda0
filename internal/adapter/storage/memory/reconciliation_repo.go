package memory

import (
	"context"
	"fmt"
	"sort"

	"marketplace-ledger/internal/core/domain"
)

// ReconciliationRepo implements ports.ReconciliationRepository.
type ReconciliationRepo struct {
	s *Store
}

func (r *ReconciliationRepo) Create(ctx context.Context, c *domain.ReconciliationCase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.cases[c.ID]; ok {
		return fmt.Errorf("memory: reconciliation case %s already exists", c.ID)
	}
	r.s.cases[c.ID] = *c
	return nil
}

func (r *ReconciliationRepo) ListOpen(ctx context.Context, limit int) ([]domain.ReconciliationCase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var open []domain.ReconciliationCase
	for _, c := range r.s.cases {
		if c.Status == domain.ReconciliationOpen {
			open = append(open, c)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	// Same as LIMIT $1: zero or less returns nothing.
	if limit <= 0 {
		return nil, nil
	}
	if len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

func (r *ReconciliationRepo) Update(ctx context.Context, c *domain.ReconciliationCase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.cases[c.ID]; !ok {
		return fmt.Errorf("reconciliation case not found: %s", c.ID)
	}
	r.s.cases[c.ID] = *c
	return nil
}
