package memory

import (
	"context"
	"time"

	"marketplace-ledger/internal/core/domain"
)

// RateRepo implements ports.RateRepository.
type RateRepo struct {
	s *Store
}

func (r *RateRepo) Latest(ctx context.Context) (*domain.ConversionRate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if len(r.s.rates) == 0 {
		return nil, nil
	}
	rate := r.s.rates[len(r.s.rates)-1]
	return &rate, nil
}

func (r *RateRepo) Insert(ctx context.Context, rate *domain.ConversionRate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rate.ID = int64(len(r.s.rates)) + 1
	rate.UpdatedAt = time.Now().UTC()
	r.s.rates = append(r.s.rates, *rate)
	return nil
}
