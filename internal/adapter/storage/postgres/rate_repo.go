package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// RateRepo implements ports.RateRepository.
type RateRepo struct {
	pool Pool
}

// NewRateRepo creates a new RateRepo.
func NewRateRepo(pool Pool) *RateRepo {
	return &RateRepo{pool: pool}
}

// Latest returns the newest rate row, or nil if none was ever stored.
func (r *RateRepo) Latest(ctx context.Context) (*domain.ConversionRate, error) {
	query := `SELECT id, egp_to_gold::text, egp_to_mass::text, updated_by, updated_at
		FROM conversion_rates ORDER BY id DESC LIMIT 1`

	rate := &domain.ConversionRate{}
	var gold, mass string
	err := r.pool.QueryRow(ctx, query).Scan(&rate.ID, &gold, &mass, &rate.UpdatedBy, &rate.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest rate: %w", err)
	}
	if rate.EGPToGold, err = parseDecimal("egp_to_gold", gold); err != nil {
		return nil, err
	}
	if rate.EGPToMass, err = parseDecimal("egp_to_mass", mass); err != nil {
		return nil, err
	}
	return rate, nil
}

// Insert stores a new rate version and fills in ID and UpdatedAt.
func (r *RateRepo) Insert(ctx context.Context, rate *domain.ConversionRate) error {
	query := `INSERT INTO conversion_rates (egp_to_gold, egp_to_mass, updated_by)
		VALUES ($1, $2, $3) RETURNING id, updated_at`

	err := r.pool.QueryRow(ctx, query, rate.EGPToGold.String(), rate.EGPToMass.String(), rate.UpdatedBy).
		Scan(&rate.ID, &rate.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert rate: %w", err)
	}
	return nil
}
