// README: Rate stores: static in-memory table and PostgreSQL delivery_rates.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetRate(ctx context.Context, platformCode string) (Rate, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rates map[string]Rate
}

func NewMemoryStore(rates []Rate) *MemoryStore {
	m := make(map[string]Rate, len(rates))
	for _, r := range rates {
		m[r.PlatformCode] = r
	}
	return &MemoryStore{rates: m}
}

func (s *MemoryStore) GetRate(ctx context.Context, platformCode string) (Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rates[platformCode]
	if !ok {
		return Rate{}, ErrNoRate
	}
	return r, nil
}

func (s *MemoryStore) SetRate(r Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[r.PlatformCode] = r
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetRate(ctx context.Context, platformCode string) (Rate, error) {
	var r Rate
	var base, perKm, night string
	err := s.db.QueryRow(ctx, `
		SELECT platform_code, base_fare::text, per_km::text, included_km, base_minutes, speed_kmh, night_surcharge::text
		FROM delivery_rates
		WHERE platform_code = $1`, platformCode,
	).Scan(&r.PlatformCode, &base, &perKm, &r.IncludedKm, &r.BaseMinutes, &r.SpeedKmh, &night)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrNoRate
	}
	if err != nil {
		return Rate{}, err
	}
	if r.BaseFare, err = decimal.NewFromString(base); err != nil {
		return Rate{}, fmt.Errorf("base_fare: %w", err)
	}
	if r.PerKm, err = decimal.NewFromString(perKm); err != nil {
		return Rate{}, fmt.Errorf("per_km: %w", err)
	}
	if r.NightSurcharge, err = decimal.NewFromString(night); err != nil {
		return Rate{}, fmt.Errorf("night_surcharge: %w", err)
	}
	return r, nil
}
