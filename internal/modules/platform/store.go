// README: Platform stores: seeded in-memory registry and the PostgreSQL table.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store interface {
	ListByType(ctx context.Context, t Type) ([]Platform, error)
	GetByCode(ctx context.Context, code string, t Type) (*Platform, error)
}

type MemoryStore struct {
	mu        sync.RWMutex
	platforms []Platform
}

// NewMemoryStore copies the given platforms; codes must be unique within a type.
func NewMemoryStore(platforms []Platform) (*MemoryStore, error) {
	seen := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		key := string(p.Type) + "/" + p.Code
		if seen[key] {
			return nil, fmt.Errorf("duplicate platform %s", key)
		}
		seen[key] = true
	}
	out := make([]Platform, len(platforms))
	copy(out, platforms)
	return &MemoryStore{platforms: out}, nil
}

func (s *MemoryStore) ListByType(ctx context.Context, t Type) ([]Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Platform, 0)
	for _, p := range s.platforms {
		if t == "" || p.Type == t {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string, t Type) (*Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.platforms {
		if p.Code == code && p.Type == t {
			found := p
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListByType(ctx context.Context, t Type) ([]Platform, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, code, name, type, status, priority, api_url
		FROM platforms
		WHERE $1 = '' OR type = $1`, string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Platform, 0)
	for rows.Next() {
		var p Platform
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Type, &p.Status, &p.Priority, &p.APIURL); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string, t Type) (*Platform, error) {
	var p Platform
	err := s.db.QueryRow(ctx, `
		SELECT id, code, name, type, status, priority, api_url
		FROM platforms
		WHERE code = $1 AND type = $2`, code, string(t),
	).Scan(&p.ID, &p.Code, &p.Name, &p.Type, &p.Status, &p.Priority, &p.APIURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
