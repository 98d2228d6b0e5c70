// README: Settings stores: in-memory map and Redis (one JSON document per merchant).
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"yisong/internal/types"
)

var ErrNotFound = errors.New("settings not found")

type Store interface {
	Get(ctx context.Context, merchantID types.ID) (DeliverySettings, error)
	Put(ctx context.Context, s DeliverySettings) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[types.ID]DeliverySettings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[types.ID]DeliverySettings)}
}

func (s *MemoryStore) Get(ctx context.Context, merchantID types.ID) (DeliverySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[merchantID]
	if !ok {
		return DeliverySettings{}, ErrNotFound
	}
	return v.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, v DeliverySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[v.MerchantID] = v.Clone()
	return nil
}

const redisKeyPrefix = "yisong:settings:"

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(merchantID types.ID) string {
	return redisKeyPrefix + string(merchantID)
}

func (s *RedisStore) Get(ctx context.Context, merchantID types.ID) (DeliverySettings, error) {
	raw, err := s.rdb.Get(ctx, redisKey(merchantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DeliverySettings{}, ErrNotFound
	}
	if err != nil {
		return DeliverySettings{}, err
	}
	var v DeliverySettings
	if err := json.Unmarshal(raw, &v); err != nil {
		return DeliverySettings{}, fmt.Errorf("decode settings for %s: %w", merchantID, err)
	}
	return v, nil
}

// Put replaces the whole document in one SET so readers never see a partial update.
func (s *RedisStore) Put(ctx context.Context, v DeliverySettings) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisKey(v.MerchantID), raw, 0).Err()
}
