// README: Settings service returns the merchant's current settings (defaults until saved).
package settings

import (
	"context"
	"errors"
	"time"

	"yisong/internal/types"
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) Get(ctx context.Context, merchantID types.ID) (DeliverySettings, error) {
	v, err := s.store.Get(ctx, merchantID)
	if errors.Is(err, ErrNotFound) {
		return Defaults(merchantID), nil
	}
	if err != nil {
		return DeliverySettings{}, err
	}
	return v, nil
}

// Put validates and replaces the merchant's settings. Invalid input leaves the stored copy as is.
func (s *Service) Put(ctx context.Context, merchantID types.ID, v DeliverySettings) (DeliverySettings, error) {
	v.MerchantID = merchantID
	if v.StrategyPriority == "" {
		v.StrategyPriority = SubModeAmountTier
	}
	if err := Validate(v); err != nil {
		return DeliverySettings{}, err
	}
	v.UpdatedAt = s.now()
	if err := s.store.Put(ctx, v); err != nil {
		return DeliverySettings{}, err
	}
	return v.Clone(), nil
}
