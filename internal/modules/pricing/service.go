// README: Pricing service computes carrier quotes and fans out quote requests concurrently.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoRate     = errors.New("no rate for platform")
	ErrBadRequest = errors.New("bad request")
)

const (
	nightStartHour = 22
	nightEndHour   = 6
	maxParallel    = 8
)

type Service struct {
	store Store
	loc   *time.Location
}

func NewService(store Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, loc: loc}
}

// Quote prices one carrier for a distance: base fare, per-km beyond the included distance,
// plus the night surcharge between 22:00 and 06:00 local time. Prices round to 0.1.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.DistanceKm < 0 || math.IsNaN(req.DistanceKm) {
		return Quote{}, fmt.Errorf("%w: distance must be non-negative", ErrBadRequest)
	}
	rate, err := s.store.GetRate(ctx, req.Platform)
	if err != nil {
		return Quote{}, fmt.Errorf("%s: %w", req.Platform, err)
	}
	return s.price(rate, req), nil
}

func (s *Service) price(rate Rate, req QuoteRequest) Quote {
	extraKm := math.Max(0, req.DistanceKm-rate.IncludedKm)
	price := rate.BaseFare.Add(rate.PerKm.Mul(decimal.NewFromFloat(extraKm)))
	if !req.RequestTime.IsZero() && isNight(req.RequestTime.In(s.loc)) {
		price = price.Add(rate.NightSurcharge)
	}

	eta := rate.BaseMinutes
	if rate.SpeedKmh > 0 {
		eta += int(math.Ceil(req.DistanceKm * 60 / rate.SpeedKmh))
	}
	return Quote{Platform: rate.PlatformCode, Price: price.Round(1), ETAMinutes: eta}
}

// QuoteAll requests quotes for every platform in parallel under timeout. Platforms that
// fail or miss the deadline are left out of the result.
func (s *Service) QuoteAll(ctx context.Context, platforms []string, distanceKm float64, at time.Time, timeout time.Duration) map[string]Quote {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		mu     sync.Mutex
		quotes = make(map[string]Quote, len(platforms))
		g      errgroup.Group
	)
	g.SetLimit(maxParallel)
	for _, code := range platforms {
		g.Go(func() error {
			q, err := s.Quote(ctx, QuoteRequest{Platform: code, DistanceKm: distanceKm, RequestTime: at})
			if err == nil && ctx.Err() != nil {
				err = ctx.Err()
			}
			if err != nil {
				log.Printf("pricing: quote %s skipped: %v", code, err)
				return nil
			}
			mu.Lock()
			quotes[code] = q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return quotes
}

func isNight(t time.Time) bool {
	h := t.Hour()
	return h >= nightStartHour || h < nightEndHour
}
