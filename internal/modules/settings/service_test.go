package settings

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults("m_1")); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(s *DeliverySettings)
	}{
		{"unknown strategy", func(s *DeliverySettings) { s.DispatchStrategy = "cheapest" }},
		{"overlapping distance", func(s *DeliverySettings) {
			s.DistanceBasedPlatforms = []DistanceRule{{0, 3, "dada"}, {2, 5, "sf"}}
		}},
		{"unsorted distance", func(s *DeliverySettings) {
			s.DistanceBasedPlatforms = []DistanceRule{{3, 5, "sf"}, {0, 3, "dada"}}
		}},
		{"empty distance range", func(s *DeliverySettings) {
			s.DistanceBasedPlatforms = []DistanceRule{{3, 3, "sf"}}
		}},
		{"missing distance platform", func(s *DeliverySettings) {
			s.DistanceBasedPlatforms = []DistanceRule{{0, 3, ""}}
		}},
		{"custom without rules", func(s *DeliverySettings) {
			s.DispatchStrategy = StrategyCustom
			s.DistanceBasedPlatforms = nil
		}},
		{"overlapping tiers", func(s *DeliverySettings) {
			s.OrderAmountTiers = []AmountTier{
				{MinAmount: decimal.Zero, MaxAmount: decimal.NewFromInt(50), Strategy: StrategyLowPrice},
				{MinAmount: decimal.NewFromInt(40), MaxAmount: decimal.NewFromInt(90), Strategy: StrategyFastest},
			}
		}},
		{"custom-platform without preference", func(s *DeliverySettings) {
			s.OrderAmountTiers = []AmountTier{
				{MinAmount: decimal.Zero, MaxAmount: decimal.NewFromInt(50), Strategy: StrategyCustomPlatform},
			}
		}},
		{"tier strategy not allowed", func(s *DeliverySettings) {
			s.OrderAmountTiers = []AmountTier{
				{MinAmount: decimal.Zero, MaxAmount: decimal.NewFromInt(50), Strategy: StrategyBalanced},
			}
		}},
		{"bad clock", func(s *DeliverySettings) { s.TimeBasedStrategies[0].StartTime = "7am" }},
		{"hour out of range", func(s *DeliverySettings) { s.TimeBasedStrategies[0].EndTime = "24:00" }},
		{"empty window", func(s *DeliverySettings) {
			s.TimeBasedStrategies[0].StartTime = "08:00"
			s.TimeBasedStrategies[0].EndTime = "08:00"
		}},
		{"time window strategy custom", func(s *DeliverySettings) { s.TimeBasedStrategies[0].Strategy = StrategyCustom }},
		{"negative retries", func(s *DeliverySettings) { s.RetryStrategy.MaxRetries = -1 }},
		{"negative wait", func(s *DeliverySettings) { s.NoRiderEscalation.WaitPerPlatform = -5 }},
		{"negative tip", func(s *DeliverySettings) { s.NoRiderEscalation.TipAmount = decimal.NewFromInt(-1) }},
		{"negative ceiling", func(s *DeliverySettings) { s.MaxDeliveryFee = decimal.NewFromInt(-1) }},
		{"unknown priority", func(s *DeliverySettings) { s.StrategyPriority = "both" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Defaults("m_1")
			tc.mutate(&s)
			if err := Validate(s); !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}
}

func TestParseClockAndWindow(t *testing.T) {
	start, _ := ParseClock("21:00")
	end, _ := ParseClock("02:00")
	cases := map[string]bool{"20:59": false, "21:00": true, "23:59": true, "00:00": true, "01:59": true, "02:00": false}
	for clock, want := range cases {
		m, err := ParseClock(clock)
		if err != nil {
			t.Fatalf("ParseClock(%s): %v", clock, err)
		}
		if got := WindowContains(start, end, m); got != want {
			t.Errorf("wrapping window contains %s = %v, want %v", clock, got, want)
		}
	}

	start, _ = ParseClock("11:00")
	end, _ = ParseClock("13:00")
	if !WindowContains(start, end, 11*60) || WindowContains(start, end, 13*60) {
		t.Fatalf("window must be half-open [start, end)")
	}
}

func TestServiceGetReturnsDefaultsUntilSaved(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	got, err := svc.Get(ctx, "m_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DispatchStrategy != StrategyBalanced || got.MerchantID != "m_1" {
		t.Fatalf("expected defaults, got %+v", got)
	}

	next := Defaults("ignored")
	next.DispatchStrategy = StrategyLowPrice
	next.StrategyPriority = ""
	saved, err := svc.Put(ctx, "m_1", next)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if saved.MerchantID != "m_1" || saved.StrategyPriority != SubModeAmountTier || saved.UpdatedAt.IsZero() {
		t.Fatalf("unexpected saved settings: %+v", saved)
	}

	got, _ = svc.Get(ctx, "m_1")
	if got.DispatchStrategy != StrategyLowPrice {
		t.Fatalf("expected stored settings, got %s", got.DispatchStrategy)
	}
}

func TestServicePutRejectsInvalidWithoutChanges(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	valid := Defaults("m_1")
	valid.DispatchStrategy = StrategyFastest
	if _, err := svc.Put(ctx, "m_1", valid); err != nil {
		t.Fatalf("Put: %v", err)
	}

	bad := Defaults("m_1")
	bad.DistanceBasedPlatforms = []DistanceRule{{5, 1, "dada"}}
	if _, err := svc.Put(ctx, "m_1", bad); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	got, _ := svc.Get(ctx, "m_1")
	if got.DispatchStrategy != StrategyFastest {
		t.Fatalf("invalid put must not change settings, got %s", got.DispatchStrategy)
	}
}

func TestMemoryStoreCopiesSlices(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := Defaults("m_1")
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.DistanceBasedPlatforms[0].Platform = "mutated"

	got, _ := store.Get(ctx, "m_1")
	if got.DistanceBasedPlatforms[0].Platform != "dada" {
		t.Fatalf("store shares slices with caller")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("YISONG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("YISONG_TEST_REDIS_ADDR not set; skipping Redis-backed tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	store := NewRedisStore(rdb)
	t.Cleanup(func() { rdb.Del(ctx, redisKey("m_redis")) })

	if _, err := store.Get(ctx, "m_redis"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	want := Defaults("m_redis")
	want.MaxDeliveryFee = decimal.RequireFromString("12.5")
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "m_redis")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.MaxDeliveryFee.Equal(want.MaxDeliveryFee) || len(got.OrderAmountTiers) != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
