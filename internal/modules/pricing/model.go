// README: Carrier rate table and quote shapes consumed by the dispatch evaluator.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rate is one carrier's tariff: a flat fare covering IncludedKm, then PerKm beyond it.
type Rate struct {
	PlatformCode   string
	BaseFare       decimal.Decimal
	PerKm          decimal.Decimal
	IncludedKm     float64
	BaseMinutes    int
	SpeedKmh       float64
	NightSurcharge decimal.Decimal
}

type QuoteRequest struct {
	Platform    string
	DistanceKm  float64
	RequestTime time.Time
}

type Quote struct {
	Platform   string          `json:"platform"`
	Price      decimal.Decimal `json:"price"`
	ETAMinutes int             `json:"etaMinutes"`
}

// DefaultRates mirrors the seeded delivery_rates table.
func DefaultRates() []Rate {
	return []Rate{
		{PlatformCode: "dada", BaseFare: decimal.NewFromInt(5), PerKm: decimal.NewFromInt(1), IncludedKm: 1, BaseMinutes: 15, SpeedKmh: 18, NightSurcharge: decimal.NewFromInt(2)},
		{PlatformCode: "sf", BaseFare: decimal.NewFromInt(7), PerKm: decimal.RequireFromString("1.5"), IncludedKm: 2, BaseMinutes: 10, SpeedKmh: 25, NightSurcharge: decimal.NewFromInt(3)},
		{PlatformCode: "shansong", BaseFare: decimal.NewFromInt(8), PerKm: decimal.NewFromInt(2), IncludedKm: 1, BaseMinutes: 8, SpeedKmh: 30, NightSurcharge: decimal.NewFromInt(3)},
	}
}
