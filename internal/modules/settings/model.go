// README: Per-merchant delivery settings that drive dispatch and escalation.
package settings

import (
	"time"

	"github.com/shopspring/decimal"

	"yisong/internal/types"
)

type Strategy string

const (
	StrategyLowPrice Strategy = "low-price"
	StrategyFastest  Strategy = "fastest"
	StrategyBalanced Strategy = "balanced"
	StrategyCustom   Strategy = "custom"

	// StrategyCustomPlatform is only valid on amount tiers.
	StrategyCustomPlatform Strategy = "custom-platform"
)

// SubMode names the balanced sub-strategy that governs when both are enabled.
type SubMode string

const (
	SubModeAmountTier SubMode = "amount-tier"
	SubModeTimeBased  SubMode = "time-based"
)

type DistanceRule struct {
	MinDistance float64 `json:"minDistance" validate:"gte=0"`
	MaxDistance float64 `json:"maxDistance" validate:"gt=0"`
	Platform    string  `json:"platform" validate:"required"`
}

type TimeStrategy struct {
	Name      string   `json:"name"`
	StartTime string   `json:"startTime" validate:"required"`
	EndTime   string   `json:"endTime" validate:"required"`
	Strategy  Strategy `json:"strategy" validate:"oneof=low-price fastest"`
	Enabled   bool     `json:"enabled"`
}

type AmountTier struct {
	MinAmount          decimal.Decimal `json:"minAmount"`
	MaxAmount          decimal.Decimal `json:"maxAmount"`
	Strategy           Strategy        `json:"strategy" validate:"oneof=low-price fastest custom-platform"`
	PlatformPreference string          `json:"platformPreference,omitempty"`
}

type RetryStrategy struct {
	Enabled                bool `json:"enabled"`
	MaxRetries             int  `json:"maxRetries" validate:"gte=0,lte=20"`
	RetryInterval          int  `json:"retryInterval" validate:"gte=0,lte=3600"`
	AutoSwitchPlatform     bool `json:"autoSwitchPlatform"`
	FallbackToSelfDelivery bool `json:"fallbackToSelfDelivery"`
}

type NoRiderEscalation struct {
	Enabled            bool            `json:"enabled"`
	WaitPerPlatform    int             `json:"waitPerPlatform" validate:"gte=0,lte=3600"`
	PostExhaustionWait int             `json:"postExhaustionWait" validate:"gte=0,lte=3600"`
	AutoTipEnabled     bool            `json:"autoTipEnabled"`
	TipAmount          decimal.Decimal `json:"tipAmount"`
	MaxTipAmount       decimal.Decimal `json:"maxTipAmount"`
	TipIncrementRounds int             `json:"tipIncrementRounds" validate:"gte=0,lte=10"`
}

type DeliverySettings struct {
	MerchantID               types.ID          `json:"merchantId"`
	DispatchStrategy         Strategy          `json:"dispatchStrategy" validate:"oneof=low-price fastest balanced custom"`
	PlatformPriority         []string          `json:"platformPriority"`
	DistanceBasedPlatforms   []DistanceRule    `json:"distanceBasedPlatforms" validate:"dive"`
	EnableTimeBasedStrategy  bool              `json:"enableTimeBasedStrategy"`
	TimeBasedStrategies      []TimeStrategy    `json:"timeBasedStrategies" validate:"dive"`
	EnableOrderAmountTier    bool              `json:"enableOrderAmountTier"`
	OrderAmountTiers         []AmountTier      `json:"orderAmountTiers" validate:"dive"`
	StrategyPriority         SubMode           `json:"strategyPriority" validate:"omitempty,oneof=amount-tier time-based"`
	ConcurrentPricingTimeout int               `json:"concurrentPricingTimeout" validate:"gte=0,lte=120"`
	RetryStrategy            RetryStrategy     `json:"retryStrategy"`
	NoRiderEscalation        NoRiderEscalation `json:"noRiderEscalation"`
	MaxDeliveryFee           decimal.Decimal   `json:"maxDeliveryFee"`
	BudgetAlertThreshold     decimal.Decimal   `json:"budgetAlertThreshold"`
	UpdatedAt                time.Time         `json:"updatedAt"`
}

// Clone copies the slices so callers can edit without touching stored settings.
func (s DeliverySettings) Clone() DeliverySettings {
	c := s
	c.PlatformPriority = append([]string(nil), s.PlatformPriority...)
	c.DistanceBasedPlatforms = append([]DistanceRule(nil), s.DistanceBasedPlatforms...)
	c.TimeBasedStrategies = append([]TimeStrategy(nil), s.TimeBasedStrategies...)
	c.OrderAmountTiers = append([]AmountTier(nil), s.OrderAmountTiers...)
	return c
}

// QuoteTimeout is the deadline for one round of parallel carrier quotes.
func (s DeliverySettings) QuoteTimeout(fallback time.Duration) time.Duration {
	if s.ConcurrentPricingTimeout <= 0 {
		return fallback
	}
	return time.Duration(s.ConcurrentPricingTimeout) * time.Second
}

// Defaults returns the settings a merchant starts with.
func Defaults(merchantID types.ID) DeliverySettings {
	return DeliverySettings{
		MerchantID:       merchantID,
		DispatchStrategy: StrategyBalanced,
		PlatformPriority: []string{"dada", "sf", "shansong"},
		DistanceBasedPlatforms: []DistanceRule{
			{MinDistance: 0, MaxDistance: 3, Platform: "dada"},
			{MinDistance: 3, MaxDistance: 5, Platform: "sf"},
			{MinDistance: 5, MaxDistance: 10, Platform: "shansong"},
		},
		TimeBasedStrategies: []TimeStrategy{
			{Name: "breakfast", StartTime: "07:00", EndTime: "09:00", Strategy: StrategyFastest, Enabled: true},
			{Name: "lunch peak", StartTime: "11:00", EndTime: "13:00", Strategy: StrategyFastest, Enabled: true},
			{Name: "dinner peak", StartTime: "17:00", EndTime: "20:00", Strategy: StrategyFastest, Enabled: true},
			{Name: "late night", StartTime: "21:00", EndTime: "02:00", Strategy: StrategyLowPrice, Enabled: false},
		},
		OrderAmountTiers: []AmountTier{
			{MinAmount: decimal.Zero, MaxAmount: decimal.NewFromInt(30), Strategy: StrategyLowPrice},
			{MinAmount: decimal.NewFromInt(30), MaxAmount: decimal.NewFromInt(100), Strategy: StrategyFastest},
			{MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(999999), Strategy: StrategyCustomPlatform, PlatformPreference: "sf"},
		},
		StrategyPriority:         SubModeAmountTier,
		ConcurrentPricingTimeout: 10,
		RetryStrategy: RetryStrategy{
			Enabled:            true,
			MaxRetries:         3,
			RetryInterval:      30,
			AutoSwitchPlatform: true,
		},
		NoRiderEscalation: NoRiderEscalation{
			Enabled:            true,
			WaitPerPlatform:    60,
			PostExhaustionWait: 30,
			AutoTipEnabled:     true,
			TipAmount:          decimal.NewFromInt(2),
			MaxTipAmount:       decimal.NewFromInt(6),
			TipIncrementRounds: 3,
		},
		MaxDeliveryFee:       decimal.NewFromInt(15),
		BudgetAlertThreshold: decimal.NewFromInt(1000),
	}
}
