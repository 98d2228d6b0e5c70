// README: Dispatch policy evaluator: ranks downstream carriers for an order from settings and quotes.
package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"yisong/internal/modules/order"
	"yisong/internal/modules/platform"
	"yisong/internal/modules/pricing"
	"yisong/internal/modules/settings"
)

var (
	ErrNoMatchingDistanceRule = errors.New("no distance rule matches the order")
	ErrBudgetExceeded         = errors.New("every candidate exceeds the delivery fee ceiling")
	ErrNoCandidates           = errors.New("no eligible delivery platform")
	ErrUnknownPlatform        = errors.New("unknown delivery platform")
)

// StrategyManual labels a dispatch to a platform the merchant picked explicitly.
const StrategyManual settings.Strategy = "manual"

type Input struct {
	Order     order.Order
	Settings  settings.DeliverySettings
	Platforms []platform.Platform
	Quotes    map[string]pricing.Quote
	// At is the local wall-clock time used for time-of-day windows.
	At time.Time
	// Platform, when set, bypasses ranking.
	Platform string
}

type Candidate struct {
	Platform   string          `json:"platform"`
	Price      decimal.Decimal `json:"price"`
	ETAMinutes int             `json:"etaMinutes"`
	Quoted     bool            `json:"quoted"`
}

type Decision struct {
	// Strategy is the ranking actually applied.
	Strategy settings.Strategy `json:"strategy"`
	// Rule says which setting selected it, e.g. "balanced/amount-tier".
	Rule       string      `json:"rule"`
	Candidates []Candidate `json:"candidates"`
}

func (d Decision) Platforms() []string {
	out := make([]string, len(d.Candidates))
	for i, c := range d.Candidates {
		out[i] = c.Platform
	}
	return out
}

// Evaluate is pure: the same input always yields the same decision.
func Evaluate(in Input) (Decision, error) {
	eligible := eligiblePlatforms(in.Platforms)
	s := in.Settings

	var (
		d   Decision
		err error
	)
	switch {
	case in.Platform != "":
		d, err = single(eligible, in.Quotes, in.Platform, StrategyManual, "manual")
		if errors.Is(err, ErrNoCandidates) {
			err = fmt.Errorf("%w: %s", ErrUnknownPlatform, in.Platform)
		}
	case s.DispatchStrategy == settings.StrategyLowPrice || s.DispatchStrategy == settings.StrategyFastest:
		d = rank(eligible, in.Quotes, s.DispatchStrategy, string(s.DispatchStrategy))
	case s.DispatchStrategy == settings.StrategyCustom:
		d, err = byDistance(eligible, in.Quotes, s.DistanceBasedPlatforms, in.Order.DistanceKm)
	default:
		d, err = balanced(eligible, in.Quotes, s, in.Order, in.At)
	}
	if err != nil {
		return Decision{}, err
	}
	if len(d.Candidates) == 0 {
		return Decision{}, ErrNoCandidates
	}
	return applyCeiling(d, s.MaxDeliveryFee)
}

func eligiblePlatforms(all []platform.Platform) []platform.Platform {
	out := make([]platform.Platform, 0, len(all))
	for _, p := range all {
		if p.Type == platform.TypeDownstream && p.Active() {
			out = append(out, p)
		}
	}
	return out
}

func rank(eligible []platform.Platform, quotes map[string]pricing.Quote, strategy settings.Strategy, rule string) Decision {
	type ranked struct {
		q        pricing.Quote
		priority int
	}
	rows := make([]ranked, 0, len(eligible))
	for _, p := range eligible {
		q, ok := quotes[p.Code]
		if !ok {
			continue
		}
		rows = append(rows, ranked{q: q, priority: p.Priority})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if strategy == settings.StrategyFastest {
			if a.q.ETAMinutes != b.q.ETAMinutes {
				return a.q.ETAMinutes < b.q.ETAMinutes
			}
		} else if !a.q.Price.Equal(b.q.Price) {
			return a.q.Price.LessThan(b.q.Price)
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.q.Platform < b.q.Platform
	})

	d := Decision{Strategy: strategy, Rule: rule, Candidates: make([]Candidate, 0, len(rows))}
	for _, r := range rows {
		d.Candidates = append(d.Candidates, Candidate{
			Platform:   r.q.Platform,
			Price:      r.q.Price,
			ETAMinutes: r.q.ETAMinutes,
			Quoted:     true,
		})
	}
	return d
}

func single(eligible []platform.Platform, quotes map[string]pricing.Quote, code string, strategy settings.Strategy, rule string) (Decision, error) {
	for _, p := range eligible {
		if p.Code != code {
			continue
		}
		c := Candidate{Platform: code}
		if q, ok := quotes[code]; ok {
			c.Price, c.ETAMinutes, c.Quoted = q.Price, q.ETAMinutes, true
		}
		return Decision{Strategy: strategy, Rule: rule, Candidates: []Candidate{c}}, nil
	}
	return Decision{}, fmt.Errorf("%w: %s is not an active downstream platform", ErrNoCandidates, code)
}

func byDistance(eligible []platform.Platform, quotes map[string]pricing.Quote, rules []settings.DistanceRule, km float64) (Decision, error) {
	for _, r := range rules {
		if r.MinDistance <= km && km < r.MaxDistance {
			return single(eligible, quotes, r.Platform, settings.StrategyCustom, "custom/distance")
		}
	}
	return Decision{}, fmt.Errorf("%w: %.2f km", ErrNoMatchingDistanceRule, km)
}

// balanced consults exactly one sub-mode. strategyPriority picks it when both are enabled;
// no enabled sub-mode, or no matching tier or window, means fastest.
func balanced(eligible []platform.Platform, quotes map[string]pricing.Quote, s settings.DeliverySettings, o order.Order, at time.Time) (Decision, error) {
	mode := subMode(s)
	switch mode {
	case settings.SubModeAmountTier:
		for _, tier := range s.OrderAmountTiers {
			if tier.MinAmount.LessThanOrEqual(o.TotalAmount) && o.TotalAmount.LessThan(tier.MaxAmount) {
				rule := "balanced/amount-tier"
				if tier.Strategy == settings.StrategyCustomPlatform {
					return single(eligible, quotes, tier.PlatformPreference, settings.StrategyCustomPlatform, rule)
				}
				return rank(eligible, quotes, tier.Strategy, rule), nil
			}
		}
	case settings.SubModeTimeBased:
		minute := at.Hour()*60 + at.Minute()
		for _, w := range s.TimeBasedStrategies {
			if !w.Enabled {
				continue
			}
			start, err := settings.ParseClock(w.StartTime)
			if err != nil {
				continue
			}
			end, err := settings.ParseClock(w.EndTime)
			if err != nil {
				continue
			}
			if settings.WindowContains(start, end, minute) {
				return rank(eligible, quotes, w.Strategy, "balanced/time-based:"+w.Name), nil
			}
		}
	}
	rule := "balanced/default"
	if mode != "" {
		rule = "balanced/" + string(mode) + ":fallback"
	}
	return rank(eligible, quotes, settings.StrategyFastest, rule), nil
}

func subMode(s settings.DeliverySettings) settings.SubMode {
	amount, timed := s.EnableOrderAmountTier, s.EnableTimeBasedStrategy
	switch {
	case amount && timed:
		if s.StrategyPriority == settings.SubModeTimeBased {
			return settings.SubModeTimeBased
		}
		return settings.SubModeAmountTier
	case amount:
		return settings.SubModeAmountTier
	case timed:
		return settings.SubModeTimeBased
	}
	return ""
}

// applyCeiling drops quoted candidates priced above maxFee. A zero ceiling disables the check.
func applyCeiling(d Decision, maxFee decimal.Decimal) (Decision, error) {
	if !maxFee.IsPositive() {
		return d, nil
	}
	kept := make([]Candidate, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		if c.Quoted && c.Price.GreaterThan(maxFee) {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return Decision{}, fmt.Errorf("%w: ceiling %s", ErrBudgetExceeded, maxFee.StringFixed(2))
	}
	d.Candidates = kept
	return d, nil
}
