// README: Settings validation: struct tags via validator/v10 plus range and window rules.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidSettings = errors.New("invalid delivery settings")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects settings the evaluator could not apply deterministically.
func Validate(s DeliverySettings) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidSettings, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	for i, r := range s.DistanceBasedPlatforms {
		if r.MinDistance >= r.MaxDistance {
			return invalid("distanceBasedPlatforms[%d]: minDistance must be below maxDistance", i)
		}
		if i > 0 && r.MinDistance < s.DistanceBasedPlatforms[i-1].MaxDistance {
			return invalid("distanceBasedPlatforms[%d]: ranges must be ascending and non-overlapping", i)
		}
	}
	if s.DispatchStrategy == StrategyCustom && len(s.DistanceBasedPlatforms) == 0 {
		return invalid("custom strategy needs at least one distance rule")
	}

	for i, tier := range s.OrderAmountTiers {
		if tier.MinAmount.IsNegative() || !tier.MinAmount.LessThan(tier.MaxAmount) {
			return invalid("orderAmountTiers[%d]: need 0 <= minAmount < maxAmount", i)
		}
		if i > 0 && tier.MinAmount.LessThan(s.OrderAmountTiers[i-1].MaxAmount) {
			return invalid("orderAmountTiers[%d]: tiers must be ascending and non-overlapping", i)
		}
		if tier.Strategy == StrategyCustomPlatform && tier.PlatformPreference == "" {
			return invalid("orderAmountTiers[%d]: custom-platform needs platformPreference", i)
		}
	}

	for i, w := range s.TimeBasedStrategies {
		start, err := ParseClock(w.StartTime)
		if err != nil {
			return invalid("timeBasedStrategies[%d].startTime: %v", i, err)
		}
		end, err := ParseClock(w.EndTime)
		if err != nil {
			return invalid("timeBasedStrategies[%d].endTime: %v", i, err)
		}
		if start == end {
			return invalid("timeBasedStrategies[%d]: window is empty", i)
		}
	}

	esc := s.NoRiderEscalation
	if esc.TipAmount.IsNegative() || esc.MaxTipAmount.IsNegative() {
		return invalid("noRiderEscalation: tip amounts must be non-negative")
	}
	if s.MaxDeliveryFee.IsNegative() || s.BudgetAlertThreshold.IsNegative() {
		return invalid("cost ceilings must be non-negative")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", v)
	}
	return h*60 + m, nil
}

// WindowContains reports whether minute-of-day t falls in [start, end). A window whose
// start is after its end wraps past midnight.
func WindowContains(start, end, t int) bool {
	if start < end {
		return start <= t && t < end
	}
	return t >= start || t < end
}
