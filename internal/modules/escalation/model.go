// README: Escalation attempt state, policy and snapshot shapes.
package escalation

import (
	"time"

	"github.com/shopspring/decimal"

	"yisong/internal/modules/settings"
	"yisong/internal/types"
)

type Phase string

const (
	PhaseCalling   Phase = "calling"
	PhaseRetryWait Phase = "retry_wait"
	PhaseCooling   Phase = "cooling"
	PhaseDone      Phase = "done"
)

type Outcome string

const (
	OutcomeNone         Outcome = ""
	OutcomeAccepted     Outcome = "accepted"
	OutcomeSelfDelivery Outcome = "self_delivery"
	OutcomeExhausted    Outcome = "exhausted"
	OutcomeStopped      Outcome = "stopped"
	OutcomeAborted      Outcome = "aborted"
)

// Policy is the slice of DeliverySettings the controller needs, in controller units.
type Policy struct {
	WaitPerPlatform    time.Duration
	PostExhaustionWait time.Duration
	RetryEnabled       bool
	MaxRetries         int
	RetryInterval      time.Duration
	AutoSwitch         bool
	FallbackSelf       bool
	TipEnabled         bool
	TipAmount          decimal.Decimal
	MaxTip             decimal.Decimal
	TipRounds          int
}

func PolicyFrom(s settings.DeliverySettings) Policy {
	r, e := s.RetryStrategy, s.NoRiderEscalation
	return Policy{
		WaitPerPlatform:    time.Duration(e.WaitPerPlatform) * time.Second,
		PostExhaustionWait: time.Duration(e.PostExhaustionWait) * time.Second,
		RetryEnabled:       r.Enabled,
		MaxRetries:         r.MaxRetries,
		RetryInterval:      time.Duration(r.RetryInterval) * time.Second,
		AutoSwitch:         r.AutoSwitchPlatform,
		FallbackSelf:       r.FallbackToSelfDelivery,
		TipEnabled:         e.Enabled && e.AutoTipEnabled,
		TipAmount:          e.TipAmount,
		MaxTip:             e.MaxTipAmount,
		TipRounds:          e.TipIncrementRounds,
	}
}

// TipForRound bounds the cumulative tip: min(tipAmount × round, maxTip).
func (p Policy) TipForRound(round int) decimal.Decimal {
	if round <= 0 || !p.TipEnabled {
		return decimal.Zero
	}
	tip := p.TipAmount.Mul(decimal.NewFromInt(int64(round)))
	if tip.GreaterThan(p.MaxTip) {
		return p.MaxTip
	}
	return tip
}

type Candidate struct {
	Platform string
	Fee      decimal.Decimal
}

// Plan starts one dispatch attempt.
type Plan struct {
	OrderID    types.ID
	MerchantID types.ID
	DistanceKm float64
	Candidates []Candidate
	Policy     Policy
}

type Snapshot struct {
	OrderID    types.ID        `json:"orderId"`
	Phase      Phase           `json:"phase"`
	Outcome    Outcome         `json:"outcome,omitempty"`
	Platform   string          `json:"platform,omitempty"`
	Candidates []string        `json:"candidates"`
	Index      int             `json:"candidateIndex"`
	Retries    int             `json:"retries"`
	Round      int             `json:"tipRound"`
	Tip        decimal.Decimal `json:"cumulativeTip"`
	Calls      int             `json:"calls"`
	LastError  string          `json:"lastError,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
