// README: Escalation controller drives the call / wait / switch / tip loop for unaccepted orders.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"yisong/internal/modules/carrier"
	"yisong/internal/modules/order"
	"yisong/internal/types"
)

var (
	ErrEscalationExhausted = errors.New("no carrier accepted the order")
	ErrDispatchInProgress  = errors.New("dispatch already in progress")
	ErrStaleAcceptance     = errors.New("acceptance does not match the active call")
	ErrNoAttempt           = errors.New("no dispatch attempt for order")
	ErrEmptyPlan           = errors.New("dispatch plan has no candidates")
)

// Orders is the part of the order service the controller drives.
type Orders interface {
	BeginCall(ctx context.Context, cmd order.CallCommand) (*order.Order, error)
	Accept(ctx context.Context, cmd order.AcceptCommand) (*order.Order, error)
	SelfDeliver(ctx context.Context, cmd order.SelfDeliveryCommand) (*order.Order, error)
	NotifyExhausted(ctx context.Context, id, merchantID types.ID, note string) error
}

type attempt struct {
	mu       sync.Mutex
	plan     Plan
	phase    Phase
	outcome  Outcome
	index    int
	retries  int
	round    int
	calls    int
	tip      decimal.Decimal
	gen      uint64
	timer    Timer
	lastErr  string
	started  time.Time
	updated  time.Time
	finished atomic.Bool
}

func (a *attempt) current() Candidate {
	return a.plan.Candidates[a.index]
}

type Controller struct {
	orders  Orders
	carrier carrier.Gateway
	clock   Clock

	mu       sync.Mutex
	attempts map[types.ID]*attempt
}

func NewController(orders Orders, gw carrier.Gateway, clock Clock) *Controller {
	if clock == nil {
		clock = realClock{}
	}
	return &Controller{
		orders:   orders,
		carrier:  gw,
		clock:    clock,
		attempts: make(map[types.ID]*attempt),
	}
}

// Start calls the first candidate and arms the wait timer. A finished attempt for the same
// order is replaced; a running one is not.
func (c *Controller) Start(ctx context.Context, plan Plan) (Snapshot, error) {
	if len(plan.Candidates) == 0 {
		return Snapshot{}, ErrEmptyPlan
	}
	now := c.clock.Now()
	a := &attempt{plan: plan, phase: PhaseCalling, tip: decimal.Zero, started: now, updated: now}

	c.mu.Lock()
	prev, ok := c.attempts[plan.OrderID]
	if ok && !prev.finished.Load() {
		c.mu.Unlock()
		return Snapshot{}, ErrDispatchInProgress
	}
	c.attempts[plan.OrderID] = a
	c.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := c.call(ctx, a); err != nil {
		c.finish(a, OutcomeAborted, err)
		c.mu.Lock()
		if c.attempts[plan.OrderID] == a {
			if prev != nil {
				c.attempts[plan.OrderID] = prev
			} else {
				delete(c.attempts, plan.OrderID)
			}
		}
		c.mu.Unlock()
		return Snapshot{}, err
	}
	return a.snapshot(), nil
}

// Accepted applies a carrier acceptance. Only the platform currently being called may accept.
func (c *Controller) Accepted(ctx context.Context, acc carrier.Acceptance) error {
	a := c.lookup(acc.OrderID)
	if a == nil {
		return fmt.Errorf("%w: no active dispatch for %s", ErrStaleAcceptance, acc.OrderID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phase != PhaseCalling || a.current().Platform != acc.Platform {
		return fmt.Errorf("%w: %s is not being called for %s", ErrStaleAcceptance, acc.Platform, acc.OrderID)
	}

	fee := acc.Fee
	if fee.IsZero() {
		fee = a.current().Fee
	}
	_, err := c.orders.Accept(ctx, order.AcceptCommand{
		OrderID:         a.plan.OrderID,
		MerchantID:      a.plan.MerchantID,
		Platform:        acc.Platform,
		DeliveryOrderID: acc.DeliveryOrderID,
		Fee:             fee,
	})
	if err != nil {
		if errors.Is(err, order.ErrInvalidTransition) || errors.Is(err, order.ErrNotFound) {
			// The rider was assigned to an order that can no longer take them.
			c.cancelCurrent(ctx, a, acc.DeliveryOrderID, "order no longer accepts delivery")
			c.finish(a, OutcomeAborted, err)
		}
		return err
	}
	c.finish(a, OutcomeAccepted, nil)
	log.Printf("escalation: order %s accepted by %s after %d call(s)", a.plan.OrderID, acc.Platform, a.calls)
	return nil
}

// Decline treats a carrier refusal like an elapsed wait window.
func (c *Controller) Decline(ctx context.Context, orderID types.ID, platform string) error {
	a := c.lookup(orderID)
	if a == nil {
		return fmt.Errorf("%w: no active dispatch for %s", ErrStaleAcceptance, orderID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phase != PhaseCalling || a.current().Platform != platform {
		return fmt.Errorf("%w: %s is not being called for %s", ErrStaleAcceptance, platform, orderID)
	}
	c.disarm(a)
	log.Printf("escalation: %s declined order %s", platform, orderID)
	c.advance(ctx, a)
	return nil
}

// Stop invalidates every pending timer for the order and forgets the attempt.
func (c *Controller) Stop(ctx context.Context, orderID types.ID, reason string) {
	c.mu.Lock()
	a, ok := c.attempts[orderID]
	delete(c.attempts, orderID)
	c.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phase == PhaseCalling {
		c.cancelCurrent(ctx, a, "", reason)
	}
	if a.phase != PhaseDone {
		c.finish(a, OutcomeStopped, nil)
	}
}

func (c *Controller) Snapshot(orderID types.ID) (Snapshot, error) {
	a := c.lookup(orderID)
	if a == nil {
		return Snapshot{}, ErrNoAttempt
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(), nil
}

func (c *Controller) lookup(orderID types.ID) *attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[orderID]
}

// call offers the order to the current candidate; the caller holds a.mu.
func (c *Controller) call(ctx context.Context, a *attempt) error {
	cand := a.current()
	_, err := c.orders.BeginCall(ctx, order.CallCommand{
		OrderID:    a.plan.OrderID,
		MerchantID: a.plan.MerchantID,
		Platform:   cand.Platform,
		Tip:        a.tip,
	})
	if err != nil {
		return err
	}
	a.calls++
	a.phase = PhaseCalling
	err = c.carrier.Call(ctx, carrier.CallRequest{
		OrderID:    a.plan.OrderID,
		MerchantID: a.plan.MerchantID,
		Platform:   cand.Platform,
		Fee:        cand.Fee,
		Tip:        a.tip,
		DistanceKm: a.plan.DistanceKm,
		Attempt:    a.calls,
	})
	if err != nil {
		a.lastErr = err.Error()
		log.Printf("escalation: call %s for order %s failed: %v", cand.Platform, a.plan.OrderID, err)
	}
	c.schedule(a, a.plan.Policy.WaitPerPlatform, c.onWaitElapsed)
	return nil
}

func (c *Controller) callOrAbort(ctx context.Context, a *attempt) {
	if err := c.call(ctx, a); err != nil {
		log.Printf("escalation: order %s left the calling state, stopping: %v", a.plan.OrderID, err)
		c.finish(a, OutcomeAborted, err)
	}
}

func (c *Controller) onWaitElapsed(ctx context.Context, a *attempt) {
	c.cancelCurrent(ctx, a, "", "no rider within wait window")
	c.advance(ctx, a)
}

// advance picks the next step once the current candidate has not accepted.
func (c *Controller) advance(ctx context.Context, a *attempt) {
	p := a.plan.Policy
	switch {
	case p.RetryEnabled && p.AutoSwitch && a.index+1 < len(a.plan.Candidates):
		a.index++
		a.retries = 0
		c.callOrAbort(ctx, a)
	case p.RetryEnabled && !p.AutoSwitch && a.retries < p.MaxRetries:
		a.retries++
		a.phase = PhaseRetryWait
		c.schedule(a, p.RetryInterval, c.callOrAbort)
	default:
		a.phase = PhaseCooling
		c.schedule(a, p.PostExhaustionWait, c.onCooled)
	}
}

func (c *Controller) onCooled(ctx context.Context, a *attempt) {
	p := a.plan.Policy
	if p.TipEnabled && a.round < p.TipRounds {
		a.round++
		a.tip = p.TipForRound(a.round)
		a.index = 0
		a.retries = 0
		log.Printf("escalation: order %s tip round %d, tip %s", a.plan.OrderID, a.round, a.tip.StringFixed(2))
		c.callOrAbort(ctx, a)
		return
	}

	if p.FallbackSelf {
		_, err := c.orders.SelfDeliver(ctx, order.SelfDeliveryCommand{
			OrderID:    a.plan.OrderID,
			MerchantID: a.plan.MerchantID,
			ActorType:  order.ActorSystem,
			Note:       "no rider accepted, falling back to self delivery",
		})
		if err != nil {
			log.Printf("escalation: self-delivery fallback for order %s: %v", a.plan.OrderID, err)
			c.finish(a, OutcomeAborted, err)
			return
		}
		c.finish(a, OutcomeSelfDelivery, nil)
		return
	}

	note := fmt.Sprintf("no rider accepted after %d call(s)", a.calls)
	if err := c.orders.NotifyExhausted(ctx, a.plan.OrderID, a.plan.MerchantID, note); err != nil {
		log.Printf("escalation: exhaustion signal for order %s: %v", a.plan.OrderID, err)
		c.finish(a, OutcomeAborted, err)
		return
	}
	log.Printf("escalation: order %s exhausted: %s", a.plan.OrderID, note)
	c.finish(a, OutcomeExhausted, ErrEscalationExhausted)
}

// cancelCurrent withdraws the call to the current candidate, or the delivery it already
// accepted when deliveryOrderID is set.
func (c *Controller) cancelCurrent(ctx context.Context, a *attempt, deliveryOrderID, reason string) {
	err := c.carrier.Cancel(ctx, carrier.CancelRequest{
		OrderID:         a.plan.OrderID,
		Platform:        a.current().Platform,
		DeliveryOrderID: deliveryOrderID,
		Reason:          reason,
	})
	if err != nil {
		log.Printf("escalation: cancel %s for order %s: %v", a.current().Platform, a.plan.OrderID, err)
	}
}

// schedule arms the single timer of the attempt. A timer that fires after the generation
// moved on does nothing.
func (c *Controller) schedule(a *attempt, d time.Duration, step func(context.Context, *attempt)) {
	c.disarm(a)
	gen := a.gen
	a.updated = c.clock.Now()
	a.timer = c.clock.AfterFunc(d, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.gen != gen || a.phase == PhaseDone {
			return
		}
		a.timer = nil
		step(context.Background(), a)
	})
}

func (c *Controller) disarm(a *attempt) {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (c *Controller) finish(a *attempt, outcome Outcome, err error) {
	c.disarm(a)
	a.phase = PhaseDone
	a.outcome = outcome
	if err != nil {
		a.lastErr = err.Error()
	}
	a.updated = c.clock.Now()
	a.finished.Store(true)
}

func (a *attempt) snapshot() Snapshot {
	names := make([]string, len(a.plan.Candidates))
	for i, cand := range a.plan.Candidates {
		names[i] = cand.Platform
	}
	s := Snapshot{
		OrderID:    a.plan.OrderID,
		Phase:      a.phase,
		Outcome:    a.outcome,
		Candidates: names,
		Index:      a.index,
		Retries:    a.retries,
		Round:      a.round,
		Tip:        a.tip,
		Calls:      a.calls,
		LastError:  a.lastErr,
		StartedAt:  a.started,
		UpdatedAt:  a.updated,
	}
	if a.phase != PhaseDone {
		s.Platform = a.current().Platform
	}
	return s
}
