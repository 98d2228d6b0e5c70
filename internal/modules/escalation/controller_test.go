package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"yisong/internal/modules/carrier"
	"yisong/internal/modules/order"
	"yisong/internal/types"
)

const testMerchant types.ID = "m_1"

type recordingGateway struct {
	mu      sync.Mutex
	calls   []carrier.CallRequest
	cancels []carrier.CancelRequest
}

func (g *recordingGateway) Call(_ context.Context, req carrier.CallRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	return nil
}

func (g *recordingGateway) Cancel(_ context.Context, req carrier.CancelRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, req)
	return nil
}

func (g *recordingGateway) MealReady(context.Context, carrier.MealReadyRequest) error {
	return nil
}

func (g *recordingGateway) cancelled() []carrier.CancelRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]carrier.CancelRequest(nil), g.cancels...)
}

func (g *recordingGateway) platforms() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.Platform
	}
	return out
}

func (g *recordingGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []order.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt order.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) has(t order.EventType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

type harness struct {
	orders  *order.Service
	pub     *recordingPublisher
	gateway *recordingGateway
	clock   *fakeClock
	ctrl    *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pub := &recordingPublisher{}
	orders := order.NewService(order.NewMemoryStore(), pub, nil, nil)
	gw := &recordingGateway{}
	clock := newFakeClock()
	return &harness{
		orders:  orders,
		pub:     pub,
		gateway: gw,
		clock:   clock,
		ctrl:    NewController(orders, gw, clock),
	}
}

func (h *harness) createOrder(t *testing.T) *order.Order {
	t.Helper()
	km := 4.0
	o, err := h.orders.Create(context.Background(), order.CreateCommand{
		MerchantID:  testMerchant,
		Source:      "meituan",
		TotalAmount: decimal.NewFromInt(45),
		DistanceKm:  &km,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (h *harness) status(t *testing.T, id types.ID) *order.Order {
	t.Helper()
	o, err := h.orders.Get(context.Background(), id, testMerchant)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return o
}

func basePolicy() Policy {
	return Policy{
		WaitPerPlatform:    60 * time.Second,
		PostExhaustionWait: 30 * time.Second,
		RetryEnabled:       true,
		MaxRetries:         3,
		RetryInterval:      10 * time.Second,
		AutoSwitch:         true,
		TipEnabled:         true,
		TipAmount:          decimal.NewFromInt(2),
		MaxTip:             decimal.NewFromInt(3),
		TipRounds:          2,
	}
}

func twoCandidates() []Candidate {
	return []Candidate{
		{Platform: "dada", Fee: decimal.RequireFromString("6.5")},
		{Platform: "sf", Fee: decimal.RequireFromString("8.2")},
	}
}

func TestTipForRoundIsCapped(t *testing.T) {
	p := basePolicy()
	cases := []struct {
		round int
		want  string
	}{
		{0, "0"},
		{1, "2"},
		{2, "3"},
		{5, "3"},
	}
	for _, tc := range cases {
		if got := p.TipForRound(tc.round); !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("round %d: tip = %s, want %s", tc.round, got, tc.want)
		}
	}
	p.TipEnabled = false
	if !p.TipForRound(3).IsZero() {
		t.Fatal("disabled tipping must offer nothing")
	}
}

// No candidate ever accepts: both candidates are called on every round, tips stay under
// the cap, and the order stays delivery_calling with an exhaustion signal.
func TestEscalationExhausts(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()

	snap, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: basePolicy()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.Platform != "dada" || snap.Phase != PhaseCalling {
		t.Fatalf("unexpected first snapshot: %+v", snap)
	}
	if got := h.status(t, o.ID); got.Status != order.StatusDeliveryCalling || got.CallingPlatform != "dada" {
		t.Fatalf("order should be calling dada, got %s/%s", got.Status, got.CallingPlatform)
	}

	h.clock.Advance(60 * time.Second)
	if got := h.status(t, o.ID); got.CallingPlatform != "sf" {
		t.Fatalf("expected switch to sf, got %s", got.CallingPlatform)
	}

	h.clock.Advance(time.Hour)

	snap, err = h.ctrl.Snapshot(o.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Phase != PhaseDone || snap.Outcome != OutcomeExhausted {
		t.Fatalf("expected exhausted, got %+v", snap)
	}
	if snap.LastError != ErrEscalationExhausted.Error() {
		t.Fatalf("last error = %q", snap.LastError)
	}
	want := []string{"dada", "sf", "dada", "sf", "dada", "sf"}
	if got := h.gateway.platforms(); len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("calls = %v, want %v", got, want)
			}
		}
	}
	limit := decimal.NewFromInt(3)
	for _, c := range h.gateway.calls {
		if c.Tip.GreaterThan(limit) {
			t.Fatalf("tip %s exceeds cap %s", c.Tip, limit)
		}
	}

	final := h.status(t, o.ID)
	if final.Status != order.StatusDeliveryCalling {
		t.Fatalf("exhausted order must stay delivery_calling, got %s", final.Status)
	}
	if final.DeliveryPlatform != nil || final.DeliveryOrderID != nil {
		t.Fatal("exhausted order must not carry a delivery reference")
	}
	if !final.TipAmount.Equal(limit) {
		t.Fatalf("final tip = %s, want %s", final.TipAmount, limit)
	}
	if !h.pub.has(order.EventDispatchExhausted) {
		t.Fatal("expected order:dispatch-exhausted")
	}
	if h.clock.pending() != 0 {
		t.Fatalf("no timers should remain, got %d", h.clock.pending())
	}
}

func TestCancelMidEscalationStopsTimers(t *testing.T) {
	h := newHarness(t)
	h.clock.ignoreStop = true
	o := h.createOrder(t)
	ctx := context.Background()

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: basePolicy()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.ctrl.Stop(ctx, o.ID, "merchant cancelled")
	if _, err := h.orders.Cancel(ctx, order.CancelCommand{OrderID: o.ID, MerchantID: testMerchant}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	calls := h.gateway.callCount()

	// the wait timer still fires because Stop was ignored; it must do nothing
	h.clock.Advance(time.Hour)

	if got := h.gateway.callCount(); got != calls {
		t.Fatalf("stale timer placed %d new call(s)", got-calls)
	}
	if got := h.status(t, o.ID); got.Status != order.StatusCancelled {
		t.Fatalf("order resurrected: %s", got.Status)
	}
	if _, err := h.ctrl.Snapshot(o.ID); !errors.Is(err, ErrNoAttempt) {
		t.Fatalf("stopped attempt should be forgotten, got %v", err)
	}
}

func TestTimerNoOpsWhenOrderLeftCalling(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: basePolicy()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// cancelled behind the controller's back
	if _, err := h.orders.Cancel(ctx, order.CancelCommand{OrderID: o.ID, MerchantID: testMerchant}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	h.clock.Advance(time.Hour)

	snap, _ := h.ctrl.Snapshot(o.ID)
	if snap.Outcome != OutcomeAborted {
		t.Fatalf("expected aborted attempt, got %+v", snap)
	}
	if got := h.status(t, o.ID); got.Status != order.StatusCancelled {
		t.Fatalf("order resurrected: %s", got.Status)
	}
	if h.gateway.callCount() != 1 {
		t.Fatalf("expected no further calls, got %d", h.gateway.callCount())
	}
}

func TestLateAcceptanceCancelsAssignedDelivery(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: basePolicy()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.orders.Cancel(ctx, order.CancelCommand{OrderID: o.ID, MerchantID: testMerchant}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	err := h.ctrl.Accepted(ctx, carrier.Acceptance{OrderID: o.ID, Platform: "dada", DeliveryOrderID: "DEL9"})
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	var found bool
	for _, c := range h.gateway.cancelled() {
		if c.Platform == "dada" && c.DeliveryOrderID == "DEL9" {
			found = true
		}
	}
	if !found {
		t.Fatalf("accepted delivery was not withdrawn: %+v", h.gateway.cancelled())
	}
	snap, _ := h.ctrl.Snapshot(o.ID)
	if snap.Outcome != OutcomeAborted {
		t.Fatalf("expected aborted attempt, got %+v", snap)
	}
	h.clock.Advance(time.Hour)
	if h.gateway.callCount() != 1 {
		t.Fatalf("expected no further calls, got %d", h.gateway.callCount())
	}
}

func TestAcceptance(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: basePolicy()}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := h.ctrl.Accepted(ctx, carrier.Acceptance{OrderID: o.ID, Platform: "sf", DeliveryOrderID: "DEL1"})
	if !errors.Is(err, ErrStaleAcceptance) {
		t.Fatalf("sf is not being called, expected ErrStaleAcceptance, got %v", err)
	}

	if err := h.ctrl.Accepted(ctx, carrier.Acceptance{OrderID: o.ID, Platform: "dada", DeliveryOrderID: "DEL2"}); err != nil {
		t.Fatalf("Accepted: %v", err)
	}
	got := h.status(t, o.ID)
	if got.Status != order.StatusDeliveryAccepted || got.DeliveryType != order.DeliveryThirdParty {
		t.Fatalf("unexpected order after acceptance: %s/%s", got.Status, got.DeliveryType)
	}
	if got.DeliveryPlatform == nil || *got.DeliveryPlatform != "dada" || got.DeliveryOrderID == nil || *got.DeliveryOrderID != "DEL2" {
		t.Fatal("delivery reference not recorded")
	}
	if !got.DeliveryFee.Equal(decimal.RequireFromString("6.5")) {
		t.Fatalf("fee = %s", got.DeliveryFee)
	}

	h.clock.Advance(time.Hour)
	if h.gateway.callCount() != 1 {
		t.Fatalf("accepted attempt must not call again, got %d calls", h.gateway.callCount())
	}
	if err := h.ctrl.Accepted(ctx, carrier.Acceptance{OrderID: o.ID, Platform: "dada", DeliveryOrderID: "DEL3"}); !errors.Is(err, ErrStaleAcceptance) {
		t.Fatalf("duplicate acceptance should be stale, got %v", err)
	}
}

func TestAcceptanceAfterTipRoundIncludesTip(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()
	cands := []Candidate{{Platform: "dada", Fee: decimal.NewFromInt(6)}}

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: cands, Policy: basePolicy()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.clock.Advance(90 * time.Second)

	snap, _ := h.ctrl.Snapshot(o.ID)
	if snap.Round != 1 || !snap.Tip.Equal(decimal.NewFromInt(2)) || snap.Phase != PhaseCalling {
		t.Fatalf("expected tip round 1 calling, got %+v", snap)
	}
	if err := h.ctrl.Accepted(ctx, carrier.Acceptance{OrderID: o.ID, Platform: "dada", DeliveryOrderID: "DEL9"}); err != nil {
		t.Fatalf("Accepted: %v", err)
	}
	if got := h.status(t, o.ID); !got.DeliveryFee.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("fee with tip = %s, want 8", got.DeliveryFee)
	}
}

func TestFallbackToSelfDelivery(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()
	p := basePolicy()
	p.TipEnabled = false
	p.FallbackSelf = true

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: p}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.clock.Advance(time.Hour)

	got := h.status(t, o.ID)
	if got.Status != order.StatusDeliveryAccepted || got.DeliveryType != order.DeliverySelf || got.DispatchedAt == nil {
		t.Fatalf("expected self delivery, got %s/%s", got.Status, got.DeliveryType)
	}
	snap, _ := h.ctrl.Snapshot(o.ID)
	if snap.Outcome != OutcomeSelfDelivery {
		t.Fatalf("outcome = %s", snap.Outcome)
	}
	if !h.pub.has(order.EventSelfDelivery) {
		t.Fatal("expected order:self-delivery")
	}
}

func TestRetrySamePlatformWithoutAutoSwitch(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()
	p := basePolicy()
	p.AutoSwitch = false
	p.MaxRetries = 2
	p.TipEnabled = false

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: p}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.clock.Advance(60 * time.Second)
	snap, _ := h.ctrl.Snapshot(o.ID)
	if snap.Phase != PhaseRetryWait || snap.Retries != 1 {
		t.Fatalf("expected retry wait, got %+v", snap)
	}
	h.clock.Advance(time.Hour)

	for _, platform := range h.gateway.platforms() {
		if platform != "dada" {
			t.Fatalf("without auto switch only dada is called, got %v", h.gateway.platforms())
		}
	}
	if h.gateway.callCount() != 3 {
		t.Fatalf("expected 1 call + 2 retries, got %d", h.gateway.callCount())
	}
}

func TestRetryDisabledEndsAfterFirstCandidate(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()
	p := basePolicy()
	p.RetryEnabled = false
	p.TipEnabled = false

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: p}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.clock.Advance(time.Hour)
	if h.gateway.callCount() != 1 {
		t.Fatalf("expected a single call, got %d", h.gateway.callCount())
	}
	snap, _ := h.ctrl.Snapshot(o.ID)
	if snap.Outcome != OutcomeExhausted {
		t.Fatalf("outcome = %s", snap.Outcome)
	}
}

func TestDeclineMovesToNextCandidate(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()

	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: basePolicy()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.ctrl.Decline(ctx, o.ID, "sf"); !errors.Is(err, ErrStaleAcceptance) {
		t.Fatalf("decline from a platform not being called, got %v", err)
	}
	if err := h.ctrl.Decline(ctx, o.ID, "dada"); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if got := h.status(t, o.ID); got.CallingPlatform != "sf" {
		t.Fatalf("expected sf after decline, got %s", got.CallingPlatform)
	}
	if h.clock.pending() != 1 {
		t.Fatalf("expected exactly one armed timer, got %d", h.clock.pending())
	}
}

func TestStartRejectsConcurrentAttempt(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()
	plan := Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: basePolicy()}

	if _, err := h.ctrl.Start(ctx, plan); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.ctrl.Start(ctx, plan); !errors.Is(err, ErrDispatchInProgress) {
		t.Fatalf("expected ErrDispatchInProgress, got %v", err)
	}
	if _, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant}); !errors.Is(err, ErrEmptyPlan) {
		t.Fatalf("expected ErrEmptyPlan, got %v", err)
	}
}

func TestRestartAfterExhaustion(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()
	p := basePolicy()
	p.TipEnabled = false
	plan := Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: p}

	if _, err := h.ctrl.Start(ctx, plan); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.clock.Advance(time.Hour)

	snap, err := h.ctrl.Start(ctx, plan)
	if err != nil {
		t.Fatalf("merchant re-dispatch after exhaustion: %v", err)
	}
	if snap.Phase != PhaseCalling || snap.Calls != 1 {
		t.Fatalf("expected a fresh attempt, got %+v", snap)
	}
}

func TestStartFailsForTerminalOrder(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t)
	ctx := context.Background()
	if _, err := h.orders.Cancel(ctx, order.CancelCommand{OrderID: o.ID, MerchantID: testMerchant}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err := h.ctrl.Start(ctx, Plan{OrderID: o.ID, MerchantID: testMerchant, Candidates: twoCandidates(), Policy: basePolicy()})
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := h.ctrl.Snapshot(o.ID); !errors.Is(err, ErrNoAttempt) {
		t.Fatalf("failed start must not leave an attempt, got %v", err)
	}
	if h.gateway.callCount() != 0 {
		t.Fatal("carrier must not be called for a cancelled order")
	}
}
