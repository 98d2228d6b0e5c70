package carrier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type recordingReporter struct {
	mu   sync.Mutex
	got  []Acceptance
	done chan struct{}
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{done: make(chan struct{}, 8)}
}

func (r *recordingReporter) Accepted(ctx context.Context, a Acceptance) error {
	r.mu.Lock()
	r.got = append(r.got, a)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestSimulatorAccepts(t *testing.T) {
	sim := NewSimulator(1, 10*time.Millisecond)
	rep := newRecordingReporter()
	sim.SetReporter(rep)

	err := sim.Call(context.Background(), CallRequest{OrderID: "o_1", Platform: "dada", Fee: decimal.RequireFromString("6.5")})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	select {
	case <-rep.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an acceptance")
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	a := rep.got[0]
	if a.OrderID != "o_1" || a.Platform != "dada" || !strings.HasPrefix(a.DeliveryOrderID, "DEL") {
		t.Fatalf("unexpected acceptance: %+v", a)
	}
	if !a.Fee.Equal(decimal.RequireFromString("6.5")) {
		t.Fatalf("fee = %s", a.Fee)
	}
}

func TestSimulatorCancelPreventsAcceptance(t *testing.T) {
	sim := NewSimulator(1, 50*time.Millisecond)
	rep := newRecordingReporter()
	sim.SetReporter(rep)
	ctx := context.Background()

	if err := sim.Call(ctx, CallRequest{OrderID: "o_1", Platform: "sf"}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := sim.Cancel(ctx, CancelRequest{OrderID: "o_1", Platform: "sf", Reason: "switch"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sim.Pending() != 0 {
		t.Fatalf("pending = %d", sim.Pending())
	}
	select {
	case <-rep.done:
		t.Fatal("cancelled call must not be accepted")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSimulatorDeclinesByRoll(t *testing.T) {
	sim := NewSimulator(0.5, time.Millisecond)
	sim.roll = func() float64 { return 0.9 }
	sim.SetReporter(newRecordingReporter())

	if err := sim.Call(context.Background(), CallRequest{OrderID: "o_1", Platform: "dada"}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sim.Pending() != 0 {
		t.Fatal("declined call should not schedule an acceptance")
	}
}

func TestSimulatorRejectsIncompleteCall(t *testing.T) {
	sim := NewSimulator(1, time.Millisecond)
	if err := sim.Call(context.Background(), CallRequest{Platform: "dada"}); err == nil {
		t.Fatal("expected error for missing order id")
	}
}

func TestSimulatorMealReadyNeedsDelivery(t *testing.T) {
	sim := NewSimulator(0, time.Millisecond)
	ctx := context.Background()
	if err := sim.MealReady(ctx, MealReadyRequest{OrderID: "o_1", Platform: "sf"}); err == nil {
		t.Fatal("expected error without delivery order id")
	}
	err := sim.MealReady(ctx, MealReadyRequest{OrderID: "o_1", Platform: "sf", DeliveryOrderID: "DEL1", ReadyAt: time.Now()})
	if err != nil {
		t.Fatalf("MealReady: %v", err)
	}
}
