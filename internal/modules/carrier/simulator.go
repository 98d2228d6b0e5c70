// README: Simulated carrier gateway: accepts a share of calls after a delay and reports back.
package carrier

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"yisong/internal/types"
)

type callKey struct {
	orderID  types.ID
	platform string
}

type Simulator struct {
	acceptRate  float64
	acceptAfter time.Duration
	roll        func() float64
	now         func() time.Time

	mu       sync.Mutex
	reporter Reporter
	pending  map[callKey]*time.Timer
}

func NewSimulator(acceptRate float64, acceptAfter time.Duration) *Simulator {
	return &Simulator{
		acceptRate:  acceptRate,
		acceptAfter: acceptAfter,
		roll:        rand.Float64,
		now:         time.Now,
		pending:     make(map[callKey]*time.Timer),
	}
}

// SetReporter wires the component that receives acceptances. Calls made before it is set
// are never accepted.
func (s *Simulator) SetReporter(r Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = r
}

func (s *Simulator) Call(ctx context.Context, req CallRequest) error {
	if req.Platform == "" || req.OrderID == "" {
		return fmt.Errorf("carrier: call needs order and platform")
	}
	log.Printf("carrier: call %s for order %s (fee=%s tip=%s attempt=%d)",
		req.Platform, req.OrderID, req.Fee.StringFixed(2), req.Tip.StringFixed(2), req.Attempt)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := callKey{orderID: req.OrderID, platform: req.Platform}
	if t, ok := s.pending[key]; ok {
		t.Stop()
		delete(s.pending, key)
	}
	if s.reporter == nil || s.roll() >= s.acceptRate {
		return nil
	}

	var t *time.Timer
	t = time.AfterFunc(s.acceptAfter, func() {
		s.mu.Lock()
		if s.pending[key] != t {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		reporter := s.reporter
		deliveryID := fmt.Sprintf("DEL%d%04d", s.now().UnixMilli(), rand.IntN(10000))
		s.mu.Unlock()

		err := reporter.Accepted(context.Background(), Acceptance{
			OrderID:         req.OrderID,
			Platform:        req.Platform,
			DeliveryOrderID: deliveryID,
			Fee:             req.Fee,
		})
		if err != nil {
			log.Printf("carrier: %s acceptance for order %s not applied: %v", req.Platform, req.OrderID, err)
		}
	})
	s.pending[key] = t
	return nil
}

func (s *Simulator) Cancel(ctx context.Context, req CancelRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := callKey{orderID: req.OrderID, platform: req.Platform}
	if t, ok := s.pending[key]; ok {
		t.Stop()
		delete(s.pending, key)
	}
	if req.DeliveryOrderID != "" {
		log.Printf("carrier: cancel %s delivery %s for order %s: %s", req.Platform, req.DeliveryOrderID, req.OrderID, req.Reason)
		return nil
	}
	log.Printf("carrier: cancel %s for order %s: %s", req.Platform, req.OrderID, req.Reason)
	return nil
}

func (s *Simulator) MealReady(ctx context.Context, req MealReadyRequest) error {
	if req.Platform == "" || req.DeliveryOrderID == "" {
		return fmt.Errorf("carrier: meal-ready needs platform and delivery order id")
	}
	log.Printf("carrier: %s delivery %s for order %s ready at %s",
		req.Platform, req.DeliveryOrderID, req.OrderID, req.ReadyAt.Format(time.RFC3339))
	return nil
}

// Pending reports how many simulated acceptances are still scheduled.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
