// README: Dispatch service plans a dispatch (settings + quotes + evaluator) and drives escalation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"yisong/internal/modules/carrier"
	"yisong/internal/modules/escalation"
	"yisong/internal/modules/order"
	"yisong/internal/modules/platform"
	"yisong/internal/modules/pricing"
	"yisong/internal/modules/settings"
	"yisong/internal/types"
)

var ErrBadRequest = errors.New("bad request")

// Delivery statuses a carrier may report.
const (
	DeliveryAccepted   = "accepted"
	DeliveryPickedUp   = "picked_up"
	DeliveryDelivering = "delivering"
	DeliveryDelivered  = "delivered"
	DeliveryCancelled  = "cancelled"
)

type Deps struct {
	Orders       *order.Service
	Settings     *settings.Service
	Platforms    *platform.Service
	Pricing      *pricing.Service
	Escalation   *escalation.Controller
	// Carrier receives cancellations and meal-ready notices for accepted deliveries.
	Carrier      carrier.Gateway
	Location     *time.Location
	// QuoteTimeout applies when the merchant has no concurrentPricingTimeout.
	QuoteTimeout time.Duration
}

type Service struct {
	orders       *order.Service
	settings     *settings.Service
	platforms    *platform.Service
	pricing      *pricing.Service
	escalation   *escalation.Controller
	carrier      carrier.Gateway
	loc          *time.Location
	quoteTimeout time.Duration
	now          func() time.Time
	tracer       trace.Tracer
}

func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		orders:       d.Orders,
		settings:     d.Settings,
		platforms:    d.Platforms,
		pricing:      d.Pricing,
		escalation:   d.Escalation,
		carrier:      d.Carrier,
		loc:          loc,
		quoteTimeout: d.QuoteTimeout,
		now:          time.Now,
		tracer:       otel.Tracer("yisong/dispatch"),
	}
}

type DispatchCommand struct {
	OrderID    types.ID
	MerchantID types.ID
	// Platform bypasses ranking when set.
	Platform string
}

type Preview struct {
	Decision Decision        `json:"decision"`
	Quotes   []pricing.Quote `json:"quotes"`
}

type Result struct {
	Order      *order.Order        `json:"order"`
	Decision   Decision            `json:"decision"`
	Escalation escalation.Snapshot `json:"escalation"`
}

// DeliveryUpdate is a normalized downstream webhook.
type DeliveryUpdate struct {
	Platform        string
	OrderID         types.ID
	DeliveryOrderID string
	Status          string
	Fee             decimal.Decimal
}

// Preview evaluates without mutating the order.
func (s *Service) Preview(ctx context.Context, cmd DispatchCommand) (Preview, error) {
	o, err := s.orders.Get(ctx, cmd.OrderID, cmd.MerchantID)
	if err != nil {
		return Preview{}, err
	}
	d, quotes, _, err := s.plan(ctx, o, cmd.Platform)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Decision: d, Quotes: sortedQuotes(quotes)}, nil
}

// Dispatch ranks carriers for the order and hands the list to the escalation controller,
// which moves the order to delivery_calling.
func (s *Service) Dispatch(ctx context.Context, cmd DispatchCommand) (Result, error) {
	o, err := s.orders.Get(ctx, cmd.OrderID, cmd.MerchantID)
	if err != nil {
		return Result{}, err
	}
	if !order.CanTransition(o.Status, order.StatusDeliveryCalling) {
		return Result{}, &order.InvalidTransitionError{From: o.Status, To: order.StatusDeliveryCalling}
	}

	d, _, st, err := s.plan(ctx, o, cmd.Platform)
	if err != nil {
		return Result{}, err
	}
	cands := make([]escalation.Candidate, len(d.Candidates))
	for i, c := range d.Candidates {
		cands[i] = escalation.Candidate{Platform: c.Platform, Fee: c.Price}
	}
	snap, err := s.escalation.Start(ctx, escalation.Plan{
		OrderID:    o.ID,
		MerchantID: o.MerchantID,
		DistanceKm: o.DistanceKm,
		Candidates: cands,
		Policy:     escalation.PolicyFrom(st),
	})
	if err != nil {
		return Result{}, err
	}
	updated, err := s.orders.Get(ctx, o.ID, o.MerchantID)
	if err != nil {
		return Result{}, err
	}
	log.Printf("dispatch: order %s %s via %s -> %v", o.ID, d.Strategy, d.Rule, d.Platforms())
	return Result{Order: updated, Decision: d, Escalation: snap}, nil
}

func (s *Service) plan(ctx context.Context, o *order.Order, explicit string) (Decision, map[string]pricing.Quote, settings.DeliverySettings, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.evaluate", trace.WithAttributes(
		attribute.String("order.id", string(o.ID)),
		attribute.Float64("order.distance_km", o.DistanceKm),
	))
	defer span.End()

	fail := func(err error) (Decision, map[string]pricing.Quote, settings.DeliverySettings, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, nil, settings.DeliverySettings{}, err
	}

	st, err := s.settings.Get(ctx, o.MerchantID)
	if err != nil {
		return fail(fmt.Errorf("load settings: %w", err))
	}
	downstream, err := s.platforms.ListByType(ctx, platform.TypeDownstream)
	if err != nil {
		return fail(fmt.Errorf("load platforms: %w", err))
	}
	active := make([]string, 0, len(downstream))
	for _, p := range downstream {
		if p.Active() {
			active = append(active, p.Code)
		}
	}

	at := s.now().In(s.loc)
	quotes := s.pricing.QuoteAll(ctx, active, o.DistanceKm, at, st.QuoteTimeout(s.quoteTimeout))
	d, err := Evaluate(Input{
		Order:     *o,
		Settings:  st,
		Platforms: downstream,
		Quotes:    quotes,
		At:        at,
		Platform:  explicit,
	})
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(
		attribute.String("dispatch.strategy", string(d.Strategy)),
		attribute.String("dispatch.rule", d.Rule),
		attribute.StringSlice("dispatch.candidates", d.Platforms()),
	)
	return d, quotes, st, nil
}

func (s *Service) SelfDeliver(ctx context.Context, cmd order.SelfDeliveryCommand) (*order.Order, error) {
	if _, err := s.orders.Get(ctx, cmd.OrderID, cmd.MerchantID); err != nil {
		return nil, err
	}
	s.escalation.Stop(ctx, cmd.OrderID, "merchant switched to self delivery")
	return s.orders.SelfDeliver(ctx, cmd)
}

// Cancel stops escalation before the transition so no timer can act on the order. A
// delivery the carrier already accepted is withdrawn once the order is cancelled.
func (s *Service) Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Order, error) {
	if _, err := s.orders.Get(ctx, cmd.OrderID, cmd.MerchantID); err != nil {
		return nil, err
	}
	s.escalation.Stop(ctx, cmd.OrderID, "order cancelled")
	cancelled, err := s.orders.Cancel(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if platform, deliveryID, ok := thirdPartyDelivery(cancelled); ok && s.carrier != nil {
		reason := cmd.Reason
		if reason == "" {
			reason = "order cancelled"
		}
		err := s.carrier.Cancel(ctx, carrier.CancelRequest{
			OrderID:         cancelled.ID,
			Platform:        platform,
			DeliveryOrderID: deliveryID,
			Reason:          reason,
		})
		if err != nil {
			log.Printf("dispatch: cancel %s delivery %s for order %s failed: %v", platform, deliveryID, cancelled.ID, err)
		}
	}
	return cancelled, nil
}

func (s *Service) UpdateStatus(ctx context.Context, cmd order.StatusCommand) (*order.Order, error) {
	if cmd.Status == order.StatusCancelled {
		return s.Cancel(ctx, order.CancelCommand{OrderID: cmd.OrderID, MerchantID: cmd.MerchantID})
	}
	updated, err := s.orders.UpdateStatus(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s.stopUnlessCalling(ctx, updated)
	if updated.Status == order.StatusReady {
		s.notifyMealReady(ctx, updated)
	}
	return updated, nil
}

func (s *Service) MarkMealReady(ctx context.Context, cmd order.MealReadyCommand) (*order.Order, error) {
	updated, err := s.orders.MarkMealReady(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s.stopUnlessCalling(ctx, updated)
	s.notifyMealReady(ctx, updated)
	return updated, nil
}

// notifyMealReady tells the carrier holding the delivery that the meal can be picked up.
func (s *Service) notifyMealReady(ctx context.Context, o *order.Order) {
	platform, deliveryID, ok := thirdPartyDelivery(o)
	if !ok || s.carrier == nil {
		return
	}
	readyAt := s.now()
	if o.MealReadyTime != nil {
		readyAt = *o.MealReadyTime
	}
	err := s.carrier.MealReady(ctx, carrier.MealReadyRequest{
		OrderID:         o.ID,
		Platform:        platform,
		DeliveryOrderID: deliveryID,
		ReadyAt:         readyAt,
	})
	if err != nil {
		log.Printf("dispatch: meal ready notice to %s for order %s failed: %v", platform, o.ID, err)
	}
}

func thirdPartyDelivery(o *order.Order) (platform, deliveryID string, ok bool) {
	if o.DeliveryType != order.DeliveryThirdParty || o.DeliveryPlatform == nil || o.DeliveryOrderID == nil {
		return "", "", false
	}
	return *o.DeliveryPlatform, *o.DeliveryOrderID, true
}

func (s *Service) stopUnlessCalling(ctx context.Context, o *order.Order) {
	if o.Status != order.StatusDeliveryCalling {
		s.escalation.Stop(ctx, o.ID, "order moved to "+string(o.Status))
	}
}

// Status returns the escalation snapshot of an order the merchant owns.
func (s *Service) Status(ctx context.Context, id, merchantID types.ID) (escalation.Snapshot, error) {
	if _, err := s.orders.Get(ctx, id, merchantID); err != nil {
		return escalation.Snapshot{}, err
	}
	return s.escalation.Snapshot(id)
}

// HandleDeliveryUpdate applies a carrier report. Acceptance and refusal go through the
// escalation controller; later progress walks the delivery path. The returned order is
// nil when the report changed nothing.
func (s *Service) HandleDeliveryUpdate(ctx context.Context, u DeliveryUpdate) (*order.Order, error) {
	switch u.Status {
	case DeliveryAccepted:
		if u.OrderID == "" || u.DeliveryOrderID == "" {
			return nil, fmt.Errorf("%w: accepted needs orderId and deliveryOrderId", ErrBadRequest)
		}
		err := s.escalation.Accepted(ctx, carrier.Acceptance{
			OrderID:         u.OrderID,
			Platform:        u.Platform,
			DeliveryOrderID: u.DeliveryOrderID,
			Fee:             u.Fee,
		})
		if err != nil {
			return nil, err
		}
		return s.orders.FindByDeliveryOrderID(ctx, u.Platform, u.DeliveryOrderID)

	case DeliveryCancelled:
		if u.OrderID == "" {
			return nil, fmt.Errorf("%w: cancelled needs orderId", ErrBadRequest)
		}
		if err := s.escalation.Decline(ctx, u.OrderID, u.Platform); err != nil {
			log.Printf("dispatch: ignoring %s cancellation for order %s: %v", u.Platform, u.OrderID, err)
		}
		return nil, nil

	case DeliveryPickedUp, DeliveryDelivering, DeliveryDelivered:
		if u.DeliveryOrderID == "" {
			return nil, fmt.Errorf("%w: deliveryOrderId is required", ErrBadRequest)
		}
		o, err := s.orders.FindByDeliveryOrderID(ctx, u.Platform, u.DeliveryOrderID)
		if err != nil {
			return nil, err
		}
		s.escalation.Stop(ctx, o.ID, "delivery in progress")
		return s.orders.ApplyDeliveryUpdate(ctx, order.DeliveryUpdateCommand{
			OrderID:    o.ID,
			MerchantID: o.MerchantID,
			Status:     order.Status(u.Status),
			Platform:   u.Platform,
		})
	}
	return nil, fmt.Errorf("%w: unsupported delivery status %q", ErrBadRequest, u.Status)
}

func sortedQuotes(m map[string]pricing.Quote) []pricing.Quote {
	out := make([]pricing.Quote, 0, len(m))
	for _, q := range m {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
