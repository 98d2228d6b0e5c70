// README: Order service implements the lifecycle state machine, audit trail and event publication.
package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"yisong/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order state conflict")
	ErrBadRequest        = errors.New("bad request")
)

// InvalidTransitionError reports a rejected transition; it matches ErrInvalidTransition.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Publisher receives domain events after each committed transition.
type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent)
}

type Distancer interface {
	DistanceKm(ctx context.Context, from, to types.Point) (float64, error)
}

// SourceChecker tells whether a code names an active upstream platform.
type SourceChecker interface {
	IsUpstream(ctx context.Context, code string) (bool, error)
}

type Service struct {
	store     Store
	publisher Publisher
	distancer Distancer
	sources   SourceChecker
	locks     *keyedMutex
	now       func() time.Time
}

func NewService(store Store, publisher Publisher, distancer Distancer, sources SourceChecker) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		distancer: distancer,
		sources:   sources,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

type CreateCommand struct {
	MerchantID      types.ID
	Source          string
	SourceOrderID   string
	TotalAmount     decimal.Decimal
	DeliveryFee     decimal.Decimal
	CustomerName    string
	CustomerPhone   string
	DeliveryAddress string
	Pickup          *types.Point
	Dropoff         *types.Point
	DistanceKm      *float64
	ActorType       string
}

type StatusCommand struct {
	OrderID    types.ID
	MerchantID types.ID
	Status     Status
}

type CallCommand struct {
	OrderID    types.ID
	MerchantID types.ID
	Platform   string
	Tip        decimal.Decimal
}

type AcceptCommand struct {
	OrderID         types.ID
	MerchantID      types.ID
	Platform        string
	DeliveryOrderID string
	Fee             decimal.Decimal
}

type SelfDeliveryCommand struct {
	OrderID    types.ID
	MerchantID types.ID
	ActorType  string
	Note       string
}

type MealReadyCommand struct {
	OrderID    types.ID
	MerchantID types.ID
}

type CancelCommand struct {
	OrderID    types.ID
	MerchantID types.ID
	ActorType  string
	Reason     string
}

type DeliveryUpdateCommand struct {
	OrderID    types.ID
	MerchantID types.ID
	Status     Status
	Platform   string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.MerchantID == "" || strings.TrimSpace(cmd.Source) == "" {
		return nil, fmt.Errorf("%w: merchant and source are required", ErrBadRequest)
	}
	if cmd.TotalAmount.IsNegative() || cmd.DeliveryFee.IsNegative() {
		return nil, fmt.Errorf("%w: amounts must be non-negative", ErrBadRequest)
	}
	if cmd.DistanceKm != nil && *cmd.DistanceKm < 0 {
		return nil, fmt.Errorf("%w: distance must be non-negative", ErrBadRequest)
	}
	if s.sources != nil {
		ok, err := s.sources.IsUpstream(ctx, cmd.Source)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown upstream platform %q", ErrBadRequest, cmd.Source)
		}
	}

	distance := 0.0
	switch {
	case cmd.DistanceKm != nil:
		distance = *cmd.DistanceKm
	case cmd.Pickup != nil && cmd.Dropoff != nil && s.distancer != nil:
		d, err := s.distancer.DistanceKm(ctx, *cmd.Pickup, *cmd.Dropoff)
		if err != nil {
			log.Printf("order: distance lookup failed: %v", err)
		} else {
			distance = d
		}
	}

	now := s.now()
	actor := cmd.ActorType
	if actor == "" {
		actor = ActorMerchant
	}
	o := &Order{
		ID:              types.ID(uuid.NewString()),
		OrderNo:         newOrderNo(now),
		Source:          cmd.Source,
		SourceOrderID:   cmd.SourceOrderID,
		Status:          StatusPending,
		MerchantID:      cmd.MerchantID,
		DeliveryType:    DeliveryUnset,
		TotalAmount:     cmd.TotalAmount,
		DeliveryFee:     cmd.DeliveryFee,
		TipAmount:       decimal.Zero,
		CustomerName:    cmd.CustomerName,
		CustomerPhone:   cmd.CustomerPhone,
		DeliveryAddress: cmd.DeliveryAddress,
		Pickup:          cmd.Pickup,
		Dropoff:         cmd.Dropoff,
		DistanceKm:      distance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	unlock := s.locks.Lock(o.ID)
	defer unlock()
	if err := s.store.Insert(ctx, o); err != nil {
		return nil, err
	}
	s.audit(ctx, o, StatusNone, actor, "")
	s.publish(ctx, EventCreated, o)
	return o.Clone(), nil
}

func (s *Service) Get(ctx context.Context, id, merchantID types.ID) (*Order, error) {
	return s.store.Get(ctx, id, merchantID)
}

func (s *Service) List(ctx context.Context, merchantID types.ID, f ListFilter) ([]Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrBadRequest, f.Status)
	}
	return s.store.List(ctx, merchantID, f.Normalize())
}

func (s *Service) Events(ctx context.Context, id, merchantID types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id, merchantID); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

// UpdateStatus applies a single merchant-requested transition.
func (s *Service) UpdateStatus(ctx context.Context, cmd StatusCommand) (*Order, error) {
	if !cmd.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, cmd.Status)
	}
	if cmd.Status == StatusDeliveryAccepted {
		return nil, fmt.Errorf("%w: acceptance is recorded through dispatch or self-delivery", ErrBadRequest)
	}
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	evt := EventUpdated
	if cmd.Status == StatusCancelled {
		evt = EventCancelled
	}
	return s.transition(ctx, cmd.OrderID, cmd.MerchantID, cmd.Status, evt, ActorMerchant, "", func(o *Order, now time.Time) error {
		if cmd.Status == StatusReady && o.MealReadyTime == nil {
			o.MealReadyTime = &now
		}
		return nil
	})
}

// BeginCall moves an order into delivery_calling (or re-enters it) for the given platform.
func (s *Service) BeginCall(ctx context.Context, cmd CallCommand) (*Order, error) {
	if cmd.Platform == "" {
		return nil, fmt.Errorf("%w: platform is required", ErrBadRequest)
	}
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()
	return s.transition(ctx, cmd.OrderID, cmd.MerchantID, StatusDeliveryCalling, EventUpdated, ActorSystem,
		"calling "+cmd.Platform, func(o *Order, _ time.Time) error {
			o.CallingPlatform = cmd.Platform
			o.CallAttempts++
			o.TipAmount = cmd.Tip
			return nil
		})
}

// Accept records a downstream acceptance; platform and delivery id are set together.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Order, error) {
	if cmd.Platform == "" || cmd.DeliveryOrderID == "" {
		return nil, fmt.Errorf("%w: platform and delivery order id are required", ErrBadRequest)
	}
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()
	return s.transition(ctx, cmd.OrderID, cmd.MerchantID, StatusDeliveryAccepted, EventDispatched, ActorCarrier,
		"accepted by "+cmd.Platform, func(o *Order, now time.Time) error {
			platform, deliveryID := cmd.Platform, cmd.DeliveryOrderID
			o.DeliveryType = DeliveryThirdParty
			o.DeliveryPlatform = &platform
			o.DeliveryOrderID = &deliveryID
			o.DeliveryFee = cmd.Fee.Add(o.TipAmount)
			o.DispatchedAt = &now
			return nil
		})
}

// SelfDeliver hands the order to the merchant's own rider. Orders that were never called
// pass through delivery_calling first.
func (s *Service) SelfDeliver(ctx context.Context, cmd SelfDeliveryCommand) (*Order, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	current, err := s.store.Get(ctx, cmd.OrderID, cmd.MerchantID)
	if err != nil {
		return nil, err
	}
	actor := cmd.ActorType
	if actor == "" {
		actor = ActorMerchant
	}
	if current.Status == StatusPending || current.Status == StatusPreparing {
		if _, err := s.transition(ctx, cmd.OrderID, cmd.MerchantID, StatusDeliveryCalling, EventUpdated, actor,
			"self delivery", nil); err != nil {
			return nil, err
		}
	}
	return s.transition(ctx, cmd.OrderID, cmd.MerchantID, StatusDeliveryAccepted, EventSelfDelivery, actor,
		cmd.Note, func(o *Order, now time.Time) error {
			o.DeliveryType = DeliverySelf
			o.DeliveryPlatform = nil
			o.DeliveryOrderID = nil
			o.CallingPlatform = ""
			o.DispatchedAt = &now
			return nil
		})
}

func (s *Service) MarkMealReady(ctx context.Context, cmd MealReadyCommand) (*Order, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()
	return s.transition(ctx, cmd.OrderID, cmd.MerchantID, StatusReady, EventMealReady, ActorMerchant, "",
		func(o *Order, now time.Time) error {
			o.MealReadyTime = &now
			return nil
		})
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	actor := cmd.ActorType
	if actor == "" {
		actor = ActorMerchant
	}
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()
	return s.transition(ctx, cmd.OrderID, cmd.MerchantID, StatusCancelled, EventCancelled, actor, cmd.Reason, nil)
}

var deliveryPath = []Status{
	StatusDeliveryAccepted,
	StatusReady,
	StatusPickedUp,
	StatusDelivering,
	StatusDelivered,
}

// ApplyDeliveryUpdate walks the forward delivery path up to the reported status, one
// transition and one event per hop. Repeating the current status is a no-op.
func (s *Service) ApplyDeliveryUpdate(ctx context.Context, cmd DeliveryUpdateCommand) (*Order, error) {
	target := pathIndex(cmd.Status)
	if target < 0 {
		return nil, fmt.Errorf("%w: unsupported delivery status %q", ErrBadRequest, cmd.Status)
	}
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	current, err := s.store.Get(ctx, cmd.OrderID, cmd.MerchantID)
	if err != nil {
		return nil, err
	}
	if current.Status == cmd.Status {
		return current, nil
	}
	from := pathIndex(current.Status)
	if from < 0 || from > target {
		return nil, &InvalidTransitionError{From: current.Status, To: cmd.Status}
	}
	note := "reported by " + cmd.Platform
	for i := from + 1; i <= target; i++ {
		next := deliveryPath[i]
		current, err = s.transition(ctx, cmd.OrderID, cmd.MerchantID, next, EventDeliveryUpdate, ActorCarrier, note,
			func(o *Order, now time.Time) error {
				if next == StatusReady && o.MealReadyTime == nil {
					o.MealReadyTime = &now
				}
				return nil
			})
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// NotifyExhausted publishes the dispatch-failure signal without changing state. The order
// must still be delivery_calling so the merchant can re-trigger dispatch.
func (s *Service) NotifyExhausted(ctx context.Context, id, merchantID types.ID, note string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	o, err := s.store.Get(ctx, id, merchantID)
	if err != nil {
		return err
	}
	if o.Status != StatusDeliveryCalling {
		return &InvalidTransitionError{From: o.Status, To: StatusDeliveryCalling}
	}
	s.audit(ctx, o, o.Status, ActorSystem, note)
	s.publish(ctx, EventDispatchExhausted, o)
	return nil
}

func (s *Service) FindByDeliveryOrderID(ctx context.Context, platform, deliveryOrderID string) (*Order, error) {
	return s.store.FindByDeliveryOrderID(ctx, platform, deliveryOrderID)
}

// transition commits one state change; the caller holds the order lock.
func (s *Service) transition(ctx context.Context, id, merchantID types.ID, to Status, evt EventType, actor, note string,
	apply func(o *Order, now time.Time) error) (*Order, error) {
	var from Status
	updated, err := s.store.Update(ctx, id, merchantID, func(o *Order) error {
		from = o.Status
		if !CanTransition(o.Status, to) {
			return &InvalidTransitionError{From: o.Status, To: to}
		}
		o.Status = to
		if apply != nil {
			return apply(o, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, updated, from, actor, note)
	s.publish(ctx, evt, updated)
	return updated, nil
}

func (s *Service) audit(ctx context.Context, o *Order, from Status, actor, note string) {
	var actorID *types.ID
	if actor == ActorMerchant {
		id := o.MerchantID
		actorID = &id
	}
	err := s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   o.Status,
		ActorType:  actor,
		ActorID:    actorID,
		Note:       note,
		CreatedAt:  o.UpdatedAt,
	})
	if err != nil {
		log.Printf("order: append event %s: %v", o.ID, err)
	}
}

func (s *Service) publish(ctx context.Context, evt EventType, o *Order) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, DomainEvent{
		Type:       evt,
		OrderID:    o.ID,
		MerchantID: o.MerchantID,
		Order:      *o.Clone(),
		At:         o.UpdatedAt,
	})
}

func pathIndex(st Status) int {
	for i, v := range deliveryPath {
		if v == st {
			return i
		}
	}
	return -1
}

func newOrderNo(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("ORD%d%s", now.UnixMilli(), strings.ToUpper(suffix))
}
