// README: Order aggregate, lifecycle statuses and the transition table.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"yisong/internal/types"
)

type Status string

const (
	StatusNone             Status = "none"
	StatusPending          Status = "pending"
	StatusPreparing        Status = "preparing"
	StatusDeliveryCalling  Status = "delivery_calling"
	StatusDeliveryAccepted Status = "delivery_accepted"
	StatusReady            Status = "ready"
	StatusPickedUp         Status = "picked_up"
	StatusDelivering       Status = "delivering"
	StatusDelivered        Status = "delivered"
	StatusCancelled        Status = "cancelled"
)

// Statuses lists every lifecycle state in display order.
var Statuses = []Status{
	StatusPending,
	StatusPreparing,
	StatusDeliveryCalling,
	StatusDeliveryAccepted,
	StatusReady,
	StatusPickedUp,
	StatusDelivering,
	StatusDelivered,
	StatusCancelled,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type DeliveryType string

const (
	DeliveryUnset      DeliveryType = "unset"
	DeliveryThirdParty DeliveryType = "third_party"
	DeliverySelf       DeliveryType = "self_delivery"
)

type Order struct {
	ID               types.ID        `json:"id"`
	OrderNo          string          `json:"orderNo"`
	Source           string          `json:"source"`
	SourceOrderID    string          `json:"sourceOrderId,omitempty"`
	Status           Status          `json:"status"`
	MerchantID       types.ID        `json:"merchantId"`
	DeliveryType     DeliveryType    `json:"deliveryType"`
	DeliveryPlatform *string         `json:"deliveryPlatform"`
	DeliveryOrderID  *string         `json:"deliveryOrderId"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	DeliveryFee      decimal.Decimal `json:"deliveryFee"`
	CustomerName     string          `json:"customerName"`
	CustomerPhone    string          `json:"customerPhone"`
	DeliveryAddress  string          `json:"deliveryAddress"`
	Pickup           *types.Point    `json:"pickup,omitempty"`
	Dropoff          *types.Point    `json:"dropoff,omitempty"`
	DistanceKm       float64         `json:"distanceKm"`

	// Dispatch metadata, rewritten by every delivery_calling self-loop.
	CallingPlatform string          `json:"callingPlatform,omitempty"`
	CallAttempts    int             `json:"callAttempts"`
	TipAmount       decimal.Decimal `json:"tipAmount"`

	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	MealReadyTime *time.Time `json:"mealReadyTime"`
	DispatchedAt  *time.Time `json:"dispatchedAt"`
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (o *Order) Clone() *Order {
	c := *o
	c.DeliveryPlatform = cloneString(o.DeliveryPlatform)
	c.DeliveryOrderID = cloneString(o.DeliveryOrderID)
	c.Pickup = clonePoint(o.Pickup)
	c.Dropoff = clonePoint(o.Dropoff)
	c.MealReadyTime = cloneTime(o.MealReadyTime)
	c.DispatchedAt = cloneTime(o.DispatchedAt)
	return &c
}

// Event is one row of the state-transition audit log.
type Event struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"orderId"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	ActorType  string    `json:"actorType"`
	ActorID    *types.ID `json:"actorId,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	ActorMerchant = "merchant"
	ActorSystem   = "system"
	ActorCarrier  = "carrier"
	ActorUpstream = "upstream"
)

// EventType names a domain event pushed to subscribers.
type EventType string

const (
	EventCreated           EventType = "order:created"
	EventUpdated           EventType = "order:updated"
	EventDispatched        EventType = "order:dispatched"
	EventMealReady         EventType = "order:meal-ready"
	EventSelfDelivery      EventType = "order:self-delivery"
	EventCancelled         EventType = "order:cancelled"
	EventDeliveryUpdate    EventType = "order:delivery-update"
	EventDispatchExhausted EventType = "order:dispatch-exhausted"
)

type DomainEvent struct {
	Type       EventType `json:"type"`
	OrderID    types.ID  `json:"orderId"`
	MerchantID types.ID  `json:"merchantId"`
	Order      Order     `json:"order"`
	At         time.Time `json:"at"`
}

// AllowedTransitions represents the order lifecycle as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:          {StatusPreparing, StatusDeliveryCalling, StatusReady, StatusCancelled},
	StatusPreparing:        {StatusDeliveryCalling, StatusReady, StatusCancelled},
	StatusDeliveryCalling:  {StatusDeliveryCalling, StatusDeliveryAccepted, StatusReady, StatusCancelled},
	StatusDeliveryAccepted: {StatusReady, StatusCancelled},
	StatusReady:            {StatusPickedUp, StatusCancelled},
	StatusPickedUp:         {StatusDelivering, StatusCancelled},
	StatusDelivering:       {StatusDelivered, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func clonePoint(v *types.Point) *types.Point {
	if v == nil {
		return nil
	}
	p := *v
	return &p
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
