// README: Downstream carrier gateway contract and the request/acceptance shapes it exchanges.
package carrier

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"yisong/internal/types"
)

type CallRequest struct {
	OrderID    types.ID
	MerchantID types.ID
	Platform   string
	Fee        decimal.Decimal
	Tip        decimal.Decimal
	DistanceKm float64
	Attempt    int
}

// CancelRequest withdraws a pending call, or an accepted delivery when DeliveryOrderID is set.
type CancelRequest struct {
	OrderID         types.ID
	Platform        string
	DeliveryOrderID string
	Reason          string
}

// MealReadyRequest tells the assigned carrier the food can be picked up.
type MealReadyRequest struct {
	OrderID         types.ID
	Platform        string
	DeliveryOrderID string
	ReadyAt         time.Time
}

// Acceptance is what a carrier reports once a rider takes the order.
type Acceptance struct {
	OrderID         types.ID
	Platform        string
	DeliveryOrderID string
	Fee             decimal.Decimal
}

// Gateway offers orders to carriers. Call only places the request; acceptance comes back
// later through a Reporter or a webhook.
type Gateway interface {
	Call(ctx context.Context, req CallRequest) error
	Cancel(ctx context.Context, req CancelRequest) error
	MealReady(ctx context.Context, req MealReadyRequest) error
}

type Reporter interface {
	Accepted(ctx context.Context, a Acceptance) error
}
