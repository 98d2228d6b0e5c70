// README: Partner webhooks. Upstream platforms push new orders; downstream carriers push delivery progress.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"yisong/internal/modules/dispatch"
	"yisong/internal/modules/order"
	"yisong/internal/modules/platform"
	"yisong/internal/types"
)

type WebhookHandler struct {
	platforms *platform.Service
	orders    *order.Service
	dispatch  *dispatch.Service
}

func NewWebhookHandler(platforms *platform.Service, orders *order.Service, dispatchSvc *dispatch.Service) *WebhookHandler {
	return &WebhookHandler{platforms: platforms, orders: orders, dispatch: dispatchSvc}
}

// upstreamOrderReq is the normalized order push; partner adapters translate into this shape.
type upstreamOrderReq struct {
	MerchantID string `json:"merchantId" binding:"required"`
	createOrderReq
}

type deliveryUpdateReq struct {
	OrderID         string          `json:"orderId"`
	DeliveryOrderID string          `json:"deliveryOrderId"`
	Status          string          `json:"status" binding:"required"`
	Fee             decimal.Decimal `json:"fee"`
}

// Receive routes by the platform's type. A code registered under both types needs ?type=.
func (h *WebhookHandler) Receive(c *gin.Context) {
	p, err := h.platforms.Resolve(c.Request.Context(), c.Param("platform"), platform.Type(c.Query("type")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !p.Active() {
		writeError(c, http.StatusNotFound, platform.ErrNotFound.Error())
		return
	}
	if p.Type == platform.TypeUpstream {
		h.receiveOrder(c, p)
		return
	}
	h.receiveDelivery(c, p)
}

func (h *WebhookHandler) receiveOrder(c *gin.Context, p *platform.Platform) {
	var req upstreamOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	req.Source = p.Code
	o, err := h.orders.Create(c.Request.Context(), req.command(types.ID(req.MerchantID), order.ActorUpstream))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *WebhookHandler) receiveDelivery(c *gin.Context, p *platform.Platform) {
	var req deliveryUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	o, err := h.dispatch.HandleDeliveryUpdate(c.Request.Context(), dispatch.DeliveryUpdate{
		Platform:        p.Code,
		OrderID:         types.ID(req.OrderID),
		DeliveryOrderID: req.DeliveryOrderID,
		Status:          req.Status,
		Fee:             req.Fee,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if o == nil {
		writeJSON(c, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeJSON(c, http.StatusOK, o)
}
