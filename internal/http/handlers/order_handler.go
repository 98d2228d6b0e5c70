// README: Order handlers: intake, listing, lifecycle transitions, dispatch and audit log.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"yisong/internal/modules/dispatch"
	"yisong/internal/modules/order"
	"yisong/internal/types"
)

type OrderHandler struct {
	orders   *order.Service
	dispatch *dispatch.Service
}

func NewOrderHandler(orders *order.Service, dispatchSvc *dispatch.Service) *OrderHandler {
	return &OrderHandler{orders: orders, dispatch: dispatchSvc}
}

type createOrderReq struct {
	Source          string          `json:"source"`
	SourceOrderID   string          `json:"sourceOrderId"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	DeliveryFee     decimal.Decimal `json:"deliveryFee"`
	CustomerName    string          `json:"customerName" binding:"max=64"`
	CustomerPhone   string          `json:"customerPhone" binding:"max=32"`
	DeliveryAddress string          `json:"deliveryAddress" binding:"max=256"`
	Pickup          *types.Point    `json:"pickup"`
	Dropoff         *types.Point    `json:"dropoff"`
	DistanceKm      *float64        `json:"distanceKm" binding:"omitempty,gte=0"`
}

func (r createOrderReq) command(merchant types.ID, actor string) order.CreateCommand {
	return order.CreateCommand{
		MerchantID:      merchant,
		Source:          r.Source,
		SourceOrderID:   r.SourceOrderID,
		TotalAmount:     r.TotalAmount,
		DeliveryFee:     r.DeliveryFee,
		CustomerName:    r.CustomerName,
		CustomerPhone:   r.CustomerPhone,
		DeliveryAddress: r.DeliveryAddress,
		Pickup:          r.Pickup,
		Dropoff:         r.Dropoff,
		DistanceKm:      r.DistanceKm,
		ActorType:       actor,
	}
}

func (h *OrderHandler) Create(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	o, err := h.orders.Create(c.Request.Context(), req.command(merchant, order.ActorMerchant))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

type listOrdersReq struct {
	Status string `form:"status"`
	Source string `form:"source"`
	Page   int    `form:"page" binding:"gte=0"`
	Limit  int    `form:"limit" binding:"gte=0"`
}

type listOrdersResp struct {
	Items []order.Order `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

func (h *OrderHandler) List(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	var req listOrdersReq
	if err := c.ShouldBindQuery(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	f := order.ListFilter{Status: order.Status(req.Status), Source: req.Source, Page: req.Page, Limit: req.Limit}
	items, total, err := h.orders.List(c.Request.Context(), merchant, f)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	f = f.Normalize()
	writeJSON(c, http.StatusOK, listOrdersResp{Items: items, Total: total, Page: f.Page, Limit: f.Limit})
}

func (h *OrderHandler) Get(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), id, merchant)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	o, err := h.dispatch.UpdateStatus(c.Request.Context(), order.StatusCommand{
		OrderID:    id,
		MerchantID: merchant,
		Status:     order.Status(req.Status),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) MealReady(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.dispatch.MarkMealReady(c.Request.Context(), order.MealReadyCommand{OrderID: id, MerchantID: merchant})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type dispatchReq struct {
	Platform string `json:"platform"`
}

func (h *OrderHandler) Dispatch(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req dispatchReq
	// An empty body runs the merchant's strategy.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
	}
	res, err := h.dispatch.Dispatch(c.Request.Context(), dispatch.DispatchCommand{
		OrderID:    id,
		MerchantID: merchant,
		Platform:   req.Platform,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *OrderHandler) DispatchStatus(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	snap, err := h.dispatch.Status(c.Request.Context(), id, merchant)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

// Quotes previews the evaluation; ?platform= checks one carrier.
func (h *OrderHandler) Quotes(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	p, err := h.dispatch.Preview(c.Request.Context(), dispatch.DispatchCommand{
		OrderID:    id,
		MerchantID: merchant,
		Platform:   c.Query("platform"),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

type selfDeliveryReq struct {
	Note string `json:"note" binding:"max=256"`
}

func (h *OrderHandler) SelfDelivery(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req selfDeliveryReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
	}
	o, err := h.dispatch.SelfDeliver(c.Request.Context(), order.SelfDeliveryCommand{
		OrderID:    id,
		MerchantID: merchant,
		ActorType:  order.ActorMerchant,
		Note:       req.Note,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// Cancel is DELETE /orders/:id; the record stays, only its status changes.
func (h *OrderHandler) Cancel(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.dispatch.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID:    id,
		MerchantID: merchant,
		ActorType:  order.ActorMerchant,
		Reason:     c.Query("reason"),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) Events(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	events, err := h.orders.Events(c.Request.Context(), id, merchant)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"events": events})
}
