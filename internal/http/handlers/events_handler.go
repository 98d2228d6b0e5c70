// README: Server-sent event stream of order events for the calling merchant.
package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"yisong/internal/modules/notify"
)

type EventsHandler struct {
	hub       *notify.Hub
	heartbeat time.Duration
}

func NewEventsHandler(hub *notify.Hub, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &EventsHandler{hub: hub, heartbeat: heartbeat}
}

func (h *EventsHandler) Stream(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	events, cancel := h.hub.Subscribe(merchant)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.SSEvent("ready", map[string]any{"merchantId": merchant})
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", t.Unix())
			return true
		}
	})
}
