// README: Delivery settings handlers (per-merchant dispatch and escalation configuration).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yisong/internal/modules/settings"
)

type SettingsHandler struct {
	settings *settings.Service
}

func NewSettingsHandler(svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{settings: svc}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	v, err := h.settings.Get(c.Request.Context(), merchant)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

// Put replaces the whole document; validation happens in the settings service.
func (h *SettingsHandler) Put(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}
	var req settings.DeliverySettings
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	v, err := h.settings.Put(c.Request.Context(), merchant, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}
