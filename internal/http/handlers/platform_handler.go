// README: Platform registry handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yisong/internal/modules/platform"
)

type PlatformHandler struct {
	platforms *platform.Service
}

func NewPlatformHandler(svc *platform.Service) *PlatformHandler {
	return &PlatformHandler{platforms: svc}
}

func (h *PlatformHandler) List(c *gin.Context) {
	items, err := h.platforms.ListByType(c.Request.Context(), platform.Type(c.Query("type")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"platforms": items})
}

func (h *PlatformHandler) Get(c *gin.Context) {
	p, err := h.platforms.Resolve(c.Request.Context(), c.Param("code"), platform.Type(c.Query("type")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
