// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"yisong/internal/http/middleware"
	"yisong/internal/modules/dispatch"
	"yisong/internal/modules/escalation"
	"yisong/internal/modules/order"
	"yisong/internal/modules/platform"
	"yisong/internal/modules/settings"
	"yisong/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the ids the order service mints (uuid text) and nothing longer.
func isValidID(v string) bool {
	if v == "" || len(v) > 36 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps every domain sentinel to its HTTP status.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, dispatch.ErrBadRequest),
		errors.Is(err, dispatch.ErrUnknownPlatform),
		errors.Is(err, platform.ErrBadRequest),
		errors.Is(err, settings.ErrInvalidSettings):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, platform.ErrNotFound),
		errors.Is(err, escalation.ErrNoAttempt):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, dispatch.ErrBudgetExceeded),
		errors.Is(err, dispatch.ErrNoMatchingDistanceRule),
		errors.Is(err, dispatch.ErrNoCandidates),
		errors.Is(err, escalation.ErrDispatchInProgress),
		errors.Is(err, escalation.ErrStaleAcceptance),
		errors.Is(err, escalation.ErrEmptyPlan):
		writeError(c, http.StatusConflict, err.Error())
	default:
		log.Printf("http: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// merchantID returns the caller, answering 401 when the route was mounted without Auth.
func merchantID(c *gin.Context) (types.ID, bool) {
	uid := middleware.CallerUID(c)
	if uid == "" {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return "", false
	}
	return types.ID(uid), true
}

// orderID reads :id; malformed ids are indistinguishable from missing orders.
func orderID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusNotFound, order.ErrNotFound.Error())
		return "", false
	}
	return types.ID(id), true
}
