// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"yisong/internal/http/handlers"
	"yisong/internal/http/middleware"
	"yisong/internal/infra"
	"yisong/internal/modules/dispatch"
	"yisong/internal/modules/notify"
	"yisong/internal/modules/order"
	"yisong/internal/modules/platform"
	"yisong/internal/modules/settings"
)

type ServerDeps struct {
	Orders        *order.Service
	Dispatch      *dispatch.Service
	Platforms     *platform.Service
	Settings      *settings.Service
	Hub           *notify.Hub
	Verifier      infra.TokenVerifier
	WebhookSecret string
	// Heartbeat is the SSE keep-alive period; zero uses the handler default.
	Heartbeat time.Duration
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	platformHandler := handlers.NewPlatformHandler(s.deps.Platforms)
	webhookHandler := handlers.NewWebhookHandler(s.deps.Platforms, s.deps.Orders, s.deps.Dispatch)
	api.POST("/webhooks/:platform", middleware.WebhookSecret(s.deps.WebhookSecret), webhookHandler.Receive)

	authed := api.Group("")
	authed.Use(middleware.Auth(s.deps.Verifier), middleware.RequireRole(middleware.RoleMerchant))

	orderHandler := handlers.NewOrderHandler(s.deps.Orders, s.deps.Dispatch)
	authed.POST("/orders", orderHandler.Create)
	authed.GET("/orders", orderHandler.List)
	authed.GET("/orders/:id", orderHandler.Get)
	authed.PUT("/orders/:id/status", orderHandler.UpdateStatus)
	authed.PUT("/orders/:id/meal-ready", orderHandler.MealReady)
	authed.POST("/orders/:id/dispatch", orderHandler.Dispatch)
	authed.GET("/orders/:id/dispatch", orderHandler.DispatchStatus)
	authed.GET("/orders/:id/quotes", orderHandler.Quotes)
	authed.POST("/orders/:id/self-delivery", orderHandler.SelfDelivery)
	authed.DELETE("/orders/:id", orderHandler.Cancel)
	authed.GET("/orders/:id/events", orderHandler.Events)

	authed.GET("/platforms", platformHandler.List)
	authed.GET("/platforms/:code", platformHandler.Get)

	settingsHandler := handlers.NewSettingsHandler(s.deps.Settings)
	authed.GET("/settings/delivery", settingsHandler.Get)
	authed.PUT("/settings/delivery", settingsHandler.Put)

	if s.deps.Hub != nil {
		eventsHandler := handlers.NewEventsHandler(s.deps.Hub, s.deps.Heartbeat)
		authed.GET("/events", eventsHandler.Stream)
	}
	return r
}
