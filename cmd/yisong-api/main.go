// README: Entry point; loads config, wires stores and services, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"yisong/internal/config"
	httptransport "yisong/internal/http"
	"yisong/internal/infra"
	"yisong/internal/maps"
	"yisong/internal/modules/carrier"
	"yisong/internal/modules/dispatch"
	"yisong/internal/modules/escalation"
	"yisong/internal/modules/notify"
	"yisong/internal/modules/order"
	"yisong/internal/modules/platform"
	"yisong/internal/modules/pricing"
	"yisong/internal/modules/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.SetupTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatalf("tracing init: %v", err)
	}

	var dbPool *pgxpool.Pool
	if cfg.DB.DSN != "" {
		dbPool, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer dbPool.Close()
		dir, err := infra.MigrationsDir()
		if err != nil {
			log.Fatalf("locate migrations: %v", err)
		}
		if err := infra.ApplyMigrations(ctx, dbPool, dir); err != nil {
			log.Fatalf("migrations: %v", err)
		}
	} else {
		log.Printf("YISONG_DB_DSN not set, using in-memory stores")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			log.Fatal(err)
		}
		defer redisClient.Close()
	}

	needFirebase := cfg.Auth.Provider == config.AuthProviderFirebase || cfg.Firebase.PushEnabled
	var verifier infra.TokenVerifier
	var subscribers []notify.Subscriber
	hub := notify.NewHub(64)
	subscribers = append(subscribers, hub)
	if redisClient != nil {
		subscribers = append(subscribers, notify.NewRedisPublisher(redisClient, cfg.Redis.Channel))
	}
	if needFirebase {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		if cfg.Auth.Provider == config.AuthProviderFirebase {
			verifier, err = infra.NewFirebaseVerifier(ctx, app)
			if err != nil {
				log.Fatalf("firebase auth: %v", err)
			}
		}
		if cfg.Firebase.PushEnabled {
			client, err := infra.NewMessaging(ctx, app)
			if err != nil {
				log.Fatalf("firebase messaging: %v", err)
			}
			subscribers = append(subscribers, notify.NewFCMPublisher(client))
		}
	}
	if verifier == nil {
		verifier, err = infra.NewJWTVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			log.Fatal(err)
		}
	}
	notifier := notify.New(notify.Options{}, subscribers...)

	var (
		platformStore platform.Store
		rateStore     pricing.Store
		orderStore    order.Store
		settingsStore settings.Store
	)
	if dbPool != nil {
		platformStore = platform.NewPostgresStore(dbPool)
		rateStore = pricing.NewPostgresStore(dbPool)
		orderStore = order.NewPostgresStore(dbPool)
	} else {
		mem, err := platform.NewMemoryStore(platform.Seed())
		if err != nil {
			log.Fatal(err)
		}
		platformStore = mem
		rateStore = pricing.NewMemoryStore(pricing.DefaultRates())
		orderStore = order.NewMemoryStore()
	}
	if redisClient != nil {
		settingsStore = settings.NewRedisStore(redisClient)
	} else {
		settingsStore = settings.NewMemoryStore()
	}

	distances, err := maps.NewDistanceService(cfg.Maps.APIKey)
	if err != nil {
		log.Fatalf("maps init: %v", err)
	}

	loc := cfg.Location()
	platformSvc := platform.NewService(platformStore)
	pricingSvc := pricing.NewService(rateStore, loc)
	settingsSvc := settings.NewService(settingsStore)
	orderSvc := order.NewService(orderStore, notifier, distances, platformSvc)

	// Without the simulator, calls are only logged and acceptances arrive by webhook.
	simulator := carrier.NewSimulator(0, 0)
	if cfg.Dispatch.SimulateCarrier {
		simulator = carrier.NewSimulator(cfg.Dispatch.SimAcceptRate, cfg.Dispatch.SimAcceptAfter)
	}
	controller := escalation.NewController(orderSvc, simulator, nil)
	if cfg.Dispatch.SimulateCarrier {
		simulator.SetReporter(controller)
	}

	dispatchSvc := dispatch.NewService(dispatch.Deps{
		Orders:       orderSvc,
		Settings:     settingsSvc,
		Platforms:    platformSvc,
		Pricing:      pricingSvc,
		Escalation:   controller,
		Carrier:      simulator,
		Location:     loc,
		QuoteTimeout: cfg.Dispatch.QuoteTimeout,
	})

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Orders:        orderSvc,
		Dispatch:      dispatchSvc,
		Platforms:     platformSvc,
		Settings:      settingsSvc,
		Hub:           hub,
		Verifier:      verifier,
		WebhookSecret: cfg.Webhook.Secret,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("yisong-api listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}

	notifier.Close()
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
