package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("YISONG_AUTH_JWT_SECRET", "secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.Auth.Provider != AuthProviderJWT {
		t.Fatalf("expected jwt provider, got %q", cfg.Auth.Provider)
	}
	if cfg.Dispatch.QuoteTimeout != 10*time.Second {
		t.Fatalf("expected 10s quote timeout, got %v", cfg.Dispatch.QuoteTimeout)
	}
	if cfg.Redis.Channel != "yisong:order-events" {
		t.Fatalf("unexpected redis channel %q", cfg.Redis.Channel)
	}
	if cfg.DB.DSN != "" {
		t.Fatalf("expected empty DSN by default, got %q", cfg.DB.DSN)
	}
	if cfg.Location().String() != "Asia/Shanghai" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("YISONG_AUTH_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when jwt secret is missing")
	}
}

func TestLoad_FirebaseProviderNeedsProject(t *testing.T) {
	t.Setenv("YISONG_AUTH_PROVIDER", AuthProviderFirebase)
	t.Setenv("YISONG_FIREBASE_PROJECT_ID", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when firebase project id is missing")
	}
	t.Setenv("YISONG_FIREBASE_PROJECT_ID", "yisong-dev")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with project id: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("YISONG_AUTH_JWT_SECRET", "secret")
	t.Setenv("YISONG_HTTP_ADDR", ":9090")
	t.Setenv("YISONG_DISPATCH_SIM_ACCEPT_RATE", "0.25")
	t.Setenv("YISONG_DISPATCH_SIM_ACCEPT_AFTER", "2s")
	t.Setenv("YISONG_WEBHOOK_SECRET", "hook")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.HTTP.Addr)
	}
	if cfg.Dispatch.SimAcceptRate != 0.25 || cfg.Dispatch.SimAcceptAfter != 2*time.Second {
		t.Fatalf("unexpected simulator config: %+v", cfg.Dispatch)
	}
	if cfg.Webhook.Secret != "hook" {
		t.Fatalf("webhook secret = %q", cfg.Webhook.Secret)
	}
}

func TestLoad_RejectsBadAcceptRate(t *testing.T) {
	t.Setenv("YISONG_AUTH_JWT_SECRET", "secret")
	t.Setenv("YISONG_DISPATCH_SIM_ACCEPT_RATE", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for accept rate above 1")
	}
}
