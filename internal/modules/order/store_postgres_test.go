// README: PostgresStore tests; they run only when YISONG_TEST_DSN points at a scratch database.
package order

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"yisong/internal/infra"
	"yisong/internal/types"
)

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("YISONG_TEST_DSN")
	if dsn == "" {
		t.Skip("YISONG_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dir, err := infra.MigrationsDir()
	if err != nil {
		t.Fatalf("locate migrations: %v", err)
	}
	if err := infra.ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, orders"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresStoreFlow(t *testing.T) {
	store := setupPostgresStore(t)
	pub := &recordingPublisher{}
	svc := NewService(store, pub, nil, nil)
	ctx := context.Background()

	dist := 3.2
	o, err := svc.Create(ctx, CreateCommand{
		MerchantID:  testMerchant,
		Source:      "meituan",
		TotalAmount: decimal.RequireFromString("45.50"),
		Pickup:      &types.Point{Lat: 31.23, Lng: 121.47},
		Dropoff:     &types.Point{Lat: 31.24, Lng: 121.50},
		DistanceKm:  &dist,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, o.ID, testMerchant)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.TotalAmount.Equal(decimal.RequireFromString("45.5")) || got.Pickup == nil || got.DistanceKm != 3.2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if _, err := store.Get(ctx, o.ID, "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other merchant, got %v", err)
	}

	if _, err := svc.BeginCall(ctx, CallCommand{OrderID: o.ID, MerchantID: testMerchant, Platform: "dada"}); err != nil {
		t.Fatalf("begin call: %v", err)
	}
	accepted, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, MerchantID: testMerchant, Platform: "dada", DeliveryOrderID: "DEL77", Fee: decimal.NewFromInt(6)})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Version != 2 {
		t.Fatalf("expected version 2, got %d", accepted.Version)
	}

	found, err := store.FindByDeliveryOrderID(ctx, "dada", "DEL77")
	if err != nil || found.ID != o.ID {
		t.Fatalf("find by delivery id: %v %+v", err, found)
	}

	events, err := store.Events(ctx, o.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 || events[2].ToStatus != StatusDeliveryAccepted {
		t.Fatalf("unexpected audit rows: %+v", events)
	}

	items, total, err := store.List(ctx, testMerchant, ListFilter{Status: StatusDeliveryAccepted})
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("list: %v total=%d len=%d", err, total, len(items))
	}
}

func TestPostgresStoreRejectedMutationRollsBack(t *testing.T) {
	store := setupPostgresStore(t)
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	o, err := svc.Create(ctx, CreateCommand{MerchantID: testMerchant, Source: "taobao"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, StatusCommand{OrderID: o.ID, MerchantID: testMerchant, Status: StatusDelivered}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, err := store.Get(ctx, o.ID, testMerchant)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.Version != 0 {
		t.Fatalf("rejected transition changed the row: %+v", got)
	}
}

func TestPostgresStoreConcurrentAccept(t *testing.T) {
	store := setupPostgresStore(t)
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	o, err := svc.Create(ctx, CreateCommand{MerchantID: testMerchant, Source: "douyin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.BeginCall(ctx, CallCommand{OrderID: o.ID, MerchantID: testMerchant, Platform: "sf"}); err != nil {
		t.Fatalf("begin call: %v", err)
	}

	// Separate services share only the database, so the row lock is the only guard.
	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			other := NewService(store, nil, nil, nil)
			_, err := other.Accept(ctx, AcceptCommand{OrderID: o.ID, MerchantID: testMerchant, Platform: "sf", DeliveryOrderID: "DEL1"})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
}
