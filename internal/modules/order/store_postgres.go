// README: Order store backed by PostgreSQL (row lock per update, audit events table).
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"yisong/internal/types"
)

type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const orderColumns = `
	id, order_no, merchant_id, source, source_order_id, status, delivery_type,
	delivery_platform, delivery_order_id,
	total_amount::text, delivery_fee::text, tip_amount::text,
	customer_name, customer_phone, delivery_address,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, distance_km,
	calling_platform, call_attempts, version,
	created_at, updated_at, meal_ready_time, dispatched_at`

func (s *PostgresStore) Insert(ctx context.Context, o *Order) error {
	pLat, pLng := pointArgs(o.Pickup)
	dLat, dLng := pointArgs(o.Dropoff)
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			id, order_no, merchant_id, source, source_order_id, status, delivery_type,
			delivery_platform, delivery_order_id,
			total_amount, delivery_fee, tip_amount,
			customer_name, customer_phone, delivery_address,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, distance_km,
			calling_platform, call_attempts, version,
			created_at, updated_at, meal_ready_time, dispatched_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9,
			$10::text::numeric, $11::text::numeric, $12::text::numeric,
			$13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23,
			$24, $25, $26, $27
		)`,
		string(o.ID), o.OrderNo, string(o.MerchantID), o.Source, o.SourceOrderID,
		string(o.Status), string(o.DeliveryType),
		o.DeliveryPlatform, o.DeliveryOrderID,
		o.TotalAmount.String(), o.DeliveryFee.String(), o.TipAmount.String(),
		o.CustomerName, o.CustomerPhone, o.DeliveryAddress,
		pLat, pLng, dLat, dLng, o.DistanceKm,
		o.CallingPlatform, o.CallAttempts, o.Version,
		o.CreatedAt, o.UpdatedAt, o.MealReadyTime, o.DispatchedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id, merchantID types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND merchant_id = $2`,
		string(id), string(merchantID))
	return scanOrder(row)
}

func (s *PostgresStore) List(ctx context.Context, merchantID types.ID, f ListFilter) ([]Order, int, error) {
	f = f.Normalize()
	where := `merchant_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR source = $3)`
	args := []any{string(merchantID), string(f.Status), f.Source}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`,
		append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]Order, 0, f.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *o)
	}
	return items, total, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, id, merchantID types.ID, mutate Mutator) (*Order, error) {
	var out *Order
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND merchant_id = $2 FOR UPDATE`,
			string(id), string(merchantID))
		current, err := scanOrder(row)
		if err != nil {
			return err
		}
		draft := current.Clone()
		if err := mutate(draft); err != nil {
			return err
		}
		draft.Version = current.Version + 1
		draft.UpdatedAt = nextUpdatedAt(current.UpdatedAt, s.now())

		pLat, pLng := pointArgs(draft.Pickup)
		dLat, dLng := pointArgs(draft.Dropoff)
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET
				status = $1, delivery_type = $2,
				delivery_platform = $3, delivery_order_id = $4,
				total_amount = $5::text::numeric, delivery_fee = $6::text::numeric, tip_amount = $7::text::numeric,
				customer_name = $8, customer_phone = $9, delivery_address = $10,
				pickup_lat = $11, pickup_lng = $12, dropoff_lat = $13, dropoff_lng = $14, distance_km = $15,
				calling_platform = $16, call_attempts = $17, version = $18,
				updated_at = $19, meal_ready_time = $20, dispatched_at = $21
			WHERE id = $22 AND version = $23`,
			string(draft.Status), string(draft.DeliveryType),
			draft.DeliveryPlatform, draft.DeliveryOrderID,
			draft.TotalAmount.String(), draft.DeliveryFee.String(), draft.TipAmount.String(),
			draft.CustomerName, draft.CustomerPhone, draft.DeliveryAddress,
			pLat, pLng, dLat, dLng, draft.DistanceKm,
			draft.CallingPlatform, draft.CallAttempts, draft.Version,
			draft.UpdatedAt, draft.MealReadyTime, draft.DispatchedAt,
			string(current.ID), current.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrConflict
		}
		out = draft
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) FindByDeliveryOrderID(ctx context.Context, platform, deliveryOrderID string) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE delivery_platform = $1 AND delivery_order_id = $2`, platform, deliveryOrderID)
	return scanOrder(row)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	var actor *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actor = &v
	}
	return s.db.QueryRow(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		actor,
		e.Note,
		e.CreatedAt,
	).Scan(&e.ID)
}

func (s *PostgresStore) Events(ctx context.Context, orderID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, note, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		var actor *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actor != nil {
			id := types.ID(*actor)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status, deliveryType string
	var total, fee, tip string
	var pLat, pLng, dLat, dLng *float64

	err := row.Scan(
		&o.ID, &o.OrderNo, &o.MerchantID, &o.Source, &o.SourceOrderID, &status, &deliveryType,
		&o.DeliveryPlatform, &o.DeliveryOrderID,
		&total, &fee, &tip,
		&o.CustomerName, &o.CustomerPhone, &o.DeliveryAddress,
		&pLat, &pLng, &dLat, &dLng, &o.DistanceKm,
		&o.CallingPlatform, &o.CallAttempts, &o.Version,
		&o.CreatedAt, &o.UpdatedAt, &o.MealReadyTime, &o.DispatchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.DeliveryType = DeliveryType(deliveryType)
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("total_amount: %w", err)
	}
	if o.DeliveryFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("delivery_fee: %w", err)
	}
	if o.TipAmount, err = decimal.NewFromString(tip); err != nil {
		return nil, fmt.Errorf("tip_amount: %w", err)
	}
	o.Pickup = pointFrom(pLat, pLng)
	o.Dropoff = pointFrom(dLat, dLng)
	return &o, nil
}

func pointArgs(p *types.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Lat, p.Lng
	return &lat, &lng
}

func pointFrom(lat, lng *float64) *types.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &types.Point{Lat: *lat, Lng: *lng}
}
