// README: Order store backed by PostgreSQL; transitions run in one transaction with row locks.
package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabla/internal/modules/assignment"
	"tabla/internal/modules/courier"
	"tabla/internal/types"
)

type ListFilter struct {
	Status    Status
	CourierID types.ID
	Limit     int
}

// Store persists orders. Atomic runs fn in a single unit of work: either every
// write made through the UnitOfWork is kept or none is.
type Store interface {
	Create(ctx context.Context, o *Order, created *Event) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, error)
	ActiveForCourier(ctx context.Context, courierID types.ID) (*Order, error)
	SetLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
	Events(ctx context.Context, orderID types.ID) ([]Event, error)
	Atomic(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

type UnitOfWork interface {
	assignment.Tx
	// LockOrder reads the order and holds it until the unit of work ends.
	LockOrder(ctx context.Context, id types.ID) (*Order, error)
	// SaveTransition writes o if the stored status_version still equals
	// expectedVersion, then bumps o.StatusVersion.
	SaveTransition(ctx context.Context, o *Order, expectedVersion int) error
	AppendEvent(ctx context.Context, e *Event) error
}

type PgStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const orderColumns = `id, status, status_version, assigned_courier_id,
	current_lat, current_lng, location_at,
	customer_id, delivery_address, dropoff_lat, dropoff_lng, items,
	total_amount, delivery_fee, currency, failure_reason,
	created_at, updated_at, accepted_at, rejected_at, picked_up_at, departed_at, delivered_at, failed_at`

func (s *PgStore) Create(ctx context.Context, o *Order, created *Event) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	var dropLat, dropLng *float64
	if o.Dropoff != nil {
		dropLat, dropLng = &o.Dropoff.Lat, &o.Dropoff.Lng
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, status, status_version, customer_id, delivery_address,
			dropoff_lat, dropoff_lng, items, total_amount, delivery_fee, currency,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		string(o.ID), string(o.Status), o.StatusVersion, string(o.CustomerID), o.DeliveryAddress,
		dropLat, dropLng, items, o.Total.Amount, o.DeliveryFee.Amount, o.Total.Currency,
		o.CreatedAt,
	)
	if err != nil {
		return err
	}
	if created != nil {
		if err := (&pgUnit{tx: tx}).AppendEvent(ctx, created); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id)))
}

func (s *PgStore) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR assigned_courier_id = $2)
		ORDER BY created_at DESC
		LIMIT $3`, string(f.Status), string(f.CourierID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PgStore) ActiveForCourier(ctx context.Context, courierID types.ID) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE assigned_courier_id = $1 AND status = ANY($2)
		LIMIT 1`, string(courierID), statusStrings(activeStatuses)))
}

func (s *PgStore) SetLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET current_lat = $2, current_lng = $3, location_at = $4
		WHERE id = $1`, string(id), p.Lat, p.Lng, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) Events(ctx context.Context, orderID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, reason, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id := types.ID(actorID.String)
			e.ActorID = &id
		}
		if reason.Valid {
			e.Reason = &reason.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) Atomic(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgUnit{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

type pgUnit struct {
	tx pgx.Tx
}

func (u *pgUnit) LockOrder(ctx context.Context, id types.ID) (*Order, error) {
	return scanOrder(u.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, string(id)))
}

func (u *pgUnit) SaveTransition(ctx context.Context, o *Order, expectedVersion int) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE orders
		SET status = $2,
			status_version = status_version + 1,
			assigned_courier_id = $3,
			failure_reason = $4,
			updated_at = $5,
			accepted_at = $6,
			rejected_at = $7,
			picked_up_at = $8,
			departed_at = $9,
			delivered_at = $10,
			failed_at = $11
		WHERE id = $1 AND status_version = $12`,
		string(o.ID), string(o.Status), toStringPtr(o.AssignedCourierID), o.FailureReason, o.UpdatedAt,
		o.AcceptedAt, o.RejectedAt, o.PickedUpAt, o.DepartedAt, o.DeliveredAt, o.FailedAt,
		expectedVersion,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	o.StatusVersion = expectedVersion + 1
	return nil
}

func (u *pgUnit) AppendEvent(ctx context.Context, e *Event) error {
	return u.tx.QueryRow(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.Reason,
		e.CreatedAt,
	).Scan(&e.ID)
}

func (u *pgUnit) Courier(ctx context.Context, id types.ID) (*courier.Courier, error) {
	return courier.LockForUpdate(ctx, u.tx, id)
}

func (u *pgUnit) SetCourierStatus(ctx context.Context, id types.ID, status courier.Status) error {
	return courier.SetStatus(ctx, u.tx, id, status)
}

func (u *pgUnit) ActiveOrderFor(ctx context.Context, courierID, exclude types.ID) (types.ID, bool, error) {
	var id string
	err := u.tx.QueryRow(ctx, `
		SELECT id FROM orders
		WHERE assigned_courier_id = $1 AND status = ANY($2) AND id <> $3
		LIMIT 1`, string(courierID), statusStrings(activeStatuses), string(exclude)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return types.ID(id), true, nil
}

// mapPgError turns the one-active-order index violation into the guard's error.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_one_active_per_courier" {
		return fmt.Errorf("%w: already delivering another order", assignment.ErrPersonUnavailable)
	}
	return err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var courierID sql.NullString
	var curLat, curLng, dropLat, dropLng sql.NullFloat64
	var locationAt, acceptedAt, rejectedAt, pickedUpAt, departedAt, deliveredAt, failedAt sql.NullTime
	var failureReason sql.NullString
	var items []byte

	err := row.Scan(
		&o.ID, &o.Status, &o.StatusVersion, &courierID,
		&curLat, &curLng, &locationAt,
		&o.CustomerID, &o.DeliveryAddress, &dropLat, &dropLng, &items,
		&o.Total.Amount, &o.DeliveryFee.Amount, &o.Total.Currency, &failureReason,
		&o.CreatedAt, &o.UpdatedAt, &acceptedAt, &rejectedAt, &pickedUpAt, &departedAt, &deliveredAt, &failedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if courierID.Valid {
		d := types.ID(courierID.String)
		o.AssignedCourierID = &d
	}
	if curLat.Valid && curLng.Valid {
		o.CurrentLocation = &types.Point{Lat: curLat.Float64, Lng: curLng.Float64}
	}
	if dropLat.Valid && dropLng.Valid {
		o.Dropoff = &types.Point{Lat: dropLat.Float64, Lng: dropLng.Float64}
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode items for %s: %w", o.ID, err)
		}
	}
	if failureReason.Valid {
		o.FailureReason = &failureReason.String
	}
	o.DeliveryFee.Currency = o.Total.Currency
	o.LocationAt = toTimePtr(locationAt)
	o.AcceptedAt = toTimePtr(acceptedAt)
	o.RejectedAt = toTimePtr(rejectedAt)
	o.PickedUpAt = toTimePtr(pickedUpAt)
	o.DepartedAt = toTimePtr(departedAt)
	o.DeliveredAt = toTimePtr(deliveredAt)
	o.FailedAt = toTimePtr(failedAt)
	return &o, nil
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
