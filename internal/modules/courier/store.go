// README: Courier store backed by PostgreSQL. The row helpers also run inside order transactions.
package courier

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabla/internal/types"
)

// Store is the persistence surface the courier Service needs.
type Store interface {
	Create(ctx context.Context, c *Courier) error
	Get(ctx context.Context, id types.ID) (*Courier, error)
	List(ctx context.Context, status Status) ([]*Courier, error)
	// SwapStatus moves the courier to `to` only when its current status is in
	// `from`. It returns the courier as it is after the attempt.
	SwapStatus(ctx context.Context, id types.ID, from []Status, to Status) (*Courier, bool, error)
	SetLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const courierColumns = `id, name, status, lat, lng, location_at, created_at, updated_at`

func (s *PgStore) Create(ctx context.Context, c *Courier) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO couriers (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		string(c.ID), c.Name, string(c.Status), c.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "couriers_pkey" {
		return ErrExists
	}
	return err
}

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Courier, error) {
	return scanCourier(s.db.QueryRow(ctx, `SELECT `+courierColumns+` FROM couriers WHERE id = $1`, string(id)))
}

func (s *PgStore) List(ctx context.Context, status Status) ([]*Courier, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+courierColumns+` FROM couriers
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Courier
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PgStore) SwapStatus(ctx context.Context, id types.ID, from []Status, to Status) (*Courier, bool, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	c, err := scanCourier(s.db.QueryRow(ctx, `
		UPDATE couriers
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+courierColumns,
		string(id), string(to), allowed,
	))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	c, err = s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

func (s *PgStore) SetLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE couriers SET lat = $2, lng = $3, location_at = $4
		WHERE id = $1`,
		string(id), p.Lat, p.Lng, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LockForUpdate reads the courier row and holds its lock until q commits.
func LockForUpdate(ctx context.Context, q Querier, id types.ID) (*Courier, error) {
	return scanCourier(q.QueryRow(ctx, `SELECT `+courierColumns+` FROM couriers WHERE id = $1 FOR UPDATE`, string(id)))
}

func SetStatus(ctx context.Context, q Querier, id types.ID, status Status) error {
	tag, err := q.Exec(ctx, `UPDATE couriers SET status = $2, updated_at = NOW() WHERE id = $1`, string(id), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCourier(row pgx.Row) (*Courier, error) {
	var c Courier
	var lat, lng sql.NullFloat64
	var locationAt sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Status, &lat, &lng, &locationAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		c.CurrentLocation = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if locationAt.Valid {
		t := locationAt.Time
		c.LocationAt = &t
	}
	return &c, nil
}
