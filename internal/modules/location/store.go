// README: Location store backed by Redis: last-known samples as JSON keys, courier positions in a GEO set.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tabla/internal/types"
)

// Store keeps the last-known sample per order and per courier. Writes
// overwrite unconditionally: the last write wins.
type Store interface {
	SetOrderSample(ctx context.Context, s Sample) error
	OrderSample(ctx context.Context, orderID types.ID) (Sample, bool, error)
	SetCourierSample(ctx context.Context, s Sample) error
	CourierSample(ctx context.Context, courierID types.ID) (Sample, bool, error)
	NearbyCouriers(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]NearbyCourier, error)
}

const (
	orderKeyPrefix   = "tabla:loc:order:"
	courierKeyPrefix = "tabla:loc:courier:"
	courierGeoKey    = "tabla:geo:couriers"
	sampleTTL        = 24 * time.Hour
)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) SetOrderSample(ctx context.Context, smp Sample) error {
	data, err := json.Marshal(smp)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, orderKeyPrefix+smp.OrderID.String(), data, sampleTTL).Err()
}

func (s *RedisStore) OrderSample(ctx context.Context, orderID types.ID) (Sample, bool, error) {
	return s.get(ctx, orderKeyPrefix+orderID.String())
}

func (s *RedisStore) SetCourierSample(ctx context.Context, smp Sample) error {
	data, err := json.Marshal(smp)
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, courierKeyPrefix+smp.CourierID.String(), data, sampleTTL)
	pipe.GeoAdd(ctx, courierGeoKey, &redis.GeoLocation{
		Name:      smp.CourierID.String(),
		Longitude: smp.Lng,
		Latitude:  smp.Lat,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CourierSample(ctx context.Context, courierID types.ID) (Sample, bool, error) {
	return s.get(ctx, courierKeyPrefix+courierID.String())
}

func (s *RedisStore) NearbyCouriers(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]NearbyCourier, error) {
	locs, err := s.redis.GeoSearchLocation(ctx, courierGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]NearbyCourier, 0, len(locs))
	for _, l := range locs {
		out = append(out, NearbyCourier{
			CourierID:  types.ID(l.Name),
			Point:      types.Point{Lat: l.Latitude, Lng: l.Longitude},
			DistanceKm: l.Dist,
		})
	}
	return out, nil
}

func (s *RedisStore) get(ctx context.Context, key string) (Sample, bool, error) {
	raw, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, err
	}
	var smp Sample
	if err := json.Unmarshal(raw, &smp); err != nil {
		return Sample{}, false, err
	}
	return smp, true, nil
}
