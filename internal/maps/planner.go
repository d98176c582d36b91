// README: Route planner: caches one route per order and throttles recomputes.
package maps

import (
	"context"
	"log"
	"sync"
	"time"

	"tabla/internal/types"
)

// Planner resolves routes for live deliveries. It prefers the provider and
// falls back to a straight segment; per key it recomputes at most once per
// minInterval so a stream of location samples does not hammer the provider.
type Planner struct {
	provider    Provider
	minInterval time.Duration
	speedKmh    float64
	now         func() time.Time

	mu    sync.Mutex
	cache map[string]cachedRoute
}

type cachedRoute struct {
	route Route
	at    time.Time
}

func NewPlanner(provider Provider, minInterval time.Duration, speedKmh float64) *Planner {
	if speedKmh <= 0 {
		speedKmh = 25
	}
	return &Planner{
		provider:    provider,
		minInterval: minInterval,
		speedKmh:    speedKmh,
		now:         time.Now,
		cache:       make(map[string]cachedRoute),
	}
}

// Plan returns the route for key from -> to. A cached route younger than
// minInterval is returned unchanged.
func (p *Planner) Plan(ctx context.Context, key string, from, to types.Point) Route {
	now := p.now()

	p.mu.Lock()
	if c, ok := p.cache[key]; ok && now.Sub(c.at) < p.minInterval {
		p.mu.Unlock()
		return c.route
	}
	p.mu.Unlock()

	route := p.compute(ctx, from, to)

	p.mu.Lock()
	p.cache[key] = cachedRoute{route: route, at: now}
	p.mu.Unlock()
	return route
}

// Forget drops the cached route for key, e.g. once the order is terminal.
func (p *Planner) Forget(key string) {
	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
}

func (p *Planner) compute(ctx context.Context, from, to types.Point) Route {
	if p.provider != nil {
		r, err := p.provider.Route(ctx, from, to)
		if err == nil && len(r.Path) >= 2 {
			return r
		}
		if err != nil {
			log.Printf("maps: provider route failed, using straight line: %v", err)
		}
	}
	r := FallbackRoute(from, to)
	r.Duration = p.eta(r.DistanceKm)
	return r
}

func (p *Planner) eta(distanceKm float64) time.Duration {
	return time.Duration(distanceKm / p.speedKmh * float64(time.Hour))
}
