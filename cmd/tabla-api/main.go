// README: Entry point; loads config, wires stores and services, runs the HTTP server, room relay and broker bridges.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tabla/internal/config"
	"tabla/internal/events"
	httptransport "tabla/internal/http"
	"tabla/internal/infra"
	"tabla/internal/maps"
	"tabla/internal/messaging"
	"tabla/internal/modules/chat"
	"tabla/internal/modules/courier"
	"tabla/internal/modules/location"
	"tabla/internal/modules/order"
	"tabla/internal/notify"
	"tabla/internal/realtime"
	"tabla/internal/types"
)

type stores struct {
	couriers  courier.Store
	orders    order.Store
	locations location.Store
	messages  chat.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		dbPool      *pgxpool.Pool
		redisClient *redis.Client
		st          stores
	)
	switch cfg.Store {
	case "memory":
		log.Printf("main: using in-memory stores; state is lost on exit")
		couriers := courier.NewMemoryStore()
		st = stores{
			couriers:  couriers,
			orders:    order.NewMemoryStore(couriers),
			locations: location.NewMemoryStore(),
			messages:  chat.NewMemoryStore(),
		}
	default:
		dbPool, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer dbPool.Close()
		if cfg.DB.Migrate {
			if err := infra.Migrate(ctx, dbPool); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			log.Fatal(err)
		}
		defer redisClient.Close()
		st = stores{
			couriers:  courier.NewStore(dbPool),
			orders:    order.NewStore(dbPool),
			locations: location.NewRedisStore(redisClient),
			messages:  chat.NewStore(dbPool),
		}
	}

	bus := events.NewBus()
	hub := realtime.NewHub(cfg.Realtime.ClientBuffer)

	var fanout realtime.Fanout = hub
	var relay *realtime.RedisRelay
	if cfg.Redis.RelayRooms && redisClient != nil {
		relay = realtime.NewRedisRelay(redisClient, hub, "")
		fanout = relay
	}
	realtime.ForwardTransitions(bus, fanout)

	orderSvc := order.NewService(st.orders, nil, bus)
	courierSvc := courier.NewService(st.couriers, st.locations)
	locationSvc := location.NewService(st.locations, fanout, location.Options{
		Orders:     orderSvc,
		Couriers:   courierSvc,
		Active:     orderSvc,
		Bus:        bus,
		StaleAfter: cfg.Location.StaleAfter,
	})
	chatSvc := chat.NewService(st.messages, fanout, bus, types.ID(cfg.Chat.SupportID))

	var provider maps.Provider
	if cfg.Maps.APIKey != "" {
		rs, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps: %v", err)
		}
		provider = rs
	}
	planner := maps.NewPlanner(provider, cfg.Maps.MinRecompute, cfg.Maps.SpeedKmh)
	bus.SubscribeTypes(func(evt events.Event) {
		if p, ok := evt.Payload.(events.OrderTransitioned); ok && order.Status(p.To).Terminal() {
			planner.Forget(p.OrderID.String())
		}
	}, events.TypeOrderTransitioned)

	g, gctx := errgroup.WithContext(ctx)

	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	if cfg.Firebase.Enabled() {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		n, err := notify.NewFromApp(ctx, app, cfg.Firebase.DatabaseURL != "", 0)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		n.Attach(bus)
		g.Go(func() error { return n.Run(gctx) })
	}

	if cfg.Messaging.Backend != "" && cfg.Messaging.Backend != "none" {
		broker := messaging.NewClient(cfg.Messaging)
		if err := broker.Connect(); err != nil {
			log.Fatalf("messaging: %v", err)
		}
		defer broker.Close()

		exporter := messaging.NewExporter(broker, cfg.Messaging.EventsTopic, 0)
		exporter.Attach(bus)
		g.Go(func() error { return exporter.Run(gctx) })

		ingest := messaging.NewLocationIngest(locationSvc)
		if err := broker.Subscribe(gctx, cfg.Messaging.LocationsTopic, ingest.Handle); err != nil {
			log.Fatalf("messaging: subscribe %s: %v", cfg.Messaging.LocationsTopic, err)
		}
		log.Printf("main: %s broker bridged (events -> %s, locations <- %s)",
			broker.Backend(), cfg.Messaging.EventsTopic, cfg.Messaging.LocationsTopic)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Orders:         orderSvc,
		Couriers:       courierSvc,
		Locations:      locationSvc,
		Chat:           chatSvc,
		Planner:        planner,
		Hub:            hub,
		NearbyRadiusKm: cfg.Location.NearbyRadiusKm,
		Keepalive:      cfg.Realtime.Keepalive,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout)
	g.Go(func() error { return server.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	log.Printf("main: shut down")
}
