// README: Concurrency tests for order state transitions (run with -race).
package order

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"tabla/internal/infra"
	"tabla/internal/modules/assignment"
	"tabla/internal/modules/courier"
	"tabla/internal/types"
)

type raceEnv struct {
	orders   *Service
	couriers *courier.Service
}

func TestConcurrentAcceptSameOrder(t *testing.T) {
	for name, env := range raceEnvs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const attempts = 8
			for i := 0; i < attempts; i++ {
				seedCourier(t, env.couriers, types.ID(fmt.Sprintf("%s_d%d", name, i)))
			}
			o := seedOrder(t, env.orders)

			var wg sync.WaitGroup
			start := make(chan struct{})
			errs := make(chan error, attempts)
			for i := 0; i < attempts; i++ {
				courierID := types.ID(fmt.Sprintf("%s_d%d", name, i))
				wg.Add(1)
				go func(cid types.ID) {
					defer wg.Done()
					<-start
					_, err := env.orders.Accept(ctx, o, cid)
					errs <- err
				}(courierID)
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

			got, err := env.orders.Get(ctx, o)
			if err != nil {
				t.Fatalf("get order: %v", err)
			}
			if got.Status != StatusAccepted || got.AssignedCourierID == nil {
				t.Fatalf("unexpected final order: %+v", got)
			}
			busy := 0
			for i := 0; i < attempts; i++ {
				c, _ := env.couriers.Get(ctx, types.ID(fmt.Sprintf("%s_d%d", name, i)))
				if c.Status == courier.StatusBusy {
					busy++
					if c.ID != *got.AssignedCourierID {
						t.Fatalf("busy courier %s is not the assignee %s", c.ID, *got.AssignedCourierID)
					}
				}
			}
			if busy != 1 {
				t.Fatalf("expected exactly one busy courier, got %d", busy)
			}
		})
	}
}

func TestConcurrentAcceptSameCourier(t *testing.T) {
	for name, env := range raceEnvs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			courierID := types.ID(name + "_solo")
			seedCourier(t, env.couriers, courierID)

			const orders = 6
			ids := make([]types.ID, orders)
			for i := range ids {
				ids[i] = seedOrder(t, env.orders)
			}

			var wg sync.WaitGroup
			start := make(chan struct{})
			errs := make(chan error, orders)
			for _, id := range ids {
				wg.Add(1)
				go func(oid types.ID) {
					defer wg.Done()
					<-start
					_, err := env.orders.Accept(ctx, oid, courierID)
					errs <- err
				}(id)
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
				if !errors.Is(err, assignment.ErrPersonUnavailable) {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if success != 1 {
				t.Fatalf("expected exactly 1 accepted order, got %d", success)
			}
			active, err := env.orders.List(ctx, ListFilter{CourierID: courierID})
			if err != nil {
				t.Fatal(err)
			}
			if len(active) != 1 {
				t.Fatalf("courier bound to %d orders", len(active))
			}
		})
	}
}

func TestConcurrentCompleteVsToggle(t *testing.T) {
	for name, env := range raceEnvs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			courierID := types.ID(name + "_toggle")
			seedCourier(t, env.couriers, courierID)
			o := seedOrder(t, env.orders)
			for _, step := range []Status{StatusAccepted, StatusPickedUp, StatusOnTheWay} {
				if _, err := env.orders.ApplyTransition(ctx, TransitionCommand{OrderID: o, Target: step, ActorID: courierID}); err != nil {
					t.Fatalf("%s: %v", step, err)
				}
			}

			var wg sync.WaitGroup
			start := make(chan struct{})
			var toggleErr, completeErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				_, toggleErr = env.couriers.SetAvailability(ctx, courierID, false)
			}()
			go func() {
				defer wg.Done()
				<-start
				_, completeErr = env.orders.Complete(ctx, o, courierID)
			}()
			close(start)
			wg.Wait()

			if completeErr != nil {
				t.Fatalf("complete: %v", completeErr)
			}
			if toggleErr != nil && !errors.Is(toggleErr, courier.ErrToggleBlocked) {
				t.Fatalf("toggle: %v", toggleErr)
			}
			c, _ := env.couriers.Get(ctx, courierID)
			if toggleErr == nil && c.Status != courier.StatusOffline {
				t.Fatalf("toggle succeeded after release but status is %s", c.Status)
			}
			if toggleErr != nil && c.Status != courier.StatusAvailable {
				t.Fatalf("toggle blocked but status is %s", c.Status)
			}
		})
	}
}

func raceEnvs(t *testing.T) map[string]raceEnv {
	t.Helper()
	courierStore := courier.NewMemoryStore()
	envs := map[string]raceEnv{
		"memory": {
			orders:   NewService(NewMemoryStore(courierStore), assignment.NewGuard(), nil),
			couriers: courier.NewService(courierStore, nil),
		},
	}
	if db := setupTestDB(t); db != nil {
		envs["postgres"] = raceEnv{
			orders:   NewService(NewStore(db), assignment.NewGuard(), nil),
			couriers: courier.NewService(courier.NewStore(db), nil),
		}
	}
	return envs
}

func seedCourier(t *testing.T, svc *courier.Service, id types.ID) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Register(ctx, courier.RegisterCommand{ID: id, Name: string(id)}); err != nil {
		t.Fatalf("register courier: %v", err)
	}
	if _, err := svc.SetAvailability(ctx, id, true); err != nil {
		t.Fatalf("set available: %v", err)
	}
}

func seedOrder(t *testing.T, svc *Service) types.ID {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{
		DeliveryAddress: "No. 1, Zhongxiao East Road",
		Items:           []Item{{Name: "bubble tea", Quantity: 1, Price: 65}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o.ID
}

// setupTestDB returns nil unless TABLA_TEST_DSN points at a disposable database.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TABLA_TEST_DSN")
	if dsn == "" {
		t.Log("TABLA_TEST_DSN not set; skipping DB-backed race tests")
		return nil
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := infra.Migrate(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, orders, couriers"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}
