// README: Smoke cases: lifecycle, guard races, location channel, chat relay and DB/Redis consistency.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"tabla/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// lastOrder is the delivered order from the lifecycle case, checked later against storage.
	lastOrder string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN); err == nil {
			r.db = db
		} else {
			fmt.Printf("db: %v\n", err)
		}
	}
	if r.cfg.RedisAddr != "" {
		if client, err := infra.NewRedis(ctx, r.cfg.RedisAddr); err == nil {
			r.redis = client
		} else {
			fmt.Printf("redis: %v\n", err)
		}
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency.Round(time.Millisecond))
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "API: health", Run: checkHealth},
		{Name: "Order: full lifecycle", Run: lifecycle},
		{Name: "Order: failure needs a reason", Run: failureReason},
		{Name: "Order: skipping a step is refused", Run: invalidTransition},
		{Name: "Guard: concurrent accepts, one winner", Run: concurrentAccept},
		{Name: "Guard: busy courier cannot toggle", Run: toggleWhileBusy},
		{Name: "Location: invalid coordinates refused", Run: invalidLocation},
		{Name: "Chat: send, fetch, mark read", Run: chatRoundTrip},
		{Name: "Consistency: events match order status", Run: checkEvents},
		{Name: "Consistency: busy iff active order", Run: checkBusyInvariant},
		{Name: "Consistency: last location in Redis", Run: checkRedisLocation},
		{Name: "Perf: location update throughput", Run: locationLoad},
	}
}

// ---------------------------------------------------------------------------
// Environment
// ---------------------------------------------------------------------------

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	return Result{Status: statusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	return Result{Status: statusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	if err := infra.Migrate(ctx, r.db); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	for _, t := range []string{"couriers", "orders", "order_state_events", "messages"} {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass}
}

func checkHealth(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, _, err := r.call(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expect(code, http.StatusOK, time.Since(start))
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func lifecycle(ctx context.Context, r *Runner) Result {
	start := time.Now()
	courierID, err := r.availableCourier(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	orderID, err := r.pendingOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	steps := []struct {
		action string
		want   string
	}{
		{"accept", "accepted"},
		{"pickup", "picked_up"},
		{"depart", "on_the_way"},
	}
	for _, s := range steps {
		if err := r.step(ctx, orderID, s.action, courierID, nil, s.want); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	code, _, err := r.call(ctx, http.MethodPut, "/api/couriers/"+courierID+"/location", map[string]any{"lat": 25.0335, "lng": 121.5650})
	if err != nil || code != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("heartbeat: status=%d err=%v", code, err)}
	}
	code, body, err := r.call(ctx, http.MethodGet, "/api/orders/"+orderID+"/location", nil)
	if err != nil || code != http.StatusOK || body["lat"] != 25.0335 {
		return Result{Status: statusFail, Note: fmt.Sprintf("order location not mirrored: status=%d body=%v", code, body)}
	}
	if err := r.step(ctx, orderID, "deliver", courierID, nil, "delivered"); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if st, err := r.courierStatus(ctx, courierID); err != nil || st != "available" {
		return Result{Status: statusFail, Note: fmt.Sprintf("courier after delivery: %q %v", st, err)}
	}
	r.lastOrder = orderID
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func failureReason(ctx context.Context, r *Runner) Result {
	courierID, err := r.availableCourier(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	orderID, err := r.pendingOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if err := r.step(ctx, orderID, "accept", courierID, nil, "accepted"); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	code, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+orderID+"/fail?courier_id="+courierID, map[string]any{"reason": "short"})
	if err != nil || code != http.StatusUnprocessableEntity {
		return Result{Status: statusFail, Note: fmt.Sprintf("short reason: status=%d err=%v", code, err)}
	}
	if err := r.step(ctx, orderID, "fail", courierID, map[string]any{"reason": "Customer not at address"}, "failed"); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if st, err := r.courierStatus(ctx, courierID); err != nil || st != "available" {
		return Result{Status: statusFail, Note: fmt.Sprintf("courier after failure: %q %v", st, err)}
	}
	return Result{Status: statusPass}
}

func invalidTransition(ctx context.Context, r *Runner) Result {
	orderID, err := r.pendingOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	code, body, err := r.call(ctx, http.MethodPost, "/api/orders/"+orderID+"/transitions", map[string]any{"targetStatus": "delivered"})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != http.StatusConflict || body["code"] != "invalid_transition" {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%d body=%v", code, body)}
	}
	return Result{Status: statusPass}
}

// ---------------------------------------------------------------------------
// Assignment guard
// ---------------------------------------------------------------------------

func concurrentAccept(ctx context.Context, r *Runner) Result {
	orderID, err := r.pendingOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	couriers := make([]string, r.cfg.Concurrency)
	for i := range couriers {
		if couriers[i], err = r.availableCourier(ctx); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}

	var (
		wg    sync.WaitGroup
		succ  atomic.Int64
		start = make(chan struct{})
	)
	for _, id := range couriers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			code, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+orderID+"/accept?courier_id="+id, nil)
			if err == nil && code == http.StatusOK {
				succ.Add(1)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	if succ.Load() != 1 {
		return Result{Status: statusFail, Note: fmt.Sprintf("success=%d", succ.Load())}
	}
	busy := 0
	for _, id := range couriers {
		if st, _ := r.courierStatus(ctx, id); st == "busy" {
			busy++
		}
	}
	if busy != 1 {
		return Result{Status: statusFail, Note: fmt.Sprintf("busy couriers=%d", busy)}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("callers=%d", len(couriers))}
}

func toggleWhileBusy(ctx context.Context, r *Runner) Result {
	courierID, err := r.availableCourier(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	orderID, err := r.pendingOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if err := r.step(ctx, orderID, "accept", courierID, nil, "accepted"); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	code, body, err := r.call(ctx, http.MethodPut, "/api/couriers/"+courierID+"/availability", map[string]any{"available": false})
	if err != nil || code != http.StatusConflict || body["code"] != "toggle_blocked" {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%d body=%v err=%v", code, body, err)}
	}
	// leave no busy courier behind
	_ = r.step(ctx, orderID, "fail", courierID, map[string]any{"reason": "smoke test cleanup"}, "failed")
	return Result{Status: statusPass}
}

// ---------------------------------------------------------------------------
// Location and chat
// ---------------------------------------------------------------------------

func invalidLocation(ctx context.Context, r *Runner) Result {
	orderID, err := r.pendingOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	code, _, err := r.call(ctx, http.MethodPut, "/api/orders/"+orderID+"/location", map[string]any{"lat": 123.0, "lng": 456.0})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expect(code, http.StatusUnprocessableEntity, 0)
}

func chatRoundTrip(ctx context.Context, r *Runner) Result {
	person := "smoke-" + uuid.NewString()[:8]
	code, _, err := r.call(ctx, http.MethodPost, "/api/messages", map[string]any{
		"senderId": person, "senderType": "deliveryPerson",
		"recipientType": "manager", "content": "smoke hello",
	})
	if err != nil || code != http.StatusCreated {
		return Result{Status: statusFail, Note: fmt.Sprintf("send: status=%d err=%v", code, err)}
	}
	code, body, err := r.call(ctx, http.MethodGet, "/api/messages/conversation?delivery_person_id="+person, nil)
	if err != nil || code != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("fetch: status=%d err=%v", code, err)}
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		return Result{Status: statusFail, Note: fmt.Sprintf("conversation has %d messages", len(msgs))}
	}
	recipient, _ := msgs[0].(map[string]any)["recipient_id"].(string)
	code, body, err = r.call(ctx, http.MethodPost, "/api/messages/read", map[string]any{
		"userId": recipient, "senderId": person, "recipientType": "manager",
	})
	if err != nil || code != http.StatusOK || body["updated"] != float64(1) {
		return Result{Status: statusFail, Note: fmt.Sprintf("mark read: status=%d body=%v", code, body)}
	}
	return Result{Status: statusPass}
}

// ---------------------------------------------------------------------------
// Storage consistency
// ---------------------------------------------------------------------------

func checkEvents(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	if r.lastOrder == "" {
		return Result{Status: statusSkip, Note: "lifecycle case did not complete"}
	}
	var (
		status  string
		version int
		last    string
		count   int
	)
	err := r.db.QueryRow(ctx, `SELECT status, status_version FROM orders WHERE id=$1`, r.lastOrder).Scan(&status, &version)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	err = r.db.QueryRow(ctx, `
		SELECT to_status, (SELECT count(*) FROM order_state_events WHERE order_id=$1)
		FROM order_state_events WHERE order_id=$1
		ORDER BY created_at DESC, id DESC LIMIT 1`, r.lastOrder).Scan(&last, &count)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != last || count != 5 {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%s last_event=%s events=%d version=%d", status, last, count, version)}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("version=%d", version)}
}

func checkBusyInvariant(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	var mismatched int
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM couriers c
		WHERE (c.status = 'busy') <> EXISTS (
			SELECT 1 FROM orders o
			WHERE o.assigned_courier_id = c.id
			  AND o.status IN ('accepted','picked_up','on_the_way'))`).Scan(&mismatched)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if mismatched != 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("%d couriers violate busy iff active", mismatched)}
	}
	return Result{Status: statusPass}
}

func checkRedisLocation(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	if r.lastOrder == "" {
		return Result{Status: statusSkip, Note: "lifecycle case did not complete"}
	}
	n, err := r.redis.Exists(ctx, "tabla:loc:order:"+r.lastOrder).Result()
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if n != 1 {
		return Result{Status: statusFail, Note: "no last-known sample stored"}
	}
	return Result{Status: statusPass}
}

func locationLoad(ctx context.Context, r *Runner) Result {
	courierID, err := r.availableCourier(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, err := r.call(ctx, http.MethodPut, "/api/couriers/"+courierID+"/location", map[string]any{"lat": 25.033, "lng": 121.565})
				if err != nil || code != http.StatusOK {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (r *Runner) call(ctx context.Context, method, path string, body any) (int, map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, out, nil
}

func (r *Runner) availableCourier(ctx context.Context) (string, error) {
	id := "smoke-" + uuid.NewString()[:8]
	code, _, err := r.call(ctx, http.MethodPost, "/api/couriers", map[string]any{"id": id, "name": "Smoke " + id})
	if err != nil || code != http.StatusCreated {
		return "", fmt.Errorf("register courier: status=%d err=%v", code, err)
	}
	code, _, err = r.call(ctx, http.MethodPut, "/api/couriers/"+id+"/availability", map[string]any{"available": true})
	if err != nil || code != http.StatusOK {
		return "", fmt.Errorf("courier availability: status=%d err=%v", code, err)
	}
	return id, nil
}

func (r *Runner) pendingOrder(ctx context.Context) (string, error) {
	code, body, err := r.call(ctx, http.MethodPost, "/api/orders", map[string]any{
		"delivery_address": "No. 7, Section 5, Xinyi Road",
		"dropoff_lat":      25.0340,
		"dropoff_lng":      121.5645,
		"items":            []map[string]any{{"name": "smoke bento", "quantity": 1, "price": 120}},
		"delivery_fee":     30,
	})
	if err != nil || code != http.StatusCreated {
		return "", fmt.Errorf("create order: status=%d err=%v", code, err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return "", fmt.Errorf("create order: no id in %v", body)
	}
	return id, nil
}

func (r *Runner) step(ctx context.Context, orderID, action, courierID string, body any, want string) error {
	code, out, err := r.call(ctx, http.MethodPost, "/api/orders/"+orderID+"/"+action+"?courier_id="+courierID, body)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	o, _ := out["order"].(map[string]any)
	if code != http.StatusOK || o == nil || o["status"] != want {
		return fmt.Errorf("%s: status=%d body=%v", action, code, out)
	}
	return nil
}

func (r *Runner) courierStatus(ctx context.Context, id string) (string, error) {
	code, body, err := r.call(ctx, http.MethodGet, "/api/couriers/"+id, nil)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("status=%d", code)
	}
	st, _ := body["status"].(string)
	return st, nil
}

func expect(code, want int, latency time.Duration) Result {
	if code == want {
		return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
	}
	return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", code, want)}
}
