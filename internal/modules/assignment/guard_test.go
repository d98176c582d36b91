package assignment

import (
	"context"
	"errors"
	"testing"

	"tabla/internal/modules/courier"
	"tabla/internal/types"
)

type fakeTx struct {
	couriers map[types.ID]*courier.Courier
	active   map[types.ID]types.ID
}

func (f *fakeTx) Courier(_ context.Context, id types.ID) (*courier.Courier, error) {
	c, ok := f.couriers[id]
	if !ok {
		return nil, courier.ErrNotFound
	}
	return c, nil
}

func (f *fakeTx) SetCourierStatus(_ context.Context, id types.ID, s courier.Status) error {
	f.couriers[id].Status = s
	return nil
}

func (f *fakeTx) ActiveOrderFor(_ context.Context, courierID, exclude types.ID) (types.ID, bool, error) {
	o, ok := f.active[courierID]
	if !ok || o == exclude {
		return "", false, nil
	}
	return o, true, nil
}

func TestReserve(t *testing.T) {
	tests := []struct {
		name    string
		status  courier.Status
		active  types.ID
		wantErr error
		want    courier.Status
	}{
		{"available becomes busy", courier.StatusAvailable, "", nil, courier.StatusBusy},
		{"busy is refused", courier.StatusBusy, "", ErrPersonUnavailable, courier.StatusBusy},
		{"on break is refused", courier.StatusOnBreak, "", ErrPersonUnavailable, courier.StatusOnBreak},
		{"offline is refused", courier.StatusOffline, "", ErrPersonUnavailable, courier.StatusOffline},
		{"drifted active order is refused", courier.StatusAvailable, "o-other", ErrPersonUnavailable, courier.StatusAvailable},
		{"same order is not a conflict", courier.StatusAvailable, "o1", nil, courier.StatusBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &fakeTx{
				couriers: map[types.ID]*courier.Courier{"d1": {ID: "d1", Name: "Ana", Status: tt.status}},
				active:   map[types.ID]types.ID{},
			}
			if tt.active != "" {
				tx.active["d1"] = tt.active
			}
			err := NewGuard().Reserve(context.Background(), tx, "o1", "d1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Reserve() err = %v, want %v", err, tt.wantErr)
			}
			if got := tx.couriers["d1"].Status; got != tt.want {
				t.Fatalf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReserve_UnknownCourier(t *testing.T) {
	tx := &fakeTx{couriers: map[types.ID]*courier.Courier{}}
	if err := NewGuard().Reserve(context.Background(), tx, "o1", "ghost"); !errors.Is(err, courier.ErrNotFound) {
		t.Fatalf("expected courier.ErrNotFound, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	tx := &fakeTx{couriers: map[types.ID]*courier.Courier{"d1": {ID: "d1", Status: courier.StatusBusy}}}
	if err := NewGuard().Release(context.Background(), tx, "d1"); err != nil {
		t.Fatal(err)
	}
	if tx.couriers["d1"].Status != courier.StatusAvailable {
		t.Fatalf("status = %s", tx.couriers["d1"].Status)
	}
}
