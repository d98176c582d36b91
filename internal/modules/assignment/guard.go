// README: Assignment guard: keeps "busy iff exactly one active order" true for every delivery person.
package assignment

import (
	"context"
	"errors"
	"fmt"

	"tabla/internal/modules/courier"
	"tabla/internal/types"
)

// ErrPersonUnavailable is returned when the courier cannot take another order.
var ErrPersonUnavailable = errors.New("delivery person unavailable")

// Tx is the slice of an order transaction the guard needs. Courier rows read
// through it stay locked until the transaction ends.
type Tx interface {
	Courier(ctx context.Context, id types.ID) (*courier.Courier, error)
	SetCourierStatus(ctx context.Context, id types.ID, status courier.Status) error
	// ActiveOrderFor returns an order other than exclude that the courier is
	// currently delivering.
	ActiveOrderFor(ctx context.Context, courierID, exclude types.ID) (types.ID, bool, error)
}

type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// Reserve binds the courier to orderID and marks them busy.
func (g *Guard) Reserve(ctx context.Context, tx Tx, orderID, courierID types.ID) error {
	c, err := tx.Courier(ctx, courierID)
	if err != nil {
		return err
	}
	switch c.Status {
	case courier.StatusAvailable:
	case courier.StatusBusy:
		return fmt.Errorf("%w: %s is already on a delivery", ErrPersonUnavailable, c.Name)
	case courier.StatusOnBreak:
		return fmt.Errorf("%w: %s is on a break", ErrPersonUnavailable, c.Name)
	default:
		return fmt.Errorf("%w: %s is %s", ErrPersonUnavailable, c.Name, c.Status)
	}
	other, ok, err := tx.ActiveOrderFor(ctx, courierID, orderID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s is already delivering order %s", ErrPersonUnavailable, c.Name, other)
	}
	return tx.SetCourierStatus(ctx, courierID, courier.StatusBusy)
}

// Release returns the courier to available once their order is terminal.
func (g *Guard) Release(ctx context.Context, tx Tx, courierID types.ID) error {
	if _, err := tx.Courier(ctx, courierID); err != nil {
		return err
	}
	return tx.SetCourierStatus(ctx, courierID, courier.StatusAvailable)
}
