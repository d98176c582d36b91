// README: Delivery person model and availability states.
package courier

import (
	"errors"
	"time"

	"tabla/internal/types"
)

type Status string

const (
	StatusOffline   Status = "offline"
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOnBreak   Status = "on_break"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusAvailable, StatusBusy, StatusOnBreak:
		return true
	}
	return false
}

var (
	ErrNotFound      = errors.New("delivery person not found")
	ErrExists        = errors.New("delivery person already registered")
	ErrToggleBlocked = errors.New("availability cannot be changed right now")
	ErrBadRequest    = errors.New("bad request")
)

type Courier struct {
	ID              types.ID     `json:"id"`
	Name            string       `json:"name"`
	Status          Status       `json:"status"`
	CurrentLocation *types.Point `json:"current_location,omitempty"`
	LocationAt      *time.Time   `json:"location_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type RegisterCommand struct {
	ID   types.ID
	Name string
}
