package storage

import (
	"github.com/cuemby/paddock/pkg/types"
)

// Store defines the durable state the scheduler keeps for itself.
// Inventory records are not stored here; they belong to the inventory owner.
type Store interface {
	// HA work items
	SaveWorkItem(item *types.HAWorkItem) error
	GetWorkItem(id string) (*types.HAWorkItem, error)
	ListWorkItems() ([]*types.HAWorkItem, error)
	ListNonTerminalWorkItems() ([]*types.HAWorkItem, error)
	DeleteWorkItem(id string) error

	// Reservations
	SaveReservation(r *types.Reservation) error
	GetReservation(token string) (*types.Reservation, error)
	ListReservations() ([]*types.Reservation, error)
	DeleteReservation(token string) error

	// Allocator cursors
	GetCursor(key string) (uint64, error)
	SetCursor(key string, value uint64) error
	ListCursors() (map[string]uint64, error)

	// Utility
	Close() error
}
