// Package registry stores coin-flip games by id together with the id counter
// and the transfer outbox.
//
// Every state-machine operation runs inside Atomic: either all of its writes
// (game row, counter, queued transfers) are committed or none are.
package registry

import (
	"context"
	"time"

	"heads-or-tails/models"

	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("game not found")
	ErrDuplicateGame     = errors.New("game id already used")
	ErrDuplicateTransfer = errors.New("transfer already queued for game")
	ErrTransferNotFound  = errors.New("transfer not found")
)

// Tx is the view of the registry inside one atomic operation.
type Tx interface {
	// NextID hands out the next game id. Ids start at 0 and are never reused.
	NextID() (uint64, error)
	// Get loads a copy of the game and holds it for the rest of the transaction.
	Get(id uint64) (*models.Game, error)
	Insert(g *models.Game) error
	Update(g *models.Game) error
	Remove(id uint64) error
	// Scan visits every game in state, in id order. fn may call Remove on the
	// game it is given. Games in other states are neither read nor locked.
	Scan(state models.GameState, fn func(g *models.Game) error) error
	// QueueTransfer adds an outbox entry. At most one entry per (game, kind).
	QueueTransfer(t *models.Transfer) error
}

// Filter narrows List.
type Filter struct {
	State  *models.GameState
	Player string // matches player1 or player2
	FromID uint64 // lowest id returned, for paging
	Limit  int
}

// Registry is the persistence collaborator of the game engine.
type Registry interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	Get(ctx context.Context, id uint64) (*models.Game, error)
	List(ctx context.Context, f Filter) ([]models.Game, error)

	Transfers(ctx context.Context, gameID uint64) ([]models.Transfer, error)
	// PendingTransfers returns undelivered entries, fewest attempts first, so
	// entries the ledger keeps rejecting cannot hold back newer ones.
	PendingTransfers(ctx context.Context, limit int) ([]models.Transfer, error)
	MarkTransferSent(ctx context.Context, id string, at time.Time) error
	MarkTransferFailed(ctx context.Context, id string, reason string) error
}

// DefaultListLimit caps List when the filter does not.
const DefaultListLimit = 100
