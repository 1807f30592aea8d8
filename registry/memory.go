package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"heads-or-tails/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// MemoryRegistry keeps everything in process memory. Transactions are
// serialized by a single mutex and buffer their writes until fn succeeds.
type MemoryRegistry struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	games     map[uint64]*models.Game
	next      uint64
	transfers []*models.Transfer
}

func NewMemoryRegistry(clock clockwork.Clock) *MemoryRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRegistry{
		clock: clock,
		games: make(map[uint64]*models.Game),
	}
}

type memTx struct {
	r       *MemoryRegistry
	now     time.Time
	next    uint64
	written map[uint64]*models.Game
	removed map[uint64]struct{}
	queued  []*models.Transfer
}

func (r *MemoryRegistry) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{
		r:       r,
		now:     r.clock.Now().UTC(),
		next:    r.next,
		written: make(map[uint64]*models.Game),
		removed: make(map[uint64]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	// commit
	for id := range tx.removed {
		delete(r.games, id)
	}
	for id, g := range tx.written {
		r.games[id] = g
	}
	r.next = tx.next
	r.transfers = append(r.transfers, tx.queued...)
	return nil
}

func (tx *memTx) lookup(id uint64) (*models.Game, bool) {
	if _, gone := tx.removed[id]; gone {
		return nil, false
	}
	if g, ok := tx.written[id]; ok {
		return g, true
	}
	g, ok := tx.r.games[id]
	return g, ok
}

func (tx *memTx) NextID() (uint64, error) {
	id := tx.next
	tx.next++
	return id, nil
}

func (tx *memTx) Get(id uint64) (*models.Game, error) {
	g, ok := tx.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (tx *memTx) Insert(g *models.Game) error {
	if _, ok := tx.lookup(g.ID); ok {
		return errors.Wrapf(ErrDuplicateGame, "insert game %d", g.ID)
	}
	c := g.Clone()
	c.CreatedAt, c.UpdatedAt = tx.now, tx.now
	delete(tx.removed, g.ID)
	tx.written[g.ID] = c
	return nil
}

func (tx *memTx) Update(g *models.Game) error {
	if _, ok := tx.lookup(g.ID); !ok {
		return errors.Wrapf(ErrNotFound, "update game %d", g.ID)
	}
	c := g.Clone()
	c.UpdatedAt = tx.now
	tx.written[g.ID] = c
	return nil
}

func (tx *memTx) Remove(id uint64) error {
	if _, ok := tx.lookup(id); !ok {
		return errors.Wrapf(ErrNotFound, "remove game %d", id)
	}
	delete(tx.written, id)
	tx.removed[id] = struct{}{}
	return nil
}

func (tx *memTx) Scan(state models.GameState, fn func(g *models.Game) error) error {
	ids := make([]uint64, 0, len(tx.r.games)+len(tx.written))
	seen := make(map[uint64]struct{})
	for id := range tx.r.games {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for id := range tx.written {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		g, ok := tx.lookup(id)
		if !ok || g.State != state {
			continue
		}
		if err := fn(g.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memTx) QueueTransfer(t *models.Transfer) error {
	dup := func(o *models.Transfer) bool { return o.GameID == t.GameID && o.Kind == t.Kind }
	for _, o := range tx.r.transfers {
		if dup(o) {
			return errors.Wrapf(ErrDuplicateTransfer, "game %d %s", t.GameID, t.Kind)
		}
	}
	for _, o := range tx.queued {
		if dup(o) {
			return errors.Wrapf(ErrDuplicateTransfer, "game %d %s", t.GameID, t.Kind)
		}
	}
	c := *t
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Status = models.TransferPending
	c.CreatedAt, c.UpdatedAt = tx.now, tx.now
	tx.queued = append(tx.queued, &c)
	*t = c
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id uint64) (*models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (r *MemoryRegistry) List(ctx context.Context, f Filter) ([]models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	out := make([]models.Game, 0)
	for _, g := range r.games {
		if f.State != nil && g.State != *f.State {
			continue
		}
		if f.Player != "" && g.Player1 != f.Player && g.Opponent() != f.Player {
			continue
		}
		if g.ID < f.FromID {
			continue
		}
		out = append(out, *g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRegistry) Transfers(ctx context.Context, gameID uint64) ([]models.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Transfer, 0)
	for _, t := range r.transfers {
		if t.GameID == gameID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *MemoryRegistry) PendingTransfers(ctx context.Context, limit int) ([]models.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Transfer, 0)
	for _, t := range r.transfers {
		if t.Status == models.TransferPending {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempts < out[j].Attempts })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRegistry) findTransfer(id string) (*models.Transfer, error) {
	for _, t := range r.transfers {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, errors.Wrapf(ErrTransferNotFound, "transfer %s", id)
}

func (r *MemoryRegistry) MarkTransferSent(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.findTransfer(id)
	if err != nil {
		return err
	}
	t.Status = models.TransferSent
	t.Attempts++
	t.LastError = ""
	t.SentAt = &at
	t.UpdatedAt = r.clock.Now().UTC()
	return nil
}

func (r *MemoryRegistry) MarkTransferFailed(ctx context.Context, id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.findTransfer(id)
	if err != nil {
		return err
	}
	t.Attempts++
	t.LastError = reason
	t.UpdatedAt = r.clock.Now().UTC()
	return nil
}
