package registry

import (
	"context"
	"time"

	"heads-or-tails/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const scanBatchSize = 500

// GormRegistry stores games in Postgres. Open the *gorm.DB with
// TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
type GormRegistry struct {
	DB *gorm.DB
}

func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{DB: db}
}

// Migrate creates or updates the tables this registry owns.
func (r *GormRegistry) Migrate() error {
	return r.DB.AutoMigrate(&models.Game{}, &models.Transfer{}, &models.GameSequence{})
}

func (r *GormRegistry) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return r.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

type gormTx struct {
	db *gorm.DB
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (tx *gormTx) NextID() (uint64, error) {
	// first use creates the row; concurrent creators fall through to the locked read
	seed := models.GameSequence{Name: models.GameSequenceName}
	if err := tx.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return 0, errors.Wrap(err, "seed game sequence")
	}

	var seq models.GameSequence
	if err := forUpdate(tx.db).Where("name = ?", models.GameSequenceName).First(&seq).Error; err != nil {
		return 0, errors.Wrap(err, "lock game sequence")
	}
	id := seq.Next
	if err := tx.db.Model(&models.GameSequence{}).
		Where("name = ?", models.GameSequenceName).
		Update("next", id+1).Error; err != nil {
		return 0, errors.Wrap(err, "advance game sequence")
	}
	return id, nil
}

func (tx *gormTx) Get(id uint64) (*models.Game, error) {
	var g models.Game
	err := forUpdate(tx.db).First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load game %d", id)
	}
	return &g, nil
}

func (tx *gormTx) Insert(g *models.Game) error {
	err := tx.db.Create(g).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrapf(ErrDuplicateGame, "insert game %d", g.ID)
	}
	return errors.Wrapf(err, "insert game %d", g.ID)
}

func (tx *gormTx) Update(g *models.Game) error {
	res := tx.db.Model(&models.Game{}).Where("id = ?", g.ID).Select("*").Omit("created_at").Updates(g)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update game %d", g.ID)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "update game %d", g.ID)
	}
	return nil
}

func (tx *gormTx) Remove(id uint64) error {
	res := tx.db.Delete(&models.Game{}, "id = ?", id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "remove game %d", id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "remove game %d", id)
	}
	return nil
}

func (tx *gormTx) Scan(state models.GameState, fn func(g *models.Game) error) error {
	var batch []models.Game
	res := forUpdate(tx.db).Where("state = ?", state).Order("id").FindInBatches(&batch, scanBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return res.Error
}

func (tx *gormTx) QueueTransfer(t *models.Transfer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = models.TransferPending
	err := tx.db.Create(t).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrapf(ErrDuplicateTransfer, "game %d %s", t.GameID, t.Kind)
	}
	return errors.Wrapf(err, "queue %s transfer for game %d", t.Kind, t.GameID)
}

func (r *GormRegistry) Get(ctx context.Context, id uint64) (*models.Game, error) {
	var g models.Game
	err := r.DB.WithContext(ctx).First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load game %d", id)
	}
	return &g, nil
}

func (r *GormRegistry) List(ctx context.Context, f Filter) ([]models.Game, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q := r.DB.WithContext(ctx).Model(&models.Game{})
	if f.State != nil {
		q = q.Where("state = ?", *f.State)
	}
	if f.Player != "" {
		q = q.Where("player1 = ? OR player2 = ?", f.Player, f.Player)
	}
	if f.FromID > 0 {
		q = q.Where("id >= ?", f.FromID)
	}

	games := make([]models.Game, 0)
	if err := q.Order("id").Limit(limit).Find(&games).Error; err != nil {
		return nil, errors.Wrap(err, "list games")
	}
	return games, nil
}

func (r *GormRegistry) Transfers(ctx context.Context, gameID uint64) ([]models.Transfer, error) {
	out := make([]models.Transfer, 0)
	err := r.DB.WithContext(ctx).Where("game_id = ?", gameID).Order("created_at").Find(&out).Error
	return out, errors.Wrapf(err, "transfers of game %d", gameID)
}

func (r *GormRegistry) PendingTransfers(ctx context.Context, limit int) ([]models.Transfer, error) {
	out := make([]models.Transfer, 0)
	q := r.DB.WithContext(ctx).Where("status = ?", models.TransferPending).Order("attempts").Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "pending transfers")
	}
	return out, nil
}

func (r *GormRegistry) MarkTransferSent(ctx context.Context, id string, at time.Time) error {
	res := r.DB.WithContext(ctx).Model(&models.Transfer{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     models.TransferSent,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": "",
		"sent_at":    at,
	})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "mark transfer %s sent", id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrTransferNotFound, "transfer %s", id)
	}
	return nil
}

func (r *GormRegistry) MarkTransferFailed(ctx context.Context, id string, reason string) error {
	res := r.DB.WithContext(ctx).Model(&models.Transfer{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": reason,
	})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "mark transfer %s failed", id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrTransferNotFound, "transfer %s", id)
	}
	return nil
}
