// services/coinflip_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"heads-or-tails/commitment"
	"heads-or-tails/logging"
	"heads-or-tails/models"
	"heads-or-tails/registry"
	"heads-or-tails/utils"

	"github.com/inconshreveable/log15"
	"github.com/jonboulle/clockwork"
)

// stakeCeiling keeps the pot inside a signed 64-bit column.
const stakeCeiling = math.MaxInt64 / 2

// Rules are the wager parameters the engine enforces.
type Rules struct {
	MinStake      uint64
	MaxStake      uint64 // 0 = no bound besides the storage limit
	RevealTimeout time.Duration
	UnitDecimals  int32    // only used to render amounts in logs
	Admins        []string // caller ids allowed to run the cleaner besides RoleAdmin
	// InitializedForfeit lets player2 claim the pot when player1 never reveals.
	InitializedForfeit bool
}

// DefaultRevealTimeout is how long player2 has to reveal after player1 did.
const DefaultRevealTimeout = time.Minute

// Archiver keeps a copy of an ended game before the cleaner purges it.
type Archiver interface {
	ArchiveGame(ctx context.Context, g *models.Game) error
}

// PayoutNotifier is poked after a commit that queued transfers.
type PayoutNotifier interface {
	Wake()
}

// CoinFlipService is the game state machine and payout engine. Each exported
// operation runs in a single registry transaction; payouts are queued in the
// outbox within that transaction and delivered by the transfer dispatcher.
type CoinFlipService struct {
	Registry registry.Registry
	Rules    Rules
	Clock    clockwork.Clock
	Archive  Archiver       // optional
	Payouts  PayoutNotifier // optional
	Metrics  *Metrics

	log log15.Logger
}

func NewCoinFlipService(reg registry.Registry, rules Rules, clock clockwork.Clock) *CoinFlipService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rules.RevealTimeout <= 0 {
		rules.RevealTimeout = DefaultRevealTimeout
	}
	return &CoinFlipService{
		Registry: reg,
		Rules:    rules,
		Clock:    clock,
		Metrics:  NewMetrics(nil),
		log:      logging.New("module", "services.coinflip"),
	}
}

func (s *CoinFlipService) now() time.Time {
	return s.Clock.Now().UTC()
}

// atomic runs fn in one registry transaction and records timing and rejections.
func (s *CoinFlipService) atomic(ctx context.Context, op string, fn func(tx registry.Tx) error) error {
	start := s.Clock.Now()
	err := s.Registry.Atomic(ctx, fn)
	s.Metrics.OperationTimer.Update(s.Clock.Since(start))
	if err != nil {
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrState) || errors.Is(err, ErrTimeout) {
			s.Metrics.Rejected.Inc(1)
			s.log.Debug("call rejected", "op", op, "err", err)
		} else {
			s.log.Error("call failed", "op", op, "err", err)
		}
	}
	return err
}

func (s *CoinFlipService) wakePayouts() {
	if s.Payouts != nil {
		s.Payouts.Wake()
	}
}

func loadGame(tx registry.Tx, id uint64) (*models.Game, error) {
	g, err := tx.Get(id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrGameNotFound, id)
	}
	return g, err
}

func requireState(g *models.Game, want models.GameState) error {
	if g.State != want {
		return fmt.Errorf("%w: game %d is %s, want %s", ErrWrongState, g.ID, g.State, want)
	}
	return nil
}

// payPot ends the game for winner and queues the pot in the same transaction.
func payPot(tx registry.Tx, g *models.Game, winner string) error {
	if err := g.Finish(winner); err != nil {
		return err
	}
	if err := tx.Update(g); err != nil {
		return err
	}
	return tx.QueueTransfer(&models.Transfer{
		GameID:    g.ID,
		Kind:      models.TransferPot,
		Recipient: winner,
		Amount:    g.Pot(),
	})
}

func (s *CoinFlipService) recordWin(g *models.Game, reason string) {
	s.Metrics.GamesWon.Inc(1)
	s.Metrics.PotsPaid.Inc(int64(g.Pot()))
	s.log.Info("gameWon", "id", g.ID, "winner", *g.Winner, "pot", g.Pot(), "coins", utils.FormatUnits(g.Pot(), s.Rules.UnitDecimals), "reason", reason)
	s.wakePayouts()
}

// CreateGame opens a game staked with the caller's attached deposit.
func (s *CoinFlipService) CreateGame(ctx context.Context, caller Caller, guess bool, commit []byte) (uint64, error) {
	if caller.ID == "" {
		return 0, ErrMissingCaller
	}
	if len(commit) != commitment.DigestSize {
		return 0, ErrBadCommitment
	}
	if caller.Deposit == 0 || caller.Deposit < s.Rules.MinStake {
		return 0, fmt.Errorf("%w: got %d, minimum %d", ErrStakeTooLow, caller.Deposit, s.Rules.MinStake)
	}
	if caller.Deposit > stakeCeiling || (s.Rules.MaxStake != 0 && caller.Deposit > s.Rules.MaxStake) {
		return 0, fmt.Errorf("%w: got %d", ErrStakeTooHigh, caller.Deposit)
	}

	var id uint64
	err := s.atomic(ctx, "create_game", func(tx registry.Tx) error {
		var err error
		if id, err = tx.NextID(); err != nil {
			return err
		}
		return tx.Insert(models.NewGame(id, caller.ID, guess, caller.Deposit, commit))
	})
	if err != nil {
		return 0, err
	}

	s.Metrics.GamesCreated.Inc(1)
	s.log.Info("gameCreated", "id", id, "player1", caller.ID, "stake", caller.Deposit, "coins", utils.FormatUnits(caller.Deposit, s.Rules.UnitDecimals), "guess", guess)
	return id, nil
}

// JoinGame makes the caller player2. Any deposit above the stake is refunded.
func (s *CoinFlipService) JoinGame(ctx context.Context, caller Caller, id uint64, commit []byte) error {
	if caller.ID == "" {
		return ErrMissingCaller
	}

	var refund uint64
	err := s.atomic(ctx, "join_game", func(tx registry.Tx) error {
		g, err := loadGame(tx, id)
		if err != nil {
			return err
		}
		if err := requireState(g, models.GameCreated); err != nil {
			return err
		}
		if len(commit) != commitment.DigestSize {
			return ErrBadCommitment
		}
		if caller.ID == g.Player1 {
			return ErrSelfJoin
		}
		if caller.Deposit < g.Stake {
			return fmt.Errorf("%w: got %d, stake %d", ErrInsufficientStake, caller.Deposit, g.Stake)
		}
		if caller.Deposit > stakeCeiling {
			return fmt.Errorf("%w: got %d", ErrStakeTooHigh, caller.Deposit)
		}

		if err := g.Join(caller.ID, commit, s.now()); err != nil {
			return err
		}
		if err := tx.Update(g); err != nil {
			return err
		}
		refund = caller.Deposit - g.Stake
		if refund == 0 {
			return nil
		}
		return tx.QueueTransfer(&models.Transfer{
			GameID:    g.ID,
			Kind:      models.TransferRefund,
			Recipient: caller.ID,
			Amount:    refund,
		})
	})
	if err != nil {
		return err
	}

	s.Metrics.GamesJoined.Inc(1)
	s.log.Info("gameJoined", "id", id, "player2", caller.ID, "refund", refund)
	if refund > 0 {
		s.wakePayouts()
	}
	return nil
}

// FirstReveal checks player1's secret. An honest reveal opens the reveal
// window for player2; a dishonest one hands player2 the pot.
func (s *CoinFlipService) FirstReveal(ctx context.Context, caller Caller, id uint64, secret []byte) (*models.Game, error) {
	if len(secret) != commitment.SecretSize {
		return nil, ErrBadSecret
	}

	var out *models.Game
	err := s.atomic(ctx, "first_reveal", func(tx registry.Tx) error {
		g, err := loadGame(tx, id)
		if err != nil {
			return err
		}
		if err := requireState(g, models.GameInitialized); err != nil {
			return err
		}
		if caller.ID != g.Player1 {
			return fmt.Errorf("%w: only player1 reveals first", ErrNotPlayer)
		}
		if err := g.RecordFirstReveal(secret); err != nil {
			return err
		}
		out = g

		if !commitment.Verify(g.Player1Commit, secret) {
			return payPot(tx, g, g.Opponent())
		}
		if err := g.OpenRevealWindow(s.now().Add(s.Rules.RevealTimeout)); err != nil {
			return err
		}
		return tx.Update(g)
	})
	if err != nil {
		return nil, err
	}

	if out.State == models.GameEnded {
		s.Metrics.Forfeits.Inc(1)
		s.recordWin(out, "player1 reveal did not match commitment")
		return out, nil
	}
	s.Metrics.GamesRevealed.Inc(1)
	s.log.Info("gameRevealed", "id", id, "deadline", *out.RevealDeadline)
	return out, nil
}

// SecondReveal checks player2's secret and settles the game.
func (s *CoinFlipService) SecondReveal(ctx context.Context, caller Caller, id uint64, secret []byte) (*models.Game, error) {
	if len(secret) != commitment.SecretSize {
		return nil, ErrBadSecret
	}

	var (
		out    *models.Game
		reason string
	)
	err := s.atomic(ctx, "second_reveal", func(tx registry.Tx) error {
		g, err := loadGame(tx, id)
		if err != nil {
			return err
		}
		if err := requireState(g, models.GameRevealed); err != nil {
			return err
		}
		if caller.ID != g.Opponent() {
			return fmt.Errorf("%w: only player2 reveals second", ErrNotPlayer)
		}
		if err := g.RecordSecondReveal(secret); err != nil {
			return err
		}
		out = g

		if !commitment.Verify(g.Player2Commit, secret) {
			reason = "player2 reveal did not match commitment"
			return payPot(tx, g, g.Player1)
		}
		reason = "coin flip"
		return payPot(tx, g, Winner(g))
	})
	if err != nil {
		return nil, err
	}

	if reason != "coin flip" {
		s.Metrics.Forfeits.Inc(1)
	}
	s.recordWin(out, reason)
	return out, nil
}

// Winner decides a game where both reveals matched: player1 wins when the
// guess equals the parity of the two secrets' sum.
func Winner(g *models.Game) string {
	if g.Player1Guess == commitment.ParityEven(g.Player1Reveal, g.Player2Reveal) {
		return g.Player1
	}
	return g.Opponent()
}

// GetPrize lets player1 collect the pot after player2 let the reveal window
// lapse. With InitializedForfeit on, player2 may likewise collect from a game
// where player1 never revealed.
func (s *CoinFlipService) GetPrize(ctx context.Context, caller Caller, id uint64) (*models.Game, error) {
	var out *models.Game
	err := s.atomic(ctx, "get_prize", func(tx registry.Tx) error {
		g, err := loadGame(tx, id)
		if err != nil {
			return err
		}
		now := s.now()

		switch {
		case g.State == models.GameRevealed:
			if caller.ID != g.Player1 {
				return fmt.Errorf("%w: only player1 can claim", ErrNotPlayer)
			}
			if !now.After(*g.RevealDeadline) {
				return fmt.Errorf("%w: deadline %s", ErrRevealWindowActive, g.RevealDeadline.Format(time.RFC3339))
			}
			out = g
			return payPot(tx, g, g.Player1)

		case g.State == models.GameInitialized && s.Rules.InitializedForfeit:
			if caller.ID != g.Opponent() {
				return fmt.Errorf("%w: only player2 can claim an unrevealed game", ErrNotPlayer)
			}
			deadline := g.JoinedAt.Add(s.Rules.RevealTimeout)
			if !now.After(deadline) {
				return fmt.Errorf("%w: deadline %s", ErrRevealWindowActive, deadline.Format(time.RFC3339))
			}
			out = g
			return payPot(tx, g, g.Opponent())
		}
		return requireState(g, models.GameRevealed)
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.Forfeits.Inc(1)
	s.log.Info("gameTimedOut", "id", id, "claimant", caller.ID)
	s.recordWin(out, "reveal window elapsed")
	return out, nil
}

// GetGameState returns a snapshot of the game.
func (s *CoinFlipService) GetGameState(ctx context.Context, id uint64) (*models.Game, error) {
	g, err := s.Registry.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrGameNotFound, id)
	}
	return g, err
}

// ListGames returns games matching f in id order.
func (s *CoinFlipService) ListGames(ctx context.Context, f registry.Filter) ([]models.Game, error) {
	if f.Limit <= 0 || f.Limit > registry.DefaultListLimit {
		f.Limit = registry.DefaultListLimit
	}
	return s.Registry.List(ctx, f)
}

// GameTransfers lists the refund and pot instructions queued for a game. They
// outlive the game itself once the cleaner has purged it.
func (s *CoinFlipService) GameTransfers(ctx context.Context, id uint64) ([]models.Transfer, error) {
	return s.Registry.Transfers(ctx, id)
}
