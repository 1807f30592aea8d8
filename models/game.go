// models/game.go
package models

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GameState is the lifecycle phase of a coin-flip game.
type GameState uint8

const (
	GameCreated     GameState = iota // player1 committed and staked
	GameInitialized                  // player2 joined and committed
	GameRevealed                     // player1 revealed honestly, waiting on player2
	GameEnded                        // winner decided, pot paid
)

var gameStateNames = [...]string{"created", "initialized", "revealed", "ended"}

func (s GameState) String() string {
	if int(s) < len(gameStateNames) {
		return gameStateNames[s]
	}
	return fmt.Sprintf("GameState(%d)", uint8(s))
}

func (s GameState) MarshalText() ([]byte, error) {
	if int(s) >= len(gameStateNames) {
		return nil, fmt.Errorf("unknown game state %d", uint8(s))
	}
	return []byte(gameStateNames[s]), nil
}

func (s *GameState) UnmarshalText(b []byte) error {
	v, err := ParseGameState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseGameState accepts the lowercase state names used on the wire.
func ParseGameState(name string) (GameState, error) {
	for i, n := range gameStateNames {
		if strings.EqualFold(n, name) {
			return GameState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown game state %q", name)
}

// ErrIllegalTransition is returned by the transition methods when the game is
// not in the state they start from.
var ErrIllegalTransition = errors.New("illegal game state transition")

// Game is one wager between two players.
//
// State is only changed through the transition methods below; handlers and
// services never assign it directly.
type Game struct {
	ID    uint64    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	State GameState `json:"state" gorm:"not null;index"`

	Player1      string  `json:"player1" gorm:"type:varchar(128);not null;index"`
	Player2      *string `json:"player2,omitempty" gorm:"type:varchar(128);index"`
	Player1Guess bool    `json:"player1_guess" gorm:"not null"`
	Stake        uint64  `json:"stake" gorm:"not null"`

	Player1Commit HexBytes `json:"player1_commit" gorm:"type:bytea;not null"`
	Player2Commit HexBytes `json:"player2_commit,omitempty" gorm:"type:bytea"`
	Player1Reveal HexBytes `json:"player1_reveal,omitempty" gorm:"type:bytea"`
	Player2Reveal HexBytes `json:"player2_reveal,omitempty" gorm:"type:bytea"`

	JoinedAt       *time.Time `json:"joined_at,omitempty"`
	RevealDeadline *time.Time `json:"reveal_deadline,omitempty"`
	Winner         *string    `json:"winner,omitempty" gorm:"type:varchar(128)"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// NewGame builds a game in the Created state.
func NewGame(id uint64, player1 string, guess bool, stake uint64, commit HexBytes) *Game {
	return &Game{
		ID:            id,
		State:         GameCreated,
		Player1:       player1,
		Player1Guess:  guess,
		Stake:         stake,
		Player1Commit: commit.Clone(),
	}
}

// Pot is what the winner receives.
func (g *Game) Pot() uint64 { return 2 * g.Stake }

// Opponent returns player2 or "" before anyone joined.
func (g *Game) Opponent() string {
	if g.Player2 == nil {
		return ""
	}
	return *g.Player2
}

func (g *Game) advance(from, to GameState) error {
	if g.State != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrIllegalTransition, from, to, g.State)
	}
	g.State = to
	return nil
}

// Join records player2 and moves Created -> Initialized.
func (g *Game) Join(player string, commit HexBytes, at time.Time) error {
	if err := g.advance(GameCreated, GameInitialized); err != nil {
		return err
	}
	g.Player2 = &player
	g.Player2Commit = commit.Clone()
	g.JoinedAt = &at
	return nil
}

// RecordFirstReveal stores player1's secret. The state does not move; the
// caller follows up with OpenRevealWindow or Finish depending on the check.
func (g *Game) RecordFirstReveal(secret HexBytes) error {
	if g.State != GameInitialized || g.Player1Reveal != nil {
		return fmt.Errorf("%w: first reveal in %s", ErrIllegalTransition, g.State)
	}
	g.Player1Reveal = secret.Clone()
	return nil
}

// OpenRevealWindow moves Initialized -> Revealed and starts the forfeit clock.
func (g *Game) OpenRevealWindow(deadline time.Time) error {
	if g.Player1Reveal == nil {
		return fmt.Errorf("%w: reveal window without first reveal", ErrIllegalTransition)
	}
	if err := g.advance(GameInitialized, GameRevealed); err != nil {
		return err
	}
	g.RevealDeadline = &deadline
	return nil
}

// RecordSecondReveal stores player2's secret.
func (g *Game) RecordSecondReveal(secret HexBytes) error {
	if g.State != GameRevealed || g.Player2Reveal != nil {
		return fmt.Errorf("%w: second reveal in %s", ErrIllegalTransition, g.State)
	}
	g.Player2Reveal = secret.Clone()
	return nil
}

// Finish ends the game in favour of winner, who must be one of the players.
func (g *Game) Finish(winner string) error {
	if g.State != GameInitialized && g.State != GameRevealed {
		return fmt.Errorf("%w: finish from %s", ErrIllegalTransition, g.State)
	}
	if winner == "" || (winner != g.Player1 && winner != g.Opponent()) {
		return fmt.Errorf("%w: %q is not a player", ErrIllegalTransition, winner)
	}
	g.State = GameEnded
	g.Winner = &winner
	return nil
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (g *Game) Clone() *Game {
	c := *g
	c.Player1Commit = g.Player1Commit.Clone()
	c.Player2Commit = g.Player2Commit.Clone()
	c.Player1Reveal = g.Player1Reveal.Clone()
	c.Player2Reveal = g.Player2Reveal.Clone()
	if g.Player2 != nil {
		p := *g.Player2
		c.Player2 = &p
	}
	if g.Winner != nil {
		w := *g.Winner
		c.Winner = &w
	}
	if g.JoinedAt != nil {
		t := *g.JoinedAt
		c.JoinedAt = &t
	}
	if g.RevealDeadline != nil {
		t := *g.RevealDeadline
		c.RevealDeadline = &t
	}
	return &c
}

// HexBytes is a byte string stored as bytea and rendered as hex in JSON.
type HexBytes []byte

// ParseHex decodes an optionally 0x-prefixed hex string.
func ParseHex(s string) (HexBytes, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return HexBytes(b), nil
}

func (h HexBytes) String() string { return hex.EncodeToString(h) }

func (h HexBytes) Clone() HexBytes {
	if h == nil {
		return nil
	}
	return append(HexBytes(nil), h...)
}

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func (h HexBytes) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	return []byte(h), nil
}

func (h *HexBytes) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*h = nil
	case []byte:
		*h = append(HexBytes(nil), v...)
	case string:
		*h = HexBytes(v)
	default:
		return fmt.Errorf("cannot scan %T into HexBytes", src)
	}
	return nil
}
