package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commit(b byte) HexBytes {
	c := make(HexBytes, 32)
	c[0] = b
	return c
}

func TestGameLifecycleForward(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	g := NewGame(0, "alice", true, 10, commit(1))
	require.Equal(t, GameCreated, g.State)
	assert.Equal(t, uint64(20), g.Pot())
	assert.Equal(t, "", g.Opponent())

	require.NoError(t, g.Join("bob", commit(2), now))
	require.Equal(t, GameInitialized, g.State)
	assert.Equal(t, "bob", g.Opponent())
	assert.Equal(t, now, *g.JoinedAt)

	require.NoError(t, g.RecordFirstReveal(make(HexBytes, 16)))
	require.NoError(t, g.OpenRevealWindow(now.Add(time.Minute)))
	require.Equal(t, GameRevealed, g.State)

	require.NoError(t, g.RecordSecondReveal(make(HexBytes, 16)))
	require.NoError(t, g.Finish("bob"))
	require.Equal(t, GameEnded, g.State)
	assert.Equal(t, "bob", *g.Winner)
}

func TestGameTransitionsRejectSkipsAndReverse(t *testing.T) {
	now := time.Now()
	g := NewGame(1, "alice", false, 5, commit(1))

	require.ErrorIs(t, g.OpenRevealWindow(now), ErrIllegalTransition)
	require.ErrorIs(t, g.RecordFirstReveal(make(HexBytes, 16)), ErrIllegalTransition)
	require.ErrorIs(t, g.RecordSecondReveal(make(HexBytes, 16)), ErrIllegalTransition)
	require.ErrorIs(t, g.Finish("alice"), ErrIllegalTransition)
	require.Equal(t, GameCreated, g.State)

	require.NoError(t, g.Join("bob", commit(2), now))
	require.ErrorIs(t, g.Join("carol", commit(3), now), ErrIllegalTransition)
	assert.Equal(t, "bob", g.Opponent())

	require.ErrorIs(t, g.Finish("carol"), ErrIllegalTransition)
	require.NoError(t, g.Finish("bob"))
	require.ErrorIs(t, g.Finish("alice"), ErrIllegalTransition)
	assert.Equal(t, "bob", *g.Winner)
}

func TestGameCloneIsDeep(t *testing.T) {
	g := NewGame(3, "alice", true, 1, commit(9))
	require.NoError(t, g.Join("bob", commit(8), time.Now()))
	c := g.Clone()
	c.Player1Commit[0] = 0
	*c.Player2 = "mallory"
	assert.Equal(t, byte(9), g.Player1Commit[0])
	assert.Equal(t, "bob", *g.Player2)
}

func TestGameStateText(t *testing.T) {
	for _, s := range []GameState{GameCreated, GameInitialized, GameRevealed, GameEnded} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back GameState
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	_, err := ParseGameState("cancelled")
	assert.Error(t, err)
	s, err := ParseGameState("Revealed")
	require.NoError(t, err)
	assert.Equal(t, GameRevealed, s)
}

func TestGameJSONUsesHex(t *testing.T) {
	g := NewGame(4, "alice", true, 1, HexBytes{0xab, 0xcd})
	b, err := json.Marshal(g)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "abcd", m["player1_commit"])
	assert.Equal(t, "created", m["state"])
	assert.NotContains(t, m, "player2_commit")
	assert.NotContains(t, m, "winner")
}

func TestParseHex(t *testing.T) {
	b, err := ParseHex("0xABcd")
	require.NoError(t, err)
	assert.Equal(t, HexBytes{0xab, 0xcd}, b)
	_, err = ParseHex("zz")
	assert.Error(t, err)
}
