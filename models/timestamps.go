package models

import "time"

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// GameSequence holds the next game id. There is exactly one row, created on
// first use and only ever incremented.
type GameSequence struct {
	Name string `gorm:"primaryKey;type:varchar(32)"`
	Next uint64 `gorm:"not null"`
}

// GameSequenceName is the key of the single sequence row.
const GameSequenceName = "games"
