// models/transfer.go
package models

import (
	"time"
)

// TransferKind tells why funds leave escrow.
type TransferKind string

const (
	TransferRefund TransferKind = "refund" // join deposit above the stake
	TransferPot    TransferKind = "pot"    // both stakes to the winner
)

// TransferStatus tracks delivery to the ledger.
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferSent    TransferStatus = "sent"
)

// Transfer is an outbox entry: an instruction for the ledger to move Amount
// to Recipient. It is written in the same transaction as the game change that
// caused it and delivered afterwards by the transfer dispatcher.
// Table name: transfers
type Transfer struct {
	ID        string         `gorm:"primaryKey;type:uuid;not null" json:"id"` // also the ledger idempotency key
	GameID    uint64         `gorm:"not null;uniqueIndex:idx_transfer_game_kind" json:"game_id"`
	Kind      TransferKind   `gorm:"type:varchar(16);not null;uniqueIndex:idx_transfer_game_kind" json:"kind"`
	Recipient string         `gorm:"type:varchar(128);not null;index" json:"recipient"`
	Amount    uint64         `gorm:"not null" json:"amount"`
	Status    TransferStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Attempts  int            `gorm:"not null;default:0" json:"attempts"`
	LastError string         `gorm:"type:text" json:"last_error,omitempty"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`

	Timestamps
}
