package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bet sides
const (
	BetSideUp   = "up"
	BetSideDown = "down"
)

// Bet represents a single on-chain bet transaction. The transaction hash
// is the idempotency anchor: at most one row per on-chain bet.
type Bet struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	TxHash          string           `gorm:"uniqueIndex;size:80;not null" json:"tx_hash"`
	PredictionID    uint64           `gorm:"index;not null" json:"prediction_id"` // on-chain prediction id
	Bettor          string           `gorm:"size:64;index;not null" json:"bettor"`
	Amount          decimal.Decimal  `gorm:"type:decimal(36,18);not null" json:"amount"`
	Asset           string           `gorm:"size:20;default:BNB" json:"asset"`
	Side            string           `gorm:"size:10;not null" json:"side"` // up, down
	PlacedAt        time.Time        `json:"placed_at"`
	BlockNumber     uint64           `json:"block_number"`
	LogIndex        uint             `json:"log_index"`
	ClaimedWinnings *decimal.Decimal `gorm:"type:decimal(36,18)" json:"claimed_winnings,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// TableName specifies the table name for Bet model
func (Bet) TableName() string {
	return "bets"
}

// BettorStats tracks per-address betting aggregates, updated incrementally
// in the same transaction as the row that changes them
type BettorStats struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Bettor       string          `gorm:"uniqueIndex;size:64;not null" json:"bettor"`
	TotalBets    int             `gorm:"default:0" json:"total_bets"`
	Wins         int             `gorm:"default:0" json:"wins"`
	Losses       int             `gorm:"default:0" json:"losses"`
	TotalWagered decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"total_wagered"`
	TotalWon     decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"total_won"`
	TotalLost    decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"total_lost"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName specifies the table name for BettorStats model
func (BettorStats) TableName() string {
	return "bettor_stats"
}
