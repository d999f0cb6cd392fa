package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prediction lifecycle statuses. Transitions are forward-only:
// open -> locked -> settled.
const (
	PredictionStatusOpen    = "open"
	PredictionStatusLocked  = "locked"
	PredictionStatusSettled = "settled"
)

// Prediction results
const (
	PredictionResultUp   = "up"
	PredictionResultDown = "down"
	PredictionResultDraw = "draw"
	PredictionResultNone = "none"
)

// Prediction represents a single prediction market mirrored from chain
type Prediction struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	PredictionID     uint64           `gorm:"uniqueIndex;not null" json:"prediction_id"` // on-chain id
	Title            string           `gorm:"size:500" json:"title"`
	Description      string           `gorm:"type:text" json:"description"`
	Category         string           `gorm:"size:50;index" json:"category"`
	ResolutionSource string           `gorm:"size:255" json:"resolution_source"`
	EntryAmount      decimal.Decimal  `gorm:"type:decimal(36,18);default:0" json:"entry_amount"`
	MinBet           decimal.Decimal  `gorm:"type:decimal(36,18);default:0" json:"min_bet"`
	MaxBet           decimal.Decimal  `gorm:"type:decimal(36,18);default:0" json:"max_bet"`
	LockTime         *time.Time       `json:"lock_time,omitempty"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	Status           string           `gorm:"size:20;default:open;index" json:"status"` // open, locked, settled
	Result           string           `gorm:"size:20;default:none" json:"result"`       // up, down, draw, none
	ResolvedValue    *decimal.Decimal `gorm:"type:decimal(36,18)" json:"resolved_value,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	Creator          string           `gorm:"size:64;index" json:"creator"`
	CreatedBlock     uint64           `json:"created_block"`
	CreatedTxHash    string           `gorm:"size:80" json:"created_tx_hash"`
	Placeholder      bool             `gorm:"default:false" json:"placeholder"` // row created from a bet observed before the creation event
	TotalPool        decimal.Decimal  `gorm:"type:decimal(36,18);default:0" json:"total_pool"`
	UpPool           decimal.Decimal  `gorm:"type:decimal(36,18);default:0" json:"up_pool"`
	DownPool         decimal.Decimal  `gorm:"type:decimal(36,18);default:0" json:"down_pool"`
	BetCount         int              `gorm:"default:0" json:"bet_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TableName specifies the table name for Prediction model
func (Prediction) TableName() string {
	return "predictions"
}
