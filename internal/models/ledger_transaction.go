package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger transaction types
const (
	LedgerTxTypeDeposit    = "deposit"
	LedgerTxTypeWithdrawal = "withdrawal"
	LedgerTxTypeSync       = "sync"
)

// Ledger transaction statuses
const (
	LedgerTxStatusPending   = "pending"
	LedgerTxStatusCompleted = "completed"
	LedgerTxStatusFailed    = "failed"
)

// LedgerTransaction records a single vault movement. The (tx_hash, asset)
// pair is unique: inserting a duplicate is how replayed events are detected,
// which makes this table the idempotency anchor for the whole engine.
// Invariant: net_amount = gross_amount - fee_amount.
type LedgerTransaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	VaultID     uint            `gorm:"index;not null" json:"vault_id"`
	TxHash      string          `gorm:"uniqueIndex:idx_ledger_tx_asset;size:80;not null" json:"tx_hash"`
	Asset       string          `gorm:"uniqueIndex:idx_ledger_tx_asset;size:20;not null" json:"asset"`
	Type        string          `gorm:"size:20;not null;index" json:"type"` // deposit, withdrawal, sync
	GrossAmount decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"gross_amount"`
	FeeAmount   decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"fee_amount"`
	NetAmount   decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"net_amount"`
	Status      string          `gorm:"size:20;default:completed;index" json:"status"` // pending, completed, failed
	OnChain     bool            `gorm:"default:true" json:"on_chain"`
	FromAddress string          `gorm:"size:64" json:"from_address"`
	ToAddress   string          `gorm:"size:64" json:"to_address"`
	Metadata    string          `gorm:"type:text" json:"metadata"` // free-form JSON: request id, default-fee flag, block number
	BlockNumber uint64          `json:"block_number"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for LedgerTransaction model
func (LedgerTransaction) TableName() string {
	return "ledger_transactions"
}

// PlatformFee stores the fee percentage for an operation type. The
// reconciler only reads these rows; at most one active row per fee type.
type PlatformFee struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	FeeType   string          `gorm:"size:50;not null;index" json:"fee_type"` // deposit, withdrawal
	Percent   decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"percent"`
	IsActive  bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName specifies the table name for PlatformFee model
func (PlatformFee) TableName() string {
	return "platform_fees"
}
