package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vault represents a per-user custodial balance record backed by the
// on-chain vault contract. Rows are provisioned from VaultCreated events,
// never auto-created by deposit or withdrawal processing.
type Vault struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	Address        string          `gorm:"uniqueIndex;size:64;not null" json:"address"`
	BNBBalance     decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"bnb_balance"`
	USDTBalance    decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"usdt_balance"`
	TotalDeposited decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"total_withdrawn"`
	LastSyncAt     *time.Time      `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Vault model
func (Vault) TableName() string {
	return "vaults"
}

// Balance returns the stored balance for an asset symbol
func (v *Vault) Balance(asset string) (decimal.Decimal, bool) {
	switch asset {
	case "BNB":
		return v.BNBBalance, true
	case "USDT":
		return v.USDTBalance, true
	}
	return decimal.Zero, false
}

// BalanceColumn returns the vault column holding an asset's balance
func BalanceColumn(asset string) (string, bool) {
	switch asset {
	case "BNB":
		return "bnb_balance", true
	case "USDT":
		return "usdt_balance", true
	}
	return "", false
}
