package models

import (
	"time"
)

// ScanCursor tracks how far the periodic chain scan has progressed for a
// given scope, so successive runs advance through block ranges instead of
// re-reading from genesis. Scans are idempotent, so a stale cursor only
// costs redundant work, never double-application.
type ScanCursor struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Scope     string    `gorm:"uniqueIndex;size:50;not null" json:"scope"`
	LastBlock uint64    `gorm:"default:0" json:"last_block"`
	LastRunAt time.Time `json:"last_run_at"`
	LastError string    `gorm:"type:text" json:"last_error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for ScanCursor model
func (ScanCursor) TableName() string {
	return "scan_cursors"
}
