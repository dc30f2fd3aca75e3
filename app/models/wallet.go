package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's prepaid balance. One row per user, created lazily on
// first access. Balance is mutated exclusively through the wallet ledger's
// conditional update path; no other component writes it directly.
type Wallet struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	FrozenBalance decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"frozen_balance"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets the table name for the Wallet model
func (Wallet) TableName() string {
	return "wallets"
}
