package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet history entry types.
const (
	HistoryTypeDeposit = "deposit"
	HistoryTypeConsume = "consume"
	HistoryTypeRefund  = "refund"
	HistoryTypeAPICall = "api_call"
	HistoryTypeReset   = "reset"
)

// Wallet history entry statuses. A deposit entry starts as "new" and moves to
// "completed" or "failed"; consume entries are written as "completed". The
// "processing" status marks an entry claimed for settlement: the claimant
// either completes it or hands it back to "pending".
const (
	HistoryStatusNew        = "new"
	HistoryStatusPending    = "pending"
	HistoryStatusProcessing = "processing"
	HistoryStatusCompleted  = "completed"
	HistoryStatusFailed     = "failed"
)

// Payment methods recorded on deposit entries.
const (
	PaymentMethodAlipay = "alipay"
	PaymentMethodWeChat = "wechat"
	PaymentMethodSystem = "system"
)

// WalletHistory is the append-only ledger of balance changes. The primary key
// doubles as the idempotency key for settlement: a credit that finds an
// existing completed entry for the same id is a no-op.
type WalletHistory struct {
	ID                    uint            `gorm:"primaryKey" json:"id"`
	UserID                uint            `gorm:"index;not null" json:"user_id"`
	Amount                decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"` // signed: deposits positive, consumption negative
	BalanceAfter          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Type                  string          `gorm:"type:varchar(20);index;not null" json:"type"`
	Status                string          `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentMethod         string          `gorm:"type:varchar(20);default:''" json:"payment_method"`
	ChannelID             uint            `gorm:"default:0" json:"channel_id"`
	ExternalTransactionID string          `gorm:"type:varchar(191);default:''" json:"external_transaction_id"`
	CreatedAt             time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets the table name for the WalletHistory model
func (WalletHistory) TableName() string {
	return "wallet_histories"
}
