package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Call log processing statuses.
const (
	CallLogStatusPending   = "pending"
	CallLogStatusProcessed = "processed"
	CallLogStatusFailed    = "failed"
)

// CallLog records one metered tool invocation. The primary key is derived
// from the billing event id, so redelivered events map onto the same row
// instead of creating duplicates. WalletHistoryID is set only after the
// corresponding debit is durably committed.
type CallLog struct {
	ID              string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID          uint            `gorm:"index;not null" json:"user_id"`
	ServiceID       uint            `gorm:"index;not null" json:"service_id"`
	APIID           uint            `gorm:"default:0" json:"api_id"`
	ToolName        string          `gorm:"type:varchar(191);default:''" json:"tool_name"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price"`
	InputToken      int64           `gorm:"default:0" json:"input_token"`
	OutputToken     int64           `gorm:"default:0" json:"output_token"`
	CallSuccess     bool            `gorm:"not null" json:"call_success"`
	ProcessStatus   string          `gorm:"type:varchar(20);index;not null" json:"process_status"`
	WalletHistoryID *uint           `gorm:"default:null" json:"wallet_history_id,omitempty"`
	CallStartTime   int64           `gorm:"default:0" json:"call_start_time"` // unix milliseconds
	CallEndTime     int64           `gorm:"default:0" json:"call_end_time"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets the table name for the CallLog model
func (CallLog) TableName() string {
	return "call_logs"
}
