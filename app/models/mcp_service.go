package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Charge models for metered services.
const (
	ChargeTypeFree     = "free"
	ChargeTypePerCall  = "per_call"
	ChargeTypePerToken = "per_token"
)

// McpService is the priced projection of a published service. Full service
// management (schemas, endpoints, import) lives outside this process; the
// billing pipeline only reads the charge model and unit prices.
type McpService struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	Name             string          `gorm:"type:varchar(191);not null" json:"name"`
	ChargeType       string          `gorm:"type:varchar(20);not null;default:'free'" json:"charge_type"`
	Price            decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"price"`
	InputTokenPrice  decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"input_token_price"`  // per 1k input tokens
	OutputTokenPrice decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"output_token_price"` // per 1k output tokens
	Enabled          bool            `gorm:"default:true;index" json:"enabled"`
	CallCount        int64           `gorm:"default:0" json:"call_count"` // flushed periodically from Redis
	FailureCount     int64           `gorm:"default:0" json:"failure_count"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets the table name for the McpService model
func (McpService) TableName() string {
	return "mcp_services"
}
