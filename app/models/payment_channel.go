package models

import "time"

// Payment channel kinds supported by the reconciliation monitor.
const (
	ChannelKindAlipay = "alipay"
	ChannelKindWeChat = "wechat"
)

// PaymentChannel is the persisted configuration of one external payment
// gateway. The reconciliation monitor re-reads this table periodically and
// hot-swaps its active adapters, so toggling Enabled takes effect without a
// restart.
type PaymentChannel struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Kind       string    `gorm:"type:varchar(20);not null" json:"kind"`
	Name       string    `gorm:"type:varchar(100);not null" json:"name"`
	GatewayURL string    `gorm:"type:varchar(500);not null" json:"gateway_url"`
	MerchantID string    `gorm:"type:varchar(100);not null" json:"merchant_id"`
	SecretKey  string    `gorm:"type:varchar(200);not null" json:"-"`
	Enabled    bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets the table name for the PaymentChannel model
func (PaymentChannel) TableName() string {
	return "payment_channels"
}
