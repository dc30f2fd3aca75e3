// Package payment talks to external payment gateways: per-channel status
// queries, webhook signature verification, and the background monitor that
// reconciles pending deposits until success, failure, or timeout.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/models"
)

// OrderState is the normalized classification of a gateway order status.
type OrderState int

const (
	StateUnknown OrderState = iota
	StateWaiting
	StateSuccess
	StateFailed
)

func (s OrderState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// QueryResult is a gateway's answer to an order status query. Status is the
// gateway's raw status string; Classify turns it into an OrderState.
type QueryResult struct {
	Status     string
	TradeNo    string
	PaidAmount decimal.Decimal
}

// Channel is one payment gateway adapter. All gateways sit behind this
// single query/classify contract so the monitor treats them uniformly.
type Channel interface {
	ID() uint
	Kind() string
	QueryStatus(ctx context.Context, orderID string) (QueryResult, error)
	Classify(status string) OrderState
}

// NewChannelFromConfig builds the adapter for a configured channel row.
func NewChannelFromConfig(cfg *models.PaymentChannel) (Channel, error) {
	switch cfg.Kind {
	case models.ChannelKindAlipay:
		return NewAlipayChannel(cfg.ID, cfg.GatewayURL, cfg.MerchantID, cfg.SecretKey), nil
	case models.ChannelKindWeChat:
		return NewWeChatChannel(cfg.ID, cfg.GatewayURL, cfg.MerchantID, cfg.SecretKey), nil
	default:
		return nil, &UnsupportedChannelError{Kind: cfg.Kind}
	}
}

// UnsupportedChannelError marks a configured channel kind with no adapter.
type UnsupportedChannelError struct {
	Kind string
}

func (e *UnsupportedChannelError) Error() string {
	return "unsupported payment channel kind: " + e.Kind
}
