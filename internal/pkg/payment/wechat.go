package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/models"
)

// Gateway-side trade states for WeChat-dialect channels.
const (
	WeChatStatusSuccess    = "SUCCESS"
	WeChatStatusNotPay     = "NOTPAY"
	WeChatStatusUserPaying = "USERPAYING"
	WeChatStatusPayError   = "PAYERROR"
	WeChatStatusClosed     = "CLOSED"
	WeChatStatusRevoked    = "REVOKED"
)

// WeChatChannel queries a WeChat-dialect gateway. Requests are signed with
// HMAC-SHA256 over the canonical param string.
type WeChatChannel struct {
	id         uint
	gatewayURL string
	merchantID string
	secret     string
	httpClient *http.Client
}

// NewWeChatChannel builds an adapter for one configured WeChat channel.
func NewWeChatChannel(id uint, gatewayURL, merchantID, secret string) *WeChatChannel {
	return &WeChatChannel{
		id:         id,
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		merchantID: merchantID,
		secret:     secret,
		httpClient: &http.Client{Timeout: gatewayQueryTimeout},
	}
}

func (c *WeChatChannel) ID() uint {
	return c.id
}

func (c *WeChatChannel) Kind() string {
	return models.ChannelKindWeChat
}

type wechatQueryRequest struct {
	MchID      string `json:"mch_id"`
	OutTradeNo string `json:"out_trade_no"`
	Nonce      string `json:"nonce_str"`
	Sign       string `json:"sign"`
}

type wechatQueryResponse struct {
	ReturnCode    string `json:"return_code"`
	ReturnMsg     string `json:"return_msg"`
	TradeState    string `json:"trade_state"`
	TransactionID string `json:"transaction_id"`
	TotalFee      int64  `json:"total_fee"` // cents
}

// QueryStatus asks the gateway for the current state of an order.
func (c *WeChatChannel) QueryStatus(ctx context.Context, orderID string) (QueryResult, error) {
	nonce := strconv.FormatInt(time.Now().UnixNano(), 10)
	params := map[string]string{
		"mch_id":       c.merchantID,
		"out_trade_no": orderID,
		"nonce_str":    nonce,
	}
	payload, err := json.Marshal(wechatQueryRequest{
		MchID:      c.merchantID,
		OutTradeNo: orderID,
		Nonce:      nonce,
		Sign:       HMACSHA256Sign(params, c.secret),
	})
	if err != nil {
		return QueryResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/pay/orderquery", strings.NewReader(string(payload)))
	if err != nil {
		return QueryResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("wechat query for order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return QueryResult{}, fmt.Errorf("wechat query for order %s: %w", orderID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, fmt.Errorf("wechat query for order %s: gateway returned %d", orderID, resp.StatusCode)
	}

	var parsed wechatQueryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return QueryResult{}, fmt.Errorf("wechat query for order %s: %w", orderID, err)
	}
	if parsed.ReturnCode != WeChatStatusSuccess {
		return QueryResult{}, fmt.Errorf("wechat query for order %s: gateway error: %s", orderID, parsed.ReturnMsg)
	}

	return QueryResult{
		Status:     parsed.TradeState,
		TradeNo:    parsed.TransactionID,
		PaidAmount: decimal.NewFromInt(parsed.TotalFee).Div(decimal.NewFromInt(100)),
	}, nil
}

// Classify maps WeChat trade states onto the normalized order states.
func (c *WeChatChannel) Classify(status string) OrderState {
	switch status {
	case WeChatStatusSuccess:
		return StateSuccess
	case WeChatStatusPayError, WeChatStatusClosed, WeChatStatusRevoked:
		return StateFailed
	case WeChatStatusNotPay, WeChatStatusUserPaying:
		return StateWaiting
	default:
		return StateUnknown
	}
}
