package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/models"
)

// Gateway-side trade statuses for Alipay-dialect channels.
const (
	AlipayStatusTradeSuccess  = "TRADE_SUCCESS"
	AlipayStatusTradeFinished = "TRADE_FINISHED"
	AlipayStatusTradeClosed   = "TRADE_CLOSED"
	AlipayStatusWaitBuyerPay  = "WAIT_BUYER_PAY"
)

const gatewayQueryTimeout = 10 * time.Second

// AlipayChannel queries an Alipay-dialect gateway. Requests are signed with
// the legacy MD5 scheme the gateway mandates.
type AlipayChannel struct {
	id         uint
	gatewayURL string
	merchantID string
	secret     string
	httpClient *http.Client
}

// NewAlipayChannel builds an adapter for one configured Alipay channel.
func NewAlipayChannel(id uint, gatewayURL, merchantID, secret string) *AlipayChannel {
	return &AlipayChannel{
		id:         id,
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		merchantID: merchantID,
		secret:     secret,
		httpClient: &http.Client{Timeout: gatewayQueryTimeout},
	}
}

func (c *AlipayChannel) ID() uint {
	return c.id
}

func (c *AlipayChannel) Kind() string {
	return models.ChannelKindAlipay
}

type alipayQueryResponse struct {
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
	TradeStatus string `json:"trade_status"`
	TradeNo     string `json:"trade_no"`
	TotalAmount string `json:"total_amount"`
}

// QueryStatus asks the gateway for the current status of an order.
func (c *AlipayChannel) QueryStatus(ctx context.Context, orderID string) (QueryResult, error) {
	params := map[string]string{
		"service":      "single_trade_query",
		"partner":      c.merchantID,
		"out_trade_no": orderID,
		"timestamp":    strconv.FormatInt(time.Now().Unix(), 10),
	}
	params["sign"] = MD5Sign(params, c.secret)
	params["sign_type"] = "MD5"

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/gateway/query?"+query.Encode(), nil)
	if err != nil {
		return QueryResult{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("alipay query for order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return QueryResult{}, fmt.Errorf("alipay query for order %s: %w", orderID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, fmt.Errorf("alipay query for order %s: gateway returned %d", orderID, resp.StatusCode)
	}

	var parsed alipayQueryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return QueryResult{}, fmt.Errorf("alipay query for order %s: %w", orderID, err)
	}
	if parsed.Code != 0 {
		return QueryResult{}, fmt.Errorf("alipay query for order %s: gateway error %d: %s", orderID, parsed.Code, parsed.Msg)
	}

	amount := decimal.Zero
	if parsed.TotalAmount != "" {
		if parsedAmount, err := decimal.NewFromString(parsed.TotalAmount); err == nil {
			amount = parsedAmount
		}
	}

	return QueryResult{
		Status:     parsed.TradeStatus,
		TradeNo:    parsed.TradeNo,
		PaidAmount: amount,
	}, nil
}

// Classify maps Alipay trade statuses onto the normalized order states.
func (c *AlipayChannel) Classify(status string) OrderState {
	switch status {
	case AlipayStatusTradeSuccess, AlipayStatusTradeFinished:
		return StateSuccess
	case AlipayStatusTradeClosed:
		return StateFailed
	case AlipayStatusWaitBuyerPay:
		return StateWaiting
	default:
		return StateUnknown
	}
}
