package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/models"
	"github.com/xpack-ai/mcpay/internal/pkg/payment"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

// HandleAlipayNotify processes the Alipay-dialect payment callback. The
// gateway retries until it sees "success", so duplicate deliveries are
// normal; the ledger's idempotency makes them harmless.
func HandleAlipayNotify(c *fiber.Ctx) error {
	params := map[string]string{}
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})

	entry, channel, status := loadNotifyTarget(c, params["out_trade_no"], models.ChannelKindAlipay)
	if entry == nil {
		return status
	}

	if !payment.VerifyMD5Sign(params, channel.SecretKey, params["sign"]) {
		log.Warnf("[Webhook] Alipay notify for order %d rejected: bad signature", entry.ID)
		return c.Status(fiber.StatusBadRequest).SendString("fail")
	}

	adapter := payment.NewAlipayChannel(channel.ID, channel.GatewayURL, channel.MerchantID, channel.SecretKey)
	switch adapter.Classify(params["trade_status"]) {
	case payment.StateSuccess:
		paid := decimal.Zero
		if params["total_amount"] != "" {
			if amount, err := decimal.NewFromString(params["total_amount"]); err == nil {
				paid = amount
			}
		}
		return settleNotify(c, entry.ID, paid, params["trade_no"], "success")
	case payment.StateFailed:
		if err := deps.Ledger.FailDeposit(entry.ID); err != nil && !errors.Is(err, wallet.ErrAlreadySettled) {
			log.Errorf("[Webhook] Failed to close order %d: %v", entry.ID, err)
		}
		return c.SendString("success")
	default:
		// Not terminal yet; the poller keeps watching.
		return c.SendString("success")
	}
}

type wechatNotifyRequest struct {
	OutTradeNo    string `json:"out_trade_no"`
	TradeState    string `json:"trade_state"`
	TransactionID string `json:"transaction_id"`
	TotalFee      int64  `json:"total_fee"` // cents
	Nonce         string `json:"nonce_str"`
	Sign          string `json:"sign"`
}

// HandleWeChatNotify processes the WeChat-dialect payment callback.
func HandleWeChatNotify(c *fiber.Ctx) error {
	var req wechatNotifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"return_code": "FAIL", "return_msg": "invalid body"})
	}

	entry, channel, status := loadNotifyTarget(c, req.OutTradeNo, models.ChannelKindWeChat)
	if entry == nil {
		return status
	}

	params := map[string]string{
		"out_trade_no":   req.OutTradeNo,
		"trade_state":    req.TradeState,
		"transaction_id": req.TransactionID,
		"total_fee":      strconv.FormatInt(req.TotalFee, 10),
		"nonce_str":      req.Nonce,
	}
	if !payment.VerifyHMACSHA256Sign(params, channel.SecretKey, req.Sign) {
		log.Warnf("[Webhook] WeChat notify for order %d rejected: bad signature", entry.ID)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"return_code": "FAIL", "return_msg": "bad signature"})
	}

	adapter := payment.NewWeChatChannel(channel.ID, channel.GatewayURL, channel.MerchantID, channel.SecretKey)
	switch adapter.Classify(req.TradeState) {
	case payment.StateSuccess:
		paid := decimal.NewFromInt(req.TotalFee).Div(decimal.NewFromInt(100))
		if err := creditNotify(entry.ID, paid, req.TransactionID); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"return_code": "FAIL", "return_msg": "settlement failed"})
		}
		return c.JSON(fiber.Map{"return_code": "SUCCESS"})
	case payment.StateFailed:
		if err := deps.Ledger.FailDeposit(entry.ID); err != nil && !errors.Is(err, wallet.ErrAlreadySettled) {
			log.Errorf("[Webhook] Failed to close order %d: %v", entry.ID, err)
		}
		return c.JSON(fiber.Map{"return_code": "SUCCESS"})
	default:
		return c.JSON(fiber.Map{"return_code": "SUCCESS"})
	}
}

// loadNotifyTarget resolves the webhook's order id to a ledger entry and its
// channel config. A nil entry means the fiber response has been written.
func loadNotifyTarget(c *fiber.Ctx, outTradeNo, expectedKind string) (*models.WalletHistory, *models.PaymentChannel, error) {
	entryID, err := strconv.ParseUint(outTradeNo, 10, 64)
	if err != nil || entryID == 0 {
		return nil, nil, c.Status(fiber.StatusBadRequest).SendString("fail")
	}

	repos := deps.Repos
	entry, err := repos.Ledger.GetByID(uint(entryID))
	if err != nil {
		return nil, nil, c.Status(fiber.StatusNotFound).SendString("fail")
	}
	channel, err := repos.Channel.GetByID(entry.ChannelID)
	if err != nil || channel.Kind != expectedKind {
		return nil, nil, c.Status(fiber.StatusBadRequest).SendString("fail")
	}
	return entry, channel, nil
}

func settleNotify(c *fiber.Ctx, entryID uint, paid decimal.Decimal, tradeNo, okBody string) error {
	if err := creditNotify(entryID, paid, tradeNo); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("fail")
	}
	return c.SendString(okBody)
}

// creditNotify applies the credit, treating a duplicate notify as success.
func creditNotify(entryID uint, paid decimal.Decimal, tradeNo string) error {
	err := deps.Ledger.Credit(entryID, paid, tradeNo)
	if err == nil || errors.Is(err, wallet.ErrAlreadySettled) {
		return nil
	}
	log.Errorf("[Webhook] Credit failed for order %d: %v", entryID, err)
	return err
}
