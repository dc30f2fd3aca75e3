package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/models"
	"github.com/xpack-ai/mcpay/internal/pkg/payment"
)

type depositRequest struct {
	UserID    uint   `json:"user_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	ChannelID uint   `json:"channel_id" validate:"required"`
}

// HandleCreateDeposit opens a deposit order: a pending ledger entry plus a
// reconciliation queue slot. The balance only changes when the webhook or
// the poller confirms payment.
func HandleCreateDeposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Amount must be a positive decimal"})
	}

	repos := deps.Repos

	channel, err := repos.Channel.GetByID(req.ChannelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Payment channel not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load channel"})
	}
	if !channel.Enabled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "channel_disabled", "message": "Payment channel is disabled"})
	}

	if _, err := repos.Wallet.CreateIfMissing(req.UserID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to prepare wallet"})
	}

	entry := &models.WalletHistory{
		UserID:        req.UserID,
		Amount:        amount,
		Type:          models.HistoryTypeDeposit,
		Status:        models.HistoryStatusPending,
		PaymentMethod: channel.Kind,
		ChannelID:     channel.ID,
	}
	if err := repos.Ledger.Insert(entry); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create deposit order"})
	}

	if err := deps.Monitor.EnqueueOrder(payment.PendingOrder{
		CreatedTime: time.Now(),
		UserID:      req.UserID,
		Amount:      amount,
		PaymentID:   entry.ID,
		ChannelID:   channel.ID,
	}); err != nil {
		// Webhook delivery or a restart reseed will still settle the order.
		log.Warnf("[Deposit] Order %d not queued for polling: %v", entry.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id": entry.ID,
		"amount":     amount.StringFixed(2),
		"channel":    channel.Kind,
		"status":     entry.Status,
	})
}

// HandleGetWallet returns the durable wallet snapshot and recent history.
func HandleGetWallet(c *fiber.Ctx) error {
	userID := c.QueryInt("user_id")
	if userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing user_id"})
	}

	repos := deps.Repos

	w, err := repos.Wallet.CreateIfMissing(uint(userID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load wallet"})
	}

	history, err := repos.Ledger.ListByUser(uint(userID), c.QueryInt("limit", 20))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load history"})
	}

	return c.JSON(fiber.Map{
		"user_id":        w.UserID,
		"balance":        w.Balance.StringFixed(2),
		"frozen_balance": w.FrozenBalance.StringFixed(2),
		"history":        history,
	})
}
