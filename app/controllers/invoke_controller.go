package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/xpack-ai/mcpay/internal/pkg/billing"
	"github.com/xpack-ai/mcpay/internal/pkg/metrics/counter"
	"github.com/xpack-ai/mcpay/internal/pkg/pricing"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

type invokeRequest struct {
	UserID      uint   `json:"user_id" validate:"required"`
	ToolName    string `json:"tool_name" validate:"required"`
	InputParams string `json:"input_params"`
	APIKeyID    uint   `json:"apikey_id"`
}

// HandleInvoke serves a metered tool invocation: reserve funds, run the
// tool, publish the billing event. The durable debit happens asynchronously
// in the settlement consumer; this handler only gates and reports.
func HandleInvoke(c *fiber.Ctx) error {
	serviceID, err := c.ParamsInt("service_id")
	if err != nil || serviceID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid service id"})
	}

	var req invokeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	reservation, err := deps.Guard.TryReserve(req.UserID, uint(serviceID), req.ToolName)
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrServiceNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Service not found"})
		case errors.Is(err, wallet.ErrInsufficientFunds):
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_funds", "message": err.Error()})
		case errors.Is(err, billing.ErrLockContention):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "busy", "message": "Billing busy, retry the request"})
		default:
			log.Errorf("[Invoke] Reservation failed for user %d: %v", req.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reservation failed"})
		}
	}

	record := billing.NewCallRecord(req.UserID, uint(serviceID), req.ToolName)
	record.InputParams = req.InputParams
	record.APIKeyID = req.APIKeyID
	record.UnitPrice = reservation.Price
	record.ChargeType = reservation.Quote.ChargeType

	output, inputTokens, outputTokens, execErr := deps.Executor(uint(serviceID), req.ToolName, req.InputParams)
	record.InputToken = inputTokens
	record.OutputToken = outputTokens

	_ = counter.AddServiceCall(uint(serviceID))
	if execErr != nil {
		_ = counter.AddServiceFailure(uint(serviceID))
	}

	if err := deps.Publisher.Publish(record, execErr == nil, time.Now()); err != nil {
		// Already logged with the event details; the response still reflects
		// the tool outcome.
		log.Errorf("[Invoke] Billing event lost for user %d: %v", req.UserID, err)
	}

	if execErr != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "tool_failed",
			"message": execErr.Error(),
			"charged": "0.00",
		})
	}

	return c.JSON(fiber.Map{
		"output":        output,
		"charge_type":   reservation.Quote.ChargeType,
		"charged":       reservation.Price.StringFixed(2),
		"balance_after": reservation.BalanceAfter.StringFixed(2),
	})
}
