package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HandleEnableChannel turns a payment channel on and reloads the monitor's
// adapter set immediately.
func HandleEnableChannel(c *fiber.Ctx) error {
	return toggleChannel(c, true)
}

// HandleDisableChannel turns a payment channel off. Orders already queued
// for other channels are unaffected; orders for this channel wait for it to
// return or for their timeout.
func HandleDisableChannel(c *fiber.Ctx) error {
	return toggleChannel(c, false)
}

func toggleChannel(c *fiber.Ctx, enabled bool) error {
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid channel id"})
	}

	var toggleErr error
	if enabled {
		toggleErr = deps.Monitor.EnableChannel(uint(channelID))
	} else {
		toggleErr = deps.Monitor.DisableChannel(uint(channelID))
	}
	if toggleErr != nil {
		if errors.Is(toggleErr, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Payment channel not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update channel"})
	}

	return c.JSON(fiber.Map{
		"channel_id": channelID,
		"enabled":    enabled,
		"active":     deps.Monitor.ActiveChannels(),
	})
}
