package handler

import (
	"go-branch-transfer/internal/middleware"
	"go-branch-transfer/internal/model"
	"go-branch-transfer/internal/service"

	"github.com/gofiber/fiber/v2"
)

type SettingsHandler struct {
	settings service.SettingsService
}

func NewSettingsHandler(settings service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetSplitSettings lists the configured split rules
// GET /api/v1/settings/split
func (h *SettingsHandler) GetSplitSettings(c *fiber.Ctx) error {
	settings, err := h.settings.ListSettings(middleware.ActorFromContext(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(settings)
}

// UpdateSplitSettings creates or updates a split rule
// PUT /api/v1/settings/split
func (h *SettingsHandler) UpdateSplitSettings(c *fiber.Ctx) error {
	var form model.TransferSettings
	if err := c.BodyParser(&form); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	if err := h.settings.UpdateSettings(middleware.ActorFromContext(c), &form); err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{"message": "Split settings updated", "data": form})
}
