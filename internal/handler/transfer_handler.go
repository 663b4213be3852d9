package handler

import (
	"errors"
	"strconv"
	"time"

	"go-branch-transfer/internal/middleware"
	"go-branch-transfer/internal/model"
	"go-branch-transfer/internal/repository"
	"go-branch-transfer/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransferHandler struct {
	service  service.TransferService
	settings service.SettingsService
}

func NewTransferHandler(s service.TransferService, settings service.SettingsService) *TransferHandler {
	return &TransferHandler{service: s, settings: settings}
}

// statusFromErr maps the service error taxonomy to HTTP statuses.
func statusFromErr(err error) int {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		return 403
	case errors.Is(err, service.ErrNotFound):
		return 404
	case errors.Is(err, service.ErrInvalidState):
		return 409
	case errors.Is(err, service.ErrValidation):
		return 400
	default:
		return 500
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFromErr(err)).JSON(fiber.Map{"error": err.Error()})
}

// CreateTransfer hands an order off to another branch
// POST /api/v1/transfers
func (h *TransferHandler) CreateTransfer(c *fiber.Ctx) error {
	var form service.CreateTransferForm
	if err := c.BodyParser(&form); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	id, err := h.service.Create(middleware.ActorFromContext(c), &form)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(201).JSON(fiber.Map{"message": "Transfer created", "transfer_id": id})
}

// UpdateTransferStatus applies accept, reject or complete
// PUT /api/v1/transfers/:id/status
func (h *TransferHandler) UpdateTransferStatus(c *fiber.Ctx) error {
	transferID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid transfer ID"})
	}

	var form service.UpdateStatusForm
	if err := c.BodyParser(&form); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	if err := h.service.UpdateStatus(middleware.ActorFromContext(c), transferID, &form); err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{"message": "Transfer status updated"})
}

// CancelTransfer retracts a pending transfer
// POST /api/v1/transfers/:id/cancel
func (h *TransferHandler) CancelTransfer(c *fiber.Ctx) error {
	transferID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid transfer ID"})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&req) // body is optional

	if err := h.service.Cancel(middleware.ActorFromContext(c), transferID, req.Reason); err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{"message": "Transfer cancelled"})
}

// DeleteTransfer removes a transfer record
// DELETE /api/v1/transfers/:id
func (h *TransferHandler) DeleteTransfer(c *fiber.Ctx) error {
	transferID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid transfer ID"})
	}

	if err := h.service.Delete(middleware.ActorFromContext(c), transferID); err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{"message": "Transfer deleted"})
}

// CleanupOrphanTransfers sweeps transfers whose order no longer exists
// POST /api/v1/transfers/cleanup
func (h *TransferHandler) CleanupOrphanTransfers(c *fiber.Ctx) error {
	deleted, err := h.service.CleanupOrphans(middleware.ActorFromContext(c))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{"deleted_count": deleted})
}

// GetTransfers lists transfers visible to the caller
// GET /api/v1/transfers?status=&from=&to=&page_size=&cursor=
func (h *TransferHandler) GetTransfers(c *fiber.Ctx) error {
	var filter repository.TransferFilter
	if status := c.Query("status"); status != "" {
		filter.Status = model.TransferStatus(status)
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid 'from' date, expected YYYY-MM-DD"})
		}
		filter.DateFrom = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid 'to' date, expected YYYY-MM-DD"})
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.DateTo = &end
	}

	pageSize, _ := strconv.Atoi(c.Query("page_size", "20"))

	result, err := h.service.List(middleware.ActorFromContext(c), filter, pageSize, c.Query("cursor"))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(result)
}

// GetTransferStats returns recomputed aggregates
// GET /api/v1/transfers/stats
func (h *TransferHandler) GetTransferStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(middleware.ActorFromContext(c))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(stats)
}

// GetSplitPreview estimates the amount division before a transfer is created
// GET /api/v1/transfers/split-preview?amount=&order_type=
func (h *TransferHandler) GetSplitPreview(c *fiber.Ctx) error {
	amount, err := decimal.NewFromString(c.Query("amount", "0"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid amount"})
	}

	estimate, err := h.settings.CalculateAmountSplit(amount, c.Query("order_type"))
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(estimate)
}
