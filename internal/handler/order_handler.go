package handler

import (
	"time"

	"go-branch-transfer/internal/model"
	"go-branch-transfer/internal/repository"
	"go-branch-transfer/pkg/validator"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// OrderHandler is a minimal intake surface for order records. The full
// order-management console lives in a separate service; the transfer engine
// only needs orders to exist and to be readable.
type OrderHandler struct {
	orderRepo repository.OrderRepository
}

func NewOrderHandler(orderRepo repository.OrderRepository) *OrderHandler {
	return &OrderHandler{orderRepo: orderRepo}
}

// CreateOrder registers an order record
// POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var order model.Order
	if err := c.BodyParser(&order); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	if msg, failed := validator.FirstFailure(&order); failed {
		return c.Status(400).JSON(fiber.Map{"error": msg})
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = model.DateOnly(time.Now())
	}

	if err := h.orderRepo.Create(&order); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{"message": "Order created", "data": order})
}

// GetOrder returns one order with its transfer projection
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid order ID"})
	}

	order, err := h.orderRepo.FindByID(id)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Order not found"})
	}
	return c.JSON(order)
}
