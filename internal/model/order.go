package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCompleted PaymentStatus = "completed"
)

// Settled reports whether cash for the order has actually been collected.
func (p PaymentStatus) Settled() bool {
	return p == PaymentPaid || p == PaymentCompleted
}

type OrderStatus string

const (
	OrderOpen       OrderStatus = "open"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

type FulfillmentType string

const (
	FulfillmentDelivery FulfillmentType = "delivery"
	FulfillmentPickup   FulfillmentType = "pickup"
)

// Order is the customer order record. The transfer engine reads it to create a
// transfer and writes the TransferInfo projection back as the transfer moves
// through its lifecycle.
type Order struct {
	BaseModel
	OrderNumber string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"order_number" validate:"required"`
	BranchID    uuid.UUID `gorm:"type:uuid;not null;index" json:"branch_id" validate:"uuid_required"`
	BranchName  string    `gorm:"type:varchar(255)" json:"branch_name"`

	CustomerName  string          `gorm:"type:varchar(255)" json:"customer_name"`
	OrderType     string          `gorm:"type:varchar(50)" json:"order_type"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	PaymentStatus PaymentStatus   `gorm:"type:varchar(20);not null;default:'unpaid'" json:"payment_status"`
	Status        OrderStatus     `gorm:"type:varchar(20);not null;default:'open'" json:"status"`

	// OrderDate is the business date the order belongs to. Revenue recognition
	// during transfer acceptance stays on this date.
	OrderDate time.Time `gorm:"type:date;not null;index" json:"order_date"`

	// Delivery metadata, carried onto the display board.
	FulfillmentType FulfillmentType `gorm:"type:varchar(20)" json:"fulfillment_type"`
	DeliveryDate    string          `gorm:"type:varchar(10)" json:"delivery_date"`
	DeliveryTime    string          `gorm:"type:varchar(5)" json:"delivery_time"`
	RecipientName   string          `gorm:"type:varchar(255)" json:"recipient_name"`
	RecipientPhone  string          `gorm:"type:varchar(20)" json:"recipient_phone"`

	TransferInfo *TransferInfo `gorm:"type:jsonb" json:"transfer_info,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// DeliveryInfo extracts the board-facing slice of the order.
func (o *Order) DeliveryInfo() *OrderDeliveryInfo {
	return &OrderDeliveryInfo{
		OrderNumber:     o.OrderNumber,
		FulfillmentType: o.FulfillmentType,
		DeliveryDate:    o.DeliveryDate,
		DeliveryTime:    o.DeliveryTime,
		RecipientName:   o.RecipientName,
		RecipientPhone:  o.RecipientPhone,
	}
}

// HasActiveTransfer reports whether the order already carries a live transfer.
func (o *Order) HasActiveTransfer() bool {
	return o.TransferInfo != nil && o.TransferInfo.IsTransferred && o.TransferInfo.Status.IsActive()
}

// OrderDeliveryInfo is the delivery-relevant metadata published alongside a
// display-board entry.
type OrderDeliveryInfo struct {
	OrderNumber     string          `json:"order_number"`
	FulfillmentType FulfillmentType `json:"fulfillment_type"`
	DeliveryDate    string          `json:"delivery_date"`
	DeliveryTime    string          `json:"delivery_time"`
	RecipientName   string          `json:"recipient_name"`
	RecipientPhone  string          `json:"recipient_phone"`
}

// TransferInfo mirrors the key fields of the owning OrderTransfer onto the
// order record. Stored as a jsonb column; nil means the order was never
// transferred (or its transfer was cancelled).
type TransferInfo struct {
	IsTransferred     bool           `json:"is_transferred"`
	TransferID        uuid.UUID      `json:"transfer_id"`
	OrderBranchID     uuid.UUID      `json:"order_branch_id"`
	OrderBranchName   string         `json:"order_branch_name"`
	ProcessBranchID   uuid.UUID      `json:"process_branch_id"`
	ProcessBranchName string         `json:"process_branch_name"`
	Status            TransferStatus `json:"status"`
	AmountSplit       AmountSplit    `json:"amount_split"`
	Notes             string         `json:"notes"`
	TransferDate      time.Time      `json:"transfer_date"`
	AcceptedAt        *time.Time     `json:"accepted_at,omitempty"`
	RejectedAt        *time.Time     `json:"rejected_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

func (ti *TransferInfo) Value() (driver.Value, error) {
	if ti == nil {
		return nil, nil
	}
	return json.Marshal(ti)
}

func (ti *TransferInfo) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported type for transfer_info")
	}
	return json.Unmarshal(raw, ti)
}
