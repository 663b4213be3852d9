package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferRejected  TransferStatus = "rejected"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// transferEdges holds the legal state machine edges.
// pending -> accepted | rejected | cancelled
// accepted -> completed
// rejected, completed, cancelled are terminal.
var transferEdges = map[TransferStatus][]TransferStatus{
	TransferPending:  {TransferAccepted, TransferRejected, TransferCancelled},
	TransferAccepted: {TransferCompleted},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range transferEdges[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s TransferStatus) IsTerminal() bool {
	return len(transferEdges[s]) == 0
}

// IsActive reports whether the transfer still occupies its order. An order may
// carry at most one active transfer at a time.
func (s TransferStatus) IsActive() bool {
	return s == TransferPending || s == TransferAccepted
}

// AmountSplit is the percentage division of the order total between the two
// branches. The two percentages must sum to 100.
type AmountSplit struct {
	OrderBranch   int `gorm:"not null" json:"order_branch" validate:"min=0,max=100"`
	ProcessBranch int `gorm:"not null" json:"process_branch" validate:"min=0,max=100"`
}

func (a AmountSplit) Valid() bool {
	return a.OrderBranch >= 0 && a.OrderBranch <= 100 &&
		a.ProcessBranch >= 0 && a.ProcessBranch <= 100 &&
		a.OrderBranch+a.ProcessBranch == 100
}

// Shares computes the amount division for the split. The order-branch share is
// rounded to cents; the process-branch share is the remainder of the total so
// the two shares always sum to the total exactly.
func (a AmountSplit) Shares(total decimal.Decimal) (orderShare, processShare decimal.Decimal) {
	orderShare = total.Mul(decimal.NewFromInt(int64(a.OrderBranch))).Div(decimal.NewFromInt(100)).Round(2)
	processShare = total.Sub(orderShare)
	return orderShare, processShare
}

// OrderTransfer is a request by one branch to hand fulfillment of an order to
// another branch. OriginalOrderID, both branch ids and OriginalOrderAmount are
// immutable after creation; Status only moves along the edges above.
type OrderTransfer struct {
	BaseModel
	OriginalOrderID uuid.UUID `gorm:"type:uuid;not null;index" json:"original_order_id" validate:"uuid_required"`

	OrderBranchID     uuid.UUID `gorm:"type:uuid;not null;index" json:"order_branch_id"`
	OrderBranchName   string    `gorm:"type:varchar(255);not null" json:"order_branch_name"`
	ProcessBranchID   uuid.UUID `gorm:"type:uuid;not null;index" json:"process_branch_id" validate:"uuid_required"`
	ProcessBranchName string    `gorm:"type:varchar(255);not null" json:"process_branch_name"`

	OriginalOrderAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"original_order_amount"`
	AmountSplit         AmountSplit     `gorm:"embedded;embeddedPrefix:split_" json:"amount_split"`

	Status         TransferStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	TransferReason string         `gorm:"type:text" json:"transfer_reason" validate:"required"`
	Notes          string         `gorm:"type:text" json:"notes"`

	TransferBy     string `gorm:"type:varchar(255)" json:"transfer_by"`
	TransferByUser string `gorm:"type:varchar(255)" json:"transfer_by_user"`

	TransferDate time.Time  `gorm:"not null;index" json:"transfer_date"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy   string     `gorm:"type:varchar(255)" json:"accepted_by,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	RejectedBy   string     `gorm:"type:varchar(255)" json:"rejected_by,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CompletedBy  string     `gorm:"type:varchar(255)" json:"completed_by,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy  string     `gorm:"type:varchar(255)" json:"cancelled_by,omitempty"`
}

func (OrderTransfer) TableName() string {
	return "order_transfers"
}

// TransferInfoView builds the projection mirrored onto the order record so
// order-centric screens can render transfer state without a join.
func (t *OrderTransfer) TransferInfoView() *TransferInfo {
	return &TransferInfo{
		IsTransferred:     true,
		TransferID:        t.ID,
		OrderBranchID:     t.OrderBranchID,
		OrderBranchName:   t.OrderBranchName,
		ProcessBranchID:   t.ProcessBranchID,
		ProcessBranchName: t.ProcessBranchName,
		Status:            t.Status,
		AmountSplit:       t.AmountSplit,
		Notes:             t.Notes,
		TransferDate:      t.TransferDate,
		AcceptedAt:        t.AcceptedAt,
		RejectedAt:        t.RejectedAt,
		CompletedAt:       t.CompletedAt,
	}
}

// TransferStats is derived on demand, never stored.
type TransferStats struct {
	Pending   int `json:"pending"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`

	TotalAmount decimal.Decimal `json:"total_amount"`

	// Split-adjusted outbound/inbound totals for the requesting branch.
	OrderBranchAmount   decimal.Decimal `json:"order_branch_amount"`
	ProcessBranchAmount decimal.Decimal `json:"process_branch_amount"`
}
