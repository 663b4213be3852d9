package repository

import (
	"go-branch-transfer/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(order *model.Order) error
	FindByID(id uuid.UUID) (*model.Order, error)
	GetField(id uuid.UUID, column string) (string, error)
	// SetTransferInfo replaces the transfer_info projection; nil clears it so
	// the order reverts to looking like a never-transferred order.
	SetTransferInfo(tx *gorm.DB, id uuid.UUID, info *model.TransferInfo) error
	// SetTransferInfoStatus patches only transfer_info.status in place.
	SetTransferInfoStatus(tx *gorm.DB, id uuid.UUID, status model.TransferStatus) error
	// ClearTransferInfoFor clears the projection only while it still points at
	// the given transfer, so deleting a stale transfer cannot wipe a newer one.
	ClearTransferInfoFor(tx *gorm.DB, id uuid.UUID, transferID uuid.UUID) error
	UpdateStatus(tx *gorm.DB, id uuid.UUID, status model.OrderStatus) error
}

type orderRepo struct {
	db *gorm.DB
}

func NewOrderRepo(db *gorm.DB) OrderRepository {
	return &orderRepo{db}
}

func (r *orderRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *orderRepo) Create(order *model.Order) error {
	return r.db.Create(order).Error
}

func (r *orderRepo) FindByID(id uuid.UUID) (*model.Order, error) {
	var order model.Order
	if err := r.db.First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetField reads a single column of an order without loading the whole row.
func (r *orderRepo) GetField(id uuid.UUID, column string) (string, error) {
	var value string
	err := r.db.Model(&model.Order{}).
		Where("id = ?", id).
		Pluck(column, &value).Error
	return value, err
}

func (r *orderRepo) SetTransferInfo(tx *gorm.DB, id uuid.UUID, info *model.TransferInfo) error {
	return r.handle(tx).Model(&model.Order{}).
		Where("id = ?", id).
		Update("transfer_info", info).Error
}

func (r *orderRepo) SetTransferInfoStatus(tx *gorm.DB, id uuid.UUID, status model.TransferStatus) error {
	return r.handle(tx).Model(&model.Order{}).
		Where("id = ? AND transfer_info IS NOT NULL", id).
		Update("transfer_info", gorm.Expr(
			"jsonb_set(transfer_info, '{status}', to_jsonb(?::text))", string(status),
		)).Error
}

func (r *orderRepo) ClearTransferInfoFor(tx *gorm.DB, id uuid.UUID, transferID uuid.UUID) error {
	return r.handle(tx).Model(&model.Order{}).
		Where("id = ? AND transfer_info->>'transfer_id' = ?", id, transferID.String()).
		Update("transfer_info", nil).Error
}

func (r *orderRepo) UpdateStatus(tx *gorm.DB, id uuid.UUID, status model.OrderStatus) error {
	return r.handle(tx).Model(&model.Order{}).
		Where("id = ?", id).
		Update("status", status).Error
}
