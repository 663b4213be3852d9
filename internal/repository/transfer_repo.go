package repository

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-branch-transfer/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransferFilter narrows a transfer listing.
type TransferFilter struct {
	Status   model.TransferStatus
	DateFrom *time.Time
	DateTo   *time.Time
}

// TransferCursor is the keyset position of the last item of the previous page,
// ordered by (transfer_date, id) descending.
type TransferCursor struct {
	TransferDate time.Time
	ID           uuid.UUID
}

// Encode renders the cursor as an opaque token.
func (c TransferCursor) Encode() string {
	raw := fmt.Sprintf("%d|%s", c.TransferDate.UnixNano(), c.ID.String())
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeTransferCursor parses a token produced by Encode. An empty token
// yields a nil cursor (first page).
func DecodeTransferCursor(token string) (*TransferCursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	return &TransferCursor{TransferDate: time.Unix(0, nanos), ID: id}, nil
}

type TransferRepository interface {
	Create(tx *gorm.DB, transfer *model.OrderTransfer) error
	// Transition persists the transfer only while its stored status still
	// equals from. Returns false when a concurrent writer moved the row first.
	Transition(tx *gorm.DB, transfer *model.OrderTransfer, from model.TransferStatus) (bool, error)
	FindByID(id uuid.UUID) (*model.OrderTransfer, error)
	FindAll() ([]model.OrderTransfer, error)
	List(filter TransferFilter, limit int, cursor *TransferCursor) ([]model.OrderTransfer, error)
	HardDelete(id uuid.UUID) error
	HardDeleteByIDs(ids []uuid.UUID) (int64, error)
}

type transferRepo struct {
	db *gorm.DB
}

func NewTransferRepo(db *gorm.DB) TransferRepository {
	return &transferRepo{db}
}

func (r *transferRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *transferRepo) Create(tx *gorm.DB, transfer *model.OrderTransfer) error {
	return r.handle(tx).Create(transfer).Error
}

func (r *transferRepo) Transition(tx *gorm.DB, transfer *model.OrderTransfer, from model.TransferStatus) (bool, error) {
	res := r.handle(tx).Model(&model.OrderTransfer{}).
		Where("id = ? AND status = ?", transfer.ID, from).
		Select("*").Omit("id", "created_at", "created_by").
		Updates(transfer)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *transferRepo) FindByID(id uuid.UUID) (*model.OrderTransfer, error) {
	var transfer model.OrderTransfer
	if err := r.db.First(&transfer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *transferRepo) FindAll() ([]model.OrderTransfer, error) {
	var transfers []model.OrderTransfer
	err := r.db.Order("transfer_date DESC, id DESC").Find(&transfers).Error
	return transfers, err
}

func (r *transferRepo) List(filter TransferFilter, limit int, cursor *TransferCursor) ([]model.OrderTransfer, error) {
	q := r.db.Model(&model.OrderTransfer{})

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.DateFrom != nil {
		q = q.Where("transfer_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		q = q.Where("transfer_date <= ?", *filter.DateTo)
	}
	if cursor != nil {
		q = q.Where("(transfer_date, id) < (?, ?)", cursor.TransferDate, cursor.ID)
	}

	var transfers []model.OrderTransfer
	err := q.Order("transfer_date DESC, id DESC").Limit(limit).Find(&transfers).Error
	return transfers, err
}

// HardDelete removes the record for good; transfers are not soft-deleted.
func (r *transferRepo) HardDelete(id uuid.UUID) error {
	return r.db.Unscoped().Delete(&model.OrderTransfer{}, "id = ?", id).Error
}

func (r *transferRepo) HardDeleteByIDs(ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Unscoped().Delete(&model.OrderTransfer{}, "id IN ?", ids)
	return res.RowsAffected, res.Error
}
