package repository

import (
	"go-branch-transfer/internal/model"

	"gorm.io/gorm"
)

type SettingsRepository interface {
	GetDefault() (*model.TransferSettings, error)
	// GetForOrderType returns the split rule configured for the order type,
	// or nil when none exists.
	GetForOrderType(orderType string) (*model.TransferSettings, error)
	FindAll() ([]model.TransferSettings, error)
	Upsert(settings *model.TransferSettings) error
	SeedDefaults() error
}

type settingsRepo struct {
	db *gorm.DB
}

func NewSettingsRepo(db *gorm.DB) SettingsRepository {
	return &settingsRepo{db}
}

func (r *settingsRepo) GetDefault() (*model.TransferSettings, error) {
	var settings model.TransferSettings
	if err := r.db.Where("order_type = ''").First(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *settingsRepo) GetForOrderType(orderType string) (*model.TransferSettings, error) {
	if orderType == "" {
		return nil, nil
	}
	var settings model.TransferSettings
	err := r.db.Where("order_type = ?", orderType).First(&settings).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *settingsRepo) FindAll() ([]model.TransferSettings, error) {
	var settings []model.TransferSettings
	err := r.db.Order("order_type ASC").Find(&settings).Error
	return settings, err
}

func (r *settingsRepo) Upsert(settings *model.TransferSettings) error {
	var existing model.TransferSettings
	err := r.db.Where("order_type = ?", settings.OrderType).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return r.db.Create(settings).Error
	}
	if err != nil {
		return err
	}
	settings.ID = existing.ID
	return r.db.Save(settings).Error
}

// SeedDefaults creates the global 50/50 split if no default row exists
func (r *settingsRepo) SeedDefaults() error {
	var existing model.TransferSettings
	if err := r.db.Where("order_type = ''").First(&existing).Error; err == gorm.ErrRecordNotFound {
		seed := model.DefaultTransferSettings
		return r.db.Create(&seed).Error
	}
	return nil
}
