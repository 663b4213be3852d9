package repository

import (
	"go-branch-transfer/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BranchRepository interface {
	FindByID(id uuid.UUID) (*model.Branch, error)
	FindAll() ([]model.Branch, error)
	Create(branch *model.Branch) error
	SeedDefaults() error
}

type branchRepo struct {
	db *gorm.DB
}

func NewBranchRepo(db *gorm.DB) BranchRepository {
	return &branchRepo{db}
}

func (r *branchRepo) FindByID(id uuid.UUID) (*model.Branch, error) {
	var branch model.Branch
	if err := r.db.First(&branch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &branch, nil
}

func (r *branchRepo) FindAll() ([]model.Branch, error) {
	var branches []model.Branch
	err := r.db.Order("code ASC").Find(&branches).Error
	return branches, err
}

func (r *branchRepo) Create(branch *model.Branch) error {
	return r.db.Create(branch).Error
}

// SeedDefaults creates the default branches if they don't exist
func (r *branchRepo) SeedDefaults() error {
	for _, b := range model.DefaultBranches {
		var existing model.Branch
		if err := r.db.Where("code = ?", b.Code).First(&existing).Error; err == gorm.ErrRecordNotFound {
			if err := r.db.Create(&b).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
