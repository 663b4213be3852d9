package model

// Branch is a store location. The transfer engine only reads branches to
// resolve ids into names; branch management lives elsewhere.
type Branch struct {
	BaseModel
	Code     string `gorm:"type:varchar(20);uniqueIndex;not null" json:"code" validate:"required"`
	Name     string `gorm:"type:varchar(255);not null" json:"name" validate:"required"`
	Address  string `gorm:"type:text" json:"address"`
	Phone    string `gorm:"type:varchar(20)" json:"phone"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}

func (Branch) TableName() string {
	return "branches"
}

// DefaultBranches seed the directory for a fresh install.
var DefaultBranches = []Branch{
	{Code: "HQ", Name: "Head Office Branch", IsActive: true},
	{Code: "B02", Name: "Second Branch", IsActive: true},
}
