package model

// Role represents user roles in the system
type Role struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Code        string `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"` // ADMIN, BRANCH_MANAGER, BRANCH_STAFF
	Name        string `gorm:"type:varchar(100)" json:"name"`
	Description string `gorm:"type:text" json:"description"`
}

// Role codes as constants
const (
	RoleAdmin         = "ADMIN"
	RoleBranchManager = "BRANCH_MANAGER"
	RoleBranchStaff   = "BRANCH_STAFF"
)

// DefaultRoles defines the default roles in the system
var DefaultRoles = []Role{
	{
		Code:        RoleAdmin,
		Name:        "Administrator",
		Description: "Global access across all branches",
	},
	{
		Code:        RoleBranchManager,
		Name:        "Branch Manager",
		Description: "Manages a single branch",
	},
	{
		Code:        RoleBranchStaff,
		Name:        "Branch Staff",
		Description: "Staff member of a single branch",
	},
}
