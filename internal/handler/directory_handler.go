package handler

import (
	"go-branch-transfer/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// DirectoryHandler serves the read-only branch and role directories used to
// populate transfer forms.
type DirectoryHandler struct {
	branchRepo repository.BranchRepository
	roleRepo   repository.RoleRepository
}

func NewDirectoryHandler(branchRepo repository.BranchRepository, roleRepo repository.RoleRepository) *DirectoryHandler {
	return &DirectoryHandler{branchRepo: branchRepo, roleRepo: roleRepo}
}

// GetBranches returns all branches
// GET /api/v1/branches
func (h *DirectoryHandler) GetBranches(c *fiber.Ctx) error {
	branches, err := h.branchRepo.FindAll()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch branches"})
	}
	return c.JSON(branches)
}

// GetRoles returns all available roles
// GET /api/v1/roles
func (h *DirectoryHandler) GetRoles(c *fiber.Ctx) error {
	roles, err := h.roleRepo.FindAll()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch roles"})
	}
	return c.JSON(roles)
}
