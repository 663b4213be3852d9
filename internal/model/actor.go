package model

import "github.com/google/uuid"

// Actor identifies who is performing an operation. It is built from the JWT
// claims by the auth middleware; a zero Actor is an unauthenticated caller.
type Actor struct {
	UserID   uuid.UUID
	Name     string
	Email    string
	Role     string
	BranchID uuid.UUID
}

// IsAdmin reports whether the actor carries the global administrator role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// MemberOf reports whether the actor belongs to the given branch.
func (a Actor) MemberOf(branchID uuid.UUID) bool {
	return a.BranchID != uuid.Nil && a.BranchID == branchID
}
