package service

import "go-branch-transfer/internal/model"

// TransferPermissions is the capability set of one actor. It is derived per
// request, never stored.
type TransferPermissions struct {
	CanCreateTransfer   bool `json:"can_create_transfer"`
	CanAcceptTransfer   bool `json:"can_accept_transfer"`
	CanRejectTransfer   bool `json:"can_reject_transfer"`
	CanCompleteTransfer bool `json:"can_complete_transfer"`
	CanViewAllTransfers bool `json:"can_view_all_transfers"`
	CanManageSettings   bool `json:"can_manage_settings"`
}

// ResolvePermissions maps the actor's role to its capability set. All staff
// roles may drive the workflow; finer authorization (who may cancel or delete
// a specific transfer) is branch-membership based and checked per operation.
// An unauthenticated actor gets the all-false set.
func ResolvePermissions(actor model.Actor) TransferPermissions {
	switch actor.Role {
	case model.RoleAdmin:
		return TransferPermissions{
			CanCreateTransfer:   true,
			CanAcceptTransfer:   true,
			CanRejectTransfer:   true,
			CanCompleteTransfer: true,
			CanViewAllTransfers: true,
			CanManageSettings:   true,
		}
	case model.RoleBranchManager, model.RoleBranchStaff:
		return TransferPermissions{
			CanCreateTransfer:   true,
			CanAcceptTransfer:   true,
			CanRejectTransfer:   true,
			CanCompleteTransfer: true,
		}
	default:
		return TransferPermissions{}
	}
}
