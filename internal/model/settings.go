package model

// TransferSettings holds a revenue split rule. The row with an empty OrderType
// is the global default; rows with a concrete OrderType override it for orders
// of that type. The split stored on a transfer is snapshotted at creation time
// and never recomputed when these rows change.
type TransferSettings struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	OrderType        string `gorm:"type:varchar(50);uniqueIndex;not null;default:''" json:"order_type"`
	OrderBranchPct   int    `gorm:"not null" json:"order_branch_pct" validate:"min=0,max=100"`
	ProcessBranchPct int    `gorm:"not null" json:"process_branch_pct" validate:"min=0,max=100"`
}

func (TransferSettings) TableName() string {
	return "transfer_settings"
}

// Split converts the settings row to an AmountSplit.
func (s TransferSettings) Split() AmountSplit {
	return AmountSplit{OrderBranch: s.OrderBranchPct, ProcessBranch: s.ProcessBranchPct}
}

// DefaultTransferSettings is the seeded global split.
var DefaultTransferSettings = TransferSettings{
	OrderType:        "",
	OrderBranchPct:   50,
	ProcessBranchPct: 50,
}
