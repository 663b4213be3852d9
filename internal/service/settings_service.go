package service

import (
	"fmt"

	"go-branch-transfer/internal/model"
	"go-branch-transfer/internal/repository"

	"github.com/shopspring/decimal"
)

// SplitEstimate is the pre-transfer preview of an amount division. The
// authoritative split is snapshotted onto the transfer at creation time and is
// not recomputed when settings change.
type SplitEstimate struct {
	OrderBranch   decimal.Decimal `json:"order_branch"`
	ProcessBranch decimal.Decimal `json:"process_branch"`
	Split         model.AmountSplit `json:"split"`
}

type SettingsService interface {
	// SplitFor returns the configured split for the order type, falling back
	// to the global default.
	SplitFor(orderType string) (model.AmountSplit, error)
	// CalculateAmountSplit estimates both shares, each rounded independently
	// (UI preview only; acceptance reconciliation uses the exact remainder).
	CalculateAmountSplit(totalAmount decimal.Decimal, orderType string) (*SplitEstimate, error)
	ListSettings(actor model.Actor) ([]model.TransferSettings, error)
	UpdateSettings(actor model.Actor, form *model.TransferSettings) error
}

type settingsService struct {
	settingsRepo repository.SettingsRepository
}

func NewSettingsService(settingsRepo repository.SettingsRepository) SettingsService {
	return &settingsService{settingsRepo: settingsRepo}
}

func (s *settingsService) SplitFor(orderType string) (model.AmountSplit, error) {
	rule, err := s.settingsRepo.GetForOrderType(orderType)
	if err != nil {
		return model.AmountSplit{}, err
	}
	if rule != nil {
		return rule.Split(), nil
	}

	def, err := s.settingsRepo.GetDefault()
	if err != nil {
		return model.AmountSplit{}, err
	}
	return def.Split(), nil
}

func (s *settingsService) CalculateAmountSplit(totalAmount decimal.Decimal, orderType string) (*SplitEstimate, error) {
	if totalAmount.IsNegative() {
		return nil, fmt.Errorf("%w: total amount must not be negative", ErrValidation)
	}

	split, err := s.SplitFor(orderType)
	if err != nil {
		return nil, err
	}

	hundred := decimal.NewFromInt(100)
	return &SplitEstimate{
		OrderBranch:   totalAmount.Mul(decimal.NewFromInt(int64(split.OrderBranch))).Div(hundred).Round(2),
		ProcessBranch: totalAmount.Mul(decimal.NewFromInt(int64(split.ProcessBranch))).Div(hundred).Round(2),
		Split:         split,
	}, nil
}

func (s *settingsService) ListSettings(actor model.Actor) ([]model.TransferSettings, error) {
	if !ResolvePermissions(actor).CanManageSettings {
		return nil, fmt.Errorf("%w: managing split settings requires administrator role", ErrPermissionDenied)
	}
	return s.settingsRepo.FindAll()
}

func (s *settingsService) UpdateSettings(actor model.Actor, form *model.TransferSettings) error {
	if !ResolvePermissions(actor).CanManageSettings {
		return fmt.Errorf("%w: managing split settings requires administrator role", ErrPermissionDenied)
	}
	if !(model.AmountSplit{OrderBranch: form.OrderBranchPct, ProcessBranch: form.ProcessBranchPct}).Valid() {
		return fmt.Errorf("%w: split percentages must sum to 100", ErrValidation)
	}
	return s.settingsRepo.Upsert(form)
}
