package service

import (
	"fmt"
	"log"
	"time"

	"go-branch-transfer/internal/cache"
	"go-branch-transfer/internal/model"
	"go-branch-transfer/internal/repository"
	"go-branch-transfer/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Notifier delivers workflow notifications to the involved branches. Delivery
// is best-effort: a failure is logged and never rolls back a committed
// transition.
type Notifier interface {
	NotifyCreated(t *model.OrderTransfer) error
	NotifyAccepted(t *model.OrderTransfer) error
	NotifyCompleted(t *model.OrderTransfer) error
	NotifyCancelled(t *model.OrderTransfer, reason string) error
}

// BoardPublisher mirrors transfer state onto the shared display board.
// Cancellations are never published.
type BoardPublisher interface {
	Publish(t *model.OrderTransfer, state model.TransferStatus, orderInfo *model.OrderDeliveryInfo) error
}

// TxRunner runs a function inside a database transaction so the transfer
// write and the order mirror write commit or fail together.
type TxRunner interface {
	Run(fn func(tx *gorm.DB) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) Run(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

// NewGormTxRunner wraps a gorm handle as a TxRunner.
func NewGormTxRunner(db *gorm.DB) TxRunner {
	return gormTxRunner{db: db}
}

// CreateTransferForm is the caller-supplied portion of a new transfer.
type CreateTransferForm struct {
	OriginalOrderID uuid.UUID         `json:"original_order_id" validate:"uuid_required"`
	ProcessBranchID uuid.UUID         `json:"process_branch_id" validate:"uuid_required"`
	TransferReason  string            `json:"transfer_reason" validate:"required"`
	AmountSplit     model.AmountSplit `json:"amount_split"`
	Notes           string            `json:"notes"`
}

// UpdateStatusForm drives accept/reject/complete. Cancellation has its own
// entry point.
type UpdateStatusForm struct {
	Status model.TransferStatus `json:"status" validate:"required,oneof=accepted rejected completed"`
	Notes  string               `json:"notes"`
}

// ListResult is one page of transfers.
type ListResult struct {
	Items      []model.OrderTransfer `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
	HasMore    bool                  `json:"has_more"`
}

type TransferService interface {
	Create(actor model.Actor, form *CreateTransferForm) (uuid.UUID, error)
	UpdateStatus(actor model.Actor, transferID uuid.UUID, form *UpdateStatusForm) error
	Cancel(actor model.Actor, transferID uuid.UUID, reason string) error
	Delete(actor model.Actor, transferID uuid.UUID) error
	CleanupOrphans(actor model.Actor) (int64, error)
	List(actor model.Actor, filter repository.TransferFilter, pageSize int, cursor string) (*ListResult, error)
	Stats(actor model.Actor) (*model.TransferStats, error)
}

type transferService struct {
	transferRepo repository.TransferRepository
	orderRepo    repository.OrderRepository
	branchRepo   repository.BranchRepository
	statsRepo    repository.DailyStatsRepository
	settings     SettingsService
	notifier     Notifier
	board        BoardPublisher
	statsCache   cache.TransferStatsCache
	tx           TxRunner

	// listGroup collapses overlapping identical list fetches into one read.
	listGroup singleflight.Group

	// now is swappable so acceptance reconciliation is testable around the
	// "settled cash moves today" rule.
	now func() time.Time
}

func NewTransferService(
	transferRepo repository.TransferRepository,
	orderRepo repository.OrderRepository,
	branchRepo repository.BranchRepository,
	statsRepo repository.DailyStatsRepository,
	settings SettingsService,
	notifier Notifier,
	board BoardPublisher,
	statsCache cache.TransferStatsCache,
	tx TxRunner,
) TransferService {
	return &transferService{
		transferRepo: transferRepo,
		orderRepo:    orderRepo,
		branchRepo:   branchRepo,
		statsRepo:    statsRepo,
		settings:     settings,
		notifier:     notifier,
		board:        board,
		statsCache:   statsCache,
		tx:           tx,
		now:          time.Now,
	}
}

// Create builds a pending transfer for the order, snapshots the order amount,
// and mirrors a pending transferInfo block onto the order. The snapshot is the
// only place OriginalOrderAmount is ever set.
func (s *transferService) Create(actor model.Actor, form *CreateTransferForm) (uuid.UUID, error) {
	if !ResolvePermissions(actor).CanCreateTransfer {
		return uuid.Nil, fmt.Errorf("%w: actor %s may not create transfers", ErrPermissionDenied, actor.Email)
	}

	if msg, failed := validator.FirstFailure(form); failed {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrValidation, msg)
	}

	order, err := s.orderRepo.FindByID(form.OriginalOrderID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: order %s", ErrNotFound, form.OriginalOrderID)
	}

	// An omitted split falls back to the configured rule for the order type.
	split := form.AmountSplit
	if split == (model.AmountSplit{}) {
		if split, err = s.settings.SplitFor(order.OrderType); err != nil {
			return uuid.Nil, err
		}
	}
	if !split.Valid() {
		return uuid.Nil, fmt.Errorf("%w: split percentages must sum to 100", ErrValidation)
	}
	if order.HasActiveTransfer() {
		return uuid.Nil, fmt.Errorf("%w: order %s already has an active transfer", ErrInvalidState, order.ID)
	}

	orderBranch, err := s.branchRepo.FindByID(order.BranchID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: order branch %s", ErrNotFound, order.BranchID)
	}
	processBranch, err := s.branchRepo.FindByID(form.ProcessBranchID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: process branch %s", ErrNotFound, form.ProcessBranchID)
	}
	if orderBranch.ID == processBranch.ID {
		return uuid.Nil, fmt.Errorf("%w: order branch and process branch must differ", ErrValidation)
	}

	transfer := &model.OrderTransfer{
		OriginalOrderID:     order.ID,
		OrderBranchID:       orderBranch.ID,
		OrderBranchName:     orderBranch.Name,
		ProcessBranchID:     processBranch.ID,
		ProcessBranchName:   processBranch.Name,
		OriginalOrderAmount: order.TotalAmount,
		AmountSplit:         split,
		Status:              model.TransferPending,
		TransferReason:      form.TransferReason,
		Notes:               form.Notes,
		TransferBy:          actor.UserID.String(),
		TransferByUser:      actor.Name,
		TransferDate:        s.now(),
	}
	transfer.CreatedBy = actor.UserID.String()
	transfer.UpdatedBy = actor.UserID.String()

	err = s.tx.Run(func(tx *gorm.DB) error {
		if err := s.transferRepo.Create(tx, transfer); err != nil {
			return err
		}
		return s.orderRepo.SetTransferInfo(tx, order.ID, transfer.TransferInfoView())
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.statsCache.Invalidate()
	s.dispatch("transfer created", func() error { return s.notifier.NotifyCreated(transfer) })
	info := order.DeliveryInfo()
	s.dispatch("board publish (pending)", func() error {
		return s.board.Publish(transfer, model.TransferPending, info)
	})

	return transfer.ID, nil
}

// UpdateStatus applies accept, reject or complete. The transfer write and the
// order mirror write commit together; stats reconciliation and side-effect
// dispatch run after the commit and are best-effort.
func (s *transferService) UpdateStatus(actor model.Actor, transferID uuid.UUID, form *UpdateStatusForm) error {
	perms := ResolvePermissions(actor)

	if msg, failed := validator.FirstFailure(form); failed {
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	}

	switch form.Status {
	case model.TransferAccepted:
		if !perms.CanAcceptTransfer {
			return fmt.Errorf("%w: actor %s may not accept transfers", ErrPermissionDenied, actor.Email)
		}
	case model.TransferRejected:
		if !perms.CanRejectTransfer {
			return fmt.Errorf("%w: actor %s may not reject transfers", ErrPermissionDenied, actor.Email)
		}
	case model.TransferCompleted:
		if !perms.CanCompleteTransfer {
			return fmt.Errorf("%w: actor %s may not complete transfers", ErrPermissionDenied, actor.Email)
		}
	default:
		return fmt.Errorf("%w: status %q is not reachable through updateStatus", ErrValidation, form.Status)
	}

	transfer, err := s.transferRepo.FindByID(transferID)
	if err != nil {
		return fmt.Errorf("%w: transfer %s", ErrNotFound, transferID)
	}

	from := transfer.Status
	if !from.CanTransitionTo(form.Status) {
		return fmt.Errorf("%w: %s -> %s (transfer %s)", ErrInvalidState, from, form.Status, transferID)
	}

	now := s.now()
	actorID := actor.UserID.String()
	transfer.Status = form.Status
	if form.Notes != "" {
		transfer.Notes = form.Notes
	}
	transfer.UpdatedBy = actorID

	err = s.tx.Run(func(tx *gorm.DB) error {
		// The write is conditional on the status read above, so concurrent
		// transitions on the same row serialize at the store and the loser
		// commits nothing.
		move := func() error {
			moved, err := s.transferRepo.Transition(tx, transfer, from)
			if err != nil {
				return err
			}
			if !moved {
				return fmt.Errorf("%w: transfer %s already left %s", ErrInvalidState, transferID, from)
			}
			return nil
		}

		switch form.Status {
		case model.TransferAccepted:
			transfer.AcceptedAt = &now
			transfer.AcceptedBy = actorID
			if err := move(); err != nil {
				return err
			}
			// Full re-projection: operational ownership moves to the process
			// branch while the order keeps its original branchId (billing and
			// identity stay with the order branch).
			return s.orderRepo.SetTransferInfo(tx, transfer.OriginalOrderID, transfer.TransferInfoView())

		case model.TransferRejected:
			transfer.RejectedAt = &now
			transfer.RejectedBy = actorID
			if err := move(); err != nil {
				return err
			}
			return s.orderRepo.SetTransferInfoStatus(tx, transfer.OriginalOrderID, model.TransferRejected)

		case model.TransferCompleted:
			transfer.CompletedAt = &now
			transfer.CompletedBy = actorID
			if err := move(); err != nil {
				return err
			}
			if err := s.orderRepo.UpdateStatus(tx, transfer.OriginalOrderID, model.OrderCompleted); err != nil {
				return err
			}
			return s.orderRepo.SetTransferInfoStatus(tx, transfer.OriginalOrderID, model.TransferCompleted)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.statsCache.Invalidate()

	switch form.Status {
	case model.TransferAccepted:
		// The accepted status is durable at this point; a stats failure must
		// not surface as a failed transition.
		if err := s.reconcileAcceptance(transfer); err != nil {
			log.Printf("Warning: stats reconciliation failed for transfer %s: %v", transfer.ID, err)
		}
		s.dispatch("transfer accepted", func() error { return s.notifier.NotifyAccepted(transfer) })
		s.publishAccepted(transfer)

	case model.TransferCompleted:
		s.dispatch("transfer completed", func() error { return s.notifier.NotifyCompleted(transfer) })
	}

	return nil
}

// publishAccepted republishes the board entry with live order metadata,
// falling back to a bare entry when the order lookup fails.
func (s *transferService) publishAccepted(transfer *model.OrderTransfer) {
	var info *model.OrderDeliveryInfo
	if order, err := s.orderRepo.FindByID(transfer.OriginalOrderID); err == nil {
		info = order.DeliveryInfo()
	} else {
		log.Printf("Warning: order lookup failed for board publish of transfer %s: %v", transfer.ID, err)
	}
	s.dispatch("board publish (accepted)", func() error {
		return s.board.Publish(transfer, model.TransferAccepted, info)
	})
}

// reconcileAcceptance moves the process branch's share between the two
// branches' daily aggregates. Revenue recognition stays on the order's
// original date; settled cash, when the order is already paid, moves dated
// today, the day the transfer clears.
func (s *transferService) reconcileAcceptance(transfer *model.OrderTransfer) error {
	order, err := s.orderRepo.FindByID(transfer.OriginalOrderID)
	if err != nil {
		return fmt.Errorf("order lookup: %w", err)
	}

	_, processShare := transfer.AmountSplit.Shares(transfer.OriginalOrderAmount)

	// Re-read payment status alone: a payment may have settled since the
	// order row was loaded.
	paymentStatus := order.PaymentStatus
	if raw, err := s.orderRepo.GetField(order.ID, "payment_status"); err == nil && raw != "" {
		paymentStatus = model.PaymentStatus(raw)
	}

	// The order branch no longer keeps the process branch's portion. The order
	// count stays put: it was attributed at order-creation time.
	if err := s.statsRepo.ApplyDelta(order.OrderDate, transfer.OrderBranchName, model.StatsDelta{
		Revenue: processShare.Neg(),
	}); err != nil {
		return fmt.Errorf("order branch revenue delta: %w", err)
	}

	if paymentStatus.Settled() {
		today := model.DateOnly(s.now())
		if err := s.statsRepo.ApplyDelta(today, transfer.OrderBranchName, model.StatsDelta{
			SettledAmount: processShare.Neg(),
		}); err != nil {
			return fmt.Errorf("order branch settled delta: %w", err)
		}
		if err := s.statsRepo.ApplyDelta(today, transfer.ProcessBranchName, model.StatsDelta{
			Revenue:       processShare,
			SettledAmount: processShare,
		}); err != nil {
			return fmt.Errorf("process branch settled delta: %w", err)
		}
		return nil
	}

	// Unpaid: recognize revenue for the process branch on the original date;
	// settled cash moves later through the payment-completion path.
	if err := s.statsRepo.ApplyDelta(order.OrderDate, transfer.ProcessBranchName, model.StatsDelta{
		Revenue: processShare,
	}); err != nil {
		return fmt.Errorf("process branch revenue delta: %w", err)
	}
	return nil
}

// Cancel retracts a pending transfer. Only the order branch's own users or an
// administrator may do it, and only while the transfer is still pending.
func (s *transferService) Cancel(actor model.Actor, transferID uuid.UUID, reason string) error {
	if !ResolvePermissions(actor).CanCreateTransfer {
		return fmt.Errorf("%w: actor %s may not cancel transfers", ErrPermissionDenied, actor.Email)
	}

	transfer, err := s.transferRepo.FindByID(transferID)
	if err != nil {
		return fmt.Errorf("%w: transfer %s", ErrNotFound, transferID)
	}

	if !actor.IsAdmin() && !actor.MemberOf(transfer.OrderBranchID) {
		return fmt.Errorf("%w: only the order branch may cancel transfer %s", ErrPermissionDenied, transferID)
	}
	if transfer.Status != model.TransferPending {
		return fmt.Errorf("%w: cannot cancel transfer %s in status %s", ErrInvalidState, transferID, transfer.Status)
	}

	now := s.now()
	transfer.Status = model.TransferCancelled
	transfer.CancelledAt = &now
	transfer.CancelledBy = actor.UserID.String()
	if reason != "" {
		transfer.Notes = reason
	}
	transfer.UpdatedBy = actor.UserID.String()

	err = s.tx.Run(func(tx *gorm.DB) error {
		// Conditional on the pending read above; a concurrent accept or reject
		// that committed first wins and the cancel fails cleanly.
		moved, err := s.transferRepo.Transition(tx, transfer, model.TransferPending)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: transfer %s is no longer pending", ErrInvalidState, transferID)
		}
		// The order reverts to looking like a never-transferred order.
		return s.orderRepo.SetTransferInfo(tx, transfer.OriginalOrderID, nil)
	})
	if err != nil {
		return err
	}

	s.statsCache.Invalidate()
	// Cancellations are not broadcast to the display board.
	s.dispatch("transfer cancelled", func() error { return s.notifier.NotifyCancelled(transfer, reason) })

	return nil
}

// Delete removes a transfer record for good. Allowed for administrators and
// for managers of either involved branch.
func (s *transferService) Delete(actor model.Actor, transferID uuid.UUID) error {
	transfer, err := s.transferRepo.FindByID(transferID)
	if err != nil {
		return fmt.Errorf("%w: transfer %s", ErrNotFound, transferID)
	}

	isBranchManager := actor.Role == model.RoleBranchManager &&
		(actor.MemberOf(transfer.OrderBranchID) || actor.MemberOf(transfer.ProcessBranchID))
	if !actor.IsAdmin() && !isBranchManager {
		return fmt.Errorf("%w: actor %s may not delete transfer %s", ErrPermissionDenied, actor.Email, transferID)
	}

	// Best-effort: the referenced order may already be gone. The clear is
	// conditional on the projection still pointing at this transfer, so
	// deleting an old rejected transfer leaves a newer one's mirror intact.
	if err := s.orderRepo.ClearTransferInfoFor(nil, transfer.OriginalOrderID, transfer.ID); err != nil {
		log.Printf("Warning: could not clear transfer info on order %s: %v", transfer.OriginalOrderID, err)
	}

	if err := s.transferRepo.HardDelete(transferID); err != nil {
		return err
	}
	s.statsCache.Invalidate()
	return nil
}

// CleanupOrphans deletes every transfer whose order no longer resolves. Order
// deletion elsewhere does not cascade to transfers; this sweep is the
// compensating control.
func (s *transferService) CleanupOrphans(actor model.Actor) (int64, error) {
	if !actor.IsAdmin() {
		return 0, fmt.Errorf("%w: orphan cleanup requires administrator role", ErrPermissionDenied)
	}

	transfers, err := s.transferRepo.FindAll()
	if err != nil {
		return 0, err
	}

	var orphans []uuid.UUID
	for i := range transfers {
		if _, err := s.orderRepo.FindByID(transfers[i].OriginalOrderID); err != nil {
			orphans = append(orphans, transfers[i].ID)
		}
	}

	deleted, err := s.transferRepo.HardDeleteByIDs(orphans)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.statsCache.Invalidate()
		log.Printf("Cleaned up %d orphan transfer(s)", deleted)
	}
	return deleted, nil
}

// List returns one page of transfers visible to the actor. The branch
// membership filter runs after the paginated read, so a page can come back
// shorter than pageSize while HasMore is still true.
func (s *transferService) List(actor model.Actor, filter repository.TransferFilter, pageSize int, cursorToken string) (*ListResult, error) {
	if ResolvePermissions(actor) == (TransferPermissions{}) {
		return nil, fmt.Errorf("%w: listing transfers requires an authenticated staff role", ErrPermissionDenied)
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	cursor, err := repository.DecodeTransferCursor(cursorToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	key := listKey(actor, filter, pageSize, cursorToken)
	v, err, _ := s.listGroup.Do(key, func() (interface{}, error) {
		raw, err := s.transferRepo.List(filter, pageSize+1, cursor)
		if err != nil {
			return nil, err
		}

		result := &ListResult{HasMore: len(raw) > pageSize}
		if result.HasMore {
			raw = raw[:pageSize]
		}
		if len(raw) > 0 {
			last := raw[len(raw)-1]
			result.NextCursor = repository.TransferCursor{TransferDate: last.TransferDate, ID: last.ID}.Encode()
		}

		if ResolvePermissions(actor).CanViewAllTransfers {
			result.Items = raw
			return result, nil
		}
		items := make([]model.OrderTransfer, 0, len(raw))
		for _, t := range raw {
			if actor.MemberOf(t.OrderBranchID) || actor.MemberOf(t.ProcessBranchID) {
				items = append(items, t)
			}
		}
		result.Items = items
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ListResult), nil
}

func listKey(actor model.Actor, filter repository.TransferFilter, pageSize int, cursor string) string {
	from, to := "", ""
	if filter.DateFrom != nil {
		from = filter.DateFrom.Format(time.RFC3339)
	}
	if filter.DateTo != nil {
		to = filter.DateTo.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s", actor.UserID, actor.BranchID, filter.Status, from, to, pageSize, cursor)
}

// Stats recomputes the aggregate counters plus the actor branch's
// split-adjusted outbound and inbound totals across all transfers.
func (s *transferService) Stats(actor model.Actor) (*model.TransferStats, error) {
	if ResolvePermissions(actor) == (TransferPermissions{}) {
		return nil, fmt.Errorf("%w: transfer stats require an authenticated staff role", ErrPermissionDenied)
	}

	cacheKey := actor.BranchID.String()
	if cached, ok := s.statsCache.Get(cacheKey); ok {
		return cached, nil
	}

	transfers, err := s.transferRepo.FindAll()
	if err != nil {
		return nil, err
	}

	stats := &model.TransferStats{}
	for i := range transfers {
		t := &transfers[i]
		switch t.Status {
		case model.TransferPending:
			stats.Pending++
		case model.TransferAccepted:
			stats.Accepted++
		case model.TransferRejected:
			stats.Rejected++
		case model.TransferCompleted:
			stats.Completed++
		case model.TransferCancelled:
			stats.Cancelled++
		}
		stats.TotalAmount = stats.TotalAmount.Add(t.OriginalOrderAmount)

		// Both sides rounded independently here: these are reporting figures,
		// not the settlement split (which keeps the exact remainder).
		hundred := decimal.NewFromInt(100)
		if t.OrderBranchID == actor.BranchID {
			share := t.OriginalOrderAmount.Mul(decimal.NewFromInt(int64(t.AmountSplit.OrderBranch))).Div(hundred).Round(2)
			stats.OrderBranchAmount = stats.OrderBranchAmount.Add(share)
		}
		if t.ProcessBranchID == actor.BranchID {
			share := t.OriginalOrderAmount.Mul(decimal.NewFromInt(int64(t.AmountSplit.ProcessBranch))).Div(hundred).Round(2)
			stats.ProcessBranchAmount = stats.ProcessBranchAmount.Add(share)
		}
	}

	s.statsCache.Set(cacheKey, stats)
	return stats, nil
}

// dispatch runs a side-effect and logs the failure instead of propagating it.
func (s *transferService) dispatch(what string, fn func() error) {
	if err := fn(); err != nil {
		log.Printf("Warning: %s dispatch failed: %v", what, err)
	}
}
