package service

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go-branch-transfer/internal/model"
	"go-branch-transfer/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ---- fakes ----

type fakeTxRunner struct{ err error }

func (f fakeTxRunner) Run(fn func(tx *gorm.DB) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type fakeTransferRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*model.OrderTransfer

	// findHook runs after each FindByID read, letting tests interleave
	// concurrent callers around a shared stale read.
	findHook func(*model.OrderTransfer)
}

func newFakeTransferRepo() *fakeTransferRepo {
	return &fakeTransferRepo{items: map[uuid.UUID]*model.OrderTransfer{}}
}

func cloneTransfer(t *model.OrderTransfer) *model.OrderTransfer {
	c := *t
	return &c
}

func (f *fakeTransferRepo) Create(_ *gorm.DB, t *model.OrderTransfer) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.mu.Lock()
	f.items[t.ID] = cloneTransfer(t)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransferRepo) Transition(_ *gorm.DB, t *model.OrderTransfer, from model.TransferStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.items[t.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	f.items[t.ID] = cloneTransfer(t)
	return true, nil
}

func (f *fakeTransferRepo) FindByID(id uuid.UUID) (*model.OrderTransfer, error) {
	f.mu.Lock()
	t, ok := f.items[id]
	if !ok {
		f.mu.Unlock()
		return nil, gorm.ErrRecordNotFound
	}
	c := cloneTransfer(t)
	f.mu.Unlock()
	if f.findHook != nil {
		f.findHook(c)
	}
	return c, nil
}

// newestFirst matches the (transfer_date, id) descending read order.
func newestFirst(transfers []model.OrderTransfer) {
	sort.Slice(transfers, func(i, j int) bool {
		a, b := transfers[i], transfers[j]
		if !a.TransferDate.Equal(b.TransferDate) {
			return a.TransferDate.After(b.TransferDate)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) > 0
	})
}

func (f *fakeTransferRepo) FindAll() ([]model.OrderTransfer, error) {
	f.mu.Lock()
	var all []model.OrderTransfer
	for _, t := range f.items {
		all = append(all, *t)
	}
	f.mu.Unlock()
	newestFirst(all)
	return all, nil
}

func (f *fakeTransferRepo) List(filter repository.TransferFilter, limit int, cursor *repository.TransferCursor) ([]model.OrderTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.OrderTransfer
	for _, t := range f.items {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.DateFrom != nil && t.TransferDate.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && t.TransferDate.After(*filter.DateTo) {
			continue
		}
		if cursor != nil {
			beforeCursor := t.TransferDate.Before(cursor.TransferDate) ||
				(t.TransferDate.Equal(cursor.TransferDate) && bytes.Compare(t.ID[:], cursor.ID[:]) < 0)
			if !beforeCursor {
				continue
			}
		}
		out = append(out, *t)
	}
	newestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTransferRepo) HardDelete(id uuid.UUID) error {
	f.mu.Lock()
	delete(f.items, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransferRepo) HardDeleteByIDs(ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := f.items[id]; ok {
			delete(f.items, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeOrderRepo struct {
	orders map[uuid.UUID]*model.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[uuid.UUID]*model.Order{}}
}

func (f *fakeOrderRepo) Create(order *model.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderRepo) FindByID(id uuid.UUID) (*model.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return o, nil
}

func (f *fakeOrderRepo) GetField(id uuid.UUID, column string) (string, error) {
	o, ok := f.orders[id]
	if !ok {
		return "", gorm.ErrRecordNotFound
	}
	if column == "payment_status" {
		return string(o.PaymentStatus), nil
	}
	return "", nil
}

func (f *fakeOrderRepo) SetTransferInfo(_ *gorm.DB, id uuid.UUID, info *model.TransferInfo) error {
	o, ok := f.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.TransferInfo = info
	return nil
}

func (f *fakeOrderRepo) SetTransferInfoStatus(_ *gorm.DB, id uuid.UUID, status model.TransferStatus) error {
	o, ok := f.orders[id]
	if !ok || o.TransferInfo == nil {
		return nil
	}
	o.TransferInfo.Status = status
	return nil
}

func (f *fakeOrderRepo) ClearTransferInfoFor(_ *gorm.DB, id uuid.UUID, transferID uuid.UUID) error {
	o, ok := f.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if o.TransferInfo != nil && o.TransferInfo.TransferID == transferID {
		o.TransferInfo = nil
	}
	return nil
}

func (f *fakeOrderRepo) UpdateStatus(_ *gorm.DB, id uuid.UUID, status model.OrderStatus) error {
	o, ok := f.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.Status = status
	return nil
}

type fakeBranchRepo struct {
	branches map[uuid.UUID]*model.Branch
}

func (f *fakeBranchRepo) FindByID(id uuid.UUID) (*model.Branch, error) {
	b, ok := f.branches[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return b, nil
}

func (f *fakeBranchRepo) FindAll() ([]model.Branch, error) {
	var all []model.Branch
	for _, b := range f.branches {
		all = append(all, *b)
	}
	return all, nil
}

func (f *fakeBranchRepo) Create(b *model.Branch) error {
	f.branches[b.ID] = b
	return nil
}

func (f *fakeBranchRepo) SeedDefaults() error { return nil }

type appliedDelta struct {
	Date   time.Time
	Branch string
	Delta  model.StatsDelta
}

type fakeStatsRepo struct {
	mu     sync.Mutex
	deltas []appliedDelta
	err    error
}

func (f *fakeStatsRepo) ApplyDelta(date time.Time, branchName string, delta model.StatsDelta) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.deltas = append(f.deltas, appliedDelta{Date: date, Branch: branchName, Delta: delta})
	f.mu.Unlock()
	return nil
}

func (f *fakeStatsRepo) Find(time.Time, string) (*model.DailyStats, error) {
	return nil, gorm.ErrRecordNotFound
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) NotifyCreated(*model.OrderTransfer) error {
	f.events = append(f.events, "created")
	return nil
}

func (f *fakeNotifier) NotifyAccepted(*model.OrderTransfer) error {
	f.events = append(f.events, "accepted")
	return nil
}

func (f *fakeNotifier) NotifyCompleted(*model.OrderTransfer) error {
	f.events = append(f.events, "completed")
	return nil
}

func (f *fakeNotifier) NotifyCancelled(*model.OrderTransfer, string) error {
	f.events = append(f.events, "cancelled")
	return nil
}

type boardEntry struct {
	State        model.TransferStatus
	HasOrderInfo bool
}

type fakeBoard struct {
	entries []boardEntry
	err     error
}

func (f *fakeBoard) Publish(_ *model.OrderTransfer, state model.TransferStatus, info *model.OrderDeliveryInfo) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, boardEntry{State: state, HasOrderInfo: info != nil})
	return nil
}

type fakeSplitSettings struct {
	split model.AmountSplit
	err   error
}

func (f *fakeSplitSettings) SplitFor(string) (model.AmountSplit, error) {
	return f.split, f.err
}

func (f *fakeSplitSettings) CalculateAmountSplit(total decimal.Decimal, orderType string) (*SplitEstimate, error) {
	return nil, errors.New("not used")
}

func (f *fakeSplitSettings) ListSettings(model.Actor) ([]model.TransferSettings, error) {
	return nil, nil
}

func (f *fakeSplitSettings) UpdateSettings(model.Actor, *model.TransferSettings) error {
	return nil
}

type memStatsCache struct {
	data          map[string]*model.TransferStats
	invalidations int
}

func newMemStatsCache() *memStatsCache {
	return &memStatsCache{data: map[string]*model.TransferStats{}}
}

func (c *memStatsCache) Get(key string) (*model.TransferStats, bool) {
	stats, ok := c.data[key]
	return stats, ok
}

func (c *memStatsCache) Set(key string, stats *model.TransferStats) {
	c.data[key] = stats
}

func (c *memStatsCache) Invalidate() {
	c.data = map[string]*model.TransferStats{}
	c.invalidations++
}

// ---- fixture ----

var testNow = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

type fixture struct {
	transfers *fakeTransferRepo
	orders    *fakeOrderRepo
	branches  *fakeBranchRepo
	stats     *fakeStatsRepo
	settings  *fakeSplitSettings
	notifier  *fakeNotifier
	board     *fakeBoard
	cache     *memStatsCache
	svc       *transferService

	orderBranch   *model.Branch
	processBranch *model.Branch
	thirdBranch   *model.Branch
}

func newFixture() *fixture {
	f := &fixture{
		transfers: newFakeTransferRepo(),
		orders:    newFakeOrderRepo(),
		branches:  &fakeBranchRepo{branches: map[uuid.UUID]*model.Branch{}},
		stats:     &fakeStatsRepo{},
		settings:  &fakeSplitSettings{split: model.AmountSplit{OrderBranch: 50, ProcessBranch: 50}},
		notifier:  &fakeNotifier{},
		board:     &fakeBoard{},
		cache:     newMemStatsCache(),
	}

	f.orderBranch = &model.Branch{BaseModel: model.BaseModel{ID: uuid.New()}, Code: "HQ", Name: "Head Office Branch"}
	f.processBranch = &model.Branch{BaseModel: model.BaseModel{ID: uuid.New()}, Code: "B02", Name: "Second Branch"}
	f.thirdBranch = &model.Branch{BaseModel: model.BaseModel{ID: uuid.New()}, Code: "B03", Name: "Third Branch"}
	f.branches.Create(f.orderBranch)
	f.branches.Create(f.processBranch)
	f.branches.Create(f.thirdBranch)

	f.svc = NewTransferService(
		f.transfers, f.orders, f.branches, f.stats,
		f.settings, f.notifier, f.board, f.cache, fakeTxRunner{},
	).(*transferService)
	f.svc.now = func() time.Time { return testNow }

	return f
}

func (f *fixture) seedOrder(branch *model.Branch, total string, pay model.PaymentStatus) *model.Order {
	order := &model.Order{
		OrderNumber:   "ORD-" + uuid.NewString()[:8],
		BranchID:      branch.ID,
		BranchName:    branch.Name,
		OrderType:     "walk-in",
		TotalAmount:   decimal.RequireFromString(total),
		PaymentStatus: pay,
		Status:        model.OrderOpen,
		OrderDate:     time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}
	f.orders.Create(order)
	return order
}

func (f *fixture) createTransfer(t *testing.T, actor model.Actor, order *model.Order, processBranchID uuid.UUID) uuid.UUID {
	t.Helper()
	id, err := f.svc.Create(actor, &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: processBranchID,
		TransferReason:  "capacity",
		AmountSplit:     model.AmountSplit{OrderBranch: 60, ProcessBranch: 40},
	})
	require.NoError(t, err)
	return id
}

func staffOf(branchID uuid.UUID) model.Actor {
	return model.Actor{UserID: uuid.New(), Name: "Staff", Email: "staff@example.com", Role: model.RoleBranchStaff, BranchID: branchID}
}

func managerOf(branchID uuid.UUID) model.Actor {
	return model.Actor{UserID: uuid.New(), Name: "Manager", Email: "manager@example.com", Role: model.RoleBranchManager, BranchID: branchID}
}

func adminActor() model.Actor {
	return model.Actor{UserID: uuid.New(), Name: "Admin", Email: "admin@example.com", Role: model.RoleAdmin}
}

// ---- create ----

func TestCreateTransfer(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	actor := staffOf(f.orderBranch.ID)

	id, err := f.svc.Create(actor, &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: f.processBranch.ID,
		TransferReason:  "out of stock",
		AmountSplit:     model.AmountSplit{OrderBranch: 60, ProcessBranch: 40},
		Notes:           "call ahead",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferPending, stored.Status)
	assert.Equal(t, order.ID, stored.OriginalOrderID)
	assert.Equal(t, f.orderBranch.ID, stored.OrderBranchID)
	assert.Equal(t, f.orderBranch.Name, stored.OrderBranchName)
	assert.Equal(t, f.processBranch.ID, stored.ProcessBranchID)
	assert.Equal(t, f.processBranch.Name, stored.ProcessBranchName)
	assert.True(t, stored.OriginalOrderAmount.Equal(order.TotalAmount))
	assert.Equal(t, actor.UserID.String(), stored.TransferBy)
	assert.Equal(t, testNow, stored.TransferDate)

	require.NotNil(t, order.TransferInfo)
	assert.True(t, order.TransferInfo.IsTransferred)
	assert.Equal(t, id, order.TransferInfo.TransferID)
	assert.Equal(t, model.TransferPending, order.TransferInfo.Status)

	assert.Equal(t, []string{"created"}, f.notifier.events)
	assert.Equal(t, []boardEntry{{State: model.TransferPending, HasOrderInfo: true}}, f.board.entries)
	assert.Equal(t, 1, f.cache.invalidations)
}

func TestCreateTransferSplitFallsBackToSettings(t *testing.T) {
	f := newFixture()
	f.settings.split = model.AmountSplit{OrderBranch: 70, ProcessBranch: 30}
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)

	id, err := f.svc.Create(staffOf(f.orderBranch.ID), &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: f.processBranch.ID,
		TransferReason:  "capacity",
	})
	require.NoError(t, err)

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, model.AmountSplit{OrderBranch: 70, ProcessBranch: 30}, stored.AmountSplit)
}

func TestCreateTransferValidation(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	actor := staffOf(f.orderBranch.ID)

	// Missing reason.
	_, err := f.svc.Create(actor, &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: f.processBranch.ID,
		AmountSplit:     model.AmountSplit{OrderBranch: 50, ProcessBranch: 50},
	})
	assert.ErrorIs(t, err, ErrValidation)

	// Missing order id.
	_, err = f.svc.Create(actor, &CreateTransferForm{
		ProcessBranchID: f.processBranch.ID,
		TransferReason:  "capacity",
		AmountSplit:     model.AmountSplit{OrderBranch: 50, ProcessBranch: 50},
	})
	assert.ErrorIs(t, err, ErrValidation)

	// Percentages that don't sum to 100.
	_, err = f.svc.Create(actor, &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: f.processBranch.ID,
		TransferReason:  "capacity",
		AmountSplit:     model.AmountSplit{OrderBranch: 60, ProcessBranch: 60},
	})
	assert.ErrorIs(t, err, ErrValidation)

	// Same branch on both sides.
	_, err = f.svc.Create(actor, &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: f.orderBranch.ID,
		TransferReason:  "capacity",
		AmountSplit:     model.AmountSplit{OrderBranch: 50, ProcessBranch: 50},
	})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, f.notifier.events)
	assert.Empty(t, f.board.entries)
}

func TestCreateTransferNotFound(t *testing.T) {
	f := newFixture()
	actor := staffOf(f.orderBranch.ID)

	_, err := f.svc.Create(actor, &CreateTransferForm{
		OriginalOrderID: uuid.New(),
		ProcessBranchID: f.processBranch.ID,
		TransferReason:  "capacity",
		AmountSplit:     model.AmountSplit{OrderBranch: 50, ProcessBranch: 50},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	_, err = f.svc.Create(actor, &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: uuid.New(),
		TransferReason:  "capacity",
		AmountSplit:     model.AmountSplit{OrderBranch: 50, ProcessBranch: 50},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTransferDuplicateActive(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	actor := staffOf(f.orderBranch.ID)
	f.createTransfer(t, actor, order, f.processBranch.ID)

	_, err := f.svc.Create(actor, &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: f.thirdBranch.ID,
		TransferReason:  "second attempt",
		AmountSplit:     model.AmountSplit{OrderBranch: 50, ProcessBranch: 50},
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateTransferPermissionDenied(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)

	_, err := f.svc.Create(model.Actor{}, &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: f.processBranch.ID,
		TransferReason:  "capacity",
		AmountSplit:     model.AmountSplit{OrderBranch: 50, ProcessBranch: 50},
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCreateTransferTxFailureLeavesNoTrace(t *testing.T) {
	f := newFixture()
	f.svc.tx = fakeTxRunner{err: errors.New("deadlock")}
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)

	_, err := f.svc.Create(staffOf(f.orderBranch.ID), &CreateTransferForm{
		OriginalOrderID: order.ID,
		ProcessBranchID: f.processBranch.ID,
		TransferReason:  "capacity",
		AmountSplit:     model.AmountSplit{OrderBranch: 50, ProcessBranch: 50},
	})
	assert.Error(t, err)
	assert.Empty(t, f.notifier.events)
	assert.Empty(t, f.board.entries)
}

// ---- accept ----

func TestAcceptUnpaidOrder(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	actor := staffOf(f.orderBranch.ID)
	id := f.createTransfer(t, actor, order, f.processBranch.ID)

	acceptor := staffOf(f.processBranch.ID)
	err := f.svc.UpdateStatus(acceptor, id, &UpdateStatusForm{Status: model.TransferAccepted})
	require.NoError(t, err)

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferAccepted, stored.Status)
	require.NotNil(t, stored.AcceptedAt)
	assert.Equal(t, testNow, *stored.AcceptedAt)
	assert.Equal(t, acceptor.UserID.String(), stored.AcceptedBy)

	require.NotNil(t, order.TransferInfo)
	assert.Equal(t, model.TransferAccepted, order.TransferInfo.Status)
	assert.Equal(t, order.TransferInfo.AcceptedAt, stored.AcceptedAt)

	// 40% of 100000 moves between branches; revenue stays on the order date and
	// nothing settles because the order is unpaid.
	require.Len(t, f.stats.deltas, 2)

	out := f.stats.deltas[0]
	assert.Equal(t, order.OrderDate, out.Date)
	assert.Equal(t, f.orderBranch.Name, out.Branch)
	assert.True(t, out.Delta.Revenue.Equal(decimal.NewFromInt(-40000)), "got %s", out.Delta.Revenue)
	assert.True(t, out.Delta.SettledAmount.IsZero())

	in := f.stats.deltas[1]
	assert.Equal(t, order.OrderDate, in.Date)
	assert.Equal(t, f.processBranch.Name, in.Branch)
	assert.True(t, in.Delta.Revenue.Equal(decimal.NewFromInt(40000)), "got %s", in.Delta.Revenue)
	assert.True(t, in.Delta.SettledAmount.IsZero())

	assert.Equal(t, []string{"created", "accepted"}, f.notifier.events)
	require.Len(t, f.board.entries, 2)
	assert.Equal(t, boardEntry{State: model.TransferAccepted, HasOrderInfo: true}, f.board.entries[1])
}

func TestAcceptPaidOrderMovesSettledCashToday(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentPaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	err := f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferAccepted})
	require.NoError(t, err)

	today := model.DateOnly(testNow)
	require.Len(t, f.stats.deltas, 3)

	revenueOut := f.stats.deltas[0]
	assert.Equal(t, order.OrderDate, revenueOut.Date)
	assert.Equal(t, f.orderBranch.Name, revenueOut.Branch)
	assert.True(t, revenueOut.Delta.Revenue.Equal(decimal.NewFromInt(-40000)))
	assert.True(t, revenueOut.Delta.SettledAmount.IsZero())

	settledOut := f.stats.deltas[1]
	assert.Equal(t, today, settledOut.Date)
	assert.Equal(t, f.orderBranch.Name, settledOut.Branch)
	assert.True(t, settledOut.Delta.Revenue.IsZero())
	assert.True(t, settledOut.Delta.SettledAmount.Equal(decimal.NewFromInt(-40000)))

	settledIn := f.stats.deltas[2]
	assert.Equal(t, today, settledIn.Date)
	assert.Equal(t, f.processBranch.Name, settledIn.Branch)
	assert.True(t, settledIn.Delta.Revenue.Equal(decimal.NewFromInt(40000)))
	assert.True(t, settledIn.Delta.SettledAmount.Equal(decimal.NewFromInt(40000)))
}

func TestAcceptSeesLatePayment(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	// Payment settles after the transfer was created but before acceptance.
	order.PaymentStatus = model.PaymentPaid

	err := f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferAccepted})
	require.NoError(t, err)
	assert.Len(t, f.stats.deltas, 3)
}

func TestAcceptTwice(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)
	acceptor := staffOf(f.processBranch.ID)

	require.NoError(t, f.svc.UpdateStatus(acceptor, id, &UpdateStatusForm{Status: model.TransferAccepted}))

	err := f.svc.UpdateStatus(acceptor, id, &UpdateStatusForm{Status: model.TransferAccepted})
	assert.ErrorIs(t, err, ErrInvalidState)
	// Reconciliation must not run a second time.
	assert.Len(t, f.stats.deltas, 2)
}

func TestConcurrentAcceptAppliesDeltasOnce(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	// Hold both callers until each has read the pending row, so both pass the
	// in-memory transition check and race on the store write.
	var pendingReads sync.WaitGroup
	pendingReads.Add(2)
	release := make(chan struct{})
	f.transfers.findHook = func(tr *model.OrderTransfer) {
		if tr.Status == model.TransferPending {
			pendingReads.Done()
			<-release
		}
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferAccepted})
		}()
	}
	pendingReads.Wait()
	close(release)

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			assert.ErrorIs(t, err, ErrInvalidState)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	// Reconciliation ran exactly once: the order branch gives up the process
	// share once, not twice.
	assert.Len(t, f.stats.deltas, 2)

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferAccepted, stored.Status)
}

func TestConcurrentAcceptAndCancel(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	var pendingReads sync.WaitGroup
	pendingReads.Add(2)
	release := make(chan struct{})
	f.transfers.findHook = func(tr *model.OrderTransfer) {
		if tr.Status == model.TransferPending {
			pendingReads.Done()
			<-release
		}
	}

	errs := make(chan error, 2)
	go func() {
		errs <- f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferAccepted})
	}()
	go func() {
		errs <- f.svc.Cancel(staffOf(f.orderBranch.ID), id, "changed plans")
	}()
	pendingReads.Wait()
	close(release)

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			assert.ErrorIs(t, err, ErrInvalidState)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	switch stored.Status {
	case model.TransferAccepted:
		assert.Len(t, f.stats.deltas, 2)
		require.NotNil(t, order.TransferInfo)
		assert.Equal(t, model.TransferAccepted, order.TransferInfo.Status)
	case model.TransferCancelled:
		assert.Empty(t, f.stats.deltas)
		assert.Nil(t, order.TransferInfo)
	default:
		t.Fatalf("transfer ended in %s", stored.Status)
	}
}

func TestAcceptStatsFailureKeepsTransition(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	f.stats.err = errors.New("db down")
	err := f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferAccepted})
	require.NoError(t, err)

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferAccepted, stored.Status)
}

// ---- reject / complete ----

func TestRejectTransfer(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentPaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	rejector := staffOf(f.processBranch.ID)
	err := f.svc.UpdateStatus(rejector, id, &UpdateStatusForm{Status: model.TransferRejected, Notes: "no capacity"})
	require.NoError(t, err)

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferRejected, stored.Status)
	require.NotNil(t, stored.RejectedAt)
	assert.Equal(t, rejector.UserID.String(), stored.RejectedBy)
	assert.Equal(t, "no capacity", stored.Notes)

	require.NotNil(t, order.TransferInfo)
	assert.Equal(t, model.TransferRejected, order.TransferInfo.Status)

	// Rejection never touches the aggregates.
	assert.Empty(t, f.stats.deltas)
}

func TestCompleteTransfer(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentPaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)
	acceptor := staffOf(f.processBranch.ID)

	require.NoError(t, f.svc.UpdateStatus(acceptor, id, &UpdateStatusForm{Status: model.TransferAccepted}))
	require.NoError(t, f.svc.UpdateStatus(acceptor, id, &UpdateStatusForm{Status: model.TransferCompleted}))

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	assert.Equal(t, model.OrderCompleted, order.Status)
	require.NotNil(t, order.TransferInfo)
	assert.Equal(t, model.TransferCompleted, order.TransferInfo.Status)

	assert.Equal(t, []string{"created", "accepted", "completed"}, f.notifier.events)
}

func TestCompleteRequiresAccepted(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	err := f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferCompleted})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUpdateStatusRejectsCancelled(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	err := f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferCancelled})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateStatusNotFound(t *testing.T) {
	f := newFixture()
	err := f.svc.UpdateStatus(adminActor(), uuid.New(), &UpdateStatusForm{Status: model.TransferAccepted})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusPermissionDenied(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	err := f.svc.UpdateStatus(model.Actor{Role: "AUDITOR"}, id, &UpdateStatusForm{Status: model.TransferAccepted})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

// ---- cancel ----

func TestCancelPendingTransfer(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	actor := staffOf(f.orderBranch.ID)
	id := f.createTransfer(t, actor, order, f.processBranch.ID)

	err := f.svc.Cancel(actor, id, "customer changed their mind")
	require.NoError(t, err)

	stored, err := f.transfers.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
	assert.Equal(t, "customer changed their mind", stored.Notes)

	// The order reverts to looking like a never-transferred order.
	assert.Nil(t, order.TransferInfo)

	assert.Equal(t, []string{"created", "cancelled"}, f.notifier.events)
	// Cancellations never reach the display board.
	require.Len(t, f.board.entries, 1)
	assert.Equal(t, model.TransferPending, f.board.entries[0].State)
}

func TestCancelRequiresOrderBranchMembership(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	err := f.svc.Cancel(staffOf(f.processBranch.ID), id, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// An administrator may cancel regardless of branch.
	require.NoError(t, f.svc.Cancel(adminActor(), id, ""))
}

func TestCancelNonPendingTransfer(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	actor := staffOf(f.orderBranch.ID)
	id := f.createTransfer(t, actor, order, f.processBranch.ID)

	require.NoError(t, f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferAccepted}))

	err := f.svc.Cancel(actor, id, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

// ---- delete / cleanup ----

func TestDeleteTransferAuthorization(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	// Staff may not delete, even from an involved branch.
	err := f.svc.Delete(staffOf(f.orderBranch.ID), id)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Neither may a manager of an uninvolved branch.
	err = f.svc.Delete(managerOf(f.thirdBranch.ID), id)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// A manager of the process branch may.
	require.NoError(t, f.svc.Delete(managerOf(f.processBranch.ID), id))
	_, err = f.transfers.FindByID(id)
	assert.Error(t, err)
	assert.Nil(t, order.TransferInfo)
}

func TestDeleteTransferToleratesMissingOrder(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	id := f.createTransfer(t, staffOf(f.orderBranch.ID), order, f.processBranch.ID)

	delete(f.orders.orders, order.ID)

	require.NoError(t, f.svc.Delete(adminActor(), id))
	_, err := f.transfers.FindByID(id)
	assert.Error(t, err)
}

func TestDeleteStaleTransferKeepsLiveProjection(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	actor := staffOf(f.orderBranch.ID)
	stale := f.createTransfer(t, actor, order, f.processBranch.ID)
	require.NoError(t, f.svc.UpdateStatus(staffOf(f.processBranch.ID), stale, &UpdateStatusForm{Status: model.TransferRejected}))

	// The rejection freed the order for a second attempt.
	live := f.createTransfer(t, actor, order, f.thirdBranch.ID)

	require.NoError(t, f.svc.Delete(adminActor(), stale))

	// Deleting the rejected transfer must not wipe the live mirror.
	require.NotNil(t, order.TransferInfo)
	assert.Equal(t, live, order.TransferInfo.TransferID)
}

func TestCleanupOrphans(t *testing.T) {
	f := newFixture()
	orderA := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	orderB := f.seedOrder(f.orderBranch, "50000", model.PaymentUnpaid)
	actor := staffOf(f.orderBranch.ID)
	idA := f.createTransfer(t, actor, orderA, f.processBranch.ID)
	idB := f.createTransfer(t, actor, orderB, f.processBranch.ID)

	delete(f.orders.orders, orderB.ID)

	_, err := f.svc.CleanupOrphans(managerOf(f.orderBranch.ID))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	deleted, err := f.svc.CleanupOrphans(adminActor())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = f.transfers.FindByID(idA)
	assert.NoError(t, err)
	_, err = f.transfers.FindByID(idB)
	assert.Error(t, err)
}

// ---- list ----

func TestListFiltersByBranchMembership(t *testing.T) {
	f := newFixture()
	actor := staffOf(f.orderBranch.ID)
	orderA := f.seedOrder(f.orderBranch, "100", model.PaymentUnpaid)
	orderB := f.seedOrder(f.orderBranch, "200", model.PaymentUnpaid)
	orderC := f.seedOrder(f.processBranch, "300", model.PaymentUnpaid)
	f.createTransfer(t, actor, orderA, f.processBranch.ID)
	f.createTransfer(t, actor, orderB, f.thirdBranch.ID)
	f.createTransfer(t, staffOf(f.processBranch.ID), orderC, f.thirdBranch.ID)

	// Third-branch staff are involved in two of the three transfers.
	result, err := f.svc.List(staffOf(f.thirdBranch.ID), repository.TransferFilter{}, 0, "")
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)

	// An administrator sees everything.
	result, err = f.svc.List(adminActor(), repository.TransferFilter{}, 0, "")
	require.NoError(t, err)
	assert.Len(t, result.Items, 3)
	assert.False(t, result.HasMore)
}

func TestListPagination(t *testing.T) {
	f := newFixture()
	actor := staffOf(f.orderBranch.ID)
	for i := 0; i < 3; i++ {
		day := testNow.AddDate(0, 0, -i)
		f.svc.now = func() time.Time { return day }
		order := f.seedOrder(f.orderBranch, "100", model.PaymentUnpaid)
		f.createTransfer(t, actor, order, f.processBranch.ID)
	}

	admin := adminActor()
	first, err := f.svc.List(admin, repository.TransferFilter{}, 2, "")
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)
	assert.True(t, first.Items[0].TransferDate.After(first.Items[1].TransferDate))

	second, err := f.svc.List(admin, repository.TransferFilter{}, 2, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.False(t, second.HasMore)

	// No overlap between pages.
	seen := map[uuid.UUID]bool{}
	for _, item := range append(first.Items, second.Items...) {
		assert.False(t, seen[item.ID])
		seen[item.ID] = true
	}
}

func TestListStatusFilter(t *testing.T) {
	f := newFixture()
	actor := staffOf(f.orderBranch.ID)
	orderA := f.seedOrder(f.orderBranch, "100", model.PaymentUnpaid)
	orderB := f.seedOrder(f.orderBranch, "200", model.PaymentUnpaid)
	f.createTransfer(t, actor, orderA, f.processBranch.ID)
	id := f.createTransfer(t, actor, orderB, f.processBranch.ID)
	require.NoError(t, f.svc.UpdateStatus(staffOf(f.processBranch.ID), id, &UpdateStatusForm{Status: model.TransferAccepted}))

	result, err := f.svc.List(adminActor(), repository.TransferFilter{Status: model.TransferAccepted}, 0, "")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, id, result.Items[0].ID)
}

func TestListInvalidCursor(t *testing.T) {
	f := newFixture()
	_, err := f.svc.List(adminActor(), repository.TransferFilter{}, 0, "%%%bogus%%%")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListPermissionDenied(t *testing.T) {
	f := newFixture()
	_, err := f.svc.List(model.Actor{}, repository.TransferFilter{}, 0, "")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

// ---- stats ----

func TestStats(t *testing.T) {
	f := newFixture()
	actor := staffOf(f.orderBranch.ID)
	orderA := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	orderB := f.seedOrder(f.orderBranch, "50000", model.PaymentUnpaid)
	f.createTransfer(t, actor, orderA, f.processBranch.ID)
	idB := f.createTransfer(t, actor, orderB, f.thirdBranch.ID)
	require.NoError(t, f.svc.UpdateStatus(staffOf(f.thirdBranch.ID), idB, &UpdateStatusForm{Status: model.TransferAccepted}))

	stats, err := f.svc.Stats(actor)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 0, stats.Rejected)
	assert.True(t, stats.TotalAmount.Equal(decimal.NewFromInt(150000)))

	// The actor's branch is the order branch of both transfers at 60%.
	assert.True(t, stats.OrderBranchAmount.Equal(decimal.NewFromInt(90000)), "got %s", stats.OrderBranchAmount)
	assert.True(t, stats.ProcessBranchAmount.IsZero())

	// The process branch of the first transfer keeps its 40% inbound figure.
	stats, err = f.svc.Stats(staffOf(f.processBranch.ID))
	require.NoError(t, err)
	assert.True(t, stats.ProcessBranchAmount.Equal(decimal.NewFromInt(40000)), "got %s", stats.ProcessBranchAmount)
	assert.True(t, stats.OrderBranchAmount.IsZero())
}

func TestStatsCaching(t *testing.T) {
	f := newFixture()
	actor := staffOf(f.orderBranch.ID)
	order := f.seedOrder(f.orderBranch, "100000", model.PaymentUnpaid)
	f.createTransfer(t, actor, order, f.processBranch.ID)

	first, err := f.svc.Stats(actor)
	require.NoError(t, err)
	assert.Contains(t, f.cache.data, actor.BranchID.String())

	// A second read comes straight from the cache.
	second, err := f.svc.Stats(actor)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// A workflow write invalidates it.
	orderB := f.seedOrder(f.orderBranch, "1", model.PaymentUnpaid)
	f.createTransfer(t, actor, orderB, f.processBranch.ID)
	assert.Empty(t, f.cache.data)
}

func TestStatsPermissionDenied(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Stats(model.Actor{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
