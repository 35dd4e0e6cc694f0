package purchaseorders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/comparison"
	"github.com/sitewise-erp/sitewise/internal/requests"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

type memoryRepo struct {
	orders map[int64]PurchaseOrder
	seq    map[int]int64
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]PurchaseOrder), seq: make(map[int]int64)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (r *memoryRepo) List(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error) {
	var items []PurchaseOrder
	for _, po := range r.orders {
		items = append(items, po)
	}
	return items, len(items), nil
}

func (tx *memoryTx) Insert(ctx context.Context, po PurchaseOrder) (int64, error) {
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	po.Lines = nil
	tx.repo.orders[po.ID] = po
	return po.ID, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line Line) (int64, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	po := tx.repo.orders[line.POID]
	po.Lines = append(po.Lines, line)
	tx.repo.orders[line.POID] = po
	return line.ID, nil
}

func (tx *memoryTx) Cancel(ctx context.Context, id int64, at time.Time) error {
	po, ok := tx.repo.orders[id]
	if !ok {
		return ErrNotFound
	}
	if po.Status != StatusIssued {
		return ErrInvalidTransition
	}
	po.Status = StatusCancelled
	po.CancelledAt = &at
	tx.repo.orders[id] = po
	return nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, year int) (int64, error) {
	tx.repo.seq[year]++
	return tx.repo.seq[year], nil
}

type stubLifecycle struct {
	requests map[int64]requests.Request
}

func (l *stubLifecycle) Get(ctx context.Context, requestID int64) (requests.Request, error) {
	req, ok := l.requests[requestID]
	if !ok {
		return requests.Request{}, requests.ErrNotFound
	}
	return req, nil
}

func (l *stubLifecycle) Advance(ctx context.Context, requestID int64, target requests.Status, actor shared.Actor) (requests.Request, error) {
	req, ok := l.requests[requestID]
	if !ok {
		return requests.Request{}, requests.ErrNotFound
	}
	if !req.Status.CanTransition(target) {
		return requests.Request{}, fmt.Errorf("%w: %s -> %s", requests.ErrInvalidTransition, req.Status, target)
	}
	req.Status = target
	l.requests[requestID] = req
	return req, nil
}

type stubComparisons struct {
	items map[int64]comparison.Comparison
}

func (s *stubComparisons) Get(ctx context.Context, id int64) (comparison.Comparison, error) {
	cmp, ok := s.items[id]
	if !ok {
		return comparison.Comparison{}, comparison.ErrNotFound
	}
	return cmp, nil
}

type stubExists struct{ ids map[int64]bool }

func (s *stubExists) Exists(ctx context.Context, id int64) (bool, error) {
	return s.ids[id], nil
}

var officer = shared.Actor{ID: 2, Role: shared.RolePurchaseOfficer}

func futureDate() time.Time {
	return time.Now().AddDate(0, 1, 0)
}

func newTestService() (*Service, *memoryRepo, *stubLifecycle, *stubComparisons) {
	repo := newMemoryRepo()
	lifecycle := &stubLifecycle{requests: make(map[int64]requests.Request)}
	comparisons := &stubComparisons{items: make(map[int64]comparison.Comparison)}
	vendors := &stubExists{ids: map[int64]bool{1: true, 2: true}}
	sites := &stubExists{ids: map[int64]bool{10: true}}
	return NewService(repo, lifecycle, comparisons, vendors, sites, nil), repo, lifecycle, comparisons
}

func approvedComparison(requestID int64) comparison.Comparison {
	winner := int64(77)
	return comparison.Comparison{
		ID:             5,
		RequestID:      requestID,
		Status:         comparison.DecisionApproved,
		WinningQuoteID: &winner,
		Quotes: []comparison.Quote{
			{ID: 76, VendorID: 2, UnitRate: 48, Position: 1},
			{ID: 77, VendorID: 1, UnitRate: 45, Position: 2},
		},
	}
}

func TestIssueFromComparison(t *testing.T) {
	svc, _, lifecycle, comparisons := newTestService()
	ctx := context.Background()
	lifecycle.requests[100] = requests.Request{ID: 100, Number: "MR-2026-000001", ItemName: "Cement OPC 53",
		Quantity: 100, Unit: "bags", SiteID: 10, Status: requests.StatusReadyForPO}
	comparisons.items[5] = approvedComparison(100)

	po, err := svc.IssueFromComparison(ctx, 5, IssueFromComparisonInput{
		ValidTill: futureDate(), SGSTPct: 9, CGSTPct: 9,
	}, officer)
	require.NoError(t, err)
	require.Regexp(t, `^PO-\d{4}-\d{6}$`, po.Number)
	require.Equal(t, int64(1), po.VendorID)
	require.Len(t, po.Lines, 1)
	require.InDelta(t, 5310.0, po.Lines[0].LineTotal, 1e-9)
	require.Equal(t, requests.StatusPOIssued, lifecycle.requests[100].Status)
}

func TestIssueFromComparisonGuards(t *testing.T) {
	svc, _, lifecycle, comparisons := newTestService()
	ctx := context.Background()
	lifecycle.requests[100] = requests.Request{ID: 100, Quantity: 100, Unit: "bags", SiteID: 10, Status: requests.StatusCCPending}
	comparisons.items[5] = approvedComparison(100)

	_, err := svc.IssueFromComparison(ctx, 5, IssueFromComparisonInput{ValidTill: time.Now().AddDate(0, 0, -1)}, officer)
	require.ErrorIs(t, err, ErrExpiredWindow)

	_, err = svc.IssueFromComparison(ctx, 5, IssueFromComparisonInput{ValidTill: futureDate()}, officer)
	require.ErrorIs(t, err, ErrValidation)

	pending := approvedComparison(100)
	pending.Status = comparison.DecisionPending
	comparisons.items[6] = pending
	_, err = svc.IssueFromComparison(ctx, 6, IssueFromComparisonInput{ValidTill: futureDate()}, officer)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.IssueFromComparison(ctx, 5, IssueFromComparisonInput{ValidTill: futureDate()}, shared.Actor{ID: 3, Role: shared.RoleManager})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestIssueDirectMultiLine(t *testing.T) {
	svc, _, lifecycle, _ := newTestService()
	ctx := context.Background()
	lifecycle.requests[100] = requests.Request{ID: 100, Number: "MR-2026-000001", Status: requests.StatusSubmitted}
	lifecycle.requests[101] = requests.Request{ID: 101, Number: "MR-2026-000002", Status: requests.StatusReadyForCC}

	reqA, reqB := int64(100), int64(101)
	po, err := svc.IssueDirect(ctx, IssueDirectInput{
		VendorID:  1,
		SiteID:    10,
		ValidTill: futureDate(),
		Lines: []LineInput{
			{RequestID: &reqA, Description: "Cement OPC 53", Quantity: 100, Unit: "bags", UnitRate: 45, SGSTPct: 9, CGSTPct: 9},
			{RequestID: &reqB, Description: "Bricks", Quantity: 5000, Unit: "nos", UnitRate: 8000, PerUnitBasis: 1000},
			{Description: "Binding wire", Quantity: 25, Unit: "kg", UnitRate: 70},
		},
	}, officer)
	require.NoError(t, err)
	require.Len(t, po.Lines, 3)
	require.InDelta(t, 5310.0, po.Lines[0].LineTotal, 1e-9)
	require.InDelta(t, 40000.0, po.Lines[1].LineTotal, 1e-9)
	require.InDelta(t, 1750.0, po.Lines[2].LineTotal, 1e-9)
	require.InDelta(t, 47060.0, po.Total(), 1e-9)

	// Both linked requests skipped comparison and landed on PO_ISSUED.
	require.Equal(t, requests.StatusPOIssued, lifecycle.requests[100].Status)
	require.Equal(t, requests.StatusPOIssued, lifecycle.requests[101].Status)
}

func TestIssueDirectValidation(t *testing.T) {
	svc, _, lifecycle, _ := newTestService()
	ctx := context.Background()
	lifecycle.requests[100] = requests.Request{ID: 100, Status: requests.StatusDelivered}

	base := IssueDirectInput{VendorID: 1, SiteID: 10, ValidTill: futureDate(),
		Lines: []LineInput{{Description: "Sand", Quantity: 10, Unit: "cft", UnitRate: 60}}}

	bad := base
	bad.VendorID = 99
	_, err := svc.IssueDirect(ctx, bad, officer)
	require.ErrorIs(t, err, ErrNotFound)

	bad = base
	bad.SiteID = 99
	_, err = svc.IssueDirect(ctx, bad, officer)
	require.ErrorIs(t, err, ErrNotFound)

	bad = base
	bad.Lines = nil
	_, err = svc.IssueDirect(ctx, bad, officer)
	require.ErrorIs(t, err, ErrValidation)

	bad = base
	bad.Lines = []LineInput{{Description: "Sand", Quantity: 10, Unit: "cft", UnitRate: 60, PerUnitBasis: -1}}
	_, err = svc.IssueDirect(ctx, bad, officer)
	require.ErrorIs(t, err, ErrValidation)

	bad = base
	bad.Lines = []LineInput{{Description: "Sand", Quantity: -5, Unit: "cft", UnitRate: 60}}
	_, err = svc.IssueDirect(ctx, bad, officer)
	require.ErrorIs(t, err, ErrValidation)

	// Requests past the PO stage cannot be linked.
	delivered := int64(100)
	bad = base
	bad.Lines = []LineInput{{RequestID: &delivered, Description: "Sand", Quantity: 10, Unit: "cft", UnitRate: 60}}
	_, err = svc.IssueDirect(ctx, bad, officer)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCancel(t *testing.T) {
	svc, _, lifecycle, _ := newTestService()
	ctx := context.Background()
	lifecycle.requests[100] = requests.Request{ID: 100, Status: requests.StatusSubmitted}

	po, err := svc.IssueDirect(ctx, IssueDirectInput{VendorID: 1, SiteID: 10, ValidTill: futureDate(),
		Lines: []LineInput{{Description: "Sand", Quantity: 10, Unit: "cft", UnitRate: 60}}}, officer)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, po.ID, shared.Actor{ID: 1, Role: shared.RoleSiteEngineer})
	require.ErrorIs(t, err, ErrForbidden)

	cancelled, err := svc.Cancel(ctx, po.ID, officer)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = svc.Cancel(ctx, po.ID, officer)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
