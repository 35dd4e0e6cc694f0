package comparison

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/requests"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

type memoryRepo struct {
	comparisons map[int64]Comparison
	nextID      int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{comparisons: make(map[int64]Comparison)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Comparison, error) {
	cmp, ok := r.comparisons[id]
	if !ok {
		return Comparison{}, ErrNotFound
	}
	return cmp, nil
}

func (r *memoryRepo) ListByRequest(ctx context.Context, requestID int64) ([]Comparison, error) {
	var items []Comparison
	for _, cmp := range r.comparisons {
		if cmp.RequestID == requestID {
			items = append(items, cmp)
		}
	}
	return items, nil
}

func (r *memoryRepo) HasActive(ctx context.Context, requestID int64) (bool, error) {
	for _, cmp := range r.comparisons {
		if cmp.RequestID == requestID && cmp.Status != DecisionRejected {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) Insert(ctx context.Context, cmp Comparison) (int64, error) {
	tx.repo.nextID++
	cmp.ID = tx.repo.nextID
	tx.repo.comparisons[cmp.ID] = cmp
	return cmp.ID, nil
}

func (tx *memoryTx) InsertQuote(ctx context.Context, q Quote) (int64, error) {
	tx.repo.nextID++
	q.ID = tx.repo.nextID
	cmp := tx.repo.comparisons[q.ComparisonID]
	cmp.Quotes = append(cmp.Quotes, q)
	tx.repo.comparisons[q.ComparisonID] = cmp
	return q.ID, nil
}

func (tx *memoryTx) Decide(ctx context.Context, id int64, outcome Decision, note *string, winningQuoteID *int64, decidedBy int64, at time.Time) error {
	cmp, ok := tx.repo.comparisons[id]
	if !ok {
		return ErrNotFound
	}
	if cmp.Status != DecisionPending {
		return ErrInvalidTransition
	}
	cmp.Status = outcome
	cmp.Note = note
	cmp.WinningQuoteID = winningQuoteID
	cmp.DecidedBy = &decidedBy
	cmp.DecidedAt = &at
	tx.repo.comparisons[id] = cmp
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, id int64) error {
	delete(tx.repo.comparisons, id)
	return nil
}

// stubLifecycle tracks request statuses and enforces the same reachability
// rules as the lifecycle controller.
type stubLifecycle struct {
	statuses map[int64]requests.Status
	notes    map[int64]string
}

func newStubLifecycle() *stubLifecycle {
	return &stubLifecycle{statuses: make(map[int64]requests.Status), notes: make(map[int64]string)}
}

func (l *stubLifecycle) Get(ctx context.Context, requestID int64) (requests.Request, error) {
	status, ok := l.statuses[requestID]
	if !ok {
		return requests.Request{}, requests.ErrNotFound
	}
	return requests.Request{ID: requestID, Status: status}, nil
}

func (l *stubLifecycle) Advance(ctx context.Context, requestID int64, target requests.Status, actor shared.Actor) (requests.Request, error) {
	current, ok := l.statuses[requestID]
	if !ok {
		return requests.Request{}, requests.ErrNotFound
	}
	if !requests.RoleMayDrive(actor.Role, target) {
		return requests.Request{}, requests.ErrForbidden
	}
	if !current.CanTransition(target) {
		return requests.Request{}, fmt.Errorf("%w: %s -> %s", requests.ErrInvalidTransition, current, target)
	}
	l.statuses[requestID] = target
	return requests.Request{ID: requestID, Status: target}, nil
}

func (l *stubLifecycle) RecordRejection(ctx context.Context, requestID int64, note string, actor shared.Actor) error {
	if _, err := l.Advance(ctx, requestID, requests.StatusCCRejected, actor); err != nil {
		return err
	}
	l.notes[requestID] = note
	return nil
}

type stubVendors struct{ ids map[int64]bool }

func (s *stubVendors) Exists(ctx context.Context, id int64) (bool, error) {
	return s.ids[id], nil
}

var (
	officer = shared.Actor{ID: 2, Role: shared.RolePurchaseOfficer}
	manager = shared.Actor{ID: 3, Role: shared.RoleManager}
)

func newTestService() (*Service, *memoryRepo, *stubLifecycle) {
	repo := newMemoryRepo()
	lifecycle := newStubLifecycle()
	vendors := &stubVendors{ids: map[int64]bool{1: true, 2: true, 3: true}}
	return NewService(repo, lifecycle, vendors, nil), repo, lifecycle
}

func TestCreateComparison(t *testing.T) {
	svc, _, lifecycle := newTestService()
	lifecycle.statuses[100] = requests.StatusReadyForCC
	ctx := context.Background()

	cmp, err := svc.Create(ctx, CreateInput{
		RequestID: 100,
		Quotes: []QuoteInput{
			{VendorID: 1, UnitRate: 48},
			{VendorID: 2, UnitRate: 45, Note: "includes freight"},
		},
	}, officer)
	require.NoError(t, err)
	require.Equal(t, DecisionPending, cmp.Status)
	require.Len(t, cmp.Quotes, 2)
	require.Equal(t, 1, cmp.Quotes[0].Position)
	require.Equal(t, requests.StatusCCPending, lifecycle.statuses[100])
}

func TestCreateComparisonValidation(t *testing.T) {
	svc, _, lifecycle := newTestService()
	lifecycle.statuses[100] = requests.StatusReadyForCC
	lifecycle.statuses[101] = requests.StatusSubmitted
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{RequestID: 100}, officer)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, CreateInput{RequestID: 100, Quotes: []QuoteInput{{VendorID: 1, UnitRate: 0}}}, officer)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, CreateInput{RequestID: 100, Quotes: []QuoteInput{{VendorID: 99, UnitRate: 45}}}, officer)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Create(ctx, CreateInput{RequestID: 101, Quotes: []QuoteInput{{VendorID: 1, UnitRate: 45}}}, officer)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Create(ctx, CreateInput{RequestID: 100, Quotes: []QuoteInput{{VendorID: 1, UnitRate: 45}}}, manager)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSingleActiveComparison(t *testing.T) {
	svc, _, lifecycle := newTestService()
	lifecycle.statuses[100] = requests.StatusReadyForCC
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{RequestID: 100, Quotes: []QuoteInput{{VendorID: 1, UnitRate: 45}}}, officer)
	require.NoError(t, err)

	// Force the request back without clearing the pending comparison.
	lifecycle.statuses[100] = requests.StatusReadyForCC
	_, err = svc.Create(ctx, CreateInput{RequestID: 100, Quotes: []QuoteInput{{VendorID: 2, UnitRate: 40}}}, officer)
	require.ErrorIs(t, err, ErrActiveExists)
}

func TestApproveDefaultsToCheapest(t *testing.T) {
	svc, repo, lifecycle := newTestService()
	lifecycle.statuses[100] = requests.StatusReadyForCC
	ctx := context.Background()

	cmp, err := svc.Create(ctx, CreateInput{
		RequestID: 100,
		Quotes: []QuoteInput{
			{VendorID: 1, UnitRate: 48},
			{VendorID: 2, UnitRate: 45},
			{VendorID: 3, UnitRate: 45},
		},
	}, officer)
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, cmp.ID, DecideInput{Outcome: "approve"}, manager)
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, decided.Status)
	require.NotNil(t, decided.WinningQuoteID)
	// Rate tie between vendors 2 and 3 resolves to the earlier position.
	require.Equal(t, cmp.Quotes[1].ID, *decided.WinningQuoteID)
	require.Equal(t, requests.StatusReadyForPO, lifecycle.statuses[100])

	stored, err := repo.Get(ctx, cmp.ID)
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, stored.Status)
}

func TestApproveWithOverride(t *testing.T) {
	svc, _, lifecycle := newTestService()
	lifecycle.statuses[100] = requests.StatusReadyForCC
	ctx := context.Background()

	cmp, err := svc.Create(ctx, CreateInput{
		RequestID: 100,
		Quotes: []QuoteInput{
			{VendorID: 1, UnitRate: 45},
			{VendorID: 2, UnitRate: 52},
		},
	}, officer)
	require.NoError(t, err)

	pricier := cmp.Quotes[1].ID
	decided, err := svc.Decide(ctx, cmp.ID, DecideInput{Outcome: "approve", WinningQuoteID: &pricier}, manager)
	require.NoError(t, err)
	require.Equal(t, pricier, *decided.WinningQuoteID)

	bogus := int64(9999)
	lifecycle.statuses[200] = requests.StatusReadyForCC
	cmp2, err := svc.Create(ctx, CreateInput{RequestID: 200, Quotes: []QuoteInput{{VendorID: 1, UnitRate: 45}}}, officer)
	require.NoError(t, err)
	_, err = svc.Decide(ctx, cmp2.ID, DecideInput{Outcome: "approve", WinningQuoteID: &bogus}, manager)
	require.ErrorIs(t, err, ErrValidation)
}

func TestRejectRequiresNote(t *testing.T) {
	svc, _, lifecycle := newTestService()
	lifecycle.statuses[100] = requests.StatusReadyForCC
	ctx := context.Background()

	cmp, err := svc.Create(ctx, CreateInput{RequestID: 100, Quotes: []QuoteInput{{VendorID: 1, UnitRate: 45}}}, officer)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, cmp.ID, DecideInput{Outcome: "reject"}, manager)
	require.ErrorIs(t, err, ErrValidation)

	decided, err := svc.Decide(ctx, cmp.ID, DecideInput{Outcome: "reject", Note: "rates above budget"}, manager)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, decided.Status)
	require.Equal(t, "rates above budget", *decided.Note)
	require.Equal(t, requests.StatusCCRejected, lifecycle.statuses[100])
	require.Equal(t, "rates above budget", lifecycle.notes[100])
}

func TestDecideIsFinal(t *testing.T) {
	svc, _, lifecycle := newTestService()
	lifecycle.statuses[100] = requests.StatusReadyForCC
	ctx := context.Background()

	cmp, err := svc.Create(ctx, CreateInput{RequestID: 100, Quotes: []QuoteInput{{VendorID: 1, UnitRate: 45}}}, officer)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, cmp.ID, DecideInput{Outcome: "approve"}, officer)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Decide(ctx, cmp.ID, DecideInput{Outcome: "approve"}, manager)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, cmp.ID, DecideInput{Outcome: "reject", Note: "changed my mind"}, manager)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCheapestDeterministic(t *testing.T) {
	_, ok := Cheapest(nil)
	require.False(t, ok)

	quotes := []Quote{
		{ID: 1, UnitRate: 50, Position: 1},
		{ID: 2, UnitRate: 45, Position: 2},
		{ID: 3, UnitRate: 45, Position: 3},
	}
	best, ok := Cheapest(quotes)
	require.True(t, ok)
	require.Equal(t, int64(2), best.ID)

	// Same set in a different slice order still picks the lowest position.
	shuffled := []Quote{quotes[2], quotes[0], quotes[1]}
	best, ok = Cheapest(shuffled)
	require.True(t, ok)
	require.Equal(t, int64(2), best.ID)
}
