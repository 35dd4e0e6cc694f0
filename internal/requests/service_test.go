package requests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

type memoryRepo struct {
	requests map[int64]Request
	seq      map[int]int64
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{requests: make(map[int64]Request), seq: make(map[int]int64)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (r *memoryRepo) GetView(ctx context.Context, id int64) (RequestView, error) {
	req, err := r.Get(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	return RequestView{Request: req}, nil
}

func (r *memoryRepo) List(ctx context.Context, limit, offset int, filters ListFilters) ([]Request, int, error) {
	var items []Request
	for _, req := range r.requests {
		if filters.Status != "" && req.Status != filters.Status {
			continue
		}
		items = append(items, req)
	}
	return items, len(items), nil
}

func (tx *memoryTx) Insert(ctx context.Context, req Request) (int64, error) {
	tx.repo.nextID++
	req.ID = tx.repo.nextID
	tx.repo.requests[req.ID] = req
	return req.ID, nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	req, ok := tx.repo.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != from {
		return ErrInvalidTransition
	}
	req.Status = to
	tx.repo.requests[id] = req
	return nil
}

func (tx *memoryTx) SetRejectionNote(ctx context.Context, id int64, note string) error {
	req := tx.repo.requests[id]
	req.RejectionNote = &note
	tx.repo.requests[id] = req
	return nil
}

func (tx *memoryTx) ClearRejectionNote(ctx context.Context, id int64) error {
	req := tx.repo.requests[id]
	req.RejectionNote = nil
	tx.repo.requests[id] = req
	return nil
}

func (tx *memoryTx) MarkClosed(ctx context.Context, id int64, at time.Time) error {
	req := tx.repo.requests[id]
	req.ClosedAt = &at
	tx.repo.requests[id] = req
	return nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, year int) (int64, error) {
	tx.repo.seq[year]++
	return tx.repo.seq[year], nil
}

type stubSites struct{ ids map[int64]bool }

func (s *stubSites) Exists(ctx context.Context, id int64) (bool, error) {
	return s.ids[id], nil
}

var (
	engineer = shared.Actor{ID: 1, Role: shared.RoleSiteEngineer}
	officer  = shared.Actor{ID: 2, Role: shared.RolePurchaseOfficer}
	manager  = shared.Actor{ID: 3, Role: shared.RoleManager}
)

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, &stubSites{ids: map[int64]bool{10: true}}, nil)
}

func createRequest(t *testing.T, svc *Service) Request {
	t.Helper()
	req, err := svc.Create(context.Background(), CreateInput{
		ItemName:   "Cement OPC 53",
		Quantity:   100,
		Unit:       "bags",
		RequiredBy: time.Now().AddDate(0, 0, 7),
		SiteID:     10,
	}, engineer)
	require.NoError(t, err)
	return req
}

func TestCreateRequest(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	req := createRequest(t, svc)
	require.Equal(t, StatusSubmitted, req.Status)
	require.Regexp(t, `^MR-\d{4}-\d{6}$`, req.Number)
}

func TestCreateRequestValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ItemName: "Sand", Quantity: 0, Unit: "cft", SiteID: 10}, engineer)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, CreateInput{ItemName: "Sand", Quantity: 5, Unit: "cft", SiteID: 99}, engineer)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Create(ctx, CreateInput{ItemName: "Sand", Quantity: 5, Unit: "cft", SiteID: 10}, officer)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAdvanceHappyPath(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	req := createRequest(t, svc)

	steps := []struct {
		target Status
		actor  shared.Actor
	}{
		{StatusReadyForCC, officer},
		{StatusCCPending, officer},
		{StatusCCApproved, manager},
		{StatusReadyForPO, officer},
		{StatusPOIssued, officer},
		{StatusDeliveryStage, officer},
		{StatusDelivered, officer},
		{StatusClosed, officer},
	}
	for _, step := range steps {
		updated, err := svc.Advance(ctx, req.ID, step.target, step.actor)
		require.NoError(t, err, "advance to %s", step.target)
		require.Equal(t, step.target, updated.Status)
	}
	closed, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
}

func TestAdvanceUnreachableLeavesStatusUnchanged(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	req := createRequest(t, svc)

	_, err := svc.Advance(ctx, req.ID, StatusDelivered, officer)
	require.ErrorIs(t, err, ErrInvalidTransition)

	current, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, current.Status)
}

func TestAdvanceRoleGate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	req := createRequest(t, svc)

	_, err := svc.Advance(ctx, req.ID, StatusReadyForCC, engineer)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Advance(ctx, req.ID, StatusReadyForCC, officer)
	require.NoError(t, err)
	_, err = svc.Advance(ctx, req.ID, StatusCCPending, officer)
	require.NoError(t, err)

	// Only the manager decides comparisons.
	_, err = svc.Advance(ctx, req.ID, StatusCCApproved, officer)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestDirectPOPathSkipsComparison(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	req := createRequest(t, svc)
	_, err := svc.Advance(ctx, req.ID, StatusPOIssued, officer)
	require.NoError(t, err)

	second := createRequest(t, svc)
	_, err = svc.Advance(ctx, second.ID, StatusReadyForCC, officer)
	require.NoError(t, err)
	updated, err := svc.Advance(ctx, second.ID, StatusPOIssued, officer)
	require.NoError(t, err)
	require.Equal(t, StatusPOIssued, updated.Status)
}

func TestRejectionAndResubmit(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	req := createRequest(t, svc)

	_, err := svc.Advance(ctx, req.ID, StatusReadyForCC, officer)
	require.NoError(t, err)
	_, err = svc.Advance(ctx, req.ID, StatusCCPending, officer)
	require.NoError(t, err)

	require.ErrorIs(t, svc.RecordRejection(ctx, req.ID, "   ", manager), ErrValidation)
	require.ErrorIs(t, svc.RecordRejection(ctx, req.ID, "price too high", officer), ErrForbidden)
	require.NoError(t, svc.RecordRejection(ctx, req.ID, "price too high", manager))

	rejected, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCCRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionNote)
	require.Equal(t, "price too high", *rejected.RejectionNote)

	_, err = svc.Resubmit(ctx, req.ID, engineer)
	require.ErrorIs(t, err, ErrForbidden)

	resubmitted, err := svc.Resubmit(ctx, req.ID, officer)
	require.NoError(t, err)
	require.Equal(t, StatusReadyForCC, resubmitted.Status)
	require.Nil(t, resubmitted.RejectionNote)

	// Resubmit is only valid from CC_REJECTED.
	_, err = svc.Resubmit(ctx, req.ID, officer)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
