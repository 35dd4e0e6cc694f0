package comparison

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewise-erp/sitewise/internal/requests"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Comparison, error)
	ListByRequest(ctx context.Context, requestID int64) ([]Comparison, error)
	HasActive(ctx context.Context, requestID int64) (bool, error)
}

// LifecyclePort drives request status through the lifecycle controller. The
// comparison engine never writes a request's status itself.
type LifecyclePort interface {
	Get(ctx context.Context, requestID int64) (requests.Request, error)
	Advance(ctx context.Context, requestID int64, target requests.Status, actor shared.Actor) (requests.Request, error)
	RecordRejection(ctx context.Context, requestID int64, note string, actor shared.Actor) error
}

// VendorPort verifies quoted vendors exist.
type VendorPort interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service builds and decides cost comparisons.
type Service struct {
	repo      RepositoryPort
	lifecycle LifecyclePort
	vendors   VendorPort
	audit     AuditPort
}

// NewService constructs the comparison engine.
func NewService(repo RepositoryPort, lifecycle LifecyclePort, vendors VendorPort, audit AuditPort) *Service {
	return &Service{repo: repo, lifecycle: lifecycle, vendors: vendors, audit: audit}
}

// QuoteInput is one vendor offer in a new comparison.
type QuoteInput struct {
	VendorID int64   `json:"vendor_id" validate:"required,gt=0"`
	UnitRate float64 `json:"unit_rate" validate:"required,gt=0"`
	Note     string  `json:"note" validate:"max=500"`
}

// CreateInput describes a new comparison.
type CreateInput struct {
	RequestID int64        `json:"request_id" validate:"required,gt=0"`
	Quotes    []QuoteInput `json:"quotes" validate:"required,min=1,dive"`
}

// Create persists a pending comparison for a READY_FOR_CC request and moves
// the request to CC_PENDING.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (Comparison, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Comparison{}, fmt.Errorf("%w: only a purchase officer may create a comparison", ErrForbidden)
	}
	if len(input.Quotes) == 0 {
		return Comparison{}, fmt.Errorf("%w: at least one quote required", ErrValidation)
	}
	for i, q := range input.Quotes {
		if q.UnitRate <= 0 {
			return Comparison{}, fmt.Errorf("%w: quote %d rate must be positive", ErrValidation, i+1)
		}
		ok, err := s.vendors.Exists(ctx, q.VendorID)
		if err != nil {
			return Comparison{}, err
		}
		if !ok {
			return Comparison{}, fmt.Errorf("%w: vendor %d", ErrNotFound, q.VendorID)
		}
	}

	req, err := s.lifecycle.Get(ctx, input.RequestID)
	if err != nil {
		return Comparison{}, err
	}
	if req.Status != requests.StatusReadyForCC {
		return Comparison{}, fmt.Errorf("%w: request is %s, want %s", ErrInvalidTransition, req.Status, requests.StatusReadyForCC)
	}
	active, err := s.repo.HasActive(ctx, input.RequestID)
	if err != nil {
		return Comparison{}, err
	}
	if active {
		return Comparison{}, ErrActiveExists
	}

	cmp := Comparison{RequestID: input.RequestID, Status: DecisionPending, CreatedBy: actor.ID}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, cmp)
		if err != nil {
			return err
		}
		cmp.ID = id
		for i, q := range input.Quotes {
			quote := Quote{ComparisonID: id, VendorID: q.VendorID, UnitRate: q.UnitRate, Position: i + 1, Note: q.Note}
			quote.ID, err = tx.InsertQuote(ctx, quote)
			if err != nil {
				return err
			}
			cmp.Quotes = append(cmp.Quotes, quote)
		}
		return nil
	})
	if err != nil {
		return Comparison{}, err
	}

	if _, err := s.lifecycle.Advance(ctx, input.RequestID, requests.StatusCCPending, actor); err != nil {
		// The request moved under us. Remove the orphaned pending comparison
		// so the single-active invariant holds for the next attempt.
		_ = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.Delete(ctx, cmp.ID)
		})
		return Comparison{}, err
	}
	s.recordAudit(ctx, actor, "COMPARISON_CREATE", cmp.ID, map[string]any{"request_id": input.RequestID, "quotes": len(input.Quotes)})
	return cmp, nil
}

// DecideInput carries the manager's decision.
type DecideInput struct {
	Outcome        string `json:"outcome" validate:"required,oneof=approve reject"`
	WinningQuoteID *int64 `json:"winning_quote_id"`
	Note           string `json:"note" validate:"max=1000"`
}

// Decide records the manager's outcome on a pending comparison. Approval
// selects a winning quote, defaulting to the cheapest, and moves the request
// through CC_APPROVED to READY_FOR_PO. Rejection requires a note and routes
// the request back for resubmission.
func (s *Service) Decide(ctx context.Context, comparisonID int64, input DecideInput, actor shared.Actor) (Comparison, error) {
	if actor.Role != shared.RoleManager {
		return Comparison{}, fmt.Errorf("%w: only a manager may decide a comparison", ErrForbidden)
	}
	cmp, err := s.repo.Get(ctx, comparisonID)
	if err != nil {
		return Comparison{}, err
	}
	if cmp.Status != DecisionPending {
		return Comparison{}, fmt.Errorf("%w: comparison already %s", ErrInvalidTransition, cmp.Status)
	}

	switch input.Outcome {
	case "approve":
		return s.approve(ctx, cmp, input, actor)
	case "reject":
		return s.reject(ctx, cmp, input, actor)
	default:
		return Comparison{}, fmt.Errorf("%w: outcome must be approve or reject", ErrValidation)
	}
}

func (s *Service) approve(ctx context.Context, cmp Comparison, input DecideInput, actor shared.Actor) (Comparison, error) {
	winner, ok := Cheapest(cmp.Quotes)
	if !ok {
		return Comparison{}, fmt.Errorf("%w: comparison has no quotes", ErrValidation)
	}
	if input.WinningQuoteID != nil {
		found := false
		for _, q := range cmp.Quotes {
			if q.ID == *input.WinningQuoteID {
				winner = q
				found = true
				break
			}
		}
		if !found {
			return Comparison{}, fmt.Errorf("%w: quote %d is not part of comparison %d", ErrValidation, *input.WinningQuoteID, cmp.ID)
		}
	}

	now := time.Now().UTC()
	var note *string
	if input.Note != "" {
		note = &input.Note
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Decide(ctx, cmp.ID, DecisionApproved, note, &winner.ID, actor.ID, now)
	})
	if err != nil {
		return Comparison{}, err
	}
	if _, err := s.lifecycle.Advance(ctx, cmp.RequestID, requests.StatusCCApproved, actor); err != nil {
		return Comparison{}, err
	}
	if _, err := s.lifecycle.Advance(ctx, cmp.RequestID, requests.StatusReadyForPO, actor); err != nil {
		return Comparison{}, err
	}

	cmp.Status = DecisionApproved
	cmp.Note = note
	cmp.WinningQuoteID = &winner.ID
	cmp.DecidedBy = &actor.ID
	cmp.DecidedAt = &now
	s.recordAudit(ctx, actor, "COMPARISON_APPROVE", cmp.ID, map[string]any{"winning_quote_id": winner.ID, "vendor_id": winner.VendorID})
	return cmp, nil
}

func (s *Service) reject(ctx context.Context, cmp Comparison, input DecideInput, actor shared.Actor) (Comparison, error) {
	if input.Note == "" {
		return Comparison{}, fmt.Errorf("%w: rejection note required", ErrValidation)
	}
	now := time.Now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Decide(ctx, cmp.ID, DecisionRejected, &input.Note, nil, actor.ID, now)
	})
	if err != nil {
		return Comparison{}, err
	}
	if err := s.lifecycle.RecordRejection(ctx, cmp.RequestID, input.Note, actor); err != nil {
		return Comparison{}, err
	}

	cmp.Status = DecisionRejected
	cmp.Note = &input.Note
	cmp.DecidedBy = &actor.ID
	cmp.DecidedAt = &now
	s.recordAudit(ctx, actor, "COMPARISON_REJECT", cmp.ID, map[string]any{"note": input.Note})
	return cmp, nil
}

// Get returns a comparison with quotes.
func (s *Service) Get(ctx context.Context, id int64) (Comparison, error) {
	return s.repo.Get(ctx, id)
}

// ListByRequest returns a request's comparison history, newest first.
func (s *Service) ListByRequest(ctx context.Context, requestID int64) ([]Comparison, error) {
	return s.repo.ListByRequest(ctx, requestID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "comparisons", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
