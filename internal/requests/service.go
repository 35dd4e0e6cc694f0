package requests

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Request, error)
	GetView(ctx context.Context, id int64) (RequestView, error)
	List(ctx context.Context, limit, offset int, filters ListFilters) ([]Request, int, error)
}

// SitePort verifies the originating site exists.
type SitePort interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the request lifecycle controller. It is the only component that
// writes a request's status; the comparison, purchase order and delivery
// engines drive transitions through it.
type Service struct {
	repo  RepositoryPort
	sites SitePort
	audit AuditPort
}

// NewService constructs the lifecycle controller.
func NewService(repo RepositoryPort, sites SitePort, audit AuditPort) *Service {
	return &Service{repo: repo, sites: sites, audit: audit}
}

// CreateInput describes a new material request.
type CreateInput struct {
	ItemName   string    `json:"item_name" validate:"required,max=200"`
	Quantity   float64   `json:"quantity" validate:"required,gt=0"`
	Unit       string    `json:"unit" validate:"required,max=30"`
	RequiredBy time.Time `json:"required_by" validate:"required"`
	Urgent     bool      `json:"urgent"`
	SiteID     int64     `json:"site_id" validate:"required,gt=0"`
}

// Create raises a new request in SUBMITTED for a site engineer.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (Request, error) {
	if actor.Role != shared.RoleSiteEngineer {
		return Request{}, fmt.Errorf("%w: only a site engineer may raise a request", ErrForbidden)
	}
	if strings.TrimSpace(input.ItemName) == "" {
		return Request{}, fmt.Errorf("%w: item name required", ErrValidation)
	}
	if input.Quantity <= 0 {
		return Request{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if strings.TrimSpace(input.Unit) == "" {
		return Request{}, fmt.Errorf("%w: unit required", ErrValidation)
	}
	if input.SiteID <= 0 {
		return Request{}, fmt.Errorf("%w: site required", ErrValidation)
	}
	if s.sites != nil {
		ok, err := s.sites.Exists(ctx, input.SiteID)
		if err != nil {
			return Request{}, err
		}
		if !ok {
			return Request{}, fmt.Errorf("%w: site %d", ErrNotFound, input.SiteID)
		}
	}

	req := Request{
		ItemName:   strings.TrimSpace(input.ItemName),
		Quantity:   input.Quantity,
		Unit:       strings.TrimSpace(input.Unit),
		RequiredBy: input.RequiredBy,
		Urgent:     input.Urgent,
		SiteID:     input.SiteID,
		CreatedBy:  actor.ID,
		Status:     StatusSubmitted,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		year := time.Now().Year()
		seq, err := tx.NextNumber(ctx, year)
		if err != nil {
			return err
		}
		req.Number = fmt.Sprintf("MR-%d-%06d", year, seq)
		id, err := tx.Insert(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.recordAudit(ctx, actor, "REQUEST_CREATE", req.ID, map[string]any{"number": req.Number, "site_id": req.SiteID})
	return req, nil
}

// Advance validates role and reachability, then atomically writes the new
// status. The compare-and-set in the repository guards against a concurrent
// advance between the read and the write.
func (s *Service) Advance(ctx context.Context, requestID int64, target Status, actor shared.Actor) (Request, error) {
	if !target.IsValid() {
		return Request{}, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if !RoleMayDrive(actor.Role, target) {
		return Request{}, fmt.Errorf("%w: role %s may not move a request to %s", ErrForbidden, actor.Role, target)
	}
	if !req.Status.CanTransition(target) {
		return Request{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, target)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, requestID, req.Status, target); err != nil {
			return err
		}
		if target == StatusClosed {
			return tx.MarkClosed(ctx, requestID, time.Now().UTC())
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.recordAudit(ctx, actor, "REQUEST_ADVANCE", requestID, map[string]any{"from": string(req.Status), "to": string(target)})
	req.Status = target
	return req, nil
}

// RecordRejection moves a request from CC_PENDING to CC_REJECTED and attaches
// the manager's note for display until the next comparison is approved.
func (s *Service) RecordRejection(ctx context.Context, requestID int64, note string, actor shared.Actor) error {
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("%w: rejection note required", ErrValidation)
	}
	if actor.Role != shared.RoleManager {
		return fmt.Errorf("%w: only a manager may reject a comparison", ErrForbidden)
	}
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if !req.Status.CanTransition(StatusCCRejected) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, StatusCCRejected)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, requestID, req.Status, StatusCCRejected); err != nil {
			return err
		}
		return tx.SetRejectionNote(ctx, requestID, note)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "REQUEST_CC_REJECTED", requestID, map[string]any{"note": note})
	return nil
}

// Resubmit returns a rejected request to READY_FOR_CC so a fresh comparison
// can be created. The note reference on the request is cleared; the rejected
// comparison keeps its note for audit.
func (s *Service) Resubmit(ctx context.Context, requestID int64, actor shared.Actor) (Request, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Request{}, fmt.Errorf("%w: only a purchase officer may resubmit", ErrForbidden)
	}
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusCCRejected {
		return Request{}, fmt.Errorf("%w: resubmit only from %s, got %s", ErrInvalidTransition, StatusCCRejected, req.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, requestID, StatusCCRejected, StatusReadyForCC); err != nil {
			return err
		}
		return tx.ClearRejectionNote(ctx, requestID)
	})
	if err != nil {
		return Request{}, err
	}
	s.recordAudit(ctx, actor, "REQUEST_RESUBMIT", requestID, nil)
	req.Status = StatusReadyForCC
	req.RejectionNote = nil
	return req, nil
}

// Get returns a request.
func (s *Service) Get(ctx context.Context, requestID int64) (Request, error) {
	return s.repo.Get(ctx, requestID)
}

// GetView returns the display projection of a request.
func (s *Service) GetView(ctx context.Context, requestID int64) (RequestView, error) {
	return s.repo.GetView(ctx, requestID)
}

// List returns requests with pagination.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]Request, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, filters)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "requests", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
