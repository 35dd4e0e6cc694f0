package purchaseorders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sitewise-erp/sitewise/internal/comparison"
	"github.com/sitewise-erp/sitewise/internal/requests"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error)
}

// LifecyclePort drives linked requests through the lifecycle controller.
type LifecyclePort interface {
	Get(ctx context.Context, requestID int64) (requests.Request, error)
	Advance(ctx context.Context, requestID int64, target requests.Status, actor shared.Actor) (requests.Request, error)
}

// ComparisonPort reads approved comparisons.
type ComparisonPort interface {
	Get(ctx context.Context, id int64) (comparison.Comparison, error)
}

// VendorPort verifies the ordered vendor exists.
type VendorPort interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// SitePort verifies the delivery site exists.
type SitePort interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service issues purchase orders from approved comparisons or directly on the
// emergency path.
type Service struct {
	repo        RepositoryPort
	lifecycle   LifecyclePort
	comparisons ComparisonPort
	vendors     VendorPort
	sites       SitePort
	audit       AuditPort
}

// NewService constructs the purchase order issuer.
func NewService(repo RepositoryPort, lifecycle LifecyclePort, comparisons ComparisonPort, vendors VendorPort, sites SitePort, audit AuditPort) *Service {
	return &Service{repo: repo, lifecycle: lifecycle, comparisons: comparisons, vendors: vendors, sites: sites, audit: audit}
}

// IssueFromComparisonInput carries the commercial terms the comparison does
// not hold.
type IssueFromComparisonInput struct {
	ValidTill   time.Time `json:"valid_till" validate:"required"`
	HSNCode     string    `json:"hsn_code" validate:"max=20"`
	DiscountPct float64   `json:"discount_pct" validate:"gte=0,lte=100"`
	SGSTPct     float64   `json:"sgst_pct" validate:"gte=0"`
	CGSTPct     float64   `json:"cgst_pct" validate:"gte=0"`
	Notes       string    `json:"notes" validate:"max=2000"`
}

// IssueFromComparison copies the winning quote of an approved comparison into
// a single-line purchase order and moves the request to PO_ISSUED.
func (s *Service) IssueFromComparison(ctx context.Context, comparisonID int64, input IssueFromComparisonInput, actor shared.Actor) (PurchaseOrder, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return PurchaseOrder{}, fmt.Errorf("%w: only a purchase officer may issue an order", ErrForbidden)
	}
	if !input.ValidTill.After(time.Now()) {
		return PurchaseOrder{}, fmt.Errorf("%w: valid_till %s", ErrExpiredWindow, input.ValidTill.Format("2006-01-02"))
	}

	cmp, err := s.comparisons.Get(ctx, comparisonID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if cmp.Status != comparison.DecisionApproved || cmp.WinningQuoteID == nil {
		return PurchaseOrder{}, fmt.Errorf("%w: comparison %d is not approved", ErrValidation, comparisonID)
	}
	var winner comparison.Quote
	for _, q := range cmp.Quotes {
		if q.ID == *cmp.WinningQuoteID {
			winner = q
			break
		}
	}
	if winner.ID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: winning quote missing on comparison %d", ErrValidation, comparisonID)
	}

	req, err := s.lifecycle.Get(ctx, cmp.RequestID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if req.Status != requests.StatusReadyForPO {
		return PurchaseOrder{}, fmt.Errorf("%w: request is %s, want %s", ErrValidation, req.Status, requests.StatusReadyForPO)
	}

	amounts := CalculateLine(req.Quantity, winner.UnitRate, 1, input.DiscountPct, input.SGSTPct, input.CGSTPct)
	po := PurchaseOrder{
		VendorID:     winner.VendorID,
		SiteID:       req.SiteID,
		ComparisonID: &cmp.ID,
		Status:       StatusIssued,
		ValidTill:    input.ValidTill,
		Notes:        input.Notes,
		CreatedBy:    actor.ID,
		Lines: []Line{{
			RequestID:    &req.ID,
			Description:  req.ItemName,
			HSNCode:      input.HSNCode,
			Quantity:     req.Quantity,
			Unit:         req.Unit,
			UnitRate:     winner.UnitRate,
			PerUnitBasis: 1,
			DiscountPct:  input.DiscountPct,
			SGSTPct:      input.SGSTPct,
			CGSTPct:      input.CGSTPct,
			LineTotal:    amounts.Total,
		}},
	}
	if err := s.persist(ctx, &po); err != nil {
		return PurchaseOrder{}, err
	}
	if _, err := s.lifecycle.Advance(ctx, req.ID, requests.StatusPOIssued, actor); err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_ISSUE_FROM_CC", po.ID, map[string]any{"number": po.Number, "comparison_id": cmp.ID})
	return po, nil
}

// LineInput is one item on a direct purchase order.
type LineInput struct {
	RequestID    *int64  `json:"request_id"`
	Description  string  `json:"description" validate:"required,max=300"`
	HSNCode      string  `json:"hsn_code" validate:"max=20"`
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	Unit         string  `json:"unit" validate:"required,max=30"`
	UnitRate     float64 `json:"unit_rate" validate:"required,gt=0"`
	PerUnitBasis float64 `json:"per_unit_basis"`
	DiscountPct  float64 `json:"discount_pct" validate:"gte=0,lte=100"`
	SGSTPct      float64 `json:"sgst_pct" validate:"gte=0"`
	CGSTPct      float64 `json:"cgst_pct" validate:"gte=0"`
}

// IssueDirectInput describes an emergency purchase order.
type IssueDirectInput struct {
	VendorID  int64       `json:"vendor_id" validate:"required,gt=0"`
	SiteID    int64       `json:"site_id" validate:"required,gt=0"`
	ValidTill time.Time   `json:"valid_till" validate:"required"`
	Notes     string      `json:"notes" validate:"max=2000"`
	Lines     []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// IssueDirect creates a multi-line purchase order bypassing the comparison
// step. Lines may link pre-PO requests, which all advance to PO_ISSUED, or
// carry no request at all for pure emergency procurement.
func (s *Service) IssueDirect(ctx context.Context, input IssueDirectInput, actor shared.Actor) (PurchaseOrder, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return PurchaseOrder{}, fmt.Errorf("%w: only a purchase officer may issue an order", ErrForbidden)
	}
	if !input.ValidTill.After(time.Now()) {
		return PurchaseOrder{}, fmt.Errorf("%w: valid_till %s", ErrExpiredWindow, input.ValidTill.Format("2006-01-02"))
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}

	ok, err := s.vendors.Exists(ctx, input.VendorID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: vendor %d", ErrNotFound, input.VendorID)
	}
	ok, err = s.sites.Exists(ctx, input.SiteID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: site %d", ErrNotFound, input.SiteID)
	}

	po := PurchaseOrder{
		VendorID:  input.VendorID,
		SiteID:    input.SiteID,
		Status:    StatusIssued,
		ValidTill: input.ValidTill,
		Notes:     input.Notes,
		CreatedBy: actor.ID,
	}
	var linked []int64
	for i, in := range input.Lines {
		if strings.TrimSpace(in.Description) == "" {
			return PurchaseOrder{}, fmt.Errorf("%w: line %d description required", ErrValidation, i+1)
		}
		if in.Quantity <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i+1)
		}
		if in.UnitRate <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: line %d rate must be positive", ErrValidation, i+1)
		}
		basis := in.PerUnitBasis
		if basis == 0 {
			basis = 1
		}
		if basis < 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: line %d per-unit basis must be positive", ErrValidation, i+1)
		}
		if in.DiscountPct < 0 || in.DiscountPct > 100 {
			return PurchaseOrder{}, fmt.Errorf("%w: line %d discount out of range", ErrValidation, i+1)
		}
		if in.SGSTPct < 0 || in.CGSTPct < 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: line %d tax must not be negative", ErrValidation, i+1)
		}
		if in.RequestID != nil {
			req, err := s.lifecycle.Get(ctx, *in.RequestID)
			if err != nil {
				return PurchaseOrder{}, err
			}
			if !req.Status.CanTransition(requests.StatusPOIssued) {
				return PurchaseOrder{}, fmt.Errorf("%w: request %s is %s", ErrValidation, req.Number, req.Status)
			}
			linked = append(linked, *in.RequestID)
		}
		amounts := CalculateLine(in.Quantity, in.UnitRate, basis, in.DiscountPct, in.SGSTPct, in.CGSTPct)
		po.Lines = append(po.Lines, Line{
			RequestID:    in.RequestID,
			Description:  strings.TrimSpace(in.Description),
			HSNCode:      in.HSNCode,
			Quantity:     in.Quantity,
			Unit:         in.Unit,
			UnitRate:     in.UnitRate,
			PerUnitBasis: basis,
			DiscountPct:  in.DiscountPct,
			SGSTPct:      in.SGSTPct,
			CGSTPct:      in.CGSTPct,
			LineTotal:    amounts.Total,
		})
	}

	if err := s.persist(ctx, &po); err != nil {
		return PurchaseOrder{}, err
	}
	for _, requestID := range linked {
		if _, err := s.lifecycle.Advance(ctx, requestID, requests.StatusPOIssued, actor); err != nil {
			return PurchaseOrder{}, err
		}
	}
	s.recordAudit(ctx, actor, "PO_ISSUE_DIRECT", po.ID, map[string]any{"number": po.Number, "lines": len(po.Lines)})
	return po, nil
}

func (s *Service) persist(ctx context.Context, po *PurchaseOrder) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		year := time.Now().Year()
		seq, err := tx.NextNumber(ctx, year)
		if err != nil {
			return err
		}
		po.Number = fmt.Sprintf("PO-%d-%06d", year, seq)
		id, err := tx.Insert(ctx, *po)
		if err != nil {
			return err
		}
		po.ID = id
		for i := range po.Lines {
			po.Lines[i].POID = id
			po.Lines[i].ID, err = tx.InsertLine(ctx, po.Lines[i])
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Cancel flags an issued order as cancelled. Lines stay immutable; a
// replacement order must be issued fresh.
func (s *Service) Cancel(ctx context.Context, poID int64, actor shared.Actor) (PurchaseOrder, error) {
	if actor.Role != shared.RolePurchaseOfficer && actor.Role != shared.RoleManager {
		return PurchaseOrder{}, fmt.Errorf("%w: role %s may not cancel an order", ErrForbidden, actor.Role)
	}
	now := time.Now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Cancel(ctx, poID, now)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_CANCEL", poID, nil)
	return s.repo.Get(ctx, poID)
}

// Get returns a purchase order with lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns purchase orders with pagination.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, filters)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "purchase_orders", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
