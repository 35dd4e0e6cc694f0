package delivery

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sitewise-erp/sitewise/internal/requests"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Challan, error)
	GetItem(ctx context.Context, challanID, itemID int64) (Item, error)
	List(ctx context.Context, limit, offset int, filters ListFilters) ([]Challan, int, error)
	UpsertEvidence(ctx context.Context, ev Evidence) error
	SetEvidenceWarning(ctx context.Context, challanID int64, warning *string) error
}

// LifecyclePort drives request status through the lifecycle controller.
type LifecyclePort interface {
	Get(ctx context.Context, requestID int64) (requests.Request, error)
	Advance(ctx context.Context, requestID int64, target requests.Status, actor shared.Actor) (requests.Request, error)
}

// InventoryPort posts confirmed deliveries into the stock ledger. The key
// dedupes repeated postings for the same challan item.
type InventoryPort interface {
	AdjustForDelivery(ctx context.Context, itemID int64, qty float64, key string) error
}

// StoragePort uploads evidence photos to the external object store.
type StoragePort interface {
	Upload(ctx context.Context, filename string, content io.Reader) (url, key string, err error)
}

// JobPort schedules the evidence attach retry when the database write fails
// after a successful upload.
type JobPort interface {
	EnqueueEvidenceRetry(ctx context.Context, challanID int64, kind, url, key string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reconciles physical deliveries against requests. The over-delivery
// guard and the item writes share one transaction with the request rows
// locked, so concurrent challans serialize per request.
type Service struct {
	repo      RepositoryPort
	lifecycle LifecyclePort
	inventory InventoryPort
	storage   StoragePort
	jobs      JobPort
	audit     AuditPort
}

// NewService constructs the delivery reconciliation engine.
func NewService(repo RepositoryPort, lifecycle LifecyclePort, inventory InventoryPort, storage StoragePort, jobs JobPort, audit AuditPort) *Service {
	return &Service{repo: repo, lifecycle: lifecycle, inventory: inventory, storage: storage, jobs: jobs, audit: audit}
}

// ItemInput is one request's share of a challan.
type ItemInput struct {
	RequestID       int64   `json:"request_id" validate:"required,gt=0"`
	InventoryItemID *int64  `json:"inventory_item_id"`
	Quantity        float64 `json:"quantity" validate:"required,gt=0"`
}

// CreateInput describes a new challan.
type CreateInput struct {
	POID           *int64        `json:"po_id"`
	Mode           Mode          `json:"mode" validate:"required"`
	CarrierName    string        `json:"carrier_name" validate:"required,max=120"`
	CarrierContact string        `json:"carrier_contact" validate:"max=30"`
	VehicleNumber  string        `json:"vehicle_number" validate:"max=20"`
	ReceiverName   string        `json:"receiver_name" validate:"required,max=120"`
	PaymentAmount  float64       `json:"payment_amount" validate:"gte=0"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	Items          []ItemInput   `json:"items" validate:"required,min=1,dive"`
}

// CreateChallan records a dispatch. Items from distinct requests may ride on
// one challan; every affected request is checked against its ordered quantity
// and moved to DELIVERY_STAGE.
func (s *Service) CreateChallan(ctx context.Context, input CreateInput, actor shared.Actor) (Challan, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Challan{}, fmt.Errorf("%w: only a purchase officer may record a delivery", ErrForbidden)
	}
	if !input.Mode.IsValid() {
		return Challan{}, fmt.Errorf("%w: unknown delivery mode %q", ErrValidation, input.Mode)
	}
	if strings.TrimSpace(input.CarrierName) == "" || strings.TrimSpace(input.ReceiverName) == "" {
		return Challan{}, fmt.Errorf("%w: carrier and receiver names required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return Challan{}, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	perRequest := make(map[int64]float64)
	for i, item := range input.Items {
		if item.Quantity <= 0 {
			return Challan{}, fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i+1)
		}
		perRequest[item.RequestID] += item.Quantity
	}
	payment := input.PaymentStatus
	if payment == "" {
		payment = PaymentPending
	}

	dc := Challan{
		Ref:            uuid.NewString(),
		POID:           input.POID,
		Mode:           input.Mode,
		CarrierName:    strings.TrimSpace(input.CarrierName),
		CarrierContact: input.CarrierContact,
		VehicleNumber:  input.VehicleNumber,
		ReceiverName:   strings.TrimSpace(input.ReceiverName),
		PaymentAmount:  input.PaymentAmount,
		PaymentStatus:  payment,
		Status:         StatusPending,
		CreatedBy:      actor.ID,
	}

	// Lock requests in id order so two challans touching the same set never
	// deadlock.
	ids := make([]int64, 0, len(perRequest))
	for id := range perRequest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	toStage := make([]int64, 0, len(ids))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, requestID := range ids {
			ordered, status, err := tx.LockRequest(ctx, requestID)
			if err != nil {
				return err
			}
			if status != string(requests.StatusPOIssued) && status != string(requests.StatusDeliveryStage) {
				return fmt.Errorf("%w: request %d is %s, want an issued order", ErrValidation, requestID, status)
			}
			reserved, err := tx.ReservedQty(ctx, requestID)
			if err != nil {
				return err
			}
			if reserved+perRequest[requestID] > ordered {
				return fmt.Errorf("%w: request %d has %.3f of %.3f accounted, cannot add %.3f",
					ErrOverDelivery, requestID, reserved, ordered, perRequest[requestID])
			}
			if status == string(requests.StatusPOIssued) {
				toStage = append(toStage, requestID)
			}
		}
		id, err := tx.InsertChallan(ctx, dc)
		if err != nil {
			return err
		}
		dc.ID = id
		for _, in := range input.Items {
			item := Item{ChallanID: id, RequestID: in.RequestID, InventoryItemID: in.InventoryItemID,
				Quantity: in.Quantity, Status: ItemPending}
			item.ID, err = tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			dc.Items = append(dc.Items, item)
		}
		return nil
	})
	if err != nil {
		return Challan{}, err
	}

	for _, requestID := range toStage {
		if _, err := s.lifecycle.Advance(ctx, requestID, requests.StatusDeliveryStage, actor); err != nil {
			return Challan{}, err
		}
	}
	s.recordAudit(ctx, actor, "DC_CREATE", dc.ID, map[string]any{"ref": dc.Ref, "items": len(dc.Items)})
	return dc, nil
}

// MarkItemDelivered confirms one item arrived. Safe to repeat: the status
// flip is a compare-and-set and the stock posting is deduped by its key, so a
// retry after a failed posting completes the ledger write.
func (s *Service) MarkItemDelivered(ctx context.Context, challanID, itemID int64, actor shared.Actor) (Challan, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Challan{}, fmt.Errorf("%w: only a purchase officer may confirm a delivery", ErrForbidden)
	}
	item, err := s.repo.GetItem(ctx, challanID, itemID)
	if err != nil {
		return Challan{}, err
	}

	var changed bool
	var ordered, delivered float64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		changed, err = tx.MarkItemDelivered(ctx, itemID, time.Now().UTC())
		if err != nil {
			return err
		}
		pending, err := tx.PendingItemCount(ctx, challanID)
		if err != nil {
			return err
		}
		if pending == 0 {
			if err := tx.SetChallanDelivered(ctx, challanID); err != nil {
				return err
			}
		}
		ordered, _, err = tx.LockRequest(ctx, item.RequestID)
		if err != nil {
			return err
		}
		delivered, err = tx.DeliveredQty(ctx, item.RequestID)
		return err
	})
	if err != nil {
		return Challan{}, err
	}

	if item.InventoryItemID != nil && s.inventory != nil {
		key := fmt.Sprintf("DC:%d:%d", challanID, itemID)
		if err := s.inventory.AdjustForDelivery(ctx, *item.InventoryItemID, item.Quantity, key); err != nil {
			return Challan{}, err
		}
	}

	if delivered >= ordered {
		if err := s.closeRequest(ctx, item.RequestID, actor); err != nil {
			return Challan{}, err
		}
	}
	if changed {
		s.recordAudit(ctx, actor, "DC_ITEM_DELIVERED", challanID, map[string]any{"item_id": itemID, "request_id": item.RequestID})
	}
	return s.repo.Get(ctx, challanID)
}

// closeRequest walks a fully accounted request to DELIVERED and CLOSED,
// tolerating repeats that already moved it part way.
func (s *Service) closeRequest(ctx context.Context, requestID int64, actor shared.Actor) error {
	req, err := s.lifecycle.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status == requests.StatusDeliveryStage {
		if _, err := s.lifecycle.Advance(ctx, requestID, requests.StatusDelivered, actor); err != nil {
			return err
		}
		req.Status = requests.StatusDelivered
	}
	if req.Status == requests.StatusDelivered {
		if _, err := s.lifecycle.Advance(ctx, requestID, requests.StatusClosed, actor); err != nil {
			return err
		}
	}
	return nil
}

// CancelChallan voids a pending challan. Its items stop counting toward the
// over-delivery check.
func (s *Service) CancelChallan(ctx context.Context, challanID int64, actor shared.Actor) (Challan, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Challan{}, fmt.Errorf("%w: only a purchase officer may cancel a delivery", ErrForbidden)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.CancelChallan(ctx, challanID)
	})
	if err != nil {
		return Challan{}, err
	}
	s.recordAudit(ctx, actor, "DC_CANCEL", challanID, nil)
	return s.repo.Get(ctx, challanID)
}

// AttachEvidence uploads one photo and attaches it to the challan. The
// challan survives a collaborator failure: the upload error comes back as a
// warning, never as a rollback.
func (s *Service) AttachEvidence(ctx context.Context, challanID int64, kind EvidenceKind, filename string, content io.Reader, actor shared.Actor) (Challan, string, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Challan{}, "", fmt.Errorf("%w: only a purchase officer may attach evidence", ErrForbidden)
	}
	if !kind.IsValid() {
		return Challan{}, "", fmt.Errorf("%w: unknown evidence kind %q", ErrValidation, kind)
	}
	dc, err := s.repo.Get(ctx, challanID)
	if err != nil {
		return Challan{}, "", err
	}
	if dc.Status == StatusCancelled {
		return Challan{}, "", fmt.Errorf("%w: challan is cancelled", ErrInvalidTransition)
	}

	url, key, err := s.storage.Upload(ctx, filename, content)
	if err != nil {
		warning := fmt.Sprintf("evidence upload failed for %s: %v", kind, err)
		_ = s.repo.SetEvidenceWarning(ctx, challanID, &warning)
		return dc, warning, nil
	}

	if err := s.repo.UpsertEvidence(ctx, Evidence{ChallanID: challanID, Kind: kind, URL: url, Key: key}); err != nil {
		warning := fmt.Sprintf("evidence attach pending retry for %s: %v", kind, err)
		_ = s.repo.SetEvidenceWarning(ctx, challanID, &warning)
		if s.jobs != nil {
			_ = s.jobs.EnqueueEvidenceRetry(ctx, challanID, string(kind), url, key)
		}
		return dc, warning, nil
	}

	_ = s.repo.SetEvidenceWarning(ctx, challanID, nil)
	s.recordAudit(ctx, actor, "DC_EVIDENCE_ATTACH", challanID, map[string]any{"kind": string(kind)})
	dc, err = s.repo.Get(ctx, challanID)
	return dc, "", err
}

// AttachEvidenceObject attaches an already uploaded object. Used by the
// background retry task.
func (s *Service) AttachEvidenceObject(ctx context.Context, challanID int64, kind EvidenceKind, url, key string) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: unknown evidence kind %q", ErrValidation, kind)
	}
	if err := s.repo.UpsertEvidence(ctx, Evidence{ChallanID: challanID, Kind: kind, URL: url, Key: key}); err != nil {
		return err
	}
	return s.repo.SetEvidenceWarning(ctx, challanID, nil)
}

// Get returns a challan with items and evidence.
func (s *Service) Get(ctx context.Context, id int64) (Challan, error) {
	return s.repo.Get(ctx, id)
}

// List returns challans with pagination.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]Challan, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, filters)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "delivery_challans", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
