package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Item, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, limit, offset int, search string) ([]Item, int, error)
	Movements(ctx context.Context, itemID int64, limit int) ([]Movement, error)
	AddImage(ctx context.Context, img Image) (int64, error)
	RemoveImage(ctx context.Context, itemID, imageID int64) (string, error)
	LinkVendor(ctx context.Context, itemID, vendorID int64) error
	UnlinkVendor(ctx context.Context, itemID, vendorID int64) error
}

// IdempotencyPort dedupes ledger postings.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// StoragePort uploads and deletes item images in the external object store.
type StoragePort interface {
	Upload(ctx context.Context, filename string, content io.Reader) (url, key string, err error)
	Delete(ctx context.Context, key string) error
}

// VendorPort verifies linked vendors exist.
type VendorPort interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the central stock ledger. Only this package mutates
// central_stock; deliveries and manual corrections both land here.
type Service struct {
	repo          RepositoryPort
	cache         *StockCache
	idem          IdempotencyPort
	storage       StoragePort
	vendors       VendorPort
	audit         AuditPort
	allowNegative bool
}

// NewService constructs the inventory ledger. allowNegative turns negative
// stock into a backorder signal instead of an error.
func NewService(repo RepositoryPort, cache *StockCache, idem IdempotencyPort, storage StoragePort, vendors VendorPort, audit AuditPort, allowNegative bool) *Service {
	return &Service{repo: repo, cache: cache, idem: idem, storage: storage, vendors: vendors, audit: audit, allowNegative: allowNegative}
}

// CreateInput describes a new catalog item.
type CreateInput struct {
	Name         string  `json:"name" validate:"required,max=200"`
	Unit         string  `json:"unit" validate:"required,max=30"`
	HSNCode      string  `json:"hsn_code" validate:"max=20"`
	Description  string  `json:"description" validate:"max=2000"`
	InitialStock float64 `json:"initial_stock" validate:"gte=0"`
}

// Create adds a catalog item, recording any opening stock as an
// INITIAL_STOCK movement.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (Item, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Item{}, fmt.Errorf("%w: only a purchase officer may manage the catalog", ErrForbidden)
	}
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Unit) == "" {
		return Item{}, fmt.Errorf("%w: name and unit required", ErrValidation)
	}
	if input.InitialStock < 0 {
		return Item{}, fmt.Errorf("%w: initial stock must not be negative", ErrValidation)
	}

	item := Item{
		Name:         strings.TrimSpace(input.Name),
		Unit:         strings.TrimSpace(input.Unit),
		HSNCode:      input.HSNCode,
		Description:  input.Description,
		CentralStock: input.InitialStock,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		if input.InitialStock > 0 {
			_, err = tx.InsertMovement(ctx, Movement{ItemID: id, Delta: input.InitialStock, Reason: ReasonInitial, ActorID: actor.ID})
		}
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.cache.Set(ctx, item.ID, item.CentralStock)
	s.recordAudit(ctx, actor, "ITEM_CREATE", item.ID, map[string]any{"name": item.Name})
	return item, nil
}

// UpdateInput carries editable catalog fields. Stock is not among them.
type UpdateInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Unit        string `json:"unit" validate:"required,max=30"`
	HSNCode     string `json:"hsn_code" validate:"max=20"`
	Description string `json:"description" validate:"max=2000"`
}

// Update edits catalog fields.
func (s *Service) Update(ctx context.Context, itemID int64, input UpdateInput, actor shared.Actor) (Item, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Item{}, fmt.Errorf("%w: only a purchase officer may manage the catalog", ErrForbidden)
	}
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Unit) == "" {
		return Item{}, fmt.Errorf("%w: name and unit required", ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Update(ctx, Item{ID: itemID, Name: strings.TrimSpace(input.Name), Unit: strings.TrimSpace(input.Unit),
			HSNCode: input.HSNCode, Description: input.Description})
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, actor, "ITEM_UPDATE", itemID, nil)
	return s.repo.Get(ctx, itemID)
}

// AdjustInput describes a manual stock adjustment.
type AdjustInput struct {
	Delta  float64 `json:"delta" validate:"required"`
	Reason Reason  `json:"reason" validate:"required"`
}

// AdjustStock applies a delta and appends the movement in one transaction.
func (s *Service) AdjustStock(ctx context.Context, itemID int64, input AdjustInput, actor shared.Actor) (float64, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return 0, fmt.Errorf("%w: only a purchase officer may adjust stock", ErrForbidden)
	}
	if !input.Reason.IsValid() {
		return 0, fmt.Errorf("%w: unknown reason %q", ErrValidation, input.Reason)
	}
	if input.Delta == 0 {
		return 0, fmt.Errorf("%w: delta must not be zero", ErrValidation)
	}
	stock, err := s.applyDelta(ctx, itemID, input.Delta, input.Reason, nil, actor.ID)
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, actor, "STOCK_ADJUST", itemID, map[string]any{"delta": input.Delta, "reason": string(input.Reason)})
	return stock, nil
}

// AdjustForDelivery credits stock for a confirmed challan item. The key makes
// the posting safe to repeat.
func (s *Service) AdjustForDelivery(ctx context.Context, itemID int64, qty float64, key string) error {
	if qty <= 0 {
		return fmt.Errorf("%w: delivery quantity must be positive", ErrValidation)
	}
	if err := s.idem.CheckAndInsert(ctx, key, "inventory"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil
		}
		return err
	}
	if _, err := s.applyDelta(ctx, itemID, qty, ReasonDelivery, &key, 0); err != nil {
		// Release the key so the caller's retry can post again.
		_ = s.idem.Delete(ctx, key)
		return err
	}
	return nil
}

func (s *Service) applyDelta(ctx context.Context, itemID int64, delta float64, reason Reason, refKey *string, actorID int64) (float64, error) {
	var stock float64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		stock, err = tx.AdjustStock(ctx, itemID, delta, s.allowNegative)
		if err != nil {
			return err
		}
		_, err = tx.InsertMovement(ctx, Movement{ItemID: itemID, Delta: delta, Reason: reason, RefKey: refKey, ActorID: actorID})
		return err
	})
	if err != nil {
		return 0, err
	}
	s.cache.Invalidate(ctx, itemID)
	return stock, nil
}

// Stock returns the current level, serving from cache when fresh.
func (s *Service) Stock(ctx context.Context, itemID int64) (float64, error) {
	if stock, ok := s.cache.Get(ctx, itemID); ok {
		return stock, nil
	}
	item, err := s.repo.Get(ctx, itemID)
	if err != nil {
		return 0, err
	}
	s.cache.Set(ctx, itemID, item.CentralStock)
	return item.CentralStock, nil
}

// AttachImage uploads a photo and appends it to the item's image list.
func (s *Service) AttachImage(ctx context.Context, itemID int64, filename string, content io.Reader, actor shared.Actor) (Item, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Item{}, fmt.Errorf("%w: only a purchase officer may manage the catalog", ErrForbidden)
	}
	if _, err := s.repo.Get(ctx, itemID); err != nil {
		return Item{}, err
	}
	url, key, err := s.storage.Upload(ctx, filename, content)
	if err != nil {
		return Item{}, fmt.Errorf("inventory: image upload: %w", err)
	}
	if _, err := s.repo.AddImage(ctx, Image{ItemID: itemID, URL: url, Key: key}); err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, actor, "ITEM_IMAGE_ATTACH", itemID, map[string]any{"key": key})
	return s.repo.Get(ctx, itemID)
}

// RemoveImage detaches an image and best-effort deletes the stored object.
// Image removal never touches stock.
func (s *Service) RemoveImage(ctx context.Context, itemID, imageID int64, actor shared.Actor) (Item, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Item{}, fmt.Errorf("%w: only a purchase officer may manage the catalog", ErrForbidden)
	}
	key, err := s.repo.RemoveImage(ctx, itemID, imageID)
	if err != nil {
		return Item{}, err
	}
	if s.storage != nil {
		_ = s.storage.Delete(ctx, key)
	}
	s.recordAudit(ctx, actor, "ITEM_IMAGE_REMOVE", itemID, map[string]any{"image_id": imageID})
	return s.repo.Get(ctx, itemID)
}

// LinkVendor associates a supplier with the item.
func (s *Service) LinkVendor(ctx context.Context, itemID, vendorID int64, actor shared.Actor) error {
	if actor.Role != shared.RolePurchaseOfficer {
		return fmt.Errorf("%w: only a purchase officer may manage the catalog", ErrForbidden)
	}
	ok, err := s.vendors.Exists(ctx, vendorID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: vendor %d", ErrNotFound, vendorID)
	}
	if ok, err = s.repo.Exists(ctx, itemID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: item %d", ErrNotFound, itemID)
	}
	return s.repo.LinkVendor(ctx, itemID, vendorID)
}

// UnlinkVendor removes a supplier association.
func (s *Service) UnlinkVendor(ctx context.Context, itemID, vendorID int64, actor shared.Actor) error {
	if actor.Role != shared.RolePurchaseOfficer {
		return fmt.Errorf("%w: only a purchase officer may manage the catalog", ErrForbidden)
	}
	return s.repo.UnlinkVendor(ctx, itemID, vendorID)
}

// Get returns an item with images and vendors.
func (s *Service) Get(ctx context.Context, itemID int64) (Item, error) {
	return s.repo.Get(ctx, itemID)
}

// List returns catalog items.
func (s *Service) List(ctx context.Context, limit, offset int, search string) ([]Item, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, search)
}

// Movements returns recent ledger entries for an item.
func (s *Service) Movements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.Movements(ctx, itemID, limit)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "inventory_items", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
