package inventory

import (
	"fmt"
	"time"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
)

// Reason enumerates why stock moved.
type Reason string

const (
	ReasonDelivery   Reason = "DELIVERY_CONFIRMED"
	ReasonCorrection Reason = "MANUAL_CORRECTION"
	ReasonInitial    Reason = "INITIAL_STOCK"
)

// IsValid checks the adjustment reason.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonDelivery, ReasonCorrection, ReasonInitial:
		return true
	default:
		return false
	}
}

// Item is a catalog entry with the authoritative central stock level. Stock
// can be fractional for materials sold by weight or volume.
type Item struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Unit         string    `json:"unit" db:"unit"`
	HSNCode      string    `json:"hsn_code,omitempty" db:"hsn_code"`
	Description  string    `json:"description,omitempty" db:"description"`
	CentralStock float64   `json:"central_stock" db:"central_stock"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	Images       []Image   `json:"images,omitempty"`
	VendorIDs    []int64   `json:"vendor_ids,omitempty"`
}

// Image is one attached photo, stored externally as a (url, key) pair. Images
// live independently of the stock level.
type Image struct {
	ID         int64     `json:"id" db:"id"`
	ItemID     int64     `json:"item_id" db:"item_id"`
	URL        string    `json:"url" db:"url"`
	Key        string    `json:"key" db:"key"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// Movement is one ledger entry. The ledger is append only; current stock is
// the running sum.
type Movement struct {
	ID        int64     `json:"id" db:"id"`
	ItemID    int64     `json:"item_id" db:"item_id"`
	Delta     float64   `json:"delta" db:"delta"`
	Reason    Reason    `json:"reason" db:"reason"`
	RefKey    *string   `json:"ref_key,omitempty" db:"ref_key"`
	ActorID   int64     `json:"actor_id" db:"actor_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var (
	// ErrNotFound indicates the item does not exist.
	ErrNotFound = fmt.Errorf("inventory: %w", httpx.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("inventory: %w", httpx.ErrValidation)
	// ErrForbidden occurs when the actor's role may not perform the operation.
	ErrForbidden = fmt.Errorf("inventory: %w", httpx.ErrForbidden)
	// ErrNegativeStock occurs when an adjustment would take stock below zero
	// and backorders are disabled.
	ErrNegativeStock = fmt.Errorf("inventory: %w", httpx.ErrNegativeStock)
	// ErrDuplicate indicates an item with the same name already exists.
	ErrDuplicate = fmt.Errorf("inventory: %w", httpx.ErrDuplicate)
)
