package purchaseorders

import (
	"fmt"
	"time"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
)

// Status enumerates purchase order states. Lines are immutable after issue;
// an amendment means a new PO, so the only transition is a cancellation flag.
type Status string

const (
	StatusIssued    Status = "ISSUED"
	StatusCancelled Status = "CANCELLED"
)

// PurchaseOrder is the commercial document sent to a vendor. Generated either
// from an approved comparison or directly on the emergency path.
type PurchaseOrder struct {
	ID           int64      `json:"id" db:"id"`
	Number       string     `json:"number" db:"number"`
	VendorID     int64      `json:"vendor_id" db:"vendor_id"`
	SiteID       int64      `json:"site_id" db:"site_id"`
	ComparisonID *int64     `json:"comparison_id,omitempty" db:"comparison_id"`
	Status       Status     `json:"status" db:"status"`
	ValidTill    time.Time  `json:"valid_till" db:"valid_till"`
	Notes        string     `json:"notes,omitempty" db:"notes"`
	CreatedBy    int64      `json:"created_by" db:"created_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	Lines        []Line     `json:"lines,omitempty"`
}

// Line is one independently priced item on a purchase order.
type Line struct {
	ID           int64   `json:"id" db:"id"`
	POID         int64   `json:"po_id" db:"po_id"`
	RequestID    *int64  `json:"request_id,omitempty" db:"request_id"`
	Description  string  `json:"description" db:"description"`
	HSNCode      string  `json:"hsn_code,omitempty" db:"hsn_code"`
	Quantity     float64 `json:"quantity" db:"quantity"`
	Unit         string  `json:"unit" db:"unit"`
	UnitRate     float64 `json:"unit_rate" db:"unit_rate"`
	PerUnitBasis float64 `json:"per_unit_basis" db:"per_unit_basis"`
	DiscountPct  float64 `json:"discount_pct" db:"discount_pct"`
	SGSTPct      float64 `json:"sgst_pct" db:"sgst_pct"`
	CGSTPct      float64 `json:"cgst_pct" db:"cgst_pct"`
	LineTotal    float64 `json:"line_total" db:"line_total"`
}

// Total sums the line totals. Rounding happens only at presentation.
func (po PurchaseOrder) Total() float64 {
	var total float64
	for _, line := range po.Lines {
		total += line.LineTotal
	}
	return total
}

var (
	// ErrNotFound indicates the purchase order, vendor or site does not exist.
	ErrNotFound = fmt.Errorf("purchaseorders: %w", httpx.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("purchaseorders: %w", httpx.ErrValidation)
	// ErrForbidden occurs when the actor's role may not perform the operation.
	ErrForbidden = fmt.Errorf("purchaseorders: %w", httpx.ErrForbidden)
	// ErrExpiredWindow occurs when validTill is not in the future.
	ErrExpiredWindow = fmt.Errorf("purchaseorders: %w", httpx.ErrExpiredWindow)
	// ErrInvalidTransition occurs when cancelling an already cancelled order.
	ErrInvalidTransition = fmt.Errorf("purchaseorders: %w", httpx.ErrInvalidTransition)
)
