package comparison

import (
	"fmt"
	"time"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
)

// Decision enumerates comparison outcomes.
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Comparison holds an ordered set of vendor quotes against one request. It is
// immutable once decided; a rejected comparison keeps its note for audit and a
// fresh one is created on resubmission.
type Comparison struct {
	ID             int64      `json:"id" db:"id"`
	RequestID      int64      `json:"request_id" db:"request_id"`
	Status         Decision   `json:"status" db:"status"`
	Note           *string    `json:"note,omitempty" db:"note"`
	WinningQuoteID *int64     `json:"winning_quote_id,omitempty" db:"winning_quote_id"`
	CreatedBy      int64      `json:"created_by" db:"created_by"`
	DecidedBy      *int64     `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt      *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	Quotes         []Quote    `json:"quotes,omitempty"`
}

// Quote is one vendor's offer inside a comparison. Position preserves the
// submission order and breaks rate ties.
type Quote struct {
	ID           int64   `json:"id" db:"id"`
	ComparisonID int64   `json:"comparison_id" db:"comparison_id"`
	VendorID     int64   `json:"vendor_id" db:"vendor_id"`
	VendorName   string  `json:"vendor_name,omitempty" db:"vendor_name"`
	UnitRate     float64 `json:"unit_rate" db:"unit_rate"`
	Position     int     `json:"position" db:"position"`
	Note         string  `json:"note,omitempty" db:"note"`
}

// Cheapest returns the quote with the lowest unit rate. Ties go to the lowest
// position, so the result is deterministic for any input order.
func Cheapest(quotes []Quote) (Quote, bool) {
	if len(quotes) == 0 {
		return Quote{}, false
	}
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.UnitRate < best.UnitRate || (q.UnitRate == best.UnitRate && q.Position < best.Position) {
			best = q
		}
	}
	return best, true
}

var (
	// ErrNotFound indicates the comparison does not exist.
	ErrNotFound = fmt.Errorf("comparison: %w", httpx.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("comparison: %w", httpx.ErrValidation)
	// ErrForbidden occurs when the actor's role may not perform the operation.
	ErrForbidden = fmt.Errorf("comparison: %w", httpx.ErrForbidden)
	// ErrInvalidTransition occurs when deciding a comparison that is no longer pending.
	ErrInvalidTransition = fmt.Errorf("comparison: %w", httpx.ErrInvalidTransition)
	// ErrActiveExists occurs when the request already has a pending or approved comparison.
	ErrActiveExists = fmt.Errorf("comparison: active comparison exists: %w", httpx.ErrDuplicate)
)
