package requests

import (
	"fmt"
	"time"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// Status enumerates the material request lifecycle.
type Status string

const (
	StatusSubmitted     Status = "SUBMITTED"
	StatusReadyForCC    Status = "READY_FOR_CC"
	StatusCCPending     Status = "CC_PENDING"
	StatusCCApproved    Status = "CC_APPROVED"
	StatusCCRejected    Status = "CC_REJECTED"
	StatusReadyForPO    Status = "READY_FOR_PO"
	StatusPOIssued      Status = "PO_ISSUED"
	StatusDeliveryStage Status = "DELIVERY_STAGE"
	StatusDelivered     Status = "DELIVERED"
	StatusClosed        Status = "CLOSED"
)

// IsValid checks if the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusSubmitted, StatusReadyForCC, StatusCCPending, StatusCCApproved,
		StatusCCRejected, StatusReadyForPO, StatusPOIssued, StatusDeliveryStage,
		StatusDelivered, StatusClosed:
		return true
	default:
		return false
	}
}

// transitions lists every reachable target per current status. The direct-PO
// path allows SUBMITTED and READY_FOR_CC to jump straight to PO_ISSUED.
var transitions = map[Status][]Status{
	StatusSubmitted:     {StatusReadyForCC, StatusPOIssued},
	StatusReadyForCC:    {StatusCCPending, StatusPOIssued},
	StatusCCPending:     {StatusCCApproved, StatusCCRejected},
	StatusCCApproved:    {StatusReadyForPO},
	StatusCCRejected:    {StatusReadyForCC},
	StatusReadyForPO:    {StatusPOIssued},
	StatusPOIssued:      {StatusDeliveryStage},
	StatusDeliveryStage: {StatusDelivered},
	StatusDelivered:     {StatusClosed},
}

// CanTransition reports whether target is reachable from current.
func (s Status) CanTransition(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// transitionRoles maps each target status to the roles allowed to drive the
// request there. The purchase officer runs the pipeline; the manager owns the
// comparison decision.
var transitionRoles = map[Status][]shared.Role{
	StatusReadyForCC:    {shared.RolePurchaseOfficer},
	StatusCCPending:     {shared.RolePurchaseOfficer},
	StatusCCApproved:    {shared.RoleManager},
	StatusCCRejected:    {shared.RoleManager},
	StatusReadyForPO:    {shared.RoleManager, shared.RolePurchaseOfficer},
	StatusPOIssued:      {shared.RolePurchaseOfficer},
	StatusDeliveryStage: {shared.RolePurchaseOfficer},
	StatusDelivered:     {shared.RolePurchaseOfficer},
	StatusClosed:        {shared.RolePurchaseOfficer},
}

// RoleMayDrive reports whether the role may move a request into target.
func RoleMayDrive(role shared.Role, target Status) bool {
	for _, allowed := range transitionRoles[target] {
		if allowed == role {
			return true
		}
	}
	return false
}

// Request models a single material need raised by a site engineer. Status is
// written exclusively by the lifecycle service in this package; requests are
// soft-closed, never deleted.
type Request struct {
	ID            int64      `json:"id" db:"id"`
	Number        string     `json:"number" db:"number"`
	ItemName      string     `json:"item_name" db:"item_name"`
	Quantity      float64    `json:"quantity" db:"quantity"`
	Unit          string     `json:"unit" db:"unit"`
	RequiredBy    time.Time  `json:"required_by" db:"required_by"`
	Urgent        bool       `json:"urgent" db:"urgent"`
	SiteID        int64      `json:"site_id" db:"site_id"`
	CreatedBy     int64      `json:"created_by" db:"created_by"`
	Status        Status     `json:"status" db:"status"`
	RejectionNote *string    `json:"rejection_note,omitempty" db:"rejection_note"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// ComparisonSummary is the read-model slice of the active comparison attached
// to a RequestView.
type ComparisonSummary struct {
	ComparisonID int64   `json:"comparison_id"`
	Decision     string  `json:"decision"`
	QuoteCount   int     `json:"quote_count"`
	BestRate     float64 `json:"best_rate"`
}

// RequestView composes a request with resolved site and comparison data for
// display. Built by the query side, never stored.
type RequestView struct {
	Request
	SiteName   string             `json:"site_name"`
	Comparison *ComparisonSummary `json:"comparison,omitempty"`
}

var (
	// ErrNotFound indicates the request does not exist.
	ErrNotFound = fmt.Errorf("requests: %w", httpx.ErrNotFound)
	// ErrInvalidTransition occurs when the target status is unreachable.
	ErrInvalidTransition = fmt.Errorf("requests: %w", httpx.ErrInvalidTransition)
	// ErrForbidden occurs when the actor's role may not drive the transition.
	ErrForbidden = fmt.Errorf("requests: %w", httpx.ErrForbidden)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("requests: %w", httpx.ErrValidation)
)
