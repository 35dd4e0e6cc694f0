package delivery

import (
	"fmt"
	"time"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
)

// Status enumerates challan states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// ItemStatus enumerates the per-item dispatch state. Items transition
// independently; the challan flips to DELIVERED when the last item lands.
type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemDelivered ItemStatus = "DELIVERED"
)

// Mode enumerates how the material travels.
type Mode string

const (
	ModePorter  Mode = "PORTER"
	ModePrivate Mode = "PRIVATE"
	ModeVendor  Mode = "VENDOR"
)

// IsValid checks the delivery mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModePorter, ModePrivate, ModeVendor:
		return true
	default:
		return false
	}
}

// PaymentStatus enumerates carrier payment settlement.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// EvidenceKind enumerates the photo slots on a challan. Each kind holds at
// most one object; re-attaching replaces it.
type EvidenceKind string

const (
	EvidenceLoading EvidenceKind = "LOADING"
	EvidenceInvoice EvidenceKind = "INVOICE"
	EvidenceReceipt EvidenceKind = "RECEIPT"
)

// IsValid checks the evidence kind.
func (k EvidenceKind) IsValid() bool {
	switch k {
	case EvidenceLoading, EvidenceInvoice, EvidenceReceipt:
		return true
	default:
		return false
	}
}

// Challan records one physical delivery trip, possibly covering items from
// several requests.
type Challan struct {
	ID              int64         `json:"id" db:"id"`
	Ref             string        `json:"ref" db:"ref"`
	POID            *int64        `json:"po_id,omitempty" db:"po_id"`
	Mode            Mode          `json:"mode" db:"mode"`
	CarrierName     string        `json:"carrier_name" db:"carrier_name"`
	CarrierContact  string        `json:"carrier_contact,omitempty" db:"carrier_contact"`
	VehicleNumber   string        `json:"vehicle_number,omitempty" db:"vehicle_number"`
	ReceiverName    string        `json:"receiver_name" db:"receiver_name"`
	PaymentAmount   float64       `json:"payment_amount" db:"payment_amount"`
	PaymentStatus   PaymentStatus `json:"payment_status" db:"payment_status"`
	Status          Status        `json:"status" db:"status"`
	EvidenceWarning *string       `json:"evidence_warning,omitempty" db:"evidence_warning"`
	CreatedBy       int64         `json:"created_by" db:"created_by"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
	Items           []Item        `json:"items,omitempty"`
	Evidence        []Evidence    `json:"evidence,omitempty"`
}

// Item is one request's quantity on a challan. InventoryItemID links the
// catalog entry credited when the item is confirmed delivered.
type Item struct {
	ID              int64      `json:"id" db:"id"`
	ChallanID       int64      `json:"challan_id" db:"challan_id"`
	RequestID       int64      `json:"request_id" db:"request_id"`
	RequestNumber   string     `json:"request_number,omitempty" db:"request_number"`
	InventoryItemID *int64     `json:"inventory_item_id,omitempty" db:"inventory_item_id"`
	Quantity        float64    `json:"quantity" db:"quantity"`
	Status          ItemStatus `json:"status" db:"status"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
}

// Evidence is one attached photo, stored externally as a (url, key) pair.
type Evidence struct {
	ID         int64        `json:"id" db:"id"`
	ChallanID  int64        `json:"challan_id" db:"challan_id"`
	Kind       EvidenceKind `json:"kind" db:"kind"`
	URL        string       `json:"url" db:"url"`
	Key        string       `json:"key" db:"key"`
	UploadedAt time.Time    `json:"uploaded_at" db:"uploaded_at"`
}

var (
	// ErrNotFound indicates the challan or item does not exist.
	ErrNotFound = fmt.Errorf("delivery: %w", httpx.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("delivery: %w", httpx.ErrValidation)
	// ErrForbidden occurs when the actor's role may not perform the operation.
	ErrForbidden = fmt.Errorf("delivery: %w", httpx.ErrForbidden)
	// ErrInvalidTransition occurs when cancelling a non-pending challan.
	ErrInvalidTransition = fmt.Errorf("delivery: %w", httpx.ErrInvalidTransition)
	// ErrOverDelivery occurs when a new item would push a request past its
	// ordered quantity.
	ErrOverDelivery = fmt.Errorf("delivery: %w", httpx.ErrOverDelivery)
)
