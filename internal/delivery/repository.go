package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for delivery challans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. The over-delivery check and
// the item insert run inside one transaction with the request rows locked, so
// two concurrent challans cannot both pass the check.
type TxRepository interface {
	// LockRequest takes a row lock on the request and returns its ordered
	// quantity and current status.
	LockRequest(ctx context.Context, requestID int64) (float64, string, error)
	// ReservedQty sums item quantities for a request across all challans
	// that are not cancelled, whether delivered yet or not.
	ReservedQty(ctx context.Context, requestID int64) (float64, error)
	// DeliveredQty sums only confirmed-delivered item quantities.
	DeliveredQty(ctx context.Context, requestID int64) (float64, error)
	InsertChallan(ctx context.Context, dc Challan) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	// MarkItemDelivered flips one item PENDING to DELIVERED. Returns false
	// without error when the item was already delivered, making the call
	// idempotent.
	MarkItemDelivered(ctx context.Context, itemID int64, at time.Time) (bool, error)
	PendingItemCount(ctx context.Context, challanID int64) (int, error)
	SetChallanDelivered(ctx context.Context, challanID int64) error
	// CancelChallan flips PENDING to CANCELLED with a compare-and-set.
	CancelChallan(ctx context.Context, challanID int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const challanColumns = `id, ref, po_id, mode, carrier_name, COALESCE(carrier_contact, ''), COALESCE(vehicle_number, ''),
	receiver_name, payment_amount, payment_status, status, evidence_warning, created_by, created_at, updated_at`

func scanChallan(row pgx.Row) (Challan, error) {
	var dc Challan
	var mode, payment, status string
	err := row.Scan(&dc.ID, &dc.Ref, &dc.POID, &mode, &dc.CarrierName, &dc.CarrierContact, &dc.VehicleNumber,
		&dc.ReceiverName, &dc.PaymentAmount, &payment, &status, &dc.EvidenceWarning,
		&dc.CreatedBy, &dc.CreatedAt, &dc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Challan{}, ErrNotFound
		}
		return Challan{}, err
	}
	dc.Mode = Mode(mode)
	dc.PaymentStatus = PaymentStatus(payment)
	dc.Status = Status(status)
	return dc, nil
}

// Get returns a challan with items and evidence loaded.
func (r *Repository) Get(ctx context.Context, id int64) (Challan, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+challanColumns+` FROM delivery_challans WHERE id = $1`, id)
	dc, err := scanChallan(row)
	if err != nil {
		return Challan{}, err
	}
	if dc.Items, err = r.items(ctx, id); err != nil {
		return Challan{}, err
	}
	if dc.Evidence, err = r.evidence(ctx, id); err != nil {
		return Challan{}, err
	}
	return dc, nil
}

// GetItem returns one challan item.
func (r *Repository) GetItem(ctx context.Context, challanID, itemID int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT i.id, i.challan_id, i.request_id, COALESCE(rq.number, ''),
			i.inventory_item_id, i.quantity, i.status, i.delivered_at
		FROM challan_items i
		LEFT JOIN requests rq ON rq.id = i.request_id
		WHERE i.id = $1 AND i.challan_id = $2`, itemID, challanID)
	return scanItem(row)
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	var status string
	err := row.Scan(&item.ID, &item.ChallanID, &item.RequestID, &item.RequestNumber,
		&item.InventoryItemID, &item.Quantity, &status, &item.DeliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	item.Status = ItemStatus(status)
	return item, nil
}

func (r *Repository) items(ctx context.Context, challanID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.challan_id, i.request_id, COALESCE(rq.number, ''),
			i.inventory_item_id, i.quantity, i.status, i.delivered_at
		FROM challan_items i
		LEFT JOIN requests rq ON rq.id = i.request_id
		WHERE i.challan_id = $1 ORDER BY i.id`, challanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) evidence(ctx context.Context, challanID int64) ([]Evidence, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, challan_id, kind, url, key, uploaded_at
		FROM challan_evidence WHERE challan_id = $1 ORDER BY kind`, challanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evs []Evidence
	for rows.Next() {
		var ev Evidence
		var kind string
		if err := rows.Scan(&ev.ID, &ev.ChallanID, &kind, &ev.URL, &ev.Key, &ev.UploadedAt); err != nil {
			return nil, err
		}
		ev.Kind = EvidenceKind(kind)
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// ListFilters narrows challan listings.
type ListFilters struct {
	Status    Status
	POID      int64
	RequestID int64
}

// List returns challans newest first, without items loaded.
func (r *Repository) List(ctx context.Context, limit, offset int, filters ListFilters) ([]Challan, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.POID > 0 {
		args = append(args, filters.POID)
		where = append(where, fmt.Sprintf("po_id = $%d", len(args)))
	}
	if filters.RequestID > 0 {
		args = append(args, filters.RequestID)
		where = append(where, fmt.Sprintf("id IN (SELECT challan_id FROM challan_items WHERE request_id = $%d)", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_challans WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM delivery_challans WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		challanColumns, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Challan
	for rows.Next() {
		dc, err := scanChallan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpsertEvidence attaches a photo, replacing any previous object of the same
// kind so repeated attach calls converge.
func (r *Repository) UpsertEvidence(ctx context.Context, ev Evidence) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO challan_evidence (challan_id, kind, url, key, uploaded_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (challan_id, kind) DO UPDATE SET url = $3, key = $4, uploaded_at = NOW()`,
		ev.ChallanID, string(ev.Kind), ev.URL, ev.Key)
	return err
}

// SetEvidenceWarning records why an evidence attach did not complete. A nil
// warning clears it.
func (r *Repository) SetEvidenceWarning(ctx context.Context, challanID int64, warning *string) error {
	_, err := r.pool.Exec(ctx, `UPDATE delivery_challans SET evidence_warning = $1, updated_at = NOW() WHERE id = $2`,
		warning, challanID)
	return err
}

func (tx *txRepo) LockRequest(ctx context.Context, requestID int64) (float64, string, error) {
	var qty float64
	var status string
	err := tx.tx.QueryRow(ctx, `SELECT quantity, status FROM requests WHERE id = $1 FOR UPDATE`, requestID).
		Scan(&qty, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", ErrNotFound
		}
		return 0, "", err
	}
	return qty, status, nil
}

func (tx *txRepo) ReservedQty(ctx context.Context, requestID int64) (float64, error) {
	var qty float64
	err := tx.tx.QueryRow(ctx, `SELECT COALESCE(SUM(i.quantity), 0)
		FROM challan_items i
		JOIN delivery_challans dc ON dc.id = i.challan_id
		WHERE i.request_id = $1 AND dc.status <> 'CANCELLED'`, requestID).Scan(&qty)
	return qty, err
}

func (tx *txRepo) DeliveredQty(ctx context.Context, requestID int64) (float64, error) {
	var qty float64
	err := tx.tx.QueryRow(ctx, `SELECT COALESCE(SUM(i.quantity), 0)
		FROM challan_items i
		JOIN delivery_challans dc ON dc.id = i.challan_id
		WHERE i.request_id = $1 AND i.status = 'DELIVERED' AND dc.status <> 'CANCELLED'`, requestID).Scan(&qty)
	return qty, err
}

func (tx *txRepo) InsertChallan(ctx context.Context, dc Challan) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO delivery_challans
		(ref, po_id, mode, carrier_name, carrier_contact, vehicle_number, receiver_name,
		 payment_amount, payment_status, status, created_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, NOW(), NOW())
	RETURNING id`,
		dc.Ref, dc.POID, string(dc.Mode), dc.CarrierName, dc.CarrierContact, dc.VehicleNumber,
		dc.ReceiverName, dc.PaymentAmount, string(dc.PaymentStatus), string(dc.Status), dc.CreatedBy).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO challan_items
		(challan_id, request_id, inventory_item_id, quantity, status)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id`,
		item.ChallanID, item.RequestID, item.InventoryItemID, item.Quantity, string(item.Status)).Scan(&id)
	return id, err
}

func (tx *txRepo) MarkItemDelivered(ctx context.Context, itemID int64, at time.Time) (bool, error) {
	tag, err := tx.tx.Exec(ctx, `UPDATE challan_items SET status = 'DELIVERED', delivered_at = $1
		WHERE id = $2 AND status = 'PENDING'`, at, itemID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		var status string
		if err := tx.tx.QueryRow(ctx, `SELECT status FROM challan_items WHERE id = $1`, itemID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, ErrNotFound
			}
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (tx *txRepo) PendingItemCount(ctx context.Context, challanID int64) (int, error) {
	var count int
	err := tx.tx.QueryRow(ctx, `SELECT COUNT(*) FROM challan_items WHERE challan_id = $1 AND status = 'PENDING'`,
		challanID).Scan(&count)
	return count, err
}

func (tx *txRepo) SetChallanDelivered(ctx context.Context, challanID int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE delivery_challans SET status = 'DELIVERED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, challanID)
	return err
}

func (tx *txRepo) CancelChallan(ctx context.Context, challanID int64) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE delivery_challans SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, challanID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.tx.QueryRow(ctx, `SELECT true FROM delivery_challans WHERE id = $1`, challanID).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}
