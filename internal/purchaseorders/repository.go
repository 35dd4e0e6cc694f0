package purchaseorders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	// Cancel flips the cancellation flag with a compare-and-set against
	// ISSUED so a cancelled order cannot be cancelled twice.
	Cancel(ctx context.Context, id int64, at time.Time) error
	NextNumber(ctx context.Context, year int) (int64, error)
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

const poColumns = `id, number, vendor_id, site_id, comparison_id, status, valid_till, COALESCE(notes, ''), created_by, created_at, updated_at, cancelled_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.Number, &po.VendorID, &po.SiteID, &po.ComparisonID,
		&status, &po.ValidTill, &po.Notes, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt, &po.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Status = Status(status)
	return po, nil
}

// Get returns a purchase order with its lines loaded.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id)
	po, err := scanPO(row)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = r.lines(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// ListFilters narrows purchase order listings.
type ListFilters struct {
	Status   Status
	VendorID int64
	SiteID   int64
	Search   string
}

// List returns purchase orders with pagination and filtering, newest first.
// Lines are not loaded on listings.
func (r *Repository) List(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.VendorID > 0 {
		args = append(args, filters.VendorID)
		where = append(where, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	if filters.SiteID > 0 {
		args = append(args, filters.SiteID)
		where = append(where, fmt.Sprintf("site_id = $%d", len(args)))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where = append(where, fmt.Sprintf("number ILIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM purchase_orders WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		poColumns, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, po)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) lines(ctx context.Context, poID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, request_id, description, COALESCE(hsn_code, ''),
			quantity, unit, unit_rate, per_unit_basis, discount_pct, sgst_pct, cgst_pct, line_total
		FROM po_lines WHERE po_id = $1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.POID, &line.RequestID, &line.Description, &line.HSNCode,
			&line.Quantity, &line.Unit, &line.UnitRate, &line.PerUnitBasis,
			&line.DiscountPct, &line.SGSTPct, &line.CGSTPct, &line.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (tx *txRepo) Insert(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders
		(number, vendor_id, site_id, comparison_id, status, valid_till, notes, created_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NOW(), NOW())
	RETURNING id`,
		po.Number, po.VendorID, po.SiteID, po.ComparisonID, string(po.Status),
		po.ValidTill, po.Notes, po.CreatedBy).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO po_lines
		(po_id, request_id, description, hsn_code, quantity, unit, unit_rate, per_unit_basis, discount_pct, sgst_pct, cgst_pct, line_total)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id`,
		line.POID, line.RequestID, line.Description, line.HSNCode, line.Quantity, line.Unit,
		line.UnitRate, line.PerUnitBasis, line.DiscountPct, line.SGSTPct, line.CGSTPct, line.LineTotal).Scan(&id)
	return id, err
}

func (tx *txRepo) Cancel(ctx context.Context, id int64, at time.Time) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders
		SET status = 'CANCELLED', cancelled_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'ISSUED'`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.tx.QueryRow(ctx, `SELECT true FROM purchase_orders WHERE id = $1`, id).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (tx *txRepo) NextNumber(ctx context.Context, year int) (int64, error) {
	var value int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO doc_sequences (kind, year, value) VALUES ('PO', $1, 1)
		ON CONFLICT (kind, year) DO UPDATE SET value = doc_sequences.value + 1
		RETURNING value`, year).Scan(&value)
	return value, err
}
