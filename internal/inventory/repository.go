package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for inventory items and
// the stock movement ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, item Item) (int64, error)
	Update(ctx context.Context, item Item) error
	// AdjustStock applies the delta atomically. With allowNegative false the
	// update is conditional on the result staying non-negative and
	// ErrNegativeStock comes back when it would not.
	AdjustStock(ctx context.Context, itemID int64, delta float64, allowNegative bool) (float64, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
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

const itemColumns = `id, name, unit, COALESCE(hsn_code, ''), COALESCE(description, ''), central_stock, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Name, &item.Unit, &item.HSNCode, &item.Description,
		&item.CentralStock, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// Get returns an item with images and vendor links loaded.
func (r *Repository) Get(ctx context.Context, id int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		return Item{}, err
	}
	if item.Images, err = r.images(ctx, id); err != nil {
		return Item{}, err
	}
	if item.VendorIDs, err = r.vendorIDs(ctx, id); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Exists reports whether an item exists.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// List returns items matching the optional search, sorted by name.
func (r *Repository) List(ctx context.Context, limit, offset int, search string) ([]Item, int, error) {
	where := "1=1"
	args := []any{}
	if search != "" {
		args = append(args, "%"+search+"%")
		where = fmt.Sprintf("(name ILIKE $%d OR hsn_code ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM inventory_items WHERE %s ORDER BY name LIMIT $%d OFFSET $%d`,
		itemColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Movements returns the ledger for one item, newest first.
func (r *Repository) Movements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, delta, reason, ref_key, actor_id, created_at
		FROM stock_movements WHERE item_id = $1 ORDER BY created_at DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		var reason string
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Delta, &reason, &m.RefKey, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reason = Reason(reason)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// AddImage attaches an uploaded object to the item.
func (r *Repository) AddImage(ctx context.Context, img Image) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO item_images (item_id, url, key, uploaded_at)
		VALUES ($1, $2, $3, NOW()) RETURNING id`, img.ItemID, img.URL, img.Key).Scan(&id)
	return id, err
}

// RemoveImage detaches an image. Returns the stored key so the caller can
// delete the external object.
func (r *Repository) RemoveImage(ctx context.Context, itemID, imageID int64) (string, error) {
	var key string
	err := r.pool.QueryRow(ctx, `DELETE FROM item_images WHERE id = $1 AND item_id = $2 RETURNING key`,
		imageID, itemID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return key, err
}

// LinkVendor associates a vendor with the item. Duplicate links are ignored.
func (r *Repository) LinkVendor(ctx context.Context, itemID, vendorID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO item_vendors (item_id, vendor_id) VALUES ($1, $2)
		ON CONFLICT (item_id, vendor_id) DO NOTHING`, itemID, vendorID)
	return err
}

// UnlinkVendor removes a vendor association.
func (r *Repository) UnlinkVendor(ctx context.Context, itemID, vendorID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM item_vendors WHERE item_id = $1 AND vendor_id = $2`, itemID, vendorID)
	return err
}

func (r *Repository) images(ctx context.Context, itemID int64) ([]Image, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, url, key, uploaded_at
		FROM item_images WHERE item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.ItemID, &img.URL, &img.Key, &img.UploadedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (r *Repository) vendorIDs(ctx context.Context, itemID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT vendor_id FROM item_vendors WHERE item_id = $1 ORDER BY vendor_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (tx *txRepo) Insert(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO inventory_items
		(name, unit, hsn_code, description, central_stock, created_at, updated_at)
	VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NOW(), NOW())
	RETURNING id`, item.Name, item.Unit, item.HSNCode, item.Description, item.CentralStock).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) Update(ctx context.Context, item Item) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE inventory_items
		SET name = $1, unit = $2, hsn_code = NULLIF($3, ''), description = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $5`, item.Name, item.Unit, item.HSNCode, item.Description, item.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) AdjustStock(ctx context.Context, itemID int64, delta float64, allowNegative bool) (float64, error) {
	query := `UPDATE inventory_items SET central_stock = central_stock + $1, updated_at = NOW()
		WHERE id = $2 RETURNING central_stock`
	if !allowNegative {
		query = `UPDATE inventory_items SET central_stock = central_stock + $1, updated_at = NOW()
			WHERE id = $2 AND central_stock + $1 >= 0 RETURNING central_stock`
	}
	var stock float64
	err := tx.tx.QueryRow(ctx, query, delta, itemID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.tx.QueryRow(ctx, `SELECT true FROM inventory_items WHERE id = $1`, itemID).Scan(&exists); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return 0, ErrNotFound
				}
				return 0, err
			}
			return 0, ErrNegativeStock
		}
		return 0, err
	}
	return stock, nil
}

func (tx *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_movements (item_id, delta, reason, ref_key, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id`,
		m.ItemID, m.Delta, string(m.Reason), m.RefKey, m.ActorID).Scan(&id)
	return id, err
}
