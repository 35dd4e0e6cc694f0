package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for material requests.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, req Request) (int64, error)
	// UpdateStatus performs a compare-and-set on the status column. It
	// returns ErrInvalidTransition when the request moved away from `from`
	// since it was read, so concurrent advances cannot clobber each other.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	SetRejectionNote(ctx context.Context, id int64, note string) error
	ClearRejectionNote(ctx context.Context, id int64) error
	MarkClosed(ctx context.Context, id int64, at time.Time) error
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

const requestColumns = `id, number, item_name, quantity, unit, required_by, urgent, site_id, created_by, status, rejection_note, created_at, updated_at, closed_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var status string
	err := row.Scan(&req.ID, &req.Number, &req.ItemName, &req.Quantity, &req.Unit,
		&req.RequiredBy, &req.Urgent, &req.SiteID, &req.CreatedBy, &status,
		&req.RejectionNote, &req.CreatedAt, &req.UpdatedAt, &req.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	req.Status = Status(status)
	return req, nil
}

// Get returns a request by id.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

// ListFilters narrows request listings.
type ListFilters struct {
	Status  Status
	SiteID  int64
	Urgent  *bool
	Search  string
	SortBy  string
	SortDir string
}

// List returns requests with pagination and filtering.
func (r *Repository) List(ctx context.Context, limit, offset int, filters ListFilters) ([]Request, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.SiteID > 0 {
		args = append(args, filters.SiteID)
		where = append(where, fmt.Sprintf("site_id = $%d", len(args)))
	}
	if filters.Urgent != nil {
		args = append(args, *filters.Urgent)
		where = append(where, fmt.Sprintf("urgent = $%d", len(args)))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where = append(where, fmt.Sprintf("(number ILIKE $%d OR item_name ILIKE $%d)", len(args), len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM requests WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderBy := sortOrder(filters.SortBy, filters.SortDir)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		requestColumns, cond, orderBy, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// GetView returns a request joined with its site and active comparison
// summary.
func (r *Repository) GetView(ctx context.Context, id int64) (RequestView, error) {
	req, err := r.Get(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	view := RequestView{Request: req}

	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(name, '') FROM sites WHERE id = $1`, req.SiteID).Scan(&view.SiteName); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return RequestView{}, err
	}

	row := r.pool.QueryRow(ctx, `SELECT c.id, c.status,
		(SELECT COUNT(*) FROM comparison_quotes q WHERE q.comparison_id = c.id),
		COALESCE((SELECT MIN(q.unit_rate) FROM comparison_quotes q WHERE q.comparison_id = c.id), 0)
	FROM cost_comparisons c
	WHERE c.request_id = $1 AND c.status IN ('PENDING','APPROVED')
	ORDER BY c.created_at DESC LIMIT 1`, id)
	var summary ComparisonSummary
	err = row.Scan(&summary.ComparisonID, &summary.Decision, &summary.QuoteCount, &summary.BestRate)
	if err == nil {
		view.Comparison = &summary
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return RequestView{}, err
	}
	return view, nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "number":
		return "number " + dir
	case "required_by":
		return "required_by " + dir
	case "status":
		return "status " + dir
	default:
		return "created_at DESC"
	}
}

func (tx *txRepo) Insert(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO requests
		(number, item_name, quantity, unit, required_by, urgent, site_id, created_by, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	RETURNING id`,
		req.Number, req.ItemName, req.Quantity, req.Unit, req.RequiredBy,
		req.Urgent, req.SiteID, req.CreatedBy, string(req.Status)).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE requests SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.tx.QueryRow(ctx, `SELECT true FROM requests WHERE id = $1`, id).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (tx *txRepo) SetRejectionNote(ctx context.Context, id int64, note string) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requests SET rejection_note = $1, updated_at = NOW() WHERE id = $2`, note, id)
	return err
}

func (tx *txRepo) ClearRejectionNote(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requests SET rejection_note = NULL, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (tx *txRepo) MarkClosed(ctx context.Context, id int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requests SET closed_at = $1, updated_at = NOW() WHERE id = $2`, at, id)
	return err
}

func (tx *txRepo) NextNumber(ctx context.Context, year int) (int64, error) {
	var value int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO doc_sequences (kind, year, value) VALUES ('MR', $1, 1)
		ON CONFLICT (kind, year) DO UPDATE SET value = doc_sequences.value + 1
		RETURNING value`, year).Scan(&value)
	return value, err
}
