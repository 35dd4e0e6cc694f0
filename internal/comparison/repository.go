package comparison

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for cost comparisons.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, cmp Comparison) (int64, error)
	InsertQuote(ctx context.Context, q Quote) (int64, error)
	// Decide performs a compare-and-set against the PENDING status so two
	// concurrent decisions cannot both land.
	Decide(ctx context.Context, id int64, outcome Decision, note *string, winningQuoteID *int64, decidedBy int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
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

const comparisonColumns = `id, request_id, status, note, winning_quote_id, created_by, decided_by, decided_at, created_at, updated_at`

func scanComparison(row pgx.Row) (Comparison, error) {
	var cmp Comparison
	var status string
	err := row.Scan(&cmp.ID, &cmp.RequestID, &status, &cmp.Note, &cmp.WinningQuoteID,
		&cmp.CreatedBy, &cmp.DecidedBy, &cmp.DecidedAt, &cmp.CreatedAt, &cmp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Comparison{}, ErrNotFound
		}
		return Comparison{}, err
	}
	cmp.Status = Decision(status)
	return cmp, nil
}

// Get returns a comparison with its quotes loaded.
func (r *Repository) Get(ctx context.Context, id int64) (Comparison, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+comparisonColumns+` FROM cost_comparisons WHERE id = $1`, id)
	cmp, err := scanComparison(row)
	if err != nil {
		return Comparison{}, err
	}
	cmp.Quotes, err = r.quotes(ctx, id)
	if err != nil {
		return Comparison{}, err
	}
	return cmp, nil
}

// ListByRequest returns every comparison raised for a request, newest first,
// with quotes loaded. Rejected comparisons stay queryable for audit.
func (r *Repository) ListByRequest(ctx context.Context, requestID int64) ([]Comparison, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+comparisonColumns+` FROM cost_comparisons
		WHERE request_id = $1 ORDER BY created_at DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Comparison
	for rows.Next() {
		cmp, err := scanComparison(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, cmp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Quotes, err = r.quotes(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

// HasActive reports whether the request already has a pending or approved
// comparison. The partial unique index on cost_comparisons backs this check.
func (r *Repository) HasActive(ctx context.Context, requestID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM cost_comparisons WHERE request_id = $1 AND status IN ('PENDING','APPROVED'))`,
		requestID).Scan(&exists)
	return exists, err
}

func (r *Repository) quotes(ctx context.Context, comparisonID int64) ([]Quote, error) {
	rows, err := r.pool.Query(ctx, `SELECT q.id, q.comparison_id, q.vendor_id,
			COALESCE(v.company_name, ''), q.unit_rate, q.position, COALESCE(q.note, '')
		FROM comparison_quotes q
		LEFT JOIN vendors v ON v.id = q.vendor_id
		WHERE q.comparison_id = $1
		ORDER BY q.position`, comparisonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.ComparisonID, &q.VendorID, &q.VendorName, &q.UnitRate, &q.Position, &q.Note); err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (tx *txRepo) Insert(ctx context.Context, cmp Comparison) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO cost_comparisons
		(request_id, status, created_by, created_at, updated_at)
	VALUES ($1, $2, $3, NOW(), NOW())
	RETURNING id`, cmp.RequestID, string(cmp.Status), cmp.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrActiveExists
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) InsertQuote(ctx context.Context, q Quote) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO comparison_quotes
		(comparison_id, vendor_id, unit_rate, position, note)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	RETURNING id`, q.ComparisonID, q.VendorID, q.UnitRate, q.Position, q.Note).Scan(&id)
	return id, err
}

func (tx *txRepo) Decide(ctx context.Context, id int64, outcome Decision, note *string, winningQuoteID *int64, decidedBy int64, at time.Time) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE cost_comparisons
		SET status = $1, note = $2, winning_quote_id = $3, decided_by = $4, decided_at = $5, updated_at = NOW()
		WHERE id = $6 AND status = 'PENDING'`,
		string(outcome), note, winningQuoteID, decidedBy, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.tx.QueryRow(ctx, `SELECT true FROM cost_comparisons WHERE id = $1`, id).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (tx *txRepo) Delete(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM comparison_quotes WHERE comparison_id = $1`, id)
	if err != nil {
		return err
	}
	_, err = tx.tx.Exec(ctx, `DELETE FROM cost_comparisons WHERE id = $1`, id)
	return err
}
