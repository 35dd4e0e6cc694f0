// Package vendors manages the supplier registry referenced by comparisons,
// purchase orders and inventory items.
package vendors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// Vendor is a supplier. Its lifetime is independent of any request.
type Vendor struct {
	ID          int64     `json:"id" db:"id"`
	CompanyName string    `json:"company_name" db:"company_name"`
	ContactName string    `json:"contact_name,omitempty" db:"contact_name"`
	Email       string    `json:"email,omitempty" db:"email"`
	Phone       string    `json:"phone,omitempty" db:"phone"`
	GSTIN       string    `json:"gstin,omitempty" db:"gstin"`
	Address     string    `json:"address,omitempty" db:"address"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

var (
	// ErrNotFound indicates the vendor does not exist.
	ErrNotFound = fmt.Errorf("vendors: %w", httpx.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("vendors: %w", httpx.ErrValidation)
	// ErrForbidden occurs when the actor's role may not manage vendors.
	ErrForbidden = fmt.Errorf("vendors: %w", httpx.ErrForbidden)
	// ErrDuplicate indicates a vendor with the same company name exists.
	ErrDuplicate = fmt.Errorf("vendors: %w", httpx.ErrDuplicate)
)

// Repository provides PostgreSQL backed persistence for vendors.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const vendorColumns = `id, company_name, COALESCE(contact_name, ''), COALESCE(email, ''),
	COALESCE(phone, ''), COALESCE(gstin, ''), COALESCE(address, ''), created_at, updated_at`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.CompanyName, &v.ContactName, &v.Email, &v.Phone, &v.GSTIN,
		&v.Address, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrNotFound
		}
		return Vendor{}, err
	}
	return v, nil
}

// Get returns a vendor by id.
func (r *Repository) Get(ctx context.Context, id int64) (Vendor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id)
	return scanVendor(row)
}

// Exists reports whether a vendor exists.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vendors WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// List returns vendors matching the optional search, sorted by company name.
func (r *Repository) List(ctx context.Context, limit, offset int, search string) ([]Vendor, int, error) {
	where := "1=1"
	args := []any{}
	if search != "" {
		args = append(args, "%"+search+"%")
		where = "(company_name ILIKE $1 OR contact_name ILIKE $1 OR gstin ILIKE $1)"
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vendors WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM vendors WHERE %s ORDER BY company_name LIMIT $%d OFFSET $%d`,
		vendorColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var vendors []Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, 0, err
		}
		vendors = append(vendors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return vendors, total, nil
}

// Insert adds a vendor.
func (r *Repository) Insert(ctx context.Context, v Vendor) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO vendors
		(company_name, contact_name, email, phone, gstin, address, created_at, updated_at)
	VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NOW(), NOW())
	RETURNING id`, v.CompanyName, v.ContactName, v.Email, v.Phone, v.GSTIN, v.Address).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

// Update edits a vendor.
func (r *Repository) Update(ctx context.Context, v Vendor) error {
	tag, err := r.pool.Exec(ctx, `UPDATE vendors
		SET company_name = $1, contact_name = NULLIF($2, ''), email = NULLIF($3, ''),
		    phone = NULLIF($4, ''), gstin = NULLIF($5, ''), address = NULLIF($6, ''), updated_at = NOW()
		WHERE id = $7`, v.CompanyName, v.ContactName, v.Email, v.Phone, v.GSTIN, v.Address, v.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Vendor, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, limit, offset int, search string) ([]Vendor, int, error)
	Insert(ctx context.Context, v Vendor) (int64, error)
	Update(ctx context.Context, v Vendor) error
}

// Service manages vendor master data.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the vendor service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Input carries vendor fields for create and update.
type Input struct {
	CompanyName string `json:"company_name" validate:"required,max=200"`
	ContactName string `json:"contact_name" validate:"max=120"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"max=30"`
	GSTIN       string `json:"gstin" validate:"max=15"`
	Address     string `json:"address" validate:"max=500"`
}

func (s *Service) fromInput(input Input) (Vendor, error) {
	if strings.TrimSpace(input.CompanyName) == "" {
		return Vendor{}, fmt.Errorf("%w: company name required", ErrValidation)
	}
	return Vendor{
		CompanyName: strings.TrimSpace(input.CompanyName),
		ContactName: strings.TrimSpace(input.ContactName),
		Email:       strings.TrimSpace(input.Email),
		Phone:       strings.TrimSpace(input.Phone),
		GSTIN:       strings.ToUpper(strings.TrimSpace(input.GSTIN)),
		Address:     strings.TrimSpace(input.Address),
	}, nil
}

// Create adds a vendor. Purchase officers own the registry.
func (s *Service) Create(ctx context.Context, input Input, actor shared.Actor) (Vendor, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Vendor{}, fmt.Errorf("%w: only a purchase officer may manage vendors", ErrForbidden)
	}
	v, err := s.fromInput(input)
	if err != nil {
		return Vendor{}, err
	}
	v.ID, err = s.repo.Insert(ctx, v)
	if err != nil {
		return Vendor{}, err
	}
	return s.repo.Get(ctx, v.ID)
}

// Update edits a vendor.
func (s *Service) Update(ctx context.Context, id int64, input Input, actor shared.Actor) (Vendor, error) {
	if actor.Role != shared.RolePurchaseOfficer {
		return Vendor{}, fmt.Errorf("%w: only a purchase officer may manage vendors", ErrForbidden)
	}
	v, err := s.fromInput(input)
	if err != nil {
		return Vendor{}, err
	}
	v.ID = id
	if err := s.repo.Update(ctx, v); err != nil {
		return Vendor{}, err
	}
	return s.repo.Get(ctx, id)
}

// Get returns a vendor.
func (s *Service) Get(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.Get(ctx, id)
}

// Exists reports whether a vendor exists. Other services consume this as
// their VendorPort.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	return s.repo.Exists(ctx, id)
}

// List returns vendors.
func (s *Service) List(ctx context.Context, limit, offset int, search string) ([]Vendor, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, search)
}
