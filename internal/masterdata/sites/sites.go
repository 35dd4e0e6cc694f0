// Package sites manages construction site master data.
package sites

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// Status enumerates site states.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Site is a construction location requests originate from and material is
// delivered to.
type Site struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Address   string    `json:"address,omitempty" db:"address"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

var (
	// ErrNotFound indicates the site does not exist.
	ErrNotFound = fmt.Errorf("sites: %w", httpx.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("sites: %w", httpx.ErrValidation)
	// ErrForbidden occurs when the actor's role may not manage sites.
	ErrForbidden = fmt.Errorf("sites: %w", httpx.ErrForbidden)
)

// Repository provides PostgreSQL backed persistence for sites.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const siteColumns = `id, name, COALESCE(address, ''), status, created_at, updated_at`

func scanSite(row pgx.Row) (Site, error) {
	var s Site
	var status string
	err := row.Scan(&s.ID, &s.Name, &s.Address, &status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Site{}, ErrNotFound
		}
		return Site{}, err
	}
	s.Status = Status(status)
	return s, nil
}

// Get returns a site by id.
func (r *Repository) Get(ctx context.Context, id int64) (Site, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id)
	return scanSite(row)
}

// Exists reports whether an active site exists.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sites WHERE id = $1 AND status = 'ACTIVE')`, id).Scan(&exists)
	return exists, err
}

// List returns sites matching the optional search.
func (r *Repository) List(ctx context.Context, limit, offset int, search string) ([]Site, int, error) {
	where := "1=1"
	args := []any{}
	if search != "" {
		args = append(args, "%"+search+"%")
		where = "name ILIKE $1"
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sites WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM sites WHERE %s ORDER BY name LIMIT $%d OFFSET $%d`,
		siteColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, 0, err
		}
		sites = append(sites, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return sites, total, nil
}

// Insert adds a site.
func (r *Repository) Insert(ctx context.Context, s Site) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO sites (name, address, status, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, NOW(), NOW()) RETURNING id`,
		s.Name, s.Address, string(s.Status)).Scan(&id)
	return id, err
}

// Update edits a site.
func (r *Repository) Update(ctx context.Context, s Site) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sites SET name = $1, address = NULLIF($2, ''), status = $3, updated_at = NOW()
		WHERE id = $4`, s.Name, s.Address, string(s.Status), s.ID)
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
	Get(ctx context.Context, id int64) (Site, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, limit, offset int, search string) ([]Site, int, error)
	Insert(ctx context.Context, s Site) (int64, error)
	Update(ctx context.Context, s Site) error
}

// Service manages site master data.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the site service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Input carries site fields for create and update.
type Input struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
	Status  Status `json:"status"`
}

// Create adds a site. Managers own the site registry.
func (s *Service) Create(ctx context.Context, input Input, actor shared.Actor) (Site, error) {
	if actor.Role != shared.RoleManager && actor.Role != shared.RolePurchaseOfficer {
		return Site{}, fmt.Errorf("%w: role %s may not manage sites", ErrForbidden, actor.Role)
	}
	if strings.TrimSpace(input.Name) == "" {
		return Site{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	status := input.Status
	if status == "" {
		status = StatusActive
	}
	if status != StatusActive && status != StatusInactive {
		return Site{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	site := Site{Name: strings.TrimSpace(input.Name), Address: strings.TrimSpace(input.Address), Status: status}
	id, err := s.repo.Insert(ctx, site)
	if err != nil {
		return Site{}, err
	}
	return s.repo.Get(ctx, id)
}

// Update edits a site.
func (s *Service) Update(ctx context.Context, id int64, input Input, actor shared.Actor) (Site, error) {
	if actor.Role != shared.RoleManager && actor.Role != shared.RolePurchaseOfficer {
		return Site{}, fmt.Errorf("%w: role %s may not manage sites", ErrForbidden, actor.Role)
	}
	if strings.TrimSpace(input.Name) == "" {
		return Site{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	status := input.Status
	if status == "" {
		status = StatusActive
	}
	if status != StatusActive && status != StatusInactive {
		return Site{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	site := Site{ID: id, Name: strings.TrimSpace(input.Name), Address: strings.TrimSpace(input.Address), Status: status}
	if err := s.repo.Update(ctx, site); err != nil {
		return Site{}, err
	}
	return s.repo.Get(ctx, id)
}

// Get returns a site.
func (s *Service) Get(ctx context.Context, id int64) (Site, error) {
	return s.repo.Get(ctx, id)
}

// Exists reports whether an active site exists. The request lifecycle
// consumes this as its SitePort.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	return s.repo.Exists(ctx, id)
}

// List returns sites.
func (s *Service) List(ctx context.Context, limit, offset int, search string) ([]Site, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, search)
}
