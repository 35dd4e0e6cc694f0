package vendors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

type memoryRepo struct {
	vendors map[int64]Vendor
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{vendors: make(map[int64]Vendor)}
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Vendor, error) {
	v, ok := r.vendors[id]
	if !ok {
		return Vendor{}, ErrNotFound
	}
	return v, nil
}

func (r *memoryRepo) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := r.vendors[id]
	return ok, nil
}

func (r *memoryRepo) List(ctx context.Context, limit, offset int, search string) ([]Vendor, int, error) {
	var items []Vendor
	for _, v := range r.vendors {
		items = append(items, v)
	}
	return items, len(items), nil
}

func (r *memoryRepo) Insert(ctx context.Context, v Vendor) (int64, error) {
	for _, existing := range r.vendors {
		if existing.CompanyName == v.CompanyName {
			return 0, ErrDuplicate
		}
	}
	r.nextID++
	v.ID = r.nextID
	r.vendors[v.ID] = v
	return v.ID, nil
}

func (r *memoryRepo) Update(ctx context.Context, v Vendor) error {
	if _, ok := r.vendors[v.ID]; !ok {
		return ErrNotFound
	}
	r.vendors[v.ID] = v
	return nil
}

var officer = shared.Actor{ID: 2, Role: shared.RolePurchaseOfficer}

func TestVendorCRUD(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	v, err := svc.Create(ctx, Input{
		CompanyName: " UltraBuild Cement Co ",
		Email:       "sales@ultrabuild.example",
		GSTIN:       "27aaacu1234f1z5",
	}, officer)
	require.NoError(t, err)
	require.Equal(t, "UltraBuild Cement Co", v.CompanyName)
	require.Equal(t, "27AAACU1234F1Z5", v.GSTIN)

	ok, err := svc.Exists(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, ok)

	updated, err := svc.Update(ctx, v.ID, Input{CompanyName: "UltraBuild Cement Co", Phone: "9800000000"}, officer)
	require.NoError(t, err)
	require.Equal(t, "9800000000", updated.Phone)

	_, err = svc.Create(ctx, Input{CompanyName: "UltraBuild Cement Co"}, officer)
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = svc.Create(ctx, Input{CompanyName: "   "}, officer)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, Input{CompanyName: "Another"}, shared.Actor{ID: 3, Role: shared.RoleManager})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Update(ctx, 9999, Input{CompanyName: "Ghost"}, officer)
	require.ErrorIs(t, err, ErrNotFound)
}
