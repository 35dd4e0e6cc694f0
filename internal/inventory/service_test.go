package inventory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

type memoryRepo struct {
	items     map[int64]Item
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (r *memoryRepo) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := r.items[id]
	return ok, nil
}

func (r *memoryRepo) List(ctx context.Context, limit, offset int, search string) ([]Item, int, error) {
	var items []Item
	for _, item := range r.items {
		if search == "" || strings.Contains(strings.ToLower(item.Name), strings.ToLower(search)) {
			items = append(items, item)
		}
	}
	return items, len(items), nil
}

func (r *memoryRepo) Movements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) AddImage(ctx context.Context, img Image) (int64, error) {
	r.nextID++
	img.ID = r.nextID
	item := r.items[img.ItemID]
	item.Images = append(item.Images, img)
	r.items[img.ItemID] = item
	return img.ID, nil
}

func (r *memoryRepo) RemoveImage(ctx context.Context, itemID, imageID int64) (string, error) {
	item, ok := r.items[itemID]
	if !ok {
		return "", ErrNotFound
	}
	for i, img := range item.Images {
		if img.ID == imageID {
			item.Images = append(item.Images[:i], item.Images[i+1:]...)
			r.items[itemID] = item
			return img.Key, nil
		}
	}
	return "", ErrNotFound
}

func (r *memoryRepo) LinkVendor(ctx context.Context, itemID, vendorID int64) error {
	item := r.items[itemID]
	for _, id := range item.VendorIDs {
		if id == vendorID {
			return nil
		}
	}
	item.VendorIDs = append(item.VendorIDs, vendorID)
	r.items[itemID] = item
	return nil
}

func (r *memoryRepo) UnlinkVendor(ctx context.Context, itemID, vendorID int64) error {
	item := r.items[itemID]
	for i, id := range item.VendorIDs {
		if id == vendorID {
			item.VendorIDs = append(item.VendorIDs[:i], item.VendorIDs[i+1:]...)
			r.items[itemID] = item
			return nil
		}
	}
	return nil
}

func (tx *memoryTx) Insert(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) Update(ctx context.Context, item Item) error {
	stored, ok := tx.repo.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Name = item.Name
	stored.Unit = item.Unit
	stored.HSNCode = item.HSNCode
	stored.Description = item.Description
	tx.repo.items[item.ID] = stored
	return nil
}

func (tx *memoryTx) AdjustStock(ctx context.Context, itemID int64, delta float64, allowNegative bool) (float64, error) {
	item, ok := tx.repo.items[itemID]
	if !ok {
		return 0, ErrNotFound
	}
	next := item.CentralStock + delta
	if next < 0 && !allowNegative {
		return 0, ErrNegativeStock
	}
	item.CentralStock = next
	tx.repo.items[itemID] = item
	return next, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

type stubIdem struct {
	keys map[string]bool
	fail bool
}

func (s *stubIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.fail {
		return errors.New("store down")
	}
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *stubIdem) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

type stubStorage struct {
	deleted []string
}

func (s *stubStorage) Upload(ctx context.Context, filename string, content io.Reader) (string, string, error) {
	key := "items/" + filename
	return "https://cdn.example.com/" + key, key, nil
}

func (s *stubStorage) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

type stubVendors struct{ ids map[int64]bool }

func (s *stubVendors) Exists(ctx context.Context, id int64) (bool, error) {
	return s.ids[id], nil
}

var officer = shared.Actor{ID: 2, Role: shared.RolePurchaseOfficer}

func newTestService(allowNegative bool) (*Service, *memoryRepo, *stubIdem, *stubStorage) {
	repo := newMemoryRepo()
	idem := &stubIdem{keys: make(map[string]bool)}
	storage := &stubStorage{}
	vendors := &stubVendors{ids: map[int64]bool{1: true}}
	svc := NewService(repo, nil, idem, storage, vendors, nil, allowNegative)
	return svc, repo, idem, storage
}

func createItem(t *testing.T, svc *Service, stock float64) Item {
	t.Helper()
	item, err := svc.Create(context.Background(), CreateInput{
		Name: "Cement OPC 53", Unit: "bags", HSNCode: "2523", InitialStock: stock,
	}, officer)
	require.NoError(t, err)
	return item
}

func TestCreateItemRecordsInitialStock(t *testing.T) {
	svc, repo, _, _ := newTestService(false)
	item := createItem(t, svc, 40)
	require.InDelta(t, 40.0, item.CentralStock, 1e-9)

	movements, err := svc.Movements(context.Background(), item.ID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, ReasonInitial, movements[0].Reason)

	_, err = svc.Create(context.Background(), CreateInput{Unit: "bags"}, officer)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), CreateInput{Name: "Sand", Unit: "cft"}, shared.Actor{ID: 3, Role: shared.RoleManager})
	require.ErrorIs(t, err, ErrForbidden)
	require.Len(t, repo.items, 1)
}

func TestAdjustStock(t *testing.T) {
	svc, _, _, _ := newTestService(false)
	item := createItem(t, svc, 40)
	ctx := context.Background()

	stock, err := svc.AdjustStock(ctx, item.ID, AdjustInput{Delta: 100, Reason: ReasonCorrection}, officer)
	require.NoError(t, err)
	require.InDelta(t, 140.0, stock, 1e-9)

	stock, err = svc.AdjustStock(ctx, item.ID, AdjustInput{Delta: -140, Reason: ReasonCorrection}, officer)
	require.NoError(t, err)
	require.InDelta(t, 0.0, stock, 1e-9)

	_, err = svc.AdjustStock(ctx, item.ID, AdjustInput{Delta: -1, Reason: ReasonCorrection}, officer)
	require.ErrorIs(t, err, ErrNegativeStock)

	_, err = svc.AdjustStock(ctx, item.ID, AdjustInput{Delta: 1, Reason: "GUESSWORK"}, officer)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.AdjustStock(ctx, item.ID, AdjustInput{Delta: 0, Reason: ReasonCorrection}, officer)
	require.ErrorIs(t, err, ErrValidation)
}

func TestAdjustStockBackorderPolicy(t *testing.T) {
	svc, _, _, _ := newTestService(true)
	item := createItem(t, svc, 10)

	// With backorders enabled stock may go negative.
	stock, err := svc.AdjustStock(context.Background(), item.ID, AdjustInput{Delta: -25, Reason: ReasonCorrection}, officer)
	require.NoError(t, err)
	require.InDelta(t, -15.0, stock, 1e-9)
}

func TestAdjustForDeliveryIdempotent(t *testing.T) {
	svc, repo, _, _ := newTestService(false)
	item := createItem(t, svc, 0)
	ctx := context.Background()

	require.NoError(t, svc.AdjustForDelivery(ctx, item.ID, 60, "DC:1:10"))
	require.NoError(t, svc.AdjustForDelivery(ctx, item.ID, 60, "DC:1:10"))
	require.NoError(t, svc.AdjustForDelivery(ctx, item.ID, 40, "DC:1:11"))

	stored, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, 100.0, stored.CentralStock, 1e-9)
}

func TestAdjustForDeliveryReleasesKeyOnFailure(t *testing.T) {
	svc, repo, idem, _ := newTestService(false)
	item := createItem(t, svc, 0)
	ctx := context.Background()

	// Missing item makes the ledger write fail; the key must be released so
	// a retry can post.
	err := svc.AdjustForDelivery(ctx, item.ID+99, 60, "DC:2:20")
	require.Error(t, err)
	require.False(t, idem.keys["DC:2:20"])

	require.NoError(t, svc.AdjustForDelivery(ctx, item.ID, 60, "DC:2:20"))
	stored, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, 60.0, stored.CentralStock, 1e-9)
}

func TestImagesIndependentOfStock(t *testing.T) {
	svc, _, _, storage := newTestService(false)
	item := createItem(t, svc, 40)
	ctx := context.Background()

	after, err := svc.AttachImage(ctx, item.ID, "bag.jpg", strings.NewReader("jpeg"), officer)
	require.NoError(t, err)
	require.Len(t, after.Images, 1)
	require.InDelta(t, 40.0, after.CentralStock, 1e-9)

	after, err = svc.RemoveImage(ctx, item.ID, after.Images[0].ID, officer)
	require.NoError(t, err)
	require.Empty(t, after.Images)
	require.InDelta(t, 40.0, after.CentralStock, 1e-9)
	require.Equal(t, []string{"items/bag.jpg"}, storage.deleted)

	_, err = svc.RemoveImage(ctx, item.ID, 9999, officer)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVendorLinks(t *testing.T) {
	svc, _, _, _ := newTestService(false)
	item := createItem(t, svc, 0)
	ctx := context.Background()

	require.NoError(t, svc.LinkVendor(ctx, item.ID, 1, officer))
	require.NoError(t, svc.LinkVendor(ctx, item.ID, 1, officer))
	require.ErrorIs(t, svc.LinkVendor(ctx, item.ID, 99, officer), ErrNotFound)

	stored, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, stored.VendorIDs)

	require.NoError(t, svc.UnlinkVendor(ctx, item.ID, 1, officer))
	stored, err = svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Empty(t, stored.VendorIDs)
}
