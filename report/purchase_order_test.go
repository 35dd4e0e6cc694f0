package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/masterdata/sites"
	"github.com/sitewise-erp/sitewise/internal/masterdata/vendors"
	"github.com/sitewise-erp/sitewise/internal/purchaseorders"
)

type stubVendorDir struct{}

func (stubVendorDir) Get(ctx context.Context, id int64) (vendors.Vendor, error) {
	return vendors.Vendor{ID: id, CompanyName: "UltraBuild Cement Co", GSTIN: "27AAACU1234F1Z5"}, nil
}

type stubSiteDir struct{}

func (stubSiteDir) Get(ctx context.Context, id int64) (sites.Site, error) {
	return sites.Site{ID: id, Name: "Riverside Tower A", Address: "Plot 14, Riverside Rd"}, nil
}

func TestRenderPurchaseOrder(t *testing.T) {
	var receivedHTML string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("files")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		receivedHTML = string(data)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	renderer := NewRenderer(NewClient(srv.URL), stubVendorDir{}, stubSiteDir{})
	po := purchaseorders.PurchaseOrder{
		ID:        1,
		Number:    "PO-2026-000042",
		VendorID:  5,
		SiteID:    9,
		Status:    purchaseorders.StatusIssued,
		ValidTill: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		CreatedAt: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		Lines: []purchaseorders.Line{
			{Description: "OPC 53 Grade Cement", Quantity: 100, Unit: "bag", UnitRate: 45, SGSTPct: 9, CGSTPct: 9, LineTotal: 5310},
		},
	}

	pdf, err := renderer.RenderPurchaseOrder(context.Background(), po)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(pdf), "%PDF"))

	require.Contains(t, receivedHTML, "PO-2026-000042")
	require.Contains(t, receivedHTML, "UltraBuild Cement Co")
	require.Contains(t, receivedHTML, "Riverside Tower A")
	require.Contains(t, receivedHTML, "OPC 53 Grade Cement")
	require.Contains(t, receivedHTML, "5310.00")
}

func TestRenderPurchaseOrderGotenbergDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	renderer := NewRenderer(NewClient(srv.URL), stubVendorDir{}, stubSiteDir{})
	_, err := renderer.RenderPurchaseOrder(context.Background(), purchaseorders.PurchaseOrder{
		Number: "PO-2026-000001", VendorID: 1, SiteID: 1,
		ValidTill: time.Now(), CreatedAt: time.Now(),
	})
	require.Error(t, err)
}
