package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sitewise-erp/sitewise/internal/comparison"
	"github.com/sitewise-erp/sitewise/internal/delivery"
	"github.com/sitewise-erp/sitewise/internal/inventory"
	"github.com/sitewise-erp/sitewise/internal/masterdata/sites"
	"github.com/sitewise-erp/sitewise/internal/masterdata/vendors"
	"github.com/sitewise-erp/sitewise/internal/observability"
	"github.com/sitewise-erp/sitewise/internal/purchaseorders"
	"github.com/sitewise-erp/sitewise/internal/requests"
	"github.com/sitewise-erp/sitewise/jobs"
	"github.com/sitewise-erp/sitewise/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	RequestHandler       *requests.Handler
	ComparisonHandler    *comparison.Handler
	PurchaseOrderHandler *purchaseorders.Handler
	DeliveryHandler      *delivery.Handler
	InventoryHandler     *inventory.Handler
	VendorHandler        *vendors.Handler
	SiteHandler          *sites.Handler

	ReportHandler *report.Handler
	JobHandler    *jobs.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router with Sitewise defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		params.RequestHandler.MountRoutes(r)
		params.ComparisonHandler.MountRoutes(r)
		params.PurchaseOrderHandler.MountRoutes(r)
		params.DeliveryHandler.MountRoutes(r)
		params.InventoryHandler.MountRoutes(r)
		params.VendorHandler.MountRoutes(r)
		params.SiteHandler.MountRoutes(r)
	})

	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
