package purchaseorders

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
	"github.com/sitewise-erp/sitewise/internal/rbac"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// PDFPort renders an issued order through the document collaborator.
type PDFPort interface {
	RenderPurchaseOrder(ctx context.Context, po PurchaseOrder) ([]byte, error)
}

// Handler manages purchase order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	pdf      PDFPort
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, pdf PDFPort, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, pdf: pdf, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireActor())
		r.Get("/purchase-orders", h.list)
		r.Get("/purchase-orders/{id}", h.show)
		r.Get("/purchase-orders/{id}/pdf", h.exportPDF)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RolePurchaseOfficer))
		r.Post("/comparisons/{id}/purchase-order", h.issueFromComparison)
		r.Post("/purchase-orders", h.issueDirect)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RolePurchaseOfficer, shared.RoleManager))
		r.Post("/purchase-orders/{id}/cancel", h.cancel)
	})
}

func (h *Handler) issueFromComparison(w http.ResponseWriter, r *http.Request) {
	comparisonID, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var input IssueFromComparisonInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	po, err := h.service.IssueFromComparison(r.Context(), comparisonID, input, actor)
	if err != nil {
		h.logger.Error("issue po from comparison", slog.Any("error", err), slog.Int64("comparison_id", comparisonID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) issueDirect(w http.ResponseWriter, r *http.Request) {
	var input IssueDirectInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	po, err := h.service.IssueDirect(r.Context(), input, actor)
	if err != nil {
		h.logger.Error("issue direct po", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	actor, _ := shared.ActorFromContext(r.Context())
	po, err := h.service.Cancel(r.Context(), id, actor)
	if err != nil {
		h.logger.Error("cancel po", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_order": po, "total": Round2(po.Total())})
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.pdf == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "PDF Unavailable", "document renderer is not configured")
		return
	}
	pdf, err := h.pdf.RenderPurchaseOrder(r.Context(), po)
	if err != nil {
		// The order itself is intact; only the collaborator failed.
		h.logger.Warn("render po pdf", slog.Any("error", err), slog.Int64("id", id))
		httpx.Problem(w, http.StatusBadGateway, "PDF Render Failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", po.Number))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	vendorID, _ := strconv.ParseInt(r.URL.Query().Get("vendor_id"), 10, 64)
	siteID, _ := strconv.ParseInt(r.URL.Query().Get("site_id"), 10, 64)
	filters := ListFilters{
		Status:   Status(r.URL.Query().Get("status")),
		VendorID: vendorID,
		SiteID:   siteID,
		Search:   r.URL.Query().Get("search"),
	}
	items, total, err := h.service.List(r.Context(), limit, offset, filters)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchase_orders": items,
		"total":           total,
		"limit":           limit,
		"offset":          offset,
		"pagination":      shared.NewPagination(offset/limit+1, limit, total),
	})
}
