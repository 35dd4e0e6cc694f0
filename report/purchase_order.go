package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sitewise-erp/sitewise/internal/masterdata/sites"
	"github.com/sitewise-erp/sitewise/internal/masterdata/vendors"
	"github.com/sitewise-erp/sitewise/internal/purchaseorders"
)

// VendorDirectory resolves vendor details for the document header.
type VendorDirectory interface {
	Get(ctx context.Context, id int64) (vendors.Vendor, error)
}

// SiteDirectory resolves the delivery site for the document header.
type SiteDirectory interface {
	Get(ctx context.Context, id int64) (sites.Site, error)
}

// Renderer turns purchase orders into PDF documents via Gotenberg.
type Renderer struct {
	client  *Client
	vendors VendorDirectory
	sites   SiteDirectory
}

// NewRenderer constructs a renderer.
func NewRenderer(client *Client, vendorDir VendorDirectory, siteDir SiteDirectory) *Renderer {
	return &Renderer{client: client, vendors: vendorDir, sites: siteDir}
}

type poLineView struct {
	Position    int
	Description string
	HSNCode     string
	Quantity    string
	Unit        string
	UnitRate    string
	DiscountPct string
	TaxPct      string
	LineTotal   string
}

type poDocView struct {
	Number      string
	IssuedOn    string
	ValidTill   string
	Status      string
	VendorName  string
	VendorGSTIN string
	VendorAddr  string
	SiteName    string
	SiteAddr    string
	Notes       string
	Lines       []poLineView
	Total       string
	GeneratedAt string
}

var poTemplate = template.Must(template.New("purchase_order").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Purchase Order {{.Number}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; color: #222; margin: 32px; }
h1 { font-size: 20px; margin-bottom: 0; }
.meta { color: #555; margin-bottom: 16px; }
.parties { display: flex; justify-content: space-between; margin-bottom: 24px; }
.party { width: 45%; }
.party h3 { margin-bottom: 4px; border-bottom: 1px solid #ccc; }
table { width: 100%; border-collapse: collapse; }
th, td { border: 1px solid #999; padding: 6px 8px; text-align: left; }
th { background: #f0f0f0; }
td.num, th.num { text-align: right; }
tfoot td { font-weight: bold; }
.cancelled { color: #b00; font-weight: bold; }
.footer { margin-top: 32px; color: #888; font-size: 10px; }
</style>
</head>
<body>
<h1>Purchase Order {{.Number}}</h1>
<p class="meta">Issued {{.IssuedOn}} &middot; Valid till {{.ValidTill}}{{if eq .Status "CANCELLED"}} &middot; <span class="cancelled">CANCELLED</span>{{end}}</p>
<div class="parties">
  <div class="party">
    <h3>Vendor</h3>
    <p>{{.VendorName}}{{if .VendorGSTIN}}<br>GSTIN: {{.VendorGSTIN}}{{end}}{{if .VendorAddr}}<br>{{.VendorAddr}}{{end}}</p>
  </div>
  <div class="party">
    <h3>Deliver To</h3>
    <p>{{.SiteName}}{{if .SiteAddr}}<br>{{.SiteAddr}}{{end}}</p>
  </div>
</div>
<table>
<thead>
<tr><th>#</th><th>Description</th><th>HSN</th><th class="num">Qty</th><th>Unit</th><th class="num">Rate</th><th class="num">Disc %</th><th class="num">GST %</th><th class="num">Amount</th></tr>
</thead>
<tbody>
{{range .Lines}}<tr><td>{{.Position}}</td><td>{{.Description}}</td><td>{{.HSNCode}}</td><td class="num">{{.Quantity}}</td><td>{{.Unit}}</td><td class="num">{{.UnitRate}}</td><td class="num">{{.DiscountPct}}</td><td class="num">{{.TaxPct}}</td><td class="num">{{.LineTotal}}</td></tr>
{{end}}</tbody>
<tfoot>
<tr><td colspan="8">Grand Total</td><td class="num">{{.Total}}</td></tr>
</tfoot>
</table>
{{if .Notes}}<p><strong>Notes:</strong> {{.Notes}}</p>{{end}}
<p class="footer">Generated {{.GeneratedAt}}</p>
</body>
</html>`))

// RenderPurchaseOrder builds the order document and converts it to PDF.
func (r *Renderer) RenderPurchaseOrder(ctx context.Context, po purchaseorders.PurchaseOrder) ([]byte, error) {
	view := poDocView{
		Number:      po.Number,
		IssuedOn:    po.CreatedAt.Format("02 Jan 2006"),
		ValidTill:   po.ValidTill.Format("02 Jan 2006"),
		Status:      string(po.Status),
		Notes:       po.Notes,
		Total:       money(purchaseorders.Round2(po.Total())),
		GeneratedAt: time.Now().UTC().Format(time.RFC1123),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vendor, err := r.vendors.Get(gctx, po.VendorID)
		if err != nil {
			return fmt.Errorf("report: resolve vendor: %w", err)
		}
		view.VendorName = vendor.CompanyName
		view.VendorGSTIN = vendor.GSTIN
		view.VendorAddr = vendor.Address
		return nil
	})
	g.Go(func() error {
		site, err := r.sites.Get(gctx, po.SiteID)
		if err != nil {
			return fmt.Errorf("report: resolve site: %w", err)
		}
		view.SiteName = site.Name
		view.SiteAddr = site.Address
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, line := range po.Lines {
		view.Lines = append(view.Lines, poLineView{
			Position:    i + 1,
			Description: line.Description,
			HSNCode:     line.HSNCode,
			Quantity:    trimZeros(line.Quantity),
			Unit:        line.Unit,
			UnitRate:    money(line.UnitRate),
			DiscountPct: trimZeros(line.DiscountPct),
			TaxPct:      trimZeros(line.SGSTPct + line.CGSTPct),
			LineTotal:   money(purchaseorders.Round2(line.LineTotal)),
		})
	}

	buf := &bytes.Buffer{}
	if err := poTemplate.Execute(buf, view); err != nil {
		return nil, fmt.Errorf("report: render template: %w", err)
	}
	return r.client.RenderHTML(ctx, buf.String())
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func trimZeros(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	return strings.TrimRight(strings.TrimRight(s, "0"), ".")
}
