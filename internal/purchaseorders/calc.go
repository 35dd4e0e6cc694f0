package purchaseorders

import "math"

// LineAmounts breaks a line total into its derivation steps.
type LineAmounts struct {
	Base     float64 `json:"base"`
	Discount float64 `json:"discount"`
	Taxable  float64 `json:"taxable"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

// CalculateLine derives a line's amounts. The rate applies per basis units,
// so a rate quoted per 1000 bricks uses basis 1000. Basis must be positive;
// callers validate before reaching here and a zero basis falls back to 1.
func CalculateLine(quantity, unitRate, perUnitBasis, discountPct, sgstPct, cgstPct float64) LineAmounts {
	if perUnitBasis <= 0 {
		perUnitBasis = 1
	}
	base := (quantity / perUnitBasis) * unitRate
	discount := base * (discountPct / 100)
	taxable := base - discount
	tax := taxable * ((sgstPct + cgstPct) / 100)
	return LineAmounts{
		Base:     base,
		Discount: discount,
		Taxable:  taxable,
		Tax:      tax,
		Total:    taxable + tax,
	}
}

// Round2 rounds to two decimals for presentation. Stored amounts stay exact.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
