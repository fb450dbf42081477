package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/merch-api/internal/bundle"
)

// ItemBreakdown carries the allocation result for a single bundle member.
type ItemBreakdown struct {
	ProductID  string
	Price      decimal.Decimal
	Discount   decimal.Decimal
	FinalPrice decimal.Decimal
}

// Breakdown aggregates the allocation across a bundle. Per-item discounts
// always sum exactly to TotalDiscount.
type Breakdown struct {
	Items         []ItemBreakdown
	Total         decimal.Decimal
	TotalDiscount decimal.Decimal
	FinalPrice    decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Total sums the snapshotted unit prices of the items.
func Total(items []bundle.Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}
	return total
}

// Distribute computes the per-item discount allocation for a bundle.
//
// Percentage rules discount the combined total and spread it proportionally
// to item price, rounded to 2 decimals, with the last item absorbing the
// rounding residual so the breakdown sums exactly. Fixed rules discount each
// item by the rule value, clamped so no final price goes negative.
//
// An empty item list or an unparsable discount value yields a zero-discount
// breakdown; malformed numeric input is never an error.
func Distribute(items []bundle.Item, rule bundle.DiscountRule) Breakdown {
	total := Total(items)
	value, ok := rule.Parsed()
	if len(items) == 0 || !ok || !value.IsPositive() {
		return zeroDiscount(items, total)
	}

	switch rule.Kind {
	case bundle.DiscountPercentage:
		return distributePercentage(items, total, value)
	case bundle.DiscountFixed:
		return distributeFixed(items, total, value)
	default:
		return zeroDiscount(items, total)
	}
}

// BundlePrice returns the final composite price for the bundle members.
func BundlePrice(items []bundle.Item, rule bundle.DiscountRule) decimal.Decimal {
	return Distribute(items, rule).FinalPrice
}

func distributePercentage(items []bundle.Item, total, pct decimal.Decimal) Breakdown {
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	if total.IsZero() {
		return zeroDiscount(items, total)
	}
	totalDiscount := total.Mul(pct).Div(hundred).Round(2)

	out := Breakdown{
		Items:         make([]ItemBreakdown, 0, len(items)),
		Total:         total,
		TotalDiscount: totalDiscount,
		FinalPrice:    total.Sub(totalDiscount),
	}
	allocated := decimal.Zero
	for i, it := range items {
		var share decimal.Decimal
		if i == len(items)-1 {
			// Last item absorbs the residual so shares sum to the
			// rounded total discount exactly.
			share = totalDiscount.Sub(allocated)
			if share.IsNegative() {
				share = decimal.Zero
			}
		} else {
			share = it.Price.Div(total).Mul(totalDiscount).Round(2)
			allocated = allocated.Add(share)
		}
		out.Items = append(out.Items, ItemBreakdown{
			ProductID:  it.ProductID,
			Price:      it.Price,
			Discount:   share,
			FinalPrice: it.Price.Sub(share),
		})
	}
	return out
}

func distributeFixed(items []bundle.Item, total, value decimal.Decimal) Breakdown {
	out := Breakdown{
		Items: make([]ItemBreakdown, 0, len(items)),
		Total: total,
	}
	totalDiscount := decimal.Zero
	for _, it := range items {
		share := value.Round(2)
		if share.GreaterThan(it.Price) {
			share = it.Price
		}
		totalDiscount = totalDiscount.Add(share)
		out.Items = append(out.Items, ItemBreakdown{
			ProductID:  it.ProductID,
			Price:      it.Price,
			Discount:   share,
			FinalPrice: it.Price.Sub(share),
		})
	}
	out.TotalDiscount = totalDiscount
	out.FinalPrice = total.Sub(totalDiscount)
	if out.FinalPrice.IsNegative() {
		out.FinalPrice = decimal.Zero
	}
	return out
}

func zeroDiscount(items []bundle.Item, total decimal.Decimal) Breakdown {
	out := Breakdown{
		Items:         make([]ItemBreakdown, 0, len(items)),
		Total:         total,
		TotalDiscount: decimal.Zero,
		FinalPrice:    total,
	}
	for _, it := range items {
		out.Items = append(out.Items, ItemBreakdown{
			ProductID:  it.ProductID,
			Price:      it.Price,
			Discount:   decimal.Zero,
			FinalPrice: it.Price,
		})
	}
	return out
}
