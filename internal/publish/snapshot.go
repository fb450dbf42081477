package publish

import (
	"github.com/noah-isme/merch-api/internal/bundle"
	"github.com/noah-isme/merch-api/internal/pricing"
)

// SnapshotItem is the wire form of a bundle member inside published metadata.
type SnapshotItem struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId"`
	Title     string  `json:"title"`
	Image     string  `json:"image"`
	Price     float64 `json:"price"`
	Handle    string  `json:"handle"`
}

// SnapshotLabel is the denormalized label embedded in published metadata.
type SnapshotLabel struct {
	Text             string  `json:"text"`
	Icon             *string `json:"icon"`
	BgColor          string  `json:"bgColor"`
	TextColor        string  `json:"textColor"`
	Position         string  `json:"position"`
	Shape            string  `json:"shape"`
	ShowOnPDP        bool    `json:"showOnPDP"`
	ShowOnCollection bool    `json:"showOnCollection"`
}

// Snapshot is one entry of the per-product metadata array. Consumers parse it
// without access to the authoring store, so everything they need is inlined.
type Snapshot struct {
	BundleID      string         `json:"bundleId"`
	BundleName    string         `json:"bundleName"`
	BundlePrice   float64        `json:"bundlePrice"`
	OriginalPrice float64        `json:"originalPrice"`
	DiscountValue *float64       `json:"discountValue"`
	DiscountType  *string        `json:"discountType"`
	Active        bool           `json:"active"`
	Priority      int            `json:"priority"`
	Items         []SnapshotItem `json:"items"`
	Label         *SnapshotLabel `json:"label"`
}

// BuildSnapshot projects an authored bundle into its published wire form.
// Prices come from the allocation engine so the composite price matches what
// the cart discount will later apply.
func BuildSnapshot(b bundle.Bundle) Snapshot {
	breakdown := pricing.Distribute(b.Items, b.Rule)

	s := Snapshot{
		BundleID:      b.ID.String(),
		BundleName:    b.Name,
		BundlePrice:   breakdown.FinalPrice.Round(2).InexactFloat64(),
		OriginalPrice: breakdown.Total.Round(2).InexactFloat64(),
		Active:        b.Status == bundle.StatusActive,
		Priority:      b.Priority,
		Items:         make([]SnapshotItem, 0, len(b.Items)),
	}
	if value, ok := b.Rule.Parsed(); ok && value.IsPositive() {
		v := value.InexactFloat64()
		kind := string(b.Rule.Kind)
		s.DiscountValue = &v
		s.DiscountType = &kind
	}
	for _, it := range b.Items {
		item := SnapshotItem{
			ProductID: it.ProductID,
			Title:     it.Title,
			Image:     it.Image,
			Price:     it.Price.Round(2).InexactFloat64(),
			Handle:    it.Handle,
		}
		if it.VariantID != "" {
			v := it.VariantID
			item.VariantID = &v
		}
		s.Items = append(s.Items, item)
	}
	if label, ok := b.WinningLabel(); ok {
		sl := SnapshotLabel{
			Text:             label.Text,
			BgColor:          label.BgColor,
			TextColor:        label.TextColor,
			Position:         label.AnchorPosition(),
			Shape:            label.Shape,
			ShowOnPDP:        label.ShowOnPDP,
			ShowOnCollection: label.ShowOnCollection,
		}
		if label.Icon != "" {
			icon := label.Icon
			sl.Icon = &icon
		}
		s.Label = &sl
	}
	return s
}
