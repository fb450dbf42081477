package bundle

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states of a bundle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// DiscountKind enumerates supported discount rule kinds.
type DiscountKind string

const (
	// DiscountPercentage applies a percentage of the combined item total.
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixed applies a fixed amount per member item.
	DiscountFixed DiscountKind = "fixed"
)

// Anchor positions a label may occupy on a product tile.
const (
	PositionTopLeft     = "top-left"
	PositionTopRight    = "top-right"
	PositionBottomLeft  = "bottom-left"
	PositionBottomRight = "bottom-right"
)

// Positions lists the four valid anchor positions.
var Positions = []string{PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight}

// DiscountRule captures the discount configuration as authored. Value is kept
// as the raw authored string; an unparsable value means "no discount" rather
// than an error.
type DiscountRule struct {
	Kind  DiscountKind `json:"kind"`
	Value string       `json:"value"`
}

// Parsed returns the rule value as a decimal. It reports false when the raw
// value is empty or not a number.
func (r DiscountRule) Parsed() (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(r.Value)
	if trimmed == "" {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

// ActiveWindow bounds the scheduling of a bundle. A nil EndAt means the
// bundle stays active indefinitely once started.
type ActiveWindow struct {
	StartAt time.Time  `json:"startAt"`
	EndAt   *time.Time `json:"endAt,omitempty"`
}

// Contains reports whether the instant falls inside the window.
func (w ActiveWindow) Contains(now time.Time) bool {
	if now.Before(w.StartAt) {
		return false
	}
	if w.EndAt != nil && now.After(*w.EndAt) {
		return false
	}
	return true
}

// Item is a bundle member with its unit price snapshotted at authoring time.
// Prices are never live-repriced after the bundle is saved.
type Item struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Title     string          `json:"title"`
	Image     string          `json:"image,omitempty"`
	Handle    string          `json:"handle"`
	Price     decimal.Decimal `json:"price"`
}

// Label is a badge definition attachable to bundles.
type Label struct {
	ID               uuid.UUID `json:"id"`
	Text             string    `json:"text"`
	Icon             string    `json:"icon,omitempty"`
	BgColor          string    `json:"bgColor"`
	TextColor        string    `json:"textColor"`
	Shape            string    `json:"shape"`
	Position         string    `json:"position"`
	Priority         int       `json:"priority"`
	ShowOnPDP        bool      `json:"showOnPDP"`
	ShowOnCollection bool      `json:"showOnCollection"`
}

// AnchorPosition returns the label position defaulting to top-left.
func (l Label) AnchorPosition() string {
	pos := strings.TrimSpace(l.Position)
	for _, p := range Positions {
		if pos == p {
			return p
		}
	}
	return PositionTopLeft
}

// Bundle groups catalog items sold together under one discount rule.
type Bundle struct {
	ID          uuid.UUID    `json:"id"`
	Shop        string       `json:"shop"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Status      Status       `json:"status"`
	Priority    int          `json:"priority"`
	Window      ActiveWindow `json:"window"`
	Rule        DiscountRule `json:"rule"`
	Items       []Item       `json:"items"`
	Labels      []Label      `json:"labels,omitempty"`
}

// ActiveAt reports whether the bundle is live at the provided instant.
func (b Bundle) ActiveAt(now time.Time) bool {
	return b.Status == StatusActive && len(b.Items) > 0 && b.Window.Contains(now)
}

// ProductIDs returns the member product ids in item order.
func (b Bundle) ProductIDs() []string {
	ids := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

// WinningLabel resolves the single visible label: the attached label with the
// highest combined priority (bundle priority + label priority). Ties keep the
// earliest attachment. Returns false when the bundle carries no labels.
func (b Bundle) WinningLabel() (Label, bool) {
	if len(b.Labels) == 0 {
		return Label{}, false
	}
	best := b.Labels[0]
	bestScore := b.Priority + best.Priority
	for _, l := range b.Labels[1:] {
		if score := b.Priority + l.Priority; score > bestScore {
			best = l
			bestScore = score
		}
	}
	return best, true
}
