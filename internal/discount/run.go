package discount

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// StrategyAll instructs the pricing runtime to apply every emitted discount
// together.
const StrategyAll = "ALL"

// Line is one cart entry together with the published metadata of its product.
type Line struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Cart is the snapshot the function evaluates.
type Cart struct {
	Lines []Line `json:"lines"`
}

// Input is the function invocation payload.
type Input struct {
	Cart Cart `json:"cart"`
}

// Target addresses one cart line.
type Target struct {
	CartLine struct {
		ID string `json:"id"`
	} `json:"cartLine"`
}

// Percentage is a percentage-off value.
type Percentage struct {
	Value float64 `json:"value"`
}

// FixedAmount is an absolute amount off, serialized with 2 decimals.
type FixedAmount struct {
	Amount string `json:"amount"`
}

// Value is either a percentage or a fixed amount, never both.
type Value struct {
	Percentage  *Percentage  `json:"percentage,omitempty"`
	FixedAmount *FixedAmount `json:"fixedAmount,omitempty"`
}

// Discount is one per-line instruction.
type Discount struct {
	Targets []Target `json:"targets"`
	Value   Value    `json:"value"`
}

// Output is the function result.
type Output struct {
	Discounts                   []Discount `json:"discounts"`
	DiscountApplicationStrategy string     `json:"discountApplicationStrategy"`
}

// Empty is the zero-discount result.
func Empty() Output {
	return Output{Discounts: []Discount{}, DiscountApplicationStrategy: StrategyAll}
}

// metaEntry is the lenient view of one published metadata entry. Entries are
// decoded individually so one malformed entry never discards its siblings.
type metaEntry struct {
	BundleID      string   `json:"bundleId"`
	Active        bool     `json:"active"`
	Priority      int      `json:"priority"`
	DiscountType  *string  `json:"discountType"`
	DiscountValue *float64 `json:"discountValue"`
	Items         []struct {
		ProductID string `json:"productId"`
	} `json:"items"`
}

type group struct {
	entry     metaEntry
	lineIndex map[int]struct{}
}

// Run evaluates the cart and emits per-line discount instructions.
//
// A bundle qualifies only when the cart holds a complete set: the number of
// distinct lines matched to it must reach its declared member count. When a
// line qualifies under several bundles at once, exactly one wins: highest
// published priority, then larger discount value, then lexicographically
// smaller bundle id. Discounts never stack on a line.
//
// Malformed or missing metadata marks a line as not part of any bundle. Run
// has no failure mode beyond an empty discount list.
func Run(input Input) Output {
	if len(input.Cart.Lines) == 0 {
		return Empty()
	}

	groups := map[string]*group{}
	for i, line := range input.Cart.Lines {
		if line.ProductID == "" {
			continue
		}
		for _, entry := range parseEntries(line.Metadata) {
			if !entry.Active || entry.BundleID == "" || len(entry.Items) == 0 {
				continue
			}
			if !entryContains(entry, line.ProductID) {
				continue
			}
			g, ok := groups[entry.BundleID]
			if !ok {
				g = &group{entry: entry, lineIndex: map[int]struct{}{}}
				groups[entry.BundleID] = g
			}
			g.lineIndex[i] = struct{}{}
		}
	}

	qualifying := make([]*group, 0, len(groups))
	for _, g := range groups {
		if len(g.lineIndex) >= len(g.entry.Items) && discountValue(g.entry) > 0 {
			qualifying = append(qualifying, g)
		}
	}
	if len(qualifying) == 0 {
		return Empty()
	}
	sort.Slice(qualifying, func(i, j int) bool {
		return strongerEntry(qualifying[i].entry, qualifying[j].entry)
	})

	// First qualifying bundle in precedence order claims each line.
	winner := map[int]*group{}
	for _, g := range qualifying {
		for idx := range g.lineIndex {
			if _, taken := winner[idx]; !taken {
				winner[idx] = g
			}
		}
	}

	out := Empty()
	for i, line := range input.Cart.Lines {
		g, ok := winner[i]
		if !ok {
			continue
		}
		value, ok := instructionValue(g.entry, line)
		if !ok {
			continue
		}
		d := Discount{Targets: make([]Target, 1), Value: value}
		d.Targets[0].CartLine.ID = line.ID
		out.Discounts = append(out.Discounts, d)
	}
	return out
}

func parseEntries(raw json.RawMessage) []metaEntry {
	if len(raw) == 0 {
		return nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	out := make([]metaEntry, 0, len(parts))
	for _, part := range parts {
		var entry metaEntry
		if err := json.Unmarshal(part, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func entryContains(entry metaEntry, productID string) bool {
	for _, it := range entry.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

func discountValue(entry metaEntry) float64 {
	if entry.DiscountValue == nil {
		return 0
	}
	return *entry.DiscountValue
}

func discountKind(entry metaEntry) string {
	if entry.DiscountType != nil && *entry.DiscountType == "fixed" {
		return "fixed"
	}
	return "percentage"
}

func strongerEntry(a, b metaEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if av, bv := discountValue(a), discountValue(b); av != bv {
		return av > bv
	}
	return a.BundleID < b.BundleID
}

func instructionValue(entry metaEntry, line Line) (Value, bool) {
	amount := discountValue(entry)
	if amount <= 0 {
		return Value{}, false
	}
	if discountKind(entry) == "percentage" {
		return Value{Percentage: &Percentage{Value: amount}}, true
	}
	qty := line.Quantity
	if qty <= 0 {
		qty = 1
	}
	total := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(int64(qty)))
	if !total.IsPositive() {
		return Value{}, false
	}
	return Value{FixedAmount: &FixedAmount{Amount: total.StringFixed(2)}}, true
}
