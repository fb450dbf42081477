package bundle

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationResult aggregates authoring errors for a bundle payload.
type ValidationResult struct {
	Errors []string
}

// Valid reports whether the payload passed every check.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) add(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// ValidateAuthoring runs the authoring-time checks for a bundle payload.
// These mirror the admin form rules: a bundle must carry a name, at least one
// item, a sensible discount value, and an ordered schedule window.
func ValidateAuthoring(b Bundle) ValidationResult {
	var result ValidationResult

	name := strings.TrimSpace(b.Name)
	if name == "" {
		result.add("bundle name is required")
	}
	if len(name) > 255 {
		result.add("bundle name must be less than 255 characters")
	}

	if len(b.Items) == 0 {
		result.add("at least one product is required")
	}
	for i, it := range b.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			result.add("item %d: product id is required", i)
		}
		if it.Price.IsNegative() {
			result.add("item %d: price cannot be negative", i)
		}
	}

	validateDiscount(&result, b.Rule, b.Items)

	if b.Window.StartAt.IsZero() {
		result.add("start date is required")
	}
	if b.Window.EndAt != nil && !b.Window.StartAt.IsZero() && b.Window.StartAt.After(*b.Window.EndAt) {
		result.add("end date must be after start date")
	}

	return result
}

func validateDiscount(result *ValidationResult, rule DiscountRule, items []Item) {
	raw := strings.TrimSpace(rule.Value)
	if raw == "" {
		result.add("discount value is required")
		return
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		result.add("discount value must be a valid number")
		return
	}
	if !value.IsPositive() {
		result.add("discount value must be greater than 0")
	}
	switch rule.Kind {
	case DiscountPercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			result.add("percentage discount cannot exceed 100%%")
		}
	case DiscountFixed:
		total := decimal.Zero
		for _, it := range items {
			total = total.Add(it.Price)
		}
		if len(items) > 0 && value.GreaterThan(total) {
			result.add("fixed discount cannot exceed total product value (%s)", total.StringFixed(2))
		}
	default:
		result.add("unknown discount kind %q", rule.Kind)
	}
}
