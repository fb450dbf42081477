package discount_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/merch-api/internal/discount"
)

func metaFor(bundleID string, priority int, kind string, value float64, productIDs ...string) json.RawMessage {
	items := make([]map[string]string, 0, len(productIDs))
	for _, pid := range productIDs {
		items = append(items, map[string]string{"productId": pid})
	}
	entry := map[string]any{
		"bundleId":      bundleID,
		"bundleName":    "Bundle " + bundleID,
		"active":        true,
		"priority":      priority,
		"discountType":  kind,
		"discountValue": value,
		"items":         items,
	}
	raw, err := json.Marshal([]any{entry})
	if err != nil {
		panic(err)
	}
	return raw
}

func TestRunCompleteSetGetsPercentageDiscount(t *testing.T) {
	meta := metaFor("b1", 1, "percentage", 15, "p1", "p2")
	out := discount.Run(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
		{ID: "l1", ProductID: "p1", Quantity: 1, Metadata: meta},
		{ID: "l2", ProductID: "p2", Quantity: 1, Metadata: meta},
	}}})

	require.Equal(t, discount.StrategyAll, out.DiscountApplicationStrategy)
	require.Len(t, out.Discounts, 2)
	for _, d := range out.Discounts {
		require.NotNil(t, d.Value.Percentage)
		require.InDelta(t, 15.0, d.Value.Percentage.Value, 0.001)
		require.Nil(t, d.Value.FixedAmount)
	}
	require.Equal(t, "l1", out.Discounts[0].Targets[0].CartLine.ID)
	require.Equal(t, "l2", out.Discounts[1].Targets[0].CartLine.ID)
}

func TestRunPartialSetGetsNothing(t *testing.T) {
	meta := metaFor("b1", 1, "percentage", 15, "p1", "p2")
	out := discount.Run(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
		{ID: "l1", ProductID: "p1", Quantity: 3, Metadata: meta},
	}}})

	require.Empty(t, out.Discounts)
}

func TestRunFixedMultipliesByQuantity(t *testing.T) {
	meta := metaFor("b1", 1, "fixed", 2.5, "p1", "p2")
	out := discount.Run(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
		{ID: "l1", ProductID: "p1", Quantity: 3, Metadata: meta},
		{ID: "l2", ProductID: "p2", Quantity: 1, Metadata: meta},
	}}})

	require.Len(t, out.Discounts, 2)
	require.Equal(t, "7.50", out.Discounts[0].Value.FixedAmount.Amount)
	require.Equal(t, "2.50", out.Discounts[1].Value.FixedAmount.Amount)
}

func TestRunMalformedMetadataNeverFails(t *testing.T) {
	for _, raw := range []string{"", "{", "[{]", `"nope"`, `[{"bundleId":42}]`, `[null]`} {
		out := discount.Run(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
			{ID: "l1", ProductID: "p1", Quantity: 1, Metadata: json.RawMessage(raw)},
		}}})
		require.Empty(t, out.Discounts, "metadata %q", raw)
		require.Equal(t, discount.StrategyAll, out.DiscountApplicationStrategy)
	}
}

func TestRunSkipsMalformedEntryKeepsRest(t *testing.T) {
	good := metaFor("b1", 1, "percentage", 10, "p1")
	var entries []json.RawMessage
	require.NoError(t, json.Unmarshal(good, &entries))
	mixed := fmt.Sprintf(`[{"bundleId":[]},%s]`, entries[0])

	out := discount.Run(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
		{ID: "l1", ProductID: "p1", Quantity: 1, Metadata: json.RawMessage(mixed)},
	}}})
	require.Len(t, out.Discounts, 1)
}

func TestRunInactiveEntryIgnored(t *testing.T) {
	meta := metaFor("b1", 1, "percentage", 10, "p1")
	inactive := strings.Replace(string(meta), `"active":true`, `"active":false`, 1)
	out := discount.Run(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
		{ID: "l1", ProductID: "p1", Quantity: 1, Metadata: json.RawMessage(inactive)},
	}}})
	require.Empty(t, out.Discounts)
}

func TestRunOverlappingBundlesDoNotStack(t *testing.T) {
	high := metaFor("b-high", 9, "percentage", 20, "p1")
	low := metaFor("b-low", 1, "percentage", 50, "p1")
	var merged []json.RawMessage
	for _, raw := range []json.RawMessage{high, low} {
		var entries []json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &entries))
		merged = append(merged, entries...)
	}
	combined, err := json.Marshal(merged)
	require.NoError(t, err)

	out := discount.Run(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
		{ID: "l1", ProductID: "p1", Quantity: 1, Metadata: combined},
	}}})

	require.Len(t, out.Discounts, 1)
	require.InDelta(t, 20.0, out.Discounts[0].Value.Percentage.Value, 0.001)
}

func TestRunPriorityTieBreaksOnLargerValueThenID(t *testing.T) {
	a := metaFor("zz", 5, "percentage", 10, "p1")
	b := metaFor("aa", 5, "percentage", 10, "p1")
	var merged []json.RawMessage
	for _, raw := range []json.RawMessage{a, b} {
		var entries []json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &entries))
		merged = append(merged, entries...)
	}
	combined, err := json.Marshal(merged)
	require.NoError(t, err)

	out := discount.Run(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
		{ID: "l1", ProductID: "p1", Quantity: 1, Metadata: combined},
	}}})

	require.Len(t, out.Discounts, 1)
}

func TestHandlerReturnsEmptyOnBadBody(t *testing.T) {
	h := &discount.Handler{}
	rr := httptest.NewRecorder()
	h.Run(rr, httptest.NewRequest(http.MethodPost, "/api/v1/functions/cart-discount", strings.NewReader("not json")))

	require.Equal(t, http.StatusOK, rr.Code)
	var out discount.Output
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Empty(t, out.Discounts)
	require.Equal(t, discount.StrategyAll, out.DiscountApplicationStrategy)
}

func TestHandlerEvaluatesCart(t *testing.T) {
	meta := metaFor("b1", 1, "percentage", 10, "p1")
	body, err := json.Marshal(discount.Input{Cart: discount.Cart{Lines: []discount.Line{
		{ID: "l1", ProductID: "p1", Quantity: 1, Metadata: meta},
	}}})
	require.NoError(t, err)

	h := &discount.Handler{}
	rr := httptest.NewRecorder()
	h.Run(rr, httptest.NewRequest(http.MethodPost, "/api/v1/functions/cart-discount", strings.NewReader(string(body))))

	require.Equal(t, http.StatusOK, rr.Code)
	var out discount.Output
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Discounts, 1)
}
