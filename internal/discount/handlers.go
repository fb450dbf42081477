package discount

import (
	"encoding/json"
	"net/http"

	"github.com/noah-isme/merch-api/internal/common"
	"github.com/noah-isme/merch-api/internal/obs"
)

// Handler exposes the cart discount function over HTTP for the pricing
// runtime.
type Handler struct{}

// Run handles POST /api/v1/functions/cart-discount. The endpoint mirrors the
// function's no-throw contract: an unreadable body yields the empty result
// with status 200, never an error response.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.count("malformed")
		common.JSON(w, http.StatusOK, Empty())
		return
	}
	output := Run(input)
	if len(output.Discounts) == 0 {
		h.count("empty")
	} else {
		h.count("applied")
	}
	common.JSON(w, http.StatusOK, output)
}

func (h *Handler) count(result string) {
	if obs.DiscountRunTotal != nil {
		obs.DiscountRunTotal.WithLabelValues(result).Inc()
	}
}
