package labels

import (
	"net/http"
	"strings"

	"github.com/noah-isme/merch-api/internal/common"
	"github.com/noah-isme/merch-api/internal/obs"
)

// Handler exposes the storefront label lookup endpoint.
type Handler struct {
	Service *Service
}

// Storefront handles GET /api/v1/storefront/labels?shop=<domain>&handles=<csv>.
// The response maps product handles to their resolved labels; handles with
// nothing to show are omitted.
func (h *Handler) Storefront(w http.ResponseWriter, r *http.Request) {
	shop := strings.TrimSpace(r.URL.Query().Get("shop"))
	if shop == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "shop parameter is required", nil)
		return
	}

	handles := splitHandles(r.URL.Query().Get("handles"))
	if len(handles) > MaxHandles {
		handles = handles[:MaxHandles]
	}
	if obs.LabelRequestHandles != nil {
		obs.LabelRequestHandles.Observe(float64(len(handles)))
	}
	if len(handles) == 0 {
		common.JSON(w, http.StatusOK, map[string]any{"products": map[string][]ViewModel{}})
		return
	}

	products, err := h.Service.ProductLabels(r.Context(), shop, handles)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	if products == nil {
		products = map[string][]ViewModel{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func splitHandles(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
