package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/merch-api/internal/bundle"
	"github.com/noah-isme/merch-api/internal/common"
	"github.com/noah-isme/merch-api/internal/events"
)

// BundleRepo persists authored bundles.
type BundleRepo interface {
	UpsertBundle(ctx context.Context, b bundle.Bundle) (previousProductIDs []string, err error)
	DeleteBundle(ctx context.Context, shop string, id uuid.UUID) (productIDs []string, err error)
}

// Handler exposes the authoring hook endpoints and the published metadata
// read endpoint.
type Handler struct {
	Repo     BundleRepo
	Bus      *events.Bus
	Enqueuer *Enqueuer
	Validate *validator.Validate
	Store    Store
	Log      zerolog.Logger
}

type upsertItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	VariantID string `json:"variantId"`
	Title     string `json:"title"`
	Image     string `json:"image"`
	Handle    string `json:"handle"`
	Price     string `json:"price" validate:"required"`
}

type upsertLabelRequest struct {
	ID               string `json:"id"`
	Text             string `json:"text" validate:"required"`
	Icon             string `json:"icon"`
	BgColor          string `json:"bgColor"`
	TextColor        string `json:"textColor"`
	Shape            string `json:"shape"`
	Position         string `json:"position" validate:"omitempty,oneof=top-left top-right bottom-left bottom-right"`
	Priority         int    `json:"priority"`
	ShowOnPDP        bool   `json:"showOnPDP"`
	ShowOnCollection bool   `json:"showOnCollection"`
}

type upsertBundleRequest struct {
	ID          string     `json:"id" validate:"required,uuid"`
	Shop        string     `json:"shop" validate:"required"`
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description"`
	Status      string     `json:"status" validate:"required,oneof=draft active archived"`
	Priority    int        `json:"priority"`
	StartAt     *time.Time `json:"startAt"`
	EndAt       *time.Time `json:"endAt"`
	Discount    struct {
		Kind  string `json:"kind" validate:"omitempty,oneof=percentage fixed"`
		Value string `json:"value"`
	} `json:"discount"`
	Items  []upsertItemRequest  `json:"items" validate:"required,min=1,dive"`
	Labels []upsertLabelRequest `json:"labels" validate:"dive"`
}

// UpsertBundle handles POST /api/v1/hooks/bundles. The authored bundle is
// validated, persisted, and a republish task is queued; the response is 202
// because the fan-out itself runs in the background.
func (h *Handler) UpsertBundle(w http.ResponseWriter, r *http.Request) {
	var req upsertBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body is not valid json", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "request failed validation", validationDetails(err))
		return
	}

	b, err := req.toBundle()
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
		return
	}
	if result := bundle.ValidateAuthoring(b); !result.Valid() {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "bundle failed validation", map[string]any{"errors": result.Errors})
		return
	}

	previous, err := h.Repo.UpsertBundle(r.Context(), b)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := h.Bus.Emit(r.Context(), events.TopicBundleUpserted, b.ID, map[string]any{
		"bundleId": b.ID.String(),
		"shop":     b.Shop,
		"status":   string(b.Status),
	}); err != nil {
		h.Log.Error().Err(err).Str("bundle_id", b.ID.String()).Msg("emit bundle upserted")
	}

	if err := h.Enqueuer.EnqueueRepublish(r.Context(), RepublishPayload{
		Shop:               b.Shop,
		BundleID:           b.ID.String(),
		PreviousProductIDs: previous,
	}); err != nil {
		h.writeError(w, err)
		return
	}

	common.JSON(w, http.StatusAccepted, map[string]any{
		"data": map[string]any{"bundleId": b.ID.String(), "queued": true},
	})
}

// DeleteBundle handles DELETE /api/v1/hooks/bundles/{bundleID}. The bundle
// row goes away immediately; stripping its published metadata is queued.
func (h *Handler) DeleteBundle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bundleID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid bundle id", nil)
		return
	}
	shop := strings.TrimSpace(r.URL.Query().Get("shop"))
	if shop == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "shop is required", nil)
		return
	}

	productIDs, err := h.Repo.DeleteBundle(r.Context(), shop, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := h.Bus.Emit(r.Context(), events.TopicBundleDeleted, id, map[string]any{
		"bundleId": id.String(),
		"shop":     shop,
	}); err != nil {
		h.Log.Error().Err(err).Str("bundle_id", id.String()).Msg("emit bundle deleted")
	}

	if err := h.Enqueuer.EnqueueRepublish(r.Context(), RepublishPayload{
		Shop:               shop,
		BundleID:           id.String(),
		PreviousProductIDs: productIDs,
		Deleted:            true,
	}); err != nil {
		h.writeError(w, err)
		return
	}

	common.JSON(w, http.StatusAccepted, map[string]any{
		"data": map[string]any{"bundleId": id.String(), "queued": true},
	})
}

// ProductMetadata handles GET /api/v1/products/{productID}/metadata. It
// returns the published entries for one product, the same array the cart
// discount parses.
func (h *Handler) ProductMetadata(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	shop := strings.TrimSpace(r.URL.Query().Get("shop"))
	if shop == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "shop is required", nil)
		return
	}
	entries, err := h.Store.Read(r.Context(), shop, productID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []Snapshot{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (r upsertBundleRequest) toBundle() (bundle.Bundle, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return bundle.Bundle{}, errors.New("invalid bundle id")
	}
	b := bundle.Bundle{
		ID:          id,
		Shop:        r.Shop,
		Name:        r.Name,
		Description: r.Description,
		Status:      bundle.Status(r.Status),
		Priority:    r.Priority,
		Rule: bundle.DiscountRule{
			Kind:  bundle.DiscountKind(r.Discount.Kind),
			Value: r.Discount.Value,
		},
	}
	if r.StartAt != nil {
		b.Window.StartAt = *r.StartAt
	}
	b.Window.EndAt = r.EndAt

	b.Items = make([]bundle.Item, 0, len(r.Items))
	for _, it := range r.Items {
		price, perr := decimal.NewFromString(strings.TrimSpace(it.Price))
		if perr != nil {
			return bundle.Bundle{}, errors.New("invalid item price " + it.Price)
		}
		b.Items = append(b.Items, bundle.Item{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Title:     it.Title,
			Image:     it.Image,
			Handle:    it.Handle,
			Price:     price,
		})
	}

	b.Labels = make([]bundle.Label, 0, len(r.Labels))
	for _, l := range r.Labels {
		labelID := uuid.Nil
		if l.ID != "" {
			labelID, err = uuid.Parse(l.ID)
			if err != nil {
				return bundle.Bundle{}, errors.New("invalid label id")
			}
		}
		if labelID == uuid.Nil {
			labelID = uuid.New()
		}
		b.Labels = append(b.Labels, bundle.Label{
			ID:               labelID,
			Text:             l.Text,
			Icon:             l.Icon,
			BgColor:          l.BgColor,
			TextColor:        l.TextColor,
			Shape:            l.Shape,
			Position:         l.Position,
			Priority:         l.Priority,
			ShowOnPDP:        l.ShowOnPDP,
			ShowOnCollection: l.ShowOnCollection,
		})
	}
	return b, nil
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, map[string]string{
			"field": fe.Namespace(),
			"rule":  fe.Tag(),
		})
	}
	return map[string]any{"fields": fields}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		message := appErr.Message
		if message == "" {
			message = "internal error"
		}
		common.JSONError(w, status, code, message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
