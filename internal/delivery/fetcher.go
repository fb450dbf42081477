package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/merch-api/internal/labels"
)

// Fetcher resolves label view-models for a batch of product handles.
type Fetcher interface {
	FetchLabels(ctx context.Context, shop string, handles []string) (map[string][]labels.ViewModel, error)
}

// HTTPFetcher calls the storefront labels endpoint.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// FetchLabels performs one GET for the whole batch. A handle the server
// resolved to nothing simply stays absent from the returned map.
func (f *HTTPFetcher) FetchLabels(ctx context.Context, shop string, handles []string) (map[string][]labels.ViewModel, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	query := url.Values{}
	query.Set("shop", shop)
	query.Set("handles", strings.Join(handles, ","))
	endpoint := f.BaseURL + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build labels request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch labels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch labels: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Products map[string][]labels.ViewModel `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode labels response: %w", err)
	}
	return body.Products, nil
}
