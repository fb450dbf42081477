package labels

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/merch-api/internal/bundle"
	"github.com/noah-isme/merch-api/internal/obs"
)

// MaxHandles bounds how many product handles one request may resolve.
const MaxHandles = 20

// Source loads the active bundles for a shop.
type Source interface {
	ListActiveBundles(ctx context.Context, shop string, now time.Time) ([]bundle.Bundle, error)
}

// Service resolves display labels per shop with a short-lived cache in
// front of the authoring store.
type Service struct {
	Source Source
	Cache  *Cache
	Log    zerolog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ProductLabels returns the resolved labels for the requested handles.
// Handles without labels are omitted from the result. The full per-shop
// resolution is cached; a cache read failure falls through to the source.
func (s *Service) ProductLabels(ctx context.Context, shop string, handles []string) (map[string][]ViewModel, error) {
	resolved, err := s.shopLabels(ctx, shop)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]ViewModel, len(handles))
	for _, handle := range handles {
		if vms, ok := resolved[handle]; ok && len(vms) > 0 {
			out[handle] = vms
		}
	}
	return out, nil
}

func (s *Service) shopLabels(ctx context.Context, shop string) (map[string][]ViewModel, error) {
	cacheKey := "merch:labels:" + shop

	var cached map[string][]ViewModel
	hit, err := s.Cache.GetJSON(ctx, cacheKey, &cached)
	if err != nil {
		s.Log.Warn().Err(err).Str("shop", shop).Msg("label cache read")
	}
	if hit {
		s.countLookup("hit")
		return cached, nil
	}
	s.countLookup("miss")

	bundles, err := s.Source.ListActiveBundles(ctx, shop, s.now())
	if err != nil {
		return nil, err
	}
	resolved := Resolve(bundles)
	if err := s.Cache.SetJSON(ctx, cacheKey, resolved); err != nil {
		s.Log.Warn().Err(err).Str("shop", shop).Msg("label cache write")
	}
	return resolved, nil
}

func (s *Service) countLookup(result string) {
	if obs.LabelLookupTotal != nil {
		obs.LabelLookupTotal.WithLabelValues(result).Inc()
	}
}
