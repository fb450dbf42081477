package publish

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/merch-api/internal/bundle"
	"github.com/noah-isme/merch-api/internal/obs"
)

// Publisher fans a bundle's published snapshot out to every member product
// and strips it from products that left the bundle.
type Publisher struct {
	Store Store
	Log   zerolog.Logger
}

// Sync publishes the bundle to all current member products and removes it
// from products listed in previousProductIDs that are no longer members.
//
// Each product is handled independently: a failed read or write is logged and
// counted, and the loop continues, so one unreachable product never blocks
// the rest. The per-product update is idempotent (filter out this bundle's
// old entry, then append the fresh one), so re-running a sync converges.
func (p *Publisher) Sync(ctx context.Context, b bundle.Bundle, previousProductIDs []string) error {
	snapshot := BuildSnapshot(b)

	current := make(map[string]struct{}, len(b.Items))
	for _, it := range b.Items {
		current[it.ProductID] = struct{}{}
	}

	for _, pid := range previousProductIDs {
		if _, still := current[pid]; still {
			continue
		}
		if err := p.removeFrom(ctx, b.Shop, pid, snapshot.BundleID); err != nil {
			p.reportFailure(b, pid, "remove", err)
			continue
		}
		p.countProduct("removed")
	}

	var failed int
	var lastErr error
	for _, it := range b.Items {
		if err := p.upsertOn(ctx, b.Shop, it.ProductID, snapshot); err != nil {
			p.reportFailure(b, it.ProductID, "upsert", err)
			failed++
			lastErr = err
			continue
		}
		p.countProduct("published")
	}
	// A total failure means the snapshot reached nobody; surface it so the
	// republish task gets retried.
	if failed > 0 && failed == len(b.Items) {
		return fmt.Errorf("sync bundle %s: no member product updated: %w", b.ID, lastErr)
	}
	return nil
}

// Remove strips the bundle's entry from every product in productIDs. Used
// when a bundle is deleted or archived.
func (p *Publisher) Remove(ctx context.Context, shop string, bundleID string, productIDs []string) error {
	for _, pid := range productIDs {
		if err := p.removeFrom(ctx, shop, pid, bundleID); err != nil {
			p.Log.Error().Err(err).
				Str("bundle_id", bundleID).
				Str("product_id", pid).
				Msg("remove bundle metadata")
			p.countProduct("failed")
			continue
		}
		p.countProduct("removed")
	}
	return nil
}

func (p *Publisher) upsertOn(ctx context.Context, shop, productID string, snapshot Snapshot) error {
	entries, err := p.Store.Read(ctx, shop, productID)
	if err != nil {
		return err
	}
	next := filterOut(entries, snapshot.BundleID)
	next = append(next, snapshot)
	return p.Store.Write(ctx, shop, productID, next)
}

func (p *Publisher) removeFrom(ctx context.Context, shop, productID, bundleID string) error {
	entries, err := p.Store.Read(ctx, shop, productID)
	if err != nil {
		return err
	}
	next := filterOut(entries, bundleID)
	if len(next) == len(entries) {
		return nil
	}
	return p.Store.Write(ctx, shop, productID, next)
}

func (p *Publisher) reportFailure(b bundle.Bundle, productID, op string, err error) {
	p.Log.Error().Err(err).
		Str("bundle_id", b.ID.String()).
		Str("product_id", productID).
		Str("op", op).
		Msg("sync bundle metadata")
	p.countProduct("failed")
}

func (p *Publisher) countProduct(result string) {
	if obs.PublishProductsTotal != nil {
		obs.PublishProductsTotal.WithLabelValues(result).Inc()
	}
}

func filterOut(entries []Snapshot, bundleID string) []Snapshot {
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		if e.BundleID == bundleID {
			continue
		}
		out = append(out, e)
	}
	return out
}
