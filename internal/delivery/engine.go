package delivery

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/merch-api/internal/labels"
)

// Dataset keys and badge class used to mark instrumented nodes.
const (
	datasetHandle   = "merchHandle"
	datasetObserved = "merchObserved"
	badgeClass      = "merch-bundle-label"
)

var productHrefPattern = regexp.MustCompile(`/products/([^/?#]+)`)

// Config tunes the engine. Zero values fall back to the defaults below.
type Config struct {
	Shop          string
	BatchSize     int           // handles per fetch, default 20
	BatchDebounce time.Duration // queue flush delay, default 100ms
	ScanDebounce  time.Duration // mutation rescan delay, default 500ms
	CacheTTL      time.Duration // session cache lifetime, default 1h
	MaxHops       int           // ancestor search bound, default 3
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.BatchDebounce <= 0 {
		c.BatchDebounce = 100 * time.Millisecond
	}
	if c.ScanDebounce <= 0 {
		c.ScanDebounce = 500 * time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 3
	}
	return c
}

// Engine drives label delivery for one page: it scans the document for
// product links, batches label fetches for visible cards, caches results
// per session, and renders badges.
//
// All state is guarded by one mutex; the host is expected to deliver
// visibility and mutation callbacks from a single loop, the lock only
// covers the engine's own timers.
type Engine struct {
	cfg     Config
	fetch   Fetcher
	session SessionStore
	doc     *Document
	log     zerolog.Logger
	now     func() time.Time

	mu         sync.Mutex
	cache      map[string][]labels.ViewModel
	pending    map[string]struct{}
	queue      []string
	observed   map[*Element]string
	batchTimer *time.Timer
	scanTimer  *time.Timer
	flushing   bool
	ctx        context.Context
}

// NewEngine constructs an engine for one document.
func NewEngine(cfg Config, fetch Fetcher, session SessionStore, doc *Document, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		fetch:    fetch,
		session:  session,
		doc:      doc,
		log:      log,
		now:      time.Now,
		cache:    map[string][]labels.ViewModel{},
		pending:  map[string]struct{}{},
		observed: map[*Element]string{},
	}
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start hydrates the cache from the session store, instruments the current
// document, and renders the product-detail badge when the page is a PDP.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.hydrateLocked(ctx)
	e.scanLocked()
	e.mu.Unlock()

	if e.doc.IsProductPage() {
		e.injectPDPLabel(ctx)
	}
}

// Stop cancels outstanding debounce timers.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.batchTimer != nil {
		e.batchTimer.Stop()
	}
	if e.scanTimer != nil {
		e.scanTimer.Stop()
	}
}

// DocumentMutated notes a DOM change and schedules a rescan after the scan
// debounce window. Bursts of mutations collapse into one scan.
func (e *Engine) DocumentMutated() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scanTimer != nil {
		e.scanTimer.Stop()
	}
	e.scanTimer = time.AfterFunc(e.cfg.ScanDebounce, func() {
		e.mu.Lock()
		e.scanLocked()
		e.mu.Unlock()
	})
}

// ElementVisible is the visibility callback for an instrumented card. Cached
// handles render immediately with zero round-trips; unknown handles join the
// pending batch.
func (e *Engine) ElementVisible(el *Element) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handle := el.Dataset[datasetHandle]
	if handle == "" {
		return
	}
	if vms, ok := e.cache[handle]; ok {
		if len(vms) > 0 {
			e.applyLabels(el, vms, false)
		}
		return
	}
	e.enqueueLocked(handle)
}

// CachedLabels returns the cached view-models for a handle.
func (e *Engine) CachedLabels(handle string) ([]labels.ViewModel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vms, ok := e.cache[handle]
	return vms, ok
}

func (e *Engine) hydrateLocked(ctx context.Context) {
	if e.session == nil {
		return
	}
	payload, ok, err := e.session.Load(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("hydrate session cache")
		return
	}
	if !ok {
		return
	}
	if e.now().Sub(payload.SavedAt) >= e.cfg.CacheTTL {
		return
	}
	for handle, vms := range payload.Products {
		e.cache[handle] = vms
	}
}

func (e *Engine) persistLocked(ctx context.Context) {
	if e.session == nil {
		return
	}
	snapshot := make(map[string][]labels.ViewModel, len(e.cache))
	for handle, vms := range e.cache {
		snapshot[handle] = vms
	}
	if err := e.session.Save(ctx, CachePayload{SavedAt: e.now(), Products: snapshot}); err != nil {
		e.log.Warn().Err(err).Msg("persist session cache")
	}
}

// scanLocked walks the document for product-link anchors that are not yet
// instrumented and registers their card wrappers for visibility tracking.
func (e *Engine) scanLocked() {
	if e.doc == nil || e.doc.Root == nil {
		return
	}
	links := e.doc.Root.FindAll(func(el *Element) bool {
		return el.Tag == "A" && strings.Contains(el.Attrs["href"], "/products/")
	})
	for _, link := range links {
		if link.Dataset[datasetObserved] == "true" {
			continue
		}
		if link.Closest(isCartContainer) != nil {
			continue
		}
		match := productHrefPattern.FindStringSubmatch(link.Attrs["href"])
		if match == nil {
			continue
		}
		handle := match[1]

		wrapper := findCardWrapper(link)
		if wrapper == nil {
			continue
		}
		wrapper.Dataset[datasetHandle] = handle
		link.Dataset[datasetObserved] = "true"
		e.observed[wrapper] = handle

		if vms, ok := e.cache[handle]; ok && len(vms) > 0 {
			e.applyLabels(wrapper, vms, false)
		}
	}
}

func (e *Engine) enqueueLocked(handle string) {
	if _, inflight := e.pending[handle]; inflight {
		return
	}
	for _, queued := range e.queue {
		if queued == handle {
			return
		}
	}
	e.queue = append(e.queue, handle)

	if e.batchTimer != nil {
		e.batchTimer.Stop()
	}
	e.batchTimer = time.AfterFunc(e.cfg.BatchDebounce, e.flush)
}

// flush drains the queue in batches. Superseded batches simply complete;
// cache writes are idempotent per handle.
func (e *Engine) flush() {
	e.mu.Lock()
	if e.flushing {
		e.mu.Unlock()
		return
	}
	e.flushing = true
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	for len(e.queue) > 0 {
		size := e.cfg.BatchSize
		if size > len(e.queue) {
			size = len(e.queue)
		}
		batch := make([]string, size)
		copy(batch, e.queue[:size])
		e.queue = e.queue[size:]
		for _, h := range batch {
			e.pending[h] = struct{}{}
		}

		e.mu.Unlock()
		products, err := e.fetch.FetchLabels(ctx, e.cfg.Shop, batch)
		e.mu.Lock()

		if err != nil {
			// Dropped handles are re-enqueued next time they become visible.
			e.log.Warn().Err(err).Int("batch", len(batch)).Msg("label batch fetch")
			for _, h := range batch {
				delete(e.pending, h)
			}
			continue
		}
		for _, h := range batch {
			// Zero-label results are cached too, preventing re-fetch thrash.
			e.cache[h] = products[h]
			delete(e.pending, h)
		}
		e.persistLocked(ctx)
		e.renderResolvedLocked(batch)
	}
	e.flushing = false
	// A handle enqueued while we were flushing may have had its timer
	// swallowed by the re-entry guard.
	if len(e.queue) > 0 {
		if e.batchTimer != nil {
			e.batchTimer.Stop()
		}
		e.batchTimer = time.AfterFunc(e.cfg.BatchDebounce, e.flush)
	}
	e.mu.Unlock()
}

func (e *Engine) renderResolvedLocked(batch []string) {
	resolved := make(map[string]struct{}, len(batch))
	for _, h := range batch {
		resolved[h] = struct{}{}
	}
	for el, handle := range e.observed {
		if _, ok := resolved[handle]; !ok {
			continue
		}
		if vms := e.cache[handle]; len(vms) > 0 {
			e.applyLabels(el, vms, false)
		}
	}
}

// injectPDPLabel resolves and renders the badge for the product page itself.
// The handle comes from the path, not a card anchor.
func (e *Engine) injectPDPLabel(ctx context.Context) {
	match := productHrefPattern.FindStringSubmatch(e.doc.Path)
	if match == nil {
		return
	}
	handle := match[1]

	e.mu.Lock()
	if vms, ok := e.cache[handle]; ok {
		e.renderPDPLocked(vms)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	products, err := e.fetch.FetchLabels(ctx, e.cfg.Shop, []string{handle})
	if err != nil {
		e.log.Warn().Err(err).Str("handle", handle).Msg("pdp label fetch")
		return
	}

	e.mu.Lock()
	e.cache[handle] = products[handle]
	e.persistLocked(ctx)
	e.renderPDPLocked(products[handle])
	e.mu.Unlock()
}

func isCartContainer(el *Element) bool {
	if strings.Contains(strings.ToLower(el.Attrs["id"]), "cart") {
		return true
	}
	for _, c := range []string{"cart", "cart-items", "cart-drawer"} {
		if el.HasClass(c) {
			return true
		}
	}
	return false
}

// findCardWrapper picks the element that bounds a product tile: the nearest
// recognized card ancestor, or the link itself when it wraps its own image.
func findCardWrapper(link *Element) *Element {
	card := link.Closest(func(el *Element) bool {
		for _, c := range []string{"card", "product-card", "grid-view-item", "product-item", "collection-product-card"} {
			if el.HasClass(c) {
				return true
			}
		}
		return false
	})
	if card != nil {
		return card
	}
	if link.FindFirst(byTag("img")) != nil {
		return link
	}
	return nil
}
