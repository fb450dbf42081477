package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/merch-api/internal/labels"
)

type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]string
	fail    bool
	result  map[string][]labels.ViewModel
}

func (f *fakeFetcher) FetchLabels(_ context.Context, _ string, handles []string) (map[string][]labels.ViewModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]string, len(handles))
	copy(batch, handles)
	f.batches = append(f.batches, batch)
	if f.fail {
		return nil, errors.New("upstream down")
	}
	out := map[string][]labels.ViewModel{}
	for _, h := range handles {
		if vms, ok := f.result[h]; ok {
			out[h] = vms
		}
	}
	return out, nil
}

func (f *fakeFetcher) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.batches))
	for _, b := range f.batches {
		out = append(out, len(b))
	}
	return out
}

type memSession struct {
	mu      sync.Mutex
	payload CachePayload
	stored  bool
}

func (s *memSession) Load(context.Context) (CachePayload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload, s.stored, nil
}

func (s *memSession) Save(_ context.Context, payload CachePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = payload
	s.stored = true
	return nil
}

func viewModel(id, position string) labels.ViewModel {
	return labels.ViewModel{ID: id, Text: "Deal " + id, Position: position, BgColor: "#000", TextColor: "#fff", ShowOnPDP: true, ShowOnCollection: true}
}

func card(root *Element, handle string) *Element {
	wrapper := NewElement("div")
	wrapper.Classes = []string{"product-card"}
	wrapper.Width = 300
	root.Append(wrapper)

	link := NewElement("a")
	link.Attrs["href"] = "/products/" + handle
	wrapper.Append(link)

	media := NewElement("picture")
	link.Append(media)
	img := NewElement("img")
	img.Width = 280
	media.Append(img)
	return wrapper
}

func testEngine(doc *Document, fetch Fetcher, session SessionStore) *Engine {
	return NewEngine(Config{
		Shop:          "demo.myshopify.com",
		BatchDebounce: time.Millisecond,
		ScanDebounce:  time.Millisecond,
	}, fetch, session, doc, zerolog.Nop())
}

func badges(el *Element) []*Element {
	return el.FindAll(func(e *Element) bool { return e.HasClass(badgeClass) })
}

func TestVisibleHandlesAreBatched(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	fetch := &fakeFetcher{result: map[string][]labels.ViewModel{}}
	eng := testEngine(doc, fetch, &memSession{})

	wrappers := make([]*Element, 0, 45)
	for i := 0; i < 45; i++ {
		wrappers = append(wrappers, card(root, fmt.Sprintf("product-%d", i)))
	}
	eng.Start(context.Background())
	for _, w := range wrappers {
		eng.ElementVisible(w)
	}

	require.Eventually(t, func() bool {
		return len(fetch.batchSizes()) == 3
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []int{20, 20, 5}, fetch.batchSizes())
}

func TestCachedHandleRendersWithoutFetch(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	fetch := &fakeFetcher{}
	session := &memSession{
		stored: true,
		payload: CachePayload{
			SavedAt:  time.Now(),
			Products: map[string][]labels.ViewModel{"tee": {viewModel("l1", "top-left")}},
		},
	}
	eng := testEngine(doc, fetch, session)
	wrapper := card(root, "tee")

	eng.Start(context.Background())
	eng.ElementVisible(wrapper)

	require.Empty(t, fetch.batchSizes())
	require.Len(t, badges(wrapper), 1)
}

func TestExpiredSessionCacheIsDiscarded(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	fetch := &fakeFetcher{result: map[string][]labels.ViewModel{"tee": {viewModel("l1", "top-left")}}}
	session := &memSession{
		stored: true,
		payload: CachePayload{
			SavedAt:  time.Now().Add(-2 * time.Hour),
			Products: map[string][]labels.ViewModel{"tee": {viewModel("stale", "top-left")}},
		},
	}
	eng := testEngine(doc, fetch, session)
	wrapper := card(root, "tee")

	eng.Start(context.Background())
	eng.ElementVisible(wrapper)

	require.Eventually(t, func() bool {
		return len(fetch.batchSizes()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPendingHandleNotReEnqueued(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	fetch := &fakeFetcher{result: map[string][]labels.ViewModel{}}
	eng := testEngine(doc, fetch, &memSession{})
	wrapper := card(root, "tee")

	eng.Start(context.Background())
	eng.ElementVisible(wrapper)
	eng.ElementVisible(wrapper)
	eng.ElementVisible(wrapper)

	require.Eventually(t, func() bool {
		return len(fetch.batchSizes()) >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []int{1}, fetch.batchSizes())
}

func TestFailedBatchRetriesOnNextVisibility(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	fetch := &fakeFetcher{fail: true}
	eng := testEngine(doc, fetch, &memSession{})
	wrapper := card(root, "tee")

	eng.Start(context.Background())
	eng.ElementVisible(wrapper)
	require.Eventually(t, func() bool {
		return len(fetch.batchSizes()) == 1
	}, time.Second, 5*time.Millisecond)

	fetch.mu.Lock()
	fetch.fail = false
	fetch.result = map[string][]labels.ViewModel{"tee": {viewModel("l1", "top-left")}}
	fetch.mu.Unlock()

	eng.ElementVisible(wrapper)
	require.Eventually(t, func() bool {
		return len(badges(wrapper)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestZeroLabelResultIsCached(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	fetch := &fakeFetcher{result: map[string][]labels.ViewModel{}}
	eng := testEngine(doc, fetch, &memSession{})
	wrapper := card(root, "tee")

	eng.Start(context.Background())
	eng.ElementVisible(wrapper)
	require.Eventually(t, func() bool {
		_, ok := eng.CachedLabels("tee")
		return ok
	}, time.Second, 5*time.Millisecond)

	eng.ElementVisible(wrapper)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []int{1}, fetch.batchSizes())
}

func TestMutationTriggersDebouncedRescan(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	fetch := &fakeFetcher{result: map[string][]labels.ViewModel{}}
	eng := testEngine(doc, fetch, &memSession{})
	eng.Start(context.Background())

	wrapper := card(root, "late")
	eng.DocumentMutated()

	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		_, observed := eng.observed[wrapper]
		return observed
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "late", wrapper.Dataset[datasetHandle])
}

func TestCartLinksAreSkipped(t *testing.T) {
	root := NewElement("body")
	cart := NewElement("div")
	cart.Classes = []string{"cart-drawer"}
	root.Append(cart)
	card(cart, "in-cart")

	doc := &Document{Root: root, Path: "/collections/all"}
	eng := testEngine(doc, &fakeFetcher{}, &memSession{})
	eng.Start(context.Background())

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Empty(t, eng.observed)
}

func TestRenderStacksSameCornerBadges(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	eng := testEngine(doc, &fakeFetcher{}, &memSession{})
	wrapper := card(root, "tee")

	eng.mu.Lock()
	eng.applyLabels(wrapper, []labels.ViewModel{
		viewModel("l1", "top-left"),
		viewModel("l2", "top-left"),
		viewModel("l3", "bottom-right"),
	}, false)
	eng.mu.Unlock()

	rendered := badges(wrapper)
	require.Len(t, rendered, 3)
	require.Equal(t, "10px", rendered[0].Style("top"))
	require.Equal(t, "45px", rendered[1].Style("top"))
	require.Equal(t, "10px", rendered[2].Style("bottom"))
	require.Equal(t, "8px", rendered[2].Style("right"))
}

func TestRenderForcesRelativePositioning(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	eng := testEngine(doc, &fakeFetcher{}, &memSession{})
	wrapper := card(root, "tee")

	eng.mu.Lock()
	eng.applyLabels(wrapper, []labels.ViewModel{viewModel("l1", "top-left")}, false)
	eng.mu.Unlock()

	// The badge lands on the positionable ancestor above the PICTURE tag.
	link := wrapper.FindFirst(byTag("a"))
	require.Equal(t, "relative", link.Style("position"))
}

func TestRenderSkipsWhenBadgeSetUnchanged(t *testing.T) {
	root := NewElement("body")
	doc := &Document{Root: root, Path: "/collections/all"}
	eng := testEngine(doc, &fakeFetcher{}, &memSession{})
	wrapper := card(root, "tee")

	vms := []labels.ViewModel{viewModel("l1", "top-left")}
	eng.mu.Lock()
	eng.applyLabels(wrapper, vms, false)
	first := badges(wrapper)[0]
	eng.applyLabels(wrapper, vms, false)
	eng.mu.Unlock()

	rendered := badges(wrapper)
	require.Len(t, rendered, 1)
	require.Same(t, first, rendered[0])
}

func TestPDPRendersActiveGalleryImage(t *testing.T) {
	root := NewElement("body")
	gallery := NewElement("div")
	gallery.Classes = []string{"product-gallery"}
	root.Append(gallery)

	inactive := NewElement("div")
	inactive.Classes = []string{"product__media-item", "slide"}
	gallery.Append(inactive)
	inactiveImg := NewElement("img")
	inactiveImg.Width = 600
	inactive.Append(inactiveImg)

	active := NewElement("div")
	active.Classes = []string{"product__media-item", "swiper-slide-active"}
	gallery.Append(active)
	activeImg := NewElement("img")
	activeImg.Width = 600
	active.Append(activeImg)

	doc := &Document{Root: root, Path: "/products/tee"}
	fetch := &fakeFetcher{result: map[string][]labels.ViewModel{"tee": {viewModel("l1", "top-left")}}}
	eng := testEngine(doc, fetch, &memSession{})
	eng.Start(context.Background())

	require.NotEmpty(t, badges(active))
	require.Empty(t, badges(inactive))
}

func TestPDPHonorsShowOnPDPFlag(t *testing.T) {
	root := NewElement("body")
	gallery := NewElement("div")
	gallery.Classes = []string{"product-gallery"}
	root.Append(gallery)
	img := NewElement("img")
	img.Width = 600
	gallery.Append(img)

	hidden := viewModel("l1", "top-left")
	hidden.ShowOnPDP = false
	doc := &Document{Root: root, Path: "/products/tee"}
	fetch := &fakeFetcher{result: map[string][]labels.ViewModel{"tee": {hidden}}}
	eng := testEngine(doc, fetch, &memSession{})
	eng.Start(context.Background())

	require.Empty(t, badges(root))
}
