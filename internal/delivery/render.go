package delivery

import (
	"strconv"
	"strings"

	"github.com/noah-isme/merch-api/internal/labels"
)

var positionableTags = map[string]struct{}{
	"DIV": {}, "A": {}, "LI": {}, "FIGURE": {}, "TD": {}, "ARTICLE": {}, "SECTION": {},
}

// applyLabels locates the card image, ascends to a positionable ancestor,
// and renders the badges there. Callers hold the engine lock.
func (e *Engine) applyLabels(wrapper *Element, vms []labels.ViewModel, isPDP bool) {
	img := wrapper.FindFirst(byTag("img"))
	if img == nil {
		return
	}

	target := img.Parent
	// Hop past PICTURE and other odd wrappers, bounded so a deep unmatched
	// chain falls back to the direct parent.
	safe := target
	for hops := 0; safe != nil && hops < e.cfg.MaxHops; hops++ {
		if _, ok := positionableTags[safe.Tag]; ok {
			break
		}
		if safe.Parent == nil {
			break
		}
		safe = safe.Parent
	}
	if safe != nil {
		if _, ok := positionableTags[safe.Tag]; ok {
			target = safe
		}
	}
	if target != nil {
		e.renderBadges(target, vms, isPDP)
	}
}

// renderBadges appends one badge element per view-model at its anchor
// corner, stacking same-corner badges with a cumulative offset.
func (e *Engine) renderBadges(wrapper *Element, vms []labels.ViewModel, isPDP bool) {
	if wrapper == nil {
		return
	}
	if wrapper.Style("position") == "" || wrapper.Style("position") == "static" {
		wrapper.SetStyle("position", "relative")
	}
	if wrapper.Tag == "A" && wrapper.Style("display") == "inline" {
		wrapper.SetStyle("display", "inline-block")
	}

	existing := wrapper.FindAll(func(el *Element) bool { return el.HasClass(badgeClass) })
	if sameBadgeSet(existing, vms) {
		return
	}
	for _, old := range existing {
		if old.Parent != nil {
			old.Parent.RemoveChild(old)
		}
	}

	offsets := map[string]int{
		"top-left":     10,
		"top-right":    10,
		"bottom-left":  10,
		"bottom-right": 10,
	}
	step := 35
	if isPDP {
		step = 45
	} else if wrapper.Width > 0 && wrapper.Width < 180 {
		step = 25
	}
	inset := "8px"
	if isPDP {
		inset = "20px"
	}

	for _, vm := range vms {
		pos := vm.Position
		if _, ok := offsets[pos]; !ok {
			pos = "top-left"
		}
		badge := NewElement("div")
		badge.Classes = []string{badgeClass, badgeClass + "-" + vm.ID}
		badge.Dataset["labelId"] = vm.ID
		badge.Attrs["text"] = vm.Text
		badge.SetStyle("position", "absolute")
		badge.SetStyle("background-color", vm.BgColor)
		badge.SetStyle("color", vm.TextColor)
		badge.SetStyle("border-radius", shapeRadius(vm.Shape))
		badge.SetStyle("opacity", "0")
		badge.SetStyle("animation", "merchFadeIn 0.3s ease-out forwards")

		vertical, horizontal, ok := strings.Cut(pos, "-")
		if !ok {
			vertical, horizontal = "top", "left"
		}
		badge.SetStyle(vertical, strconv.Itoa(offsets[pos])+"px")
		badge.SetStyle(horizontal, inset)

		wrapper.Append(badge)
		offsets[pos] += step
	}
}

// renderPDPLocked renders badges on the product page's active gallery image
// rather than the first image in document order, so script-driven carousels
// badge the slide the shopper actually sees.
func (e *Engine) renderPDPLocked(vms []labels.ViewModel) {
	shown := make([]labels.ViewModel, 0, len(vms))
	for _, vm := range vms {
		if vm.ShowOnPDP {
			shown = append(shown, vm)
		}
	}
	if len(shown) == 0 || e.doc == nil || e.doc.Root == nil {
		return
	}

	candidates := e.doc.Root.FindAll(func(el *Element) bool {
		if el.Tag != "IMG" {
			return false
		}
		return el.Closest(isGalleryContainer) != nil
	})
	visible := visibleImages(candidates, 50)
	if len(visible) == 0 {
		visible = visibleImages(e.doc.Root.FindAll(byTag("img")), 250)
	}
	if len(visible) == 0 {
		return
	}

	main := visible[0]
	for _, img := range visible {
		if img.Closest(isActiveSlide) != nil {
			main = img
			break
		}
	}

	target := main.Parent
	for target != nil && (target.Tag == "IMG" || target.Tag == "PICTURE") {
		target = target.Parent
	}
	if container := main.Closest(func(el *Element) bool {
		if el.Tag == "IMG" {
			return false
		}
		return el.HasClass("product__media-item") ||
			el.HasClassContaining("media") ||
			el.HasClassContaining("gallery") ||
			el.HasClassContaining("image")
	}); container != nil {
		target = container
	}

	if target != nil {
		e.renderBadges(target, shown, true)
	}
}

func sameBadgeSet(existing []*Element, vms []labels.ViewModel) bool {
	if len(existing) != len(vms) {
		return false
	}
	want := make(map[string]struct{}, len(vms))
	for _, vm := range vms {
		want[vm.ID] = struct{}{}
	}
	for _, el := range existing {
		if _, ok := want[el.Dataset["labelId"]]; !ok {
			return false
		}
	}
	return true
}

func shapeRadius(shape string) string {
	switch shape {
	case "pill":
		return "50px"
	case "rounded":
		return "4px"
	default:
		return "0"
	}
}

func isGalleryContainer(el *Element) bool {
	if _, ok := el.Attrs["data-product-media-wrapper"]; ok {
		return true
	}
	for _, c := range []string{"product__media", "product-single__media", "product-gallery", "product__media-list", "product-images"} {
		if el.HasClass(c) {
			return true
		}
	}
	return false
}

func isActiveSlide(el *Element) bool {
	return el.HasClass("is-active") || el.HasClass("swiper-slide-active") || el.HasClass("active")
}

func visibleImages(imgs []*Element, minWidth int) []*Element {
	out := make([]*Element, 0, len(imgs))
	for _, img := range imgs {
		if img.Width <= minWidth {
			continue
		}
		if img.Style("display") == "none" || img.Style("visibility") == "hidden" {
			continue
		}
		out = append(out, img)
	}
	return out
}
