package labels

import (
	"sort"

	"github.com/noah-isme/merch-api/internal/bundle"
)

// maxPerPosition caps how many labels a single tile corner may carry.
const maxPerPosition = 2

// ViewModel is the storefront wire form of a resolved label.
type ViewModel struct {
	ID               string  `json:"id"`
	Text             string  `json:"text"`
	Icon             *string `json:"icon"`
	BgColor          string  `json:"bgColor"`
	TextColor        string  `json:"textColor"`
	Position         string  `json:"position"`
	Shape            string  `json:"shape"`
	ShowOnPDP        bool    `json:"showOnPDP"`
	ShowOnCollection bool    `json:"showOnCollection"`
}

type candidate struct {
	label            bundle.Label
	combinedPriority int
	order            int
}

// Resolve maps product handles to their display labels.
//
// Every label of every bundle a product belongs to is a candidate, ranked by
// bundle priority plus label priority. Candidates are deduplicated by label
// id across the whole product, and each anchor position keeps at most two.
// Ties preserve enumeration order, so resolution is deterministic for a
// given bundle list.
func Resolve(bundles []bundle.Bundle) map[string][]ViewModel {
	perHandle := map[string][]candidate{}
	order := 0

	for _, b := range bundles {
		if len(b.Labels) == 0 {
			continue
		}
		for _, it := range b.Items {
			if it.Handle == "" {
				continue
			}
			for _, l := range b.Labels {
				perHandle[it.Handle] = append(perHandle[it.Handle], candidate{
					label:            l,
					combinedPriority: b.Priority + l.Priority,
					order:            order,
				})
				order++
			}
		}
	}

	out := make(map[string][]ViewModel, len(perHandle))
	for handle, candidates := range perHandle {
		out[handle] = finalize(candidates)
	}
	return out
}

func finalize(candidates []candidate) []ViewModel {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].combinedPriority > candidates[j].combinedPriority
	})

	seen := map[string]struct{}{}
	perPosition := map[string][]ViewModel{}
	positionOrder := make([]string, 0, len(bundle.Positions))

	for _, c := range candidates {
		id := c.label.ID.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		pos := c.label.AnchorPosition()
		if _, exists := perPosition[pos]; !exists {
			positionOrder = append(positionOrder, pos)
		}
		if len(perPosition[pos]) >= maxPerPosition {
			continue
		}
		perPosition[pos] = append(perPosition[pos], toViewModel(c.label))
	}

	out := make([]ViewModel, 0, len(seen))
	for _, pos := range positionOrder {
		out = append(out, perPosition[pos]...)
	}
	return out
}

func toViewModel(l bundle.Label) ViewModel {
	vm := ViewModel{
		ID:               l.ID.String(),
		Text:             l.Text,
		BgColor:          l.BgColor,
		TextColor:        l.TextColor,
		Position:         l.AnchorPosition(),
		Shape:            l.Shape,
		ShowOnPDP:        l.ShowOnPDP,
		ShowOnCollection: l.ShowOnCollection,
	}
	if l.Icon != "" {
		icon := l.Icon
		vm.Icon = &icon
	}
	return vm
}
