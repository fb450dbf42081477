package delivery

import (
	"strings"
)

// Element is a minimal mutable view of a rendered document node. The engine
// only needs tags, classes, inline styles, data attributes, and tree
// traversal; the host environment owns the real layout.
type Element struct {
	Tag      string
	Attrs    map[string]string
	Classes  []string
	Styles   map[string]string
	Dataset  map[string]string
	Width    int
	Parent   *Element
	Children []*Element
}

// NewElement constructs an element with initialized maps.
func NewElement(tag string) *Element {
	return &Element{
		Tag:     strings.ToUpper(tag),
		Attrs:   map[string]string{},
		Styles:  map[string]string{},
		Dataset: map[string]string{},
	}
}

// Append attaches child to e.
func (e *Element) Append(child *Element) *Element {
	child.Parent = e
	e.Children = append(e.Children, child)
	return child
}

// RemoveChild detaches child from e.
func (e *Element) RemoveChild(child *Element) {
	for i, c := range e.Children {
		if c == child {
			e.Children = append(e.Children[:i], e.Children[i+1:]...)
			child.Parent = nil
			return
		}
	}
}

// HasClass reports whether the element carries the class.
func (e *Element) HasClass(name string) bool {
	for _, c := range e.Classes {
		if c == name {
			return true
		}
	}
	return false
}

// HasClassContaining reports whether any class contains the substring.
func (e *Element) HasClassContaining(sub string) bool {
	for _, c := range e.Classes {
		if strings.Contains(c, sub) {
			return true
		}
	}
	return false
}

// Style returns the inline style value, empty when unset.
func (e *Element) Style(prop string) string {
	return e.Styles[prop]
}

// SetStyle sets an inline style value.
func (e *Element) SetStyle(prop, value string) {
	e.Styles[prop] = value
}

// Closest walks up from e (inclusive) and returns the first ancestor
// matching the predicate, or nil.
func (e *Element) Closest(match func(*Element) bool) *Element {
	for cur := e; cur != nil; cur = cur.Parent {
		if match(cur) {
			return cur
		}
	}
	return nil
}

// FindFirst returns the first descendant (depth-first, e excluded) matching
// the predicate, or nil.
func (e *Element) FindFirst(match func(*Element) bool) *Element {
	for _, child := range e.Children {
		if match(child) {
			return child
		}
		if found := child.FindFirst(match); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every descendant (depth-first, e excluded) matching the
// predicate.
func (e *Element) FindAll(match func(*Element) bool) []*Element {
	var out []*Element
	for _, child := range e.Children {
		if match(child) {
			out = append(out, child)
		}
		out = append(out, child.FindAll(match)...)
	}
	return out
}

// Document is the engine's view of one page.
type Document struct {
	Root *Element
	Path string
}

// IsProductPage reports whether the document is a product detail page.
func (d *Document) IsProductPage() bool {
	return strings.Contains(d.Path, "/products/")
}

func byTag(tag string) func(*Element) bool {
	upper := strings.ToUpper(tag)
	return func(e *Element) bool { return e.Tag == upper }
}
