// Package discovery groups a page's text nodes into translatable containers.
package discovery

import (
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/cascadia"
	"github.com/go-shiori/dom"
	"golang.org/x/net/html"

	"horse.fit/glint/internal/precheck"
	"horse.fit/glint/internal/settings"
	"horse.fit/glint/internal/tagged"
)

const (
	// MaxTextDelta is how many more runes an ancestor may hold than the
	// current candidate and still be merged into it.
	MaxTextDelta = 10
	// ClickableTextLimit is the text length under which click targets count as controls.
	ClickableTextLimit = 10
)

var (
	layoutTags = cascadia.MustCompile("script, style, noscript, input, button, select, option, textarea, template, svg, canvas")

	structuralKeywords = map[string]struct{}{
		"nav": {}, "menu": {}, "toolbar": {}, "breadcrumb": {}, "pagination": {}, "sidebar": {},
		"footer-links": {}, "icon": {}, "btn": {}, "button": {}, "logo": {}, "dropdown": {},
	}
)

// Options tunes a single discovery pass.
type Options struct {
	// Claimed nodes are treated as already matched: their subtrees are skipped
	// and no container may grow around them. Text beside a claimed node stays
	// undiscovered.
	Claimed []*html.Node
}

// FindTranslatableElements returns the containers under roots, in document
// order, that pass the gate. The result never holds duplicates or nested nodes.
func FindTranslatableElements(s settings.Settings, gate *precheck.Gate, roots ...*html.Node) []*html.Node {
	return Find(s, gate, Options{}, roots...)
}

// Find is FindTranslatableElements with per-call options.
func Find(s settings.Settings, gate *precheck.Gate, opts Options, roots ...*html.Node) []*html.Node {
	p := &pass{
		settings:  s,
		gate:      gate,
		skip:      compileSkipSelectors(s.PrecheckRules.SkipSelectors),
		claimed:   make(map[*html.Node]struct{}),
		enclosing: make(map[*html.Node]struct{}),
		pinned:    make(map[*html.Node]struct{}),
		fixed:     make(map[*html.Node]struct{}),
	}
	for _, n := range opts.Claimed {
		if n == nil {
			continue
		}
		p.pinned[n] = struct{}{}
		p.claim(n)
		for a := n.Parent; a != nil; a = a.Parent {
			p.fixed[a] = struct{}{}
		}
	}

	for _, root := range roots {
		if root == nil {
			continue
		}
		p.walk(root)
	}
	return p.found
}

type pass struct {
	settings settings.Settings
	gate     *precheck.Gate
	skip     []cascadia.Selector

	claimed map[*html.Node]struct{}
	// enclosing holds every ancestor of a claimed node.
	enclosing map[*html.Node]struct{}
	// pinned are the caller's claims; fixed holds their ancestors. Neither is
	// ever merged into a new container.
	pinned map[*html.Node]struct{}
	fixed  map[*html.Node]struct{}
	found  []*html.Node
}

func (p *pass) walk(n *html.Node) {
	if n.Type == html.TextNode {
		p.visitText(n)
		return
	}
	if n.Type == html.ElementNode {
		if _, ok := p.claimed[n]; ok {
			return
		}
		if p.skipped(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; {
		// visiting may claim c, so read the sibling first
		next := c.NextSibling
		p.walk(c)
		c = next
	}
}

func (p *pass) visitText(n *html.Node) {
	if strings.TrimSpace(n.Data) == "" {
		return
	}
	parent := n.Parent
	if parent == nil || parent.Type != html.ElementNode || isBoundary(parent) {
		return
	}
	if isLayoutOnly(parent) || p.isClaimed(parent) {
		return
	}
	if _, ok := p.fixed[parent]; ok {
		return
	}

	// Text beside an earlier claim, as in <p><b>Note:</b> more text</p>: the
	// parent becomes the container and absorbs what was claimed under it.
	container := parent
	if _, ok := p.enclosing[parent]; ok {
		p.absorb(parent)
	} else {
		container = p.climb(parent)
	}
	p.claim(container)

	unit := tagged.Decompose(container)
	if unit == nil {
		return
	}
	if !p.gate.Check(unit.PlainText(), p.settings).Translate {
		return
	}
	p.found = append(p.found, container)
}

func (p *pass) climb(candidate *html.Node) *html.Node {
	size := textLength(candidate)
	for {
		next := candidate.Parent
		if next == nil || next.Type != html.ElementNode || isBoundary(next) {
			return candidate
		}
		if isLayoutOnly(next) || p.skipped(next) {
			return candidate
		}
		if _, ok := p.enclosing[next]; ok {
			return candidate
		}
		nextSize := textLength(next)
		if nextSize-size > MaxTextDelta || otherElementChildren(next, candidate) > 1 {
			return candidate
		}
		candidate, size = next, nextSize
	}
}

func (p *pass) claim(n *html.Node) {
	if n == nil {
		return
	}
	p.claimed[n] = struct{}{}
	for a := n.Parent; a != nil; a = a.Parent {
		p.enclosing[a] = struct{}{}
	}
}

// absorb drops claims and results that sit inside container. Results are in
// document order and the walk is still inside container, so every absorbed
// result is at the tail of found.
func (p *pass) absorb(container *html.Node) {
	for n := range p.claimed {
		if _, ok := p.pinned[n]; ok {
			continue
		}
		if n != container && contains(container, n) {
			delete(p.claimed, n)
		}
	}
	kept := p.found[:0]
	for _, n := range p.found {
		if !contains(container, n) {
			kept = append(kept, n)
		}
	}
	p.found = kept
}

func (p *pass) isClaimed(n *html.Node) bool {
	for a := n; a != nil; a = a.Parent {
		if _, ok := p.claimed[a]; ok {
			return true
		}
	}
	return false
}

func (p *pass) skipped(n *html.Node) bool {
	for _, sel := range p.skip {
		if sel.Match(n) {
			return true
		}
	}
	return false
}

func compileSkipSelectors(raw []string) []cascadia.Selector {
	out := make([]cascadia.Selector, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sel, err := cascadia.Compile(s)
		if err != nil {
			continue
		}
		out = append(out, sel)
	}
	return out
}

func contains(ancestor, n *html.Node) bool {
	for a := n; a != nil; a = a.Parent {
		if a == ancestor {
			return true
		}
	}
	return false
}

func isBoundary(n *html.Node) bool {
	tag := dom.TagName(n)
	return tag == "body" || tag == "html" || tag == "head"
}

// isLayoutOnly reports whether n is a control or structural chrome rather than prose.
func isLayoutOnly(n *html.Node) bool {
	if layoutTags.Match(n) {
		return true
	}
	for _, token := range strings.Fields(strings.ToLower(dom.ClassName(n))) {
		if _, ok := structuralKeywords[token]; ok {
			return true
		}
	}
	if _, ok := structuralKeywords[strings.ToLower(dom.ID(n))]; ok {
		return true
	}
	if dom.HasAttribute(n, "onclick") || strings.EqualFold(dom.GetAttribute(n, "role"), "button") {
		return textLength(n) < ClickableTextLimit
	}
	return false
}

func textLength(n *html.Node) int {
	return utf8.RuneCountInString(strings.TrimSpace(dom.TextContent(n)))
}

func otherElementChildren(n, except *html.Node) int {
	count := 0
	for _, c := range dom.Children(n) {
		if c != except {
			count++
		}
	}
	return count
}
