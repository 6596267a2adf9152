// Package render writes container lifecycle states into the document.
package render

import (
	"fmt"
	"sync"

	"github.com/go-shiori/dom"
	"golang.org/x/net/html"

	"horse.fit/glint/internal/document"
	"horse.fit/glint/internal/settings"
	"horse.fit/glint/internal/tagged"
)

// State is a container's position in its translation lifecycle.
type State string

const (
	StateOriginal   State = "ORIGINAL"
	StateLoading    State = "LOADING"
	StateTranslated State = "TRANSLATED"
	StateError      State = "ERROR"
)

const (
	AttrID    = "data-glint-id"
	AttrState = "data-glint-state"
	AttrError = "data-glint-error"
	// TranslationClass marks the wrapper the append strategy inserts.
	TranslationClass = "glint-translation"
)

// Payload carries what a state needs: the decomposed unit and translated text
// for TRANSLATED, the failure for ERROR.
type Payload struct {
	Unit *tagged.Unit
	Text string
	Err  error
}

// Renderer is driven by the page job, one container id at a time.
type Renderer interface {
	Update(n *html.Node, id string, state State, payload Payload)
	Revert(n *html.Node, id string)
}

// Strategy places translated nodes into a container and returns how to undo it.
type Strategy func(container *html.Node, translated []*html.Node) (restore func())

// Strategies maps settings.DisplayStrategy values to implementations.
var Strategies = map[string]Strategy{
	settings.StrategyReplace: Replace,
	settings.StrategyAppend:  Append,
}

// Replace swaps the container's children for the translation.
func Replace(container *html.Node, translated []*html.Node) func() {
	var original []*html.Node
	for c := container.FirstChild; c != nil; {
		next := c.NextSibling
		container.RemoveChild(c)
		original = append(original, c)
		c = next
	}
	for _, n := range translated {
		container.AppendChild(n)
	}
	return func() {
		for c := container.FirstChild; c != nil; {
			next := c.NextSibling
			container.RemoveChild(c)
			c = next
		}
		for _, n := range original {
			container.AppendChild(n)
		}
	}
}

// Append keeps the original text and adds the translation below it.
func Append(container *html.Node, translated []*html.Node) func() {
	wrapper := dom.CreateElement("font")
	dom.SetAttribute(wrapper, "class", TranslationClass)
	wrapper.AppendChild(dom.CreateElement("br"))
	for _, n := range translated {
		wrapper.AppendChild(n)
	}
	container.AppendChild(wrapper)
	return func() {
		if wrapper.Parent != nil {
			wrapper.Parent.RemoveChild(wrapper)
		}
	}
}

// DOM renders into a document.Document. Writes go through Document.Update so
// they are not reported as insertions.
type DOM struct {
	doc      *document.Document
	strategy Strategy

	mu      sync.Mutex
	touched map[string]*touch
}

type touch struct {
	attrs   []html.Attribute
	restore func()
}

// NewDOM picks the strategy registered under name.
func NewDOM(doc *document.Document, name string) (*DOM, error) {
	if name == "" {
		name = settings.StrategyReplace
	}
	strategy, ok := Strategies[name]
	if !ok {
		return nil, fmt.Errorf("display strategy %q is not supported", name)
	}
	return &DOM{doc: doc, strategy: strategy, touched: make(map[string]*touch)}, nil
}

func (r *DOM) Update(n *html.Node, id string, state State, payload Payload) {
	if state == StateOriginal {
		r.Revert(n, id)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.doc.Update(func(*html.Node) {
		t, ok := r.touched[id]
		if !ok {
			t = &touch{attrs: append([]html.Attribute(nil), n.Attr...)}
			r.touched[id] = t
		}
		dom.SetAttribute(n, AttrID, id)
		dom.SetAttribute(n, AttrState, string(state))

		switch state {
		case StateTranslated:
			if t.restore != nil {
				t.restore()
			}
			t.restore = r.strategy(n, tagged.Reconstruct(payload.Unit, payload.Text))
			dom.RemoveAttribute(n, AttrError)
		case StateError:
			if payload.Err != nil {
				dom.SetAttribute(n, AttrError, payload.Err.Error())
			}
		}
	})
}

func (r *DOM) Revert(n *html.Node, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.touched[id]
	if !ok {
		return
	}
	delete(r.touched, id)

	r.doc.Update(func(*html.Node) {
		if t.restore != nil {
			t.restore()
		}
		n.Attr = t.attrs
	})
}

// Pending reports how many containers currently carry rendered state.
func (r *DOM) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.touched)
}
