// Package document holds a live HTML tree that announces inserted nodes to subscribers.
package document

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is safe for concurrent use; tree access goes through View and Update.
type Document struct {
	mu  sync.RWMutex
	doc *goquery.Document

	subsMu sync.Mutex
	nextID int
	subs   map[int]func([]*html.Node)
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{doc: doc, subs: make(map[int]func([]*html.Node))}, nil
}

// ParseString is Parse over an in-memory string.
func ParseString(raw string) (*Document, error) {
	return Parse(strings.NewReader(raw))
}

// Root returns the document node. Callers must hold View or Update while walking it.
func (d *Document) Root() *html.Node {
	return d.doc.Get(0)
}

// Body returns the body element, falling back to the document node.
func (d *Document) Body() *html.Node {
	if body := d.doc.Find("body"); body.Length() > 0 {
		return body.Get(0)
	}
	return d.Root()
}

// Find runs a CSS selector against the document.
func (d *Document) Find(selector string) []*html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc.Find(selector).Nodes
}

// View runs fn with shared access to the tree.
func (d *Document) View(fn func(root *html.Node)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.Root())
}

// Update runs fn with exclusive access to the tree. Changes made here are not
// announced to subscribers: it is how translations are written back.
func (d *Document) Update(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.Root())
}

// Subscribe registers fn to receive nodes inserted through InsertHTML/AppendChild.
func (d *Document) Subscribe(fn func(inserted []*html.Node)) (unsubscribe func()) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	return func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		delete(d.subs, id)
	}
}

// InsertHTML parses fragment in the context of parent, appends the result and
// announces the new top-level nodes.
func (d *Document) InsertHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	if parent == nil {
		return nil, fmt.Errorf("parent node is nil")
	}

	d.mu.Lock()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.mu.Unlock()

	d.publish(nodes)
	return nodes, nil
}

// AppendChild appends an unattached node and announces it.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.mu.Lock()
	parent.AppendChild(child)
	d.mu.Unlock()

	d.publish([]*html.Node{child})
}

// HTML serializes the whole document.
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out, err := d.doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out, nil
}

// OuterHTML serializes one node.
func (d *Document) OuterHTML(n *html.Node) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return goquery.OuterHtml(goquery.NewDocumentFromNode(n).Selection)
}

func (d *Document) publish(nodes []*html.Node) {
	if len(nodes) == 0 {
		return
	}
	d.subsMu.Lock()
	subs := make([]func([]*html.Node), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.subsMu.Unlock()

	for _, fn := range subs {
		fn(nodes)
	}
}
