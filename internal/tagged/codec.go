// Package tagged turns a container's mixed text and markup into numbered
// placeholder text (<t0>…</t0>) and rebuilds markup from translated placeholder text.
package tagged

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-shiori/dom"
	"golang.org/x/net/html"
)

// Unit is the reversible text form of one container.
type Unit struct {
	Text string
	// Shells holds childless clones of the inline elements, keyed by tag id.
	Shells map[int]*html.Node
	// Preformatted is set when the container renders whitespace verbatim.
	Preformatted bool
}

var (
	inlineTags = setOf("a", "abbr", "b", "bdi", "bdo", "cite", "code", "data", "dfn", "em", "font",
		"i", "kbd", "mark", "q", "s", "samp", "small", "span", "strong", "sub", "sup", "time", "u",
		"var", "del", "ins")
	blockTags = setOf("address", "article", "aside", "blockquote", "dd", "div", "dl", "dt",
		"fieldset", "figcaption", "figure", "footer", "form", "h1", "h2", "h3", "h4", "h5", "h6",
		"header", "hr", "li", "main", "nav", "ol", "p", "pre", "section", "table", "tbody", "td",
		"tfoot", "th", "thead", "tr", "ul")
	skippedTags = setOf("script", "style", "noscript", "template", "iframe", "svg", "canvas",
		"object", "embed", "head", "meta", "link", "title")
	preTags = setOf("pre", "textarea", "listing", "plaintext")

	markerPattern   = regexp.MustCompile(`</?t(\d+)>`)
	// escapedPattern matches marker-shaped page text after escapeLiteral.
	escapedPattern  = regexp.MustCompile("<\u200c(/?t\\d+>)")
	preStylePattern = regexp.MustCompile(`(?i)white-space\s*:\s*(pre|pre-wrap|pre-line|break-spaces)\b`)
)

// Decompose encodes container's subtree. It returns nil when there is no text.
func Decompose(container *html.Node) *Unit {
	if container == nil {
		return nil
	}

	pre := inPreformatted(container)
	e := &encoder{shells: make(map[int]*html.Node), lastSpace: true}
	e.walk(container, pre)

	text := e.buf.String()
	if strings.TrimSpace(StripTags(text)) == "" {
		return nil
	}
	if !pre {
		text = strings.TrimFunc(text, unicode.IsSpace)
	}
	return &Unit{Text: text, Shells: e.shells, Preformatted: pre}
}

// PlainText returns the unit text with all placeholder tags removed.
func (u *Unit) PlainText() string {
	if u == nil {
		return ""
	}
	return StripTags(u.Text)
}

// TagCount reports how many inline shells were captured.
func (u *Unit) TagCount() int {
	if u == nil {
		return 0
	}
	return len(u.Shells)
}

// StripTags removes placeholder tags from s and restores page text that
// merely looked like one.
func StripTags(s string) string {
	return unescapeLiteral(markerPattern.ReplaceAllString(s, ""))
}

// escapeLiteral keeps marker-shaped page text, such as a literal "<t0>", from
// being read as a placeholder by putting a zero-width non-joiner after '<'.
func escapeLiteral(s string) string {
	return markerPattern.ReplaceAllStringFunc(s, func(m string) string {
		return "<\u200c" + m[1:]
	})
}

func unescapeLiteral(s string) string {
	return escapedPattern.ReplaceAllString(s, "<$1")
}

type encoder struct {
	buf       bytes.Buffer
	shells    map[int]*html.Node
	next      int
	lastSpace bool
}

func (e *encoder) walk(n *html.Node, pre bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			data := escapeLiteral(c.Data)
			if pre {
				e.writeVerbatim(data)
			} else {
				e.writeCollapsed(data)
			}
		case html.ElementNode:
			tag := dom.TagName(c)
			if contains(skippedTags, tag) {
				continue
			}
			childPre := pre || isPreformatted(c)
			switch {
			case tag == "br":
				e.lineBreak(true)
			case contains(inlineTags, tag):
				id := e.next
				e.next++
				e.shells[id] = dom.Clone(c, false)
				fmt.Fprintf(&e.buf, "<t%d>", id)
				e.walk(c, childPre)
				fmt.Fprintf(&e.buf, "</t%d>", id)
			case contains(blockTags, tag):
				e.lineBreak(false)
				e.walk(c, childPre)
				e.lineBreak(false)
			default:
				e.walk(c, childPre)
			}
		}
	}
}

func (e *encoder) writeVerbatim(s string) {
	if s == "" {
		return
	}
	e.buf.WriteString(s)
	last := s[len(s)-1]
	e.lastSpace = last == ' ' || last == '\n' || last == '\t'
}

func (e *encoder) writeCollapsed(s string) {
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !e.lastSpace {
				e.buf.WriteByte(' ')
				e.lastSpace = true
			}
			continue
		}
		e.buf.WriteRune(r)
		e.lastSpace = false
	}
}

// lineBreak ends the current line. Block boundaries only break when the
// output does not already end with one; <br> always breaks.
func (e *encoder) lineBreak(force bool) {
	b := e.buf.Bytes()
	if len(b) == 0 {
		return
	}
	if b[len(b)-1] == ' ' {
		e.buf.Truncate(len(b) - 1)
		b = e.buf.Bytes()
		if len(b) == 0 {
			return
		}
	}
	if !force && b[len(b)-1] == '\n' {
		return
	}
	e.buf.WriteByte('\n')
	e.lastSpace = true
}

// Reconstruct rebuilds a fragment from translated tagged text, substituting the
// unit's shells back in. Unknown ids or unbalanced tags fall back to plain text.
func Reconstruct(unit *Unit, translated string) []*html.Node {
	nodes, err := build(unit, translated)
	if err != nil {
		return []*html.Node{dom.CreateTextNode(StripTags(translated))}
	}
	return nodes
}

func build(unit *Unit, translated string) ([]*html.Node, error) {
	if unit == nil {
		return nil, fmt.Errorf("unit is nil")
	}

	holder := &html.Node{Type: html.ElementNode, Data: "div"}
	stack := []*html.Node{holder}
	ids := []int{-1}

	pos := 0
	for _, loc := range markerPattern.FindAllStringSubmatchIndex(translated, -1) {
		appendText(stack[len(stack)-1], translated[pos:loc[0]], unit.Preformatted)
		pos = loc[1]

		id, err := strconv.Atoi(translated[loc[2]:loc[3]])
		if err != nil {
			return nil, fmt.Errorf("tag id %q: %w", translated[loc[2]:loc[3]], err)
		}

		closing := translated[loc[0]+1] == '/'
		if closing {
			if ids[len(ids)-1] != id {
				return nil, fmt.Errorf("unbalanced closing tag t%d", id)
			}
			stack = stack[:len(stack)-1]
			ids = ids[:len(ids)-1]
			continue
		}

		shell, ok := unit.Shells[id]
		if !ok {
			return nil, fmt.Errorf("unknown tag id t%d", id)
		}
		el := dom.Clone(shell, false)
		stack[len(stack)-1].AppendChild(el)
		stack = append(stack, el)
		ids = append(ids, id)
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("unclosed tag t%d", ids[len(ids)-1])
	}
	appendText(holder, translated[pos:], unit.Preformatted)

	var out []*html.Node
	for c := holder.FirstChild; c != nil; {
		next := c.NextSibling
		holder.RemoveChild(c)
		out = append(out, c)
		c = next
	}
	return out, nil
}

func appendText(parent *html.Node, text string, pre bool) {
	if text == "" {
		return
	}
	text = unescapeLiteral(text)
	if pre {
		parent.AppendChild(dom.CreateTextNode(text))
		return
	}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			parent.AppendChild(dom.CreateElement("br"))
		}
		if line != "" {
			parent.AppendChild(dom.CreateTextNode(line))
		}
	}
}

func inPreformatted(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && isPreformatted(p) {
			return true
		}
	}
	return false
}

func isPreformatted(n *html.Node) bool {
	if contains(preTags, dom.TagName(n)) {
		return true
	}
	return preStylePattern.MatchString(dom.GetAttribute(n, "style"))
}

func setOf(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
