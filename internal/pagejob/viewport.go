package pagejob

import (
	"sync"

	"golang.org/x/net/html"
)

// ViewportObserver reports when observed containers become visible.
type ViewportObserver interface {
	Observe(n *html.Node)
	Unobserve(n *html.Node)
	Disconnect()
}

// ViewportFactory builds an observer that calls onEnter for visible nodes.
// onEnter may be called from any goroutine.
type ViewportFactory func(onEnter func(n *html.Node)) ViewportObserver

// Eager treats every observed container as visible right away. It suits
// headless runs where the whole document is the viewport.
func Eager(onEnter func(n *html.Node)) ViewportObserver {
	return eager{onEnter: onEnter}
}

type eager struct {
	onEnter func(n *html.Node)
}

func (e eager) Observe(n *html.Node) { e.onEnter(n) }
func (eager) Unobserve(*html.Node)   {}
func (eager) Disconnect()            {}

// Manual lets a driver decide what is visible by calling Enter.
type Manual struct {
	mu       sync.Mutex
	onEnter  func(n *html.Node)
	observed map[*html.Node]struct{}
}

func NewManual() *Manual {
	return &Manual{observed: make(map[*html.Node]struct{})}
}

// Factory is a ViewportFactory bound to m.
func (m *Manual) Factory(onEnter func(n *html.Node)) ViewportObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter = onEnter
	return m
}

func (m *Manual) Observe(n *html.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed[n] = struct{}{}
}

func (m *Manual) Unobserve(n *html.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.observed, n)
}

func (m *Manual) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed = make(map[*html.Node]struct{})
	m.onEnter = nil
}

// Observed returns the nodes currently watched.
func (m *Manual) Observed() []*html.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*html.Node, 0, len(m.observed))
	for n := range m.observed {
		out = append(out, n)
	}
	return out
}

// Enter reports n as visible. It returns false when n is not observed.
func (m *Manual) Enter(n *html.Node) bool {
	m.mu.Lock()
	_, ok := m.observed[n]
	fn := m.onEnter
	m.mu.Unlock()
	if !ok || fn == nil {
		return false
	}
	fn(n)
	return true
}

// EnterAll reports every observed node as visible.
func (m *Manual) EnterAll() int {
	entered := 0
	for _, n := range m.Observed() {
		if m.Enter(n) {
			entered++
		}
	}
	return entered
}
