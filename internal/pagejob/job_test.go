package pagejob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"horse.fit/glint/internal/document"
	"horse.fit/glint/internal/messaging"
	"horse.fit/glint/internal/precheck"
	"horse.fit/glint/internal/render"
	"horse.fit/glint/internal/settings"
)

const page = `<html><head><title>t</title></head><body>
<p id="one">Hello <b>world</b> from the page</p>
<p id="two">Hello again from the second paragraph</p>
</body></html>`

type stubMessenger struct {
	mu         sync.Mutex
	sent       []messaging.Message
	held       map[string]func(messaging.Reply)
	reply      func(messaging.Message) messaging.Reply
	interrupts int
}

func (m *stubMessenger) Send(_ context.Context, msg messaging.Message, deliver func(messaging.Reply)) {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	reply := m.reply
	if reply == nil {
		if m.held == nil {
			m.held = make(map[string]func(messaging.Reply))
		}
		m.held[msg.ID] = deliver
	}
	m.mu.Unlock()

	if reply != nil {
		go deliver(reply(msg))
	}
}

func (m *stubMessenger) Interrupt(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupts++
}

func (m *stubMessenger) messages() []messaging.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]messaging.Message(nil), m.sent...)
}

func (m *stubMessenger) interruptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupts
}

func germanize(msg messaging.Message) messaging.Reply {
	return messaging.Reply{ID: msg.ID, Text: strings.ReplaceAll(msg.Text, "Hello", "Hallo"), Translated: true}
}

type recordingRenderer struct {
	inner  render.Renderer
	mu     sync.Mutex
	events []string
}

func (r *recordingRenderer) Update(n *html.Node, id string, state render.State, payload render.Payload) {
	r.mu.Lock()
	r.events = append(r.events, string(state))
	r.mu.Unlock()
	r.inner.Update(n, id, state, payload)
}

func (r *recordingRenderer) Revert(n *html.Node, id string) {
	r.mu.Lock()
	r.events = append(r.events, "revert")
	r.mu.Unlock()
	r.inner.Revert(n, id)
}

func (r *recordingRenderer) log() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.events, ",")
}

func targetSettings() (settings.Settings, error) {
	s := settings.Defaults()
	s.TargetLanguage = "de"
	return s, nil
}

type fixture struct {
	doc       *document.Document
	messenger *stubMessenger
	renderer  *recordingRenderer
	job       *Job
}

func newFixture(t *testing.T, viewport ViewportFactory, messenger *stubMessenger) *fixture {
	t.Helper()

	doc, err := document.ParseString(page)
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	dom, err := render.NewDOM(doc, settings.StrategyReplace)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	rec := &recordingRenderer{inner: dom}
	job := New(doc, Deps{
		Settings:   targetSettings,
		Gate:       precheck.NewGate(nil),
		Messenger:  messenger,
		Renderer:   rec,
		Viewport:   viewport,
		BatchDelay: 5 * time.Millisecond,
		Logger:     zerolog.Nop(),
	})
	t.Cleanup(job.Close)
	return &fixture{doc: doc, messenger: messenger, renderer: rec, job: job}
}

func waitIdle(t *testing.T, job *Job) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := job.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func htmlOf(t *testing.T, doc *document.Document) string {
	t.Helper()

	out, err := doc.HTML()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return out
}

func TestStartWithoutTargetLanguageStaysIdle(t *testing.T) {
	t.Parallel()

	doc, err := document.ParseString(page)
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	messenger := &stubMessenger{}
	job := New(doc, Deps{
		Settings:  func() (settings.Settings, error) { return settings.Defaults(), nil },
		Messenger: messenger,
		Renderer:  &recordingRenderer{},
		Logger:    zerolog.Nop(),
	})
	defer job.Close()

	if err := job.Start(context.Background()); !errors.Is(err, ErrMissingTargetLanguage) {
		t.Fatalf("expected ErrMissingTargetLanguage, got %v", err)
	}
	if job.State() != StateIdle {
		t.Fatalf("expected idle, got %s", job.State())
	}
	if len(messenger.messages()) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestStartWithoutEngineFails(t *testing.T) {
	t.Parallel()

	doc, _ := document.ParseString(page)
	job := New(doc, Deps{
		Settings: func() (settings.Settings, error) {
			s, _ := targetSettings()
			s.TranslatorEngine = " "
			return s, nil
		},
		Messenger: &stubMessenger{},
		Renderer:  &recordingRenderer{},
		Logger:    zerolog.Nop(),
	})
	defer job.Close()

	if err := job.Start(context.Background()); !errors.Is(err, ErrMissingEngine) {
		t.Fatalf("expected ErrMissingEngine, got %v", err)
	}
	if job.State() != StateIdle {
		t.Fatalf("expected idle, got %s", job.State())
	}
}

func TestEagerJobTranslatesPage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{reply: germanize})
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, f.job)

	out := htmlOf(t, f.doc)
	if !strings.Contains(out, "Hallo <b>world</b> from the page") {
		t.Fatalf("first paragraph not translated: %s", out)
	}
	if !strings.Contains(out, "Hallo again from the second paragraph") {
		t.Fatalf("second paragraph not translated: %s", out)
	}
	if got := f.job.Counts(); got.Translated != 2 || got.Loading != 0 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	msgs := f.messenger.messages()
	if len(msgs) != 2 || msgs[0].TargetLang != "de" || msgs[0].Engine != "local" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if f.job.State() != StateTranslating {
		t.Fatalf("expected translating, got %s", f.job.State())
	}
}

func TestStartIsNoopWhileTranslating(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{reply: germanize})
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	waitIdle(t, f.job)

	if got := len(f.messenger.messages()); got != 2 {
		t.Fatalf("expected 2 sends, got %d", got)
	}
}

func TestViewportEntryTriggersOnce(t *testing.T) {
	t.Parallel()

	viewport := NewManual()
	f := newFixture(t, viewport.Factory, &stubMessenger{reply: germanize})
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := f.job.Counts(); got.Observed != 2 || got.Loading != 0 {
		t.Fatalf("unexpected counts before entry: %+v", got)
	}
	if len(f.messenger.messages()) != 0 {
		t.Fatalf("nothing should be sent before containers are visible")
	}

	one := f.doc.Find("#one")[0]
	viewport.Enter(one)
	viewport.Enter(one)
	waitIdle(t, f.job)

	msgs := f.messenger.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "world") {
		t.Fatalf("expected one send for #one, got %+v", msgs)
	}
	if got := len(viewport.Observed()); got != 1 {
		t.Fatalf("expected #two to stay observed, got %d", got)
	}
	if viewport.Enter(one) {
		t.Fatalf("#one should no longer be observed")
	}
}

func TestInsertedContentIsDiscovered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{reply: germanize})
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, f.job)

	if _, err := f.doc.InsertHTML(f.doc.Body(), `<div id="late"><p>Hello from a late paragraph</p></div>`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	waitIdle(t, f.job)

	msgs := f.messenger.messages()
	if len(msgs) != 3 || !strings.Contains(msgs[2].Text, "late paragraph") {
		t.Fatalf("expected inserted paragraph to be sent, got %+v", msgs)
	}
	if out := htmlOf(t, f.doc); !strings.Contains(out, "Hallo from a late paragraph") {
		t.Fatalf("inserted paragraph not translated: %s", out)
	}
}

func TestConcurrentInsertionsAreAllDiscovered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{reply: germanize})
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, f.job)

	const inserts = 8
	var wg sync.WaitGroup
	for i := 0; i < inserts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fragment := fmt.Sprintf(`<div><p>Hello from late paragraph number %d</p></div>`, i)
			if _, err := f.doc.InsertHTML(f.doc.Body(), fragment); err != nil {
				t.Errorf("insert %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	waitIdle(t, f.job)

	if got := len(f.messenger.messages()); got != 2+inserts {
		t.Fatalf("expected %d sends, got %d", 2+inserts, got)
	}
	out := htmlOf(t, f.doc)
	for i := 0; i < inserts; i++ {
		if !strings.Contains(out, fmt.Sprintf("Hallo from late paragraph number %d", i)) {
			t.Fatalf("paragraph %d not translated: %s", i, out)
		}
	}
}

func TestInsertionsIntoTrackedContainersAreIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{reply: germanize})
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, f.job)

	two := f.doc.Find("#two")[0]
	if _, err := f.doc.InsertHTML(two, `<span>extra words inside</span>`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	waitIdle(t, f.job)

	if got := len(f.messenger.messages()); got != 2 {
		t.Fatalf("expected no new sends, got %d", got)
	}
}

func TestRevertRestoresPageAndIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{})
	before := htmlOf(t, f.doc)

	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := f.job.Counts(); got.Loading != 2 {
		t.Fatalf("expected 2 loading, got %+v", got)
	}
	if out := htmlOf(t, f.doc); !strings.Contains(out, render.AttrState) {
		t.Fatalf("loading state not rendered: %s", out)
	}

	f.job.Revert()
	f.job.Revert()

	if f.job.State() != StateIdle {
		t.Fatalf("expected idle, got %s", f.job.State())
	}
	if got := f.messenger.interruptCount(); got != 1 {
		t.Fatalf("expected one interrupt, got %d", got)
	}
	if after := htmlOf(t, f.doc); after != before {
		t.Fatalf("document not restored:\nbefore: %s\nafter:  %s", before, after)
	}
	if got := f.job.Counts(); got != (Counts{}) {
		t.Fatalf("expected empty counts, got %+v", got)
	}
}

func TestStaleRepliesAreIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{})
	before := htmlOf(t, f.doc)
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	msgs := f.messenger.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(msgs))
	}

	f.job.Deliver(messaging.Reply{ID: "unknown", Text: "x", Translated: true})
	f.job.Revert()
	f.job.Deliver(messaging.Reply{ID: msgs[0].ID, Text: "Hallo", Translated: true})

	if got := f.job.Counts(); got != (Counts{}) {
		t.Fatalf("stale reply changed counts: %+v", got)
	}
	if after := htmlOf(t, f.doc); after != before {
		t.Fatalf("stale reply touched the document: %s", after)
	}
}

func TestFailedReplyShowsErrorThenOriginal(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		statuses []Status
	)
	messenger := &stubMessenger{reply: func(msg messaging.Message) messaging.Reply {
		return messaging.Reply{ID: msg.ID, Error: "engine exploded"}
	}}
	doc, _ := document.ParseString(`<body><p>Hello failing world</p></body>`)
	dom, _ := render.NewDOM(doc, settings.StrategyReplace)
	rec := &recordingRenderer{inner: dom}
	job := New(doc, Deps{
		Settings:  targetSettings,
		Messenger: messenger,
		Renderer:  rec,
		Status: func(s Status) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})
	defer job.Close()

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, job)

	if got := rec.log(); got != "LOADING,ERROR,revert" {
		t.Fatalf("unexpected render sequence %q", got)
	}
	if got := job.Counts(); got.Failed != 1 || got.Original != 1 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	mu.Lock()
	last := statuses[len(statuses)-1]
	mu.Unlock()
	if last.LastError != "engine exploded" {
		t.Fatalf("expected last error to be reported, got %+v", last)
	}
}

func TestCanceledReplyRestoresOriginal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{reply: func(msg messaging.Message) messaging.Reply {
		return messaging.Reply{ID: msg.ID, Error: "canceled", Canceled: true}
	}})
	before := htmlOf(t, f.doc)
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, f.job)

	if strings.Contains(f.renderer.log(), "ERROR") {
		t.Fatalf("canceled replies must not render an error: %s", f.renderer.log())
	}
	if got := f.job.Counts(); got.Failed != 0 || got.Original != 2 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	if after := htmlOf(t, f.doc); after != before {
		t.Fatalf("document not restored: %s", after)
	}
}

func TestRestartAfterRevert(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{reply: germanize})
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, f.job)
	f.job.Revert()

	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitIdle(t, f.job)

	if got := len(f.messenger.messages()); got != 4 {
		t.Fatalf("expected 4 sends across both runs, got %d", got)
	}
	if got := f.job.Counts(); got.Translated != 2 {
		t.Fatalf("unexpected counts: %+v", got)
	}
}

func TestDetachKeepsTranslations(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Eager, &stubMessenger{reply: germanize})
	if err := f.job.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitIdle(t, f.job)
	f.job.Detach()

	if out := htmlOf(t, f.doc); !strings.Contains(out, "Hallo again") {
		t.Fatalf("detach must keep translations: %s", out)
	}
	if f.messenger.interruptCount() != 0 {
		t.Fatalf("detach must not interrupt the scheduler")
	}
	if err := f.job.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after detach, got %v", err)
	}
}
