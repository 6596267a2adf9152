package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/glint/internal/scheduler"
	"horse.fit/glint/internal/translation"
)

type echoProvider struct{}

func (echoProvider) Translate(_ context.Context, req translation.TranslateRequest) (*translation.TranslateResponse, error) {
	return &translation.TranslateResponse{Text: strings.ToUpper(req.Text)}, nil
}
func (echoProvider) Name() string                 { return "local" }
func (echoProvider) SupportedLanguages() []string { return nil }

func receive(t *testing.T, ch <-chan Reply) Reply {
	t.Helper()

	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reply")
		return Reply{}
	}
}

func TestLocalDeliversReplyWithID(t *testing.T) {
	t.Parallel()

	registry := translation.NewRegistry("local")
	if err := registry.Register(echoProvider{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	sched := scheduler.New(registry, scheduler.Options{Logger: zerolog.Nop()})
	defer sched.Close()

	replies := make(chan Reply, 1)
	NewLocal(sched).Send(context.Background(), Message{ID: "c-1", Text: "hello <t0>you</t0>", TargetLang: "de"}, func(r Reply) {
		replies <- r
	})

	got := receive(t, replies)
	if got.ID != "c-1" || got.Text != "HELLO <T0>YOU</T0>" || !got.Translated || got.Failed() {
		t.Fatalf("unexpected reply: %+v", got)
	}
}

func TestReplyFromCanceledResult(t *testing.T) {
	t.Parallel()

	reply := ReplyFromResult("x", scheduler.Result{Err: scheduler.ErrCanceled})
	if !reply.Canceled || reply.Failed() {
		t.Fatalf("cancellation must not count as failure: %+v", reply)
	}
}

func newJSendServer(t *testing.T, token string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":"fail","message":"Unauthorized"}`))
			return
		}
		switch r.URL.Path {
		case "/api/v1/translate":
			var msg Message
			if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
				t.Errorf("decode message: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"data":   Reply{ID: msg.ID, Text: "remote:" + msg.Text, Translated: true},
			})
		case "/api/v1/translate/batch":
			_, _ = w.Write([]byte(`{"status":"success","data":{"items":[{"id":"a","text":"A","translated":true},{"id":"b","error":"boom"}]}}`))
		default:
			_, _ = w.Write([]byte(`{"status":"success","data":{}}`))
		}
	}))
}

func TestRemoteSendAndBatch(t *testing.T) {
	t.Parallel()

	server := newJSendServer(t, "s3cret")
	defer server.Close()
	remote := NewRemote(server.URL+"/", "s3cret")

	replies := make(chan Reply, 1)
	remote.Send(context.Background(), Message{ID: "c-9", Text: "hi", TargetLang: "fr"}, func(r Reply) { replies <- r })
	if got := receive(t, replies); got.ID != "c-9" || got.Text != "remote:hi" {
		t.Fatalf("unexpected reply: %+v", got)
	}

	items, err := remote.TranslateBatch(context.Background(), []Message{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(items) != 2 || !items[0].Translated || !items[1].Failed() {
		t.Fatalf("unexpected batch replies: %+v", items)
	}
	if err := remote.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestRemoteFailureBecomesErrorReply(t *testing.T) {
	t.Parallel()

	server := newJSendServer(t, "right")
	defer server.Close()

	replies := make(chan Reply, 1)
	NewRemote(server.URL, "wrong").Send(context.Background(), Message{ID: "z", Text: "hi"}, func(r Reply) { replies <- r })
	got := receive(t, replies)
	if got.ID != "z" || !got.Failed() || !strings.Contains(got.Error, "Unauthorized") {
		t.Fatalf("unexpected reply: %+v", got)
	}
}

func TestRemoteSkipsDeliveryAfterCancel(t *testing.T) {
	t.Parallel()

	server := newJSendServer(t, "")
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	delivered := make(chan Reply, 1)
	NewRemote(server.URL, "").Send(ctx, Message{ID: "gone"}, func(r Reply) { delivered <- r })

	select {
	case r := <-delivered:
		t.Fatalf("did not expect delivery, got %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}
