// Package messaging carries container text from a page job to a scheduler and
// results back, keyed by the container id.
package messaging

import (
	"context"
	"errors"

	"horse.fit/glint/internal/scheduler"
)

// Message asks for one container's tagged text to be translated.
type Message struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang"`
	Engine     string `json:"engine,omitempty"`
}

// Reply is the answer to a Message with the same ID.
type Reply struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Translated bool     `json:"translated"`
	Cached     bool     `json:"cached,omitempty"`
	Engine     string   `json:"engine,omitempty"`
	Error      string   `json:"error,omitempty"`
	Canceled   bool     `json:"canceled,omitempty"`
	Log        []string `json:"log,omitempty"`
}

// Failed reports whether the reply carries a non-cancellation failure.
func (r Reply) Failed() bool {
	return r.Error != "" && !r.Canceled
}

// Messenger delivers replies asynchronously. deliver is not called once ctx
// is done, which is how a job that went away is left alone.
type Messenger interface {
	Send(ctx context.Context, msg Message, deliver func(Reply))
	Interrupt(ctx context.Context)
}

// Request converts msg for the scheduler.
func (m Message) Request() scheduler.Request {
	return scheduler.Request{
		Text:       m.Text,
		SourceLang: m.SourceLang,
		TargetLang: m.TargetLang,
		Engine:     m.Engine,
	}
}

// ReplyFromResult converts a settled scheduler result.
func ReplyFromResult(id string, res scheduler.Result) Reply {
	reply := Reply{
		ID:         id,
		Text:       res.Text,
		Translated: res.Translated,
		Cached:     res.Cached,
		Engine:     res.Engine,
		Log:        res.Log,
	}
	if res.Err != nil {
		reply.Error = res.Err.Error()
		reply.Canceled = errors.Is(res.Err, scheduler.ErrCanceled)
	}
	return reply
}
