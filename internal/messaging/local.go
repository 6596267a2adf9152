package messaging

import (
	"context"

	"horse.fit/glint/internal/scheduler"
)

// Translator is the part of the scheduler Local needs.
type Translator interface {
	Enqueue(ctx context.Context, req scheduler.Request) *scheduler.Handle
	InterruptAll()
}

// Local talks to a scheduler in the same process.
type Local struct {
	translator Translator
}

func NewLocal(translator Translator) *Local {
	return &Local{translator: translator}
}

func (l *Local) Send(ctx context.Context, msg Message, deliver func(Reply)) {
	handle := l.translator.Enqueue(ctx, msg.Request())
	go func() {
		select {
		case <-handle.Done():
			if ctx.Err() != nil {
				return
			}
			deliver(ReplyFromResult(msg.ID, handle.Wait(context.Background())))
		case <-ctx.Done():
		}
	}()
}

func (l *Local) Interrupt(context.Context) {
	l.translator.InterruptAll()
}
