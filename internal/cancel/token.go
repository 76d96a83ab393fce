package cancel

import (
	"context"
	"sync"

	"github.com/stageflow/stageflow/internal/ports"
)

// Token is a one-shot cooperative cancellation signal. The first reason
// recorded wins; later Cancel calls are ignored. Callbacks registered after
// cancellation run synchronously.
type Token struct {
	mu        sync.Mutex
	canceled  bool
	reason    string
	callbacks []func(reason string)
	done      chan struct{}
	logger    ports.Logger
}

// NewToken creates an uncancelled token. The logger is used to report
// callback panics and may be nil.
func NewToken(logger ports.Logger) *Token {
	return &Token{done: make(chan struct{}), logger: logger}
}

// Cancel records the reason and runs registered callbacks. Only the first
// call has any effect.
func (t *Token) Cancel(reason string) {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		return
	}
	t.canceled = true
	t.reason = reason
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, cb := range callbacks {
		t.invoke(cb, reason)
	}
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Reason returns the first recorded cancellation reason, or empty.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done returns a channel closed once the token is canceled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// OnCancel registers a callback to run when the token cancels. If the token
// is already canceled the callback runs immediately on the calling
// goroutine. Panics raised by callbacks are suppressed and logged.
func (t *Token) OnCancel(cb func(reason string)) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	if !t.canceled {
		t.callbacks = append(t.callbacks, cb)
		t.mu.Unlock()
		return
	}
	reason := t.reason
	t.mu.Unlock()

	t.invoke(cb, reason)
}

func (t *Token) invoke(cb func(reason string), reason string) {
	defer func() {
		if r := recover(); r != nil && t.logger != nil {
			t.logger.Warn(context.Background(), "cancellation callback panicked", "panic", r)
		}
	}()
	cb(reason)
}
