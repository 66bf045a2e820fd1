package runner

import (
	"sync"
)

// Cancellation is a one-shot cooperative cancellation token shared between
// the pause endpoint and the dispatch loop. Cancel is idempotent; once
// tripped the token never resets — resuming a batch creates a fresh token.
type Cancellation struct {
	once sync.Once
	done chan struct{}
}

func NewCancellation() *Cancellation {
	return &Cancellation{
		done: make(chan struct{}),
	}
}

// Cancel trips the token.
func (c *Cancellation) Cancel() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Cancelled reports whether the token has been tripped.
func (c *Cancellation) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done exposes the token as a channel for select-based waits.
func (c *Cancellation) Done() <-chan struct{} {
	return c.done
}
