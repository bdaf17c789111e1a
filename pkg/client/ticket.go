package client

import (
	"context"
	"sync"

	"github.com/nsgo/nsapi/pkg/api"
)

// Ticket is the completion handle for a submitted request. It resolves
// exactly once, with a response or an error, when the request completes, is
// served from cache, or is cancelled.
type Ticket struct {
	once sync.Once
	done chan struct{}

	resp     *api.Response
	err      error
	cacheHit bool
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func resolvedTicket(resp *api.Response, cacheHit bool) *Ticket {
	t := newTicket()
	t.cacheHit = cacheHit
	t.resolve(resp, nil)
	return t
}

func (t *Ticket) resolve(resp *api.Response, err error) {
	t.once.Do(func() {
		t.resp = resp
		t.err = err
		close(t.done)
	})
}

// Done returns a channel that is closed when the ticket has resolved.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the ticket resolves or ctx is done. The request itself
// is not cancelled when ctx expires; the result simply goes unobserved.
func (t *Ticket) Wait(ctx context.Context) (*api.Response, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CacheHit reports whether the ticket was resolved from the cache without a
// dispatch.
func (t *Ticket) CacheHit() bool {
	select {
	case <-t.done:
		return t.cacheHit
	default:
		return false
	}
}
