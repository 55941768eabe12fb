package precache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/always-cache/precache/rfc9211"
)

// Event is a lifecycle signal handled by the agent.
type Event interface {
	Type() string
}

// InstallEvent asks the agent to fill its cache.
type InstallEvent struct{}

func (InstallEvent) Type() string { return "install" }

// FetchEvent asks the agent to respond to a request.
type FetchEvent struct {
	Request *http.Request
}

func (FetchEvent) Type() string { return "fetch" }

// Pending is the outcome of a dispatched event.
// An install resolves with a nil response once the cache is filled,
// a fetch resolves with the response for its request.
type Pending struct {
	done     chan struct{}
	response *http.Response
	status   rfc9211.CacheStatus
	err      error
}

// Done is closed when the event has been handled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the event has been handled or ctx is done.
func (p *Pending) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-p.done:
		return p.response, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CacheStatus returns how a fetch was answered. Only valid after Done is closed.
func (p *Pending) CacheStatus() rfc9211.CacheStatus {
	return p.status
}

// Dispatch handles the event in the background and returns its pending outcome.
// Events are handled independently of each other.
func (a *Agent) Dispatch(ctx context.Context, ev Event) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		switch ev := ev.(type) {
		case InstallEvent:
			p.err = a.Install(ctx)
		case FetchEvent:
			if ev.Request == nil {
				p.err = fmt.Errorf("fetch event without request")
				return
			}
			p.response, p.status, p.err = a.Respond(ev.Request.WithContext(ctx))
		default:
			p.err = fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
		}
	}()
	return p
}
