// Package mock provides a test double for the classifier.Provider interface.
//
// Use Provider in unit tests to verify the prompts the pipeline sends and to
// feed controlled responses without a live model backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &classifier.Response{Content: `{"speaker_identification": {}}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/interactlab/dyadscribe/pkg/classifier"
)

var _ classifier.Provider = (*Provider)(nil)

// Completion is one scripted reply for a queued Complete call.
type Completion struct {
	// Response is returned by Complete when Err is nil.
	Response *classifier.Response

	// Err, if non-nil, is returned instead of Response.
	Err error
}

// Call records a single invocation of Complete.
type Call struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context

	// Req is the Request passed to Complete.
	Req classifier.Request
}

// Provider is a mock implementation of classifier.Provider.
//
// Queue entries are consumed in order, one per Complete call; once the queue
// is exhausted the fallback Response/Err pair is used for every further call.
type Provider struct {
	mu sync.Mutex

	// Queue is the ordered list of scripted replies.
	Queue []Completion

	// Response is the fallback reply once Queue is exhausted. May be nil.
	Response *classifier.Response

	// Err is the fallback error once Queue is exhausted.
	Err error

	// Calls records every invocation of Complete in order.
	Calls []Call
}

// Complete implements classifier.Provider.
func (p *Provider) Complete(ctx context.Context, req classifier.Request) (*classifier.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})

	if len(p.Queue) > 0 {
		next := p.Queue[0]
		p.Queue = p.Queue[1:]
		return next.Response, next.Err
	}
	return p.Response, p.Err
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
