package conn

import (
	"sync"

	"github.com/sebas/switchburst/internal/esl/wire"
)

// future is resolved exactly once with either a decoded event or an error
// (connection torn down while still pending).
type future struct {
	ch chan *futureResult
}

type futureResult struct {
	event *wire.Event
	err   error
}

func newFuture() *future {
	return &future{ch: make(chan *futureResult, 1)}
}

func (f *future) resolve(ev *wire.Event) {
	f.ch <- &futureResult{event: ev}
}

func (f *future) fail(err error) {
	f.ch <- &futureResult{err: err}
}

// futureQueues holds the FIFO pending-reply queue per content-type
// (spec.md §4.1 "Pending-futures are kept in FIFO queues keyed by
// content-type"). The server replies in request order per connection, so
// a simple per-type queue correlates requests to replies without tagging.
type futureQueues struct {
	mu     sync.Mutex
	queues map[string][]*future
}

func newFutureQueues() *futureQueues {
	return &futureQueues{queues: make(map[string][]*future)}
}

// register must be called before the corresponding command bytes are
// written, to guarantee order-preserving correlation.
func (q *futureQueues) register(contentType string) *future {
	q.mu.Lock()
	defer q.mu.Unlock()
	f := newFuture()
	q.queues[contentType] = append(q.queues[contentType], f)
	return f
}

// deliver pops the oldest pending future for contentType and resolves it
// with ev. Reports false if no future was waiting (the event should then
// be shipped to the async event queue instead).
func (q *futureQueues) deliver(contentType string, ev *wire.Event) bool {
	q.mu.Lock()
	pending := q.queues[contentType]
	if len(pending) == 0 {
		q.mu.Unlock()
		return false
	}
	f := pending[0]
	q.queues[contentType] = pending[1:]
	q.mu.Unlock()

	f.resolve(ev)
	return true
}

// failAll fails every still-pending future across all content types, used
// when the connection tears down with commands outstanding.
func (q *futureQueues) failAll(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for ctype, pending := range q.queues {
		for _, f := range pending {
			f.fail(err)
		}
		delete(q.queues, ctype)
	}
}
