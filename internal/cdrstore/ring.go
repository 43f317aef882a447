// ring.go implements the single-producer/single-consumer ring writer
// (spec.md §4.9 "Architecture", §9 "Ring buffer on shared memory": a
// faithful rewrite substitutes a bounded channel and fixed-capacity ring
// for the source's shared-memory ring; multi-process isolation is not a
// core requirement).
package cdrstore

import (
	"context"
	"time"

	"github.com/sebas/switchburst/internal/logger"
)

// latencyGuard is the enqueue-latency warning threshold (spec.md §4.9
// "Latency guard").
const latencyGuard = 5 * time.Millisecond

// queueItem carries one row, or, with sentinel set (and a nil row), the
// signal for the writer to flush and exit (spec.md §4.9 "Termination").
type queueItem struct {
	row      *Row
	sentinel bool
}

// Ring is the background writer: it reads rows from a queue, buffers
// them, and flushes full buffers to a Store with fsync semantics left to
// the Store implementation.
type Ring struct {
	bufSize int
	store   Store

	queue chan queueItem
	buf   []Row
	ri    int

	snapshot []Row // most recent full buffer, for best-effort reads

	doneCh chan struct{}
	log    interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}
}

// NewRing constructs a Ring of bufSize rows writing to store.
func NewRing(bufSize int, store Store) *Ring {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &Ring{
		bufSize: bufSize,
		store:   store,
		queue:   make(chan queueItem, bufSize),
		buf:     make([]Row, bufSize),
		doneCh:  make(chan struct{}),
		log:     logger.For("cdrstore"),
	}
}

// Enqueue submits a row for writing, warning if the send blocks past the
// latency guard (spec.md §4.9 "Latency guard").
func (r *Ring) Enqueue(row Row) {
	start := time.Now()
	r.queue <- queueItem{row: &row}
	if elapsed := time.Since(start); elapsed > latencyGuard {
		r.log.Warn("cdr enqueue exceeded latency guard", "elapsed", elapsed)
	}
}

// Stop submits the termination sentinel, flushing any partial buffer and
// causing Run to exit (spec.md §4.9 "Termination").
func (r *Ring) Stop() {
	r.queue <- queueItem{sentinel: true}
	<-r.doneCh
}

// Run drives the writer until Stop is called or ctx ends. It should be
// started in its own goroutine.
func (r *Ring) Run(ctx context.Context) {
	defer close(r.doneCh)
	for {
		select {
		case <-ctx.Done():
			r.flushPartial()
			return
		case item := <-r.queue:
			if item.sentinel {
				r.flushPartial()
				return
			}
			r.write(*item.row)
		}
	}
}

func (r *Ring) write(row Row) {
	r.buf[r.ri%r.bufSize] = row
	r.ri++
	if r.ri%r.bufSize == 0 && r.ri > 0 {
		r.flushFull()
	}
}

func (r *Ring) flushFull() {
	frame := append([]Row(nil), r.buf...)
	if err := r.store.Put(frame); err != nil {
		r.log.Error("cdr ring flush failed", "error", err)
		return
	}
	r.snapshot = frame
}

func (r *Ring) flushPartial() {
	n := r.ri % r.bufSize
	if n == 0 {
		return
	}
	frame := append([]Row(nil), r.buf[:n]...)
	if err := r.store.Put(frame); err != nil {
		r.log.Error("cdr ring partial flush failed", "error", err)
		return
	}
	r.snapshot = frame
}

// Snapshot returns the most recently flushed buffer contents, a
// best-effort read-only view (spec.md §5 "the ring itself is read-only
// from the operator side").
func (r *Ring) Snapshot() []Row {
	return append([]Row(nil), r.snapshot...)
}
