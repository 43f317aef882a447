// Package pool implements the slave pool (C7, spec.md §4.7): a container
// over N (Client, Listener) node pairs with admission-filtered iteration,
// concurrent fanout, and an active-call tally.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/switchburst/internal/clientapp"
)

// Node is one pool member: a connected Client plus the per-node active
// call ceiling used by admission filtering.
type Node struct {
	Client     *clientapp.Client
	MaxActive  int // 0 means unbounded
}

// Pool holds the configured set of nodes (spec.md §4.7). Grounded on the
// teacher's services/signaling/transport/pool.go round-robin member
// selector, generalized from gRPC-transport members to ESL Clients and
// from health-check-driven selection to active-call admission filtering.
type Pool struct {
	mu        sync.RWMutex
	nodes     []*Node
	nextIndex atomic.Uint64
}

// New returns a Pool over the given nodes.
func New(nodes []*Node) *Pool {
	return &Pool{nodes: append([]*Node(nil), nodes...)}
}

// Nodes returns a snapshot of the pool's members.
func (p *Pool) Nodes() []*Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Node(nil), p.nodes...)
}

// admits reports whether n currently has headroom for another call.
func admits(n *Node) bool {
	if n.MaxActive <= 0 {
		return true
	}
	return n.Client.Listener.ActiveCallCount() < n.MaxActive
}

// IterNodes returns an infinite, interleaved sequence function: each call
// to the returned func advances to the next admissible node, cycling
// through the pool. It never blocks: it returns false when the pool has
// no nodes or every node is at its ceiling. Skips any node currently at
// its MaxActive ceiling
// (spec.md §4.7 "skipping nodes whose active-call count exceeds a
// per-node max").
func (p *Pool) IterNodes() func() (*Node, bool) {
	return func() (*Node, bool) {
		p.mu.RLock()
		nodes := p.nodes
		p.mu.RUnlock()
		if len(nodes) == 0 {
			return nil, false
		}
		for i := 0; i < len(nodes); i++ {
			idx := p.nextIndex.Add(1) % uint64(len(nodes))
			n := nodes[idx]
			if admits(n) {
				return n, true
			}
		}
		return nil, false
	}
}

// Evals runs fn concurrently against every node and waits for all of them
// (spec.md §4.7 "evals(expr, **kwargs)"), realized here as an explicit
// method-fanout interface rather than string evaluation per the spec's
// own suggested approach. The first error is returned; all nodes still
// run regardless of earlier failures.
func (p *Pool) Evals(ctx context.Context, fn func(ctx context.Context, n *Node) error) error {
	p.mu.RLock()
	nodes := append([]*Node(nil), p.nodes...)
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			return fn(gctx, n)
		})
	}
	return g.Wait()
}

// FastCount sums active call counts across every node (spec.md §4.7
// "fast_count").
func (p *Pool) FastCount() int {
	p.mu.RLock()
	nodes := p.nodes
	p.mu.RUnlock()
	total := 0
	for _, n := range nodes {
		total += n.Client.Listener.ActiveCallCount()
	}
	return total
}
