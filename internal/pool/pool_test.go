package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/sebas/switchburst/internal/clientapp"
	"github.com/sebas/switchburst/internal/esl/conn"
)

func newTestNode(maxActive int) *Node {
	c := conn.New(conn.Config{Host: "127.0.0.1", Port: 8021, Password: "ClueCon"})
	cl := clientapp.New(c, []string{"variable_app_id"}, "variable_call_uuid")
	return &Node{Client: cl, MaxActive: maxActive}
}

func TestPool_FastCountSumsAcrossNodes(t *testing.T) {
	p := New([]*Node{newTestNode(0), newTestNode(0)})
	if got := p.FastCount(); got != 0 {
		t.Fatalf("FastCount = %d, want 0 on empty listeners", got)
	}
}

func TestPool_IterNodesCyclesThroughAllNodes(t *testing.T) {
	a := newTestNode(0)
	b := newTestNode(0)
	p := New([]*Node{a, b})

	next := p.IterNodes()
	seen := map[*Node]int{}
	for i := 0; i < 10; i++ {
		n, ok := next()
		if !ok {
			t.Fatal("expected a node, pool is non-empty")
		}
		seen[n]++
	}
	if len(seen) != 2 {
		t.Fatalf("expected both nodes to be visited, got %d distinct nodes", len(seen))
	}
}

func TestPool_IterNodesEmptyPool(t *testing.T) {
	p := New(nil)
	next := p.IterNodes()
	if _, ok := next(); ok {
		t.Fatal("expected no node from an empty pool")
	}
}

func TestPool_EvalsRunsAllAndReturnsFirstError(t *testing.T) {
	p := New([]*Node{newTestNode(0), newTestNode(0), newTestNode(0)})

	var ran atomic.Int32
	err := p.Evals(context.Background(), func(ctx context.Context, n *Node) error {
		ran.Add(1)
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected an error from Evals")
	}
	if ran.Load() != 3 {
		t.Fatalf("expected all 3 nodes to run, got %d", ran.Load())
	}
}
