package cdrstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebas/switchburst/internal/esl/wire"
	"github.com/sebas/switchburst/internal/listener"
	"github.com/sebas/switchburst/internal/model"
)

func sampleFrame() []Row {
	return []Row{
		{SwitchyApp: "loadgen", HangupCause: "NORMAL_CLEARING", CallerCreate: 1, CallerAnswer: 2, FailedCalls: 0, ActiveSessions: 3, Erlangs: 1},
		{SwitchyApp: "loadgen", HangupCause: "CALL_REJECTED", CallerCreate: 3, CallerAnswer: 0, FailedCalls: 1, ActiveSessions: 2, Erlangs: 1},
	}
}

func TestCSVStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cdr.csv")

	s := NewCSVStore()
	if err := s.Open(path, "truncate"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(sampleFrame()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	read := NewCSVStore()
	if err := read.Open(path, "append"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rows, err := read.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].SwitchyApp != "loadgen" || rows[1].HangupCause != "CALL_REJECTED" {
		t.Fatalf("unexpected round-tripped rows: %+v", rows)
	}
}

func TestCSVStore_HeaderWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cdr.csv")

	s := NewCSVStore()
	if err := s.Open(path, "truncate"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(sampleFrame()[:1]); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	s.Close()

	s2 := NewCSVStore()
	if err := s2.Open(path, "append"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s2.headerWritten {
		t.Fatal("expected header to be detected as already written on reopen")
	}
	if err := s2.Put(sampleFrame()[1:]); err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	s2.Close()

	final := NewCSVStore()
	final.path = path
	got, err := final.Read()
	if err != nil {
		t.Fatalf("final Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows across two Put calls, want 2 (one header)", len(got))
	}
}

func TestCSVStore_MultiWriteMultiRead(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStore()
	items := map[string][]Row{
		"loadgen":    sampleFrame(),
		"loadgen_op": sampleFrame()[:1],
	}
	if err := s.MultiWrite(dir, items); err != nil {
		t.Fatalf("MultiWrite: %v", err)
	}
	got, err := s.MultiRead(dir)
	if err != nil {
		t.Fatalf("MultiRead: %v", err)
	}
	if len(got["loadgen"]) != 2 || len(got["loadgen_op"]) != 1 {
		t.Fatalf("unexpected multiread result: %+v", got)
	}
}

// blockingStore lets the test observe exactly when a flush happens.
type blockingStore struct {
	puts [][]Row
}

func (b *blockingStore) Open(string, string) error               { return nil }
func (b *blockingStore) Put(frame []Row) error                   { b.puts = append(b.puts, frame); return nil }
func (b *blockingStore) Read() ([]Row, error)                    { return nil, nil }
func (b *blockingStore) MultiWrite(string, map[string][]Row) error { return nil }
func (b *blockingStore) MultiRead(string) (map[string][]Row, error) { return nil, nil }
func (b *blockingStore) Close() error                             { return nil }

func TestRing_FlushesOnWrap(t *testing.T) {
	store := &blockingStore{}
	r := NewRing(2, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Enqueue(Row{SwitchyApp: "a"})
	r.Enqueue(Row{SwitchyApp: "b"}) // wraps the 2-row buffer, should flush

	// give the writer goroutine a chance to process both sends
	deadline := time.After(time.Second)
	for len(store.puts) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ring to flush on wrap")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if len(store.puts) != 1 || len(store.puts[0]) != 2 {
		t.Fatalf("expected one flushed frame of 2 rows, got %+v", store.puts)
	}

	cancel()
	<-done
}

func TestRing_StopFlushesPartialBuffer(t *testing.T) {
	store := &blockingStore{}
	r := NewRing(4, store)

	ctx := context.Background()
	go r.Run(ctx)

	r.Enqueue(Row{SwitchyApp: "only-one"})
	r.Stop()

	if len(store.puts) != 1 || len(store.puts[0]) != 1 {
		t.Fatalf("expected one partial flush of 1 row, got %+v", store.puts)
	}
}

type fakeCommander struct{}

func (fakeCommander) Api(ctx context.Context, cmd string) (string, error) { return "+OK", nil }
func (fakeCommander) SendMsg(ctx context.Context, uuid, callCommand, appName, appArg string, loops int) (string, error) {
	return "+OK", nil
}

func hangupEvent(uuid, cause string) *wire.Event {
	ev := wire.NewEvent()
	ev.Set(wire.HeaderEventName, "CHANNEL_HANGUP")
	ev.Set(wire.HeaderUniqueID, uuid)
	ev.Set(wire.HeaderHangupCause, cause)
	return ev
}

func TestCDRApp_RecordsRowOnHangup(t *testing.T) {
	lst := listener.New(listener.Config{}, fakeCommander{})
	store := &blockingStore{}
	ring := NewRing(1, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ring.Run(ctx)

	sess := model.NewSession("sess-1", fakeCommander{})
	sess.SetDirection(model.DirectionInbound)
	sess.Stamp("create", time.Now())
	sess.MarkAnswered(time.Now())
	lst.RegisterJob(model.NewJob("unused", nil)) // an unrelated job; does not affect the row

	record := recordHangupFunc(ring, lst)
	record(context.Background(), sess, nil, hangupEvent("sess-1", "NORMAL_CLEARING"))

	deadline := time.After(time.Second)
	for len(store.puts) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for cdr row to flush")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	row := store.puts[0][0]
	if row.HangupCause != "NORMAL_CLEARING" {
		t.Fatalf("HangupCause = %q, want NORMAL_CLEARING", row.HangupCause)
	}
	if row.CallerCreate == 0 {
		t.Fatal("expected CallerCreate to be populated for an inbound session")
	}
	if row.CalleeCreate != 0 {
		t.Fatal("expected CalleeCreate to stay zero for an inbound session")
	}
}

func TestCDRApp_NilSessionIsNoOp(t *testing.T) {
	lst := listener.New(listener.Config{}, fakeCommander{})
	store := &blockingStore{}
	ring := NewRing(1, store)
	record := recordHangupFunc(ring, lst)
	record(context.Background(), nil, nil, hangupEvent("unknown", "NORMAL_CLEARING"))
	if len(store.puts) != 0 {
		t.Fatalf("expected no row recorded for a nil session, got %+v", store.puts)
	}
}
