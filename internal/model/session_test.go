package model

import (
	"context"
	"testing"
	"time"

	"github.com/sebas/switchburst/internal/esl/wire"
)

type noopCommander struct{}

func (noopCommander) Api(ctx context.Context, cmd string) (string, error) { return "+OK", nil }
func (noopCommander) SendMsg(ctx context.Context, uuid, callCommand, appName, appArg string, loops int) (string, error) {
	return "+OK", nil
}

func TestSession_RecvDeliversMatchingEvent(t *testing.T) {
	sess := NewSession("sess-1", noopCommander{})

	ev := wire.NewEvent()
	ev.Set(wire.HeaderEventName, "CHANNEL_ANSWER")

	errCh := make(chan error, 1)
	recvdCh := make(chan *wire.Event, 1)
	go func() {
		got, err := sess.Recv(context.Background(), "CHANNEL_ANSWER")
		recvdCh <- got
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond) // let Recv register its waiter
	sess.Deliver(ev)

	select {
	case got := <-recvdCh:
		if got != ev {
			t.Fatalf("Recv returned %v, want the delivered event", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv did not return in time")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Recv err = %v, want nil", err)
	}
}

func TestSession_RecvCancelledByHangup(t *testing.T) {
	// spec.md §8 boundary behavior: "A hangup arriving while a coroutine
	// is await sess.recv('CHANNEL_ANSWER') cancels the future."
	sess := NewSession("sess-2", noopCommander{})

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Recv(context.Background(), "CHANNEL_BRIDGE")
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	sess.MarkHungup(time.Now())

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Recv err = nil, want cancellation error on hangup")
		}
	case <-time.After(time.Second):
		t.Fatal("Recv did not observe hangup cancellation in time")
	}
}

func TestSession_DoneClosesOnHangup(t *testing.T) {
	sess := NewSession("sess-3", noopCommander{})

	select {
	case <-sess.Done():
		t.Fatal("Done() closed before hangup")
	default:
	}

	sess.MarkHungup(time.Now())

	select {
	case <-sess.Done():
	default:
		t.Fatal("Done() not closed after MarkHungup")
	}
}

func TestSession_DoneRaceFreeWhenAlreadyHungup(t *testing.T) {
	// A caller reading Done() after hangup must still observe it closed
	// (the originator relies on this to release its admission slot even
	// if it only starts watching after the hangup already happened).
	sess := NewSession("sess-4", noopCommander{})
	sess.MarkHungup(time.Now())

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() did not return immediately for an already-hungup session")
	}
}

func TestSession_WakeVarWaitersDeliversTruthyValue(t *testing.T) {
	sess := NewSession("sess-5", noopCommander{})

	resultCh := make(chan string, 1)
	go func() {
		v, err := sess.WaitForVar(context.Background(), "bridge_uuid")
		if err != nil {
			resultCh <- "ERROR: " + err.Error()
			return
		}
		resultCh <- v
	}()

	time.Sleep(10 * time.Millisecond)
	// SetVar alone must not wake the waiter; the dispatcher's step-8 pass
	// (WakeVarWaiters) is what releases it.
	sess.SetVar("bridge_uuid", "abc-123")
	sess.WakeVarWaiters()

	select {
	case got := <-resultCh:
		if got != "abc-123" {
			t.Fatalf("WaitForVar = %q, want %q", got, "abc-123")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForVar did not wake up in time")
	}
}

func TestSession_WakeVarWaitersIgnoresFalsyValue(t *testing.T) {
	sess := NewSession("sess-6", noopCommander{})
	sess.SetVar("flag", "") // falsy: must not satisfy a waiter
	sess.WakeVarWaiters()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sess.WaitForVar(ctx, "flag"); err == nil {
		t.Fatal("WaitForVar returned before a truthy value was ever set")
	}
}

func TestSession_UptimePrefersAnswerOverCreate(t *testing.T) {
	sess := NewSession("sess-7", noopCommander{})
	sess.Stamp("create", time.Now().Add(-time.Minute))
	sess.Stamp("answer", time.Now().Add(-time.Second))

	up := sess.Uptime()
	if up < time.Second || up > 2*time.Second {
		t.Fatalf("Uptime = %v, want ~1s (measured from answer, not create)", up)
	}
}

func TestSession_HistoryIsBoundedAndNewestFirst(t *testing.T) {
	sess := NewSession("sess-8", noopCommander{})
	for i := 0; i < historyCapacity+10; i++ {
		ev := wire.NewEvent()
		ev.Set(wire.HeaderEventName, "CALL_UPDATE")
		sess.Deliver(ev)
	}
	hist := sess.History()
	if len(hist) != historyCapacity {
		t.Fatalf("len(History()) = %d, want bounded to %d", len(hist), historyCapacity)
	}
}
