package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/sebas/switchburst/internal/esl/wire"
	"github.com/sebas/switchburst/internal/model"
)

type fakeSource struct {
	events chan *wire.Event
	subs   []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan *wire.Event, 16)}
}

func (f *fakeSource) Events() <-chan *wire.Event { return f.events }

func (f *fakeSource) Subscribe(ctx context.Context, format string, names ...string) error {
	f.subs = append(f.subs, names...)
	return nil
}

func channelCreateEvent(uuid, appID string) *wire.Event {
	ev := wire.NewEvent()
	ev.Set(wire.HeaderEventName, "CHANNEL_CREATE")
	ev.Set(wire.HeaderUniqueID, uuid)
	if appID != "" {
		ev.Set("variable_app_id", appID)
	}
	return ev
}

func TestLoop_HandlerRequiredBeforeDispatch(t *testing.T) {
	src := newFakeSource()
	l := New(src, []string{"variable_app_id"})

	ev := channelCreateEvent("u1", "")
	src.events <- ev

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l.Start(ctx)
	<-ctx.Done()
	l.Stop()
}

func TestLoop_CallbackAutoInstallsDefaultHandler(t *testing.T) {
	src := newFakeSource()
	l := New(src, []string{"variable_app_id"})

	var defaultCalls int
	l.SetDefaultHandler(func(ev *wire.Event) (bool, *model.Session, *model.Job) {
		defaultCalls++
		return true, nil, nil
	})

	called := make(chan string, 1)
	ctx := context.Background()
	err := l.RegisterCallback(ctx, "default", "CHANNEL_CREATE", func(ctx context.Context, sess *model.Session, job *model.Job, ev *wire.Event) {
		called <- ev.UniqueID()
	}, false)
	if err != nil {
		t.Fatalf("RegisterCallback: %v", err)
	}
	if len(src.subs) != 1 || src.subs[0] != "CHANNEL_CREATE" {
		t.Fatalf("expected subscribe to CHANNEL_CREATE, got %v", src.subs)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(runCtx)
	src.events <- channelCreateEvent("u2", "")

	select {
	case uuid := <-called:
		if uuid != "u2" {
			t.Fatalf("callback got uuid %q, want u2", uuid)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
	l.Stop()

	if defaultCalls != 1 {
		t.Fatalf("default handler ran %d times, want 1", defaultCalls)
	}
}

func TestLoop_AppIDResolution(t *testing.T) {
	src := newFakeSource()
	l := New(src, []string{"variable_app_id", "Job-UUID"})

	l.SetDefaultHandler(func(ev *wire.Event) (bool, *model.Session, *model.Job) {
		return true, nil, nil
	})

	gotAppID := make(chan string, 1)
	ctx := context.Background()
	if err := l.RegisterCallback(ctx, "myapp", "CHANNEL_CREATE", func(ctx context.Context, sess *model.Session, job *model.Job, ev *wire.Event) {
		gotAppID <- "myapp-callback-ran"
	}, false); err != nil {
		t.Fatalf("RegisterCallback: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(runCtx)
	src.events <- channelCreateEvent("u3", "myapp")

	select {
	case v := <-gotAppID:
		if v != "myapp-callback-ran" {
			t.Fatalf("unexpected: %s", v)
		}
	case <-time.After(time.Second):
		t.Fatal("callback for resolved app id never ran")
	}
	l.Stop()
}

func TestLoop_UnsubscribeRequiresStopped(t *testing.T) {
	src := newFakeSource()
	l := New(src, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	l.Start(runCtx)
	if err := l.Unsubscribe("CHANNEL_CREATE"); err == nil {
		t.Fatal("expected error unsubscribing while running")
	}
	cancel()
	l.Stop()

	if err := l.Unsubscribe("CHANNEL_CREATE"); err != nil {
		t.Fatalf("Unsubscribe after stop: %v", err)
	}
	if err := l.RegisterHandler(context.Background(), "CHANNEL_CREATE", func(ev *wire.Event) (bool, *model.Session, *model.Job) {
		return true, nil, nil
	}); err == nil {
		t.Fatal("expected error registering handler for unsubscribed event")
	}
}

func TestLoop_ResolveAppIDDefault(t *testing.T) {
	src := newFakeSource()
	l := New(src, []string{"variable_app_id"})
	ev := channelCreateEvent("u4", "")
	if got := l.resolveAppID(ev); got != "default" {
		t.Fatalf("resolveAppID = %q, want default", got)
	}
}
