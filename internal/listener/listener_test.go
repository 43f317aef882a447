package listener

import (
	"context"
	"testing"
	"time"

	"github.com/sebas/switchburst/internal/esl/wire"
	"github.com/sebas/switchburst/internal/model"
)

type fakeCommander struct{}

func (fakeCommander) Api(ctx context.Context, cmd string) (string, error) { return "+OK", nil }
func (fakeCommander) SendMsg(ctx context.Context, uuid, callCommand, appName, appArg string, loops int) (string, error) {
	return "+OK", nil
}

func newTestListener() *Listener {
	return New(Config{}, fakeCommander{})
}

func createEvent(uuid, callUUID, appID string) *wire.Event {
	ev := wire.NewEvent()
	ev.Set(wire.HeaderEventName, "CHANNEL_CREATE")
	ev.Set(wire.HeaderUniqueID, uuid)
	if callUUID != "" {
		ev.Set("variable_call_uuid", callUUID)
	}
	if appID != "" {
		ev.Set("variable_app_id", appID)
	}
	return ev
}

func hangupEvent(uuid, cause string) *wire.Event {
	ev := wire.NewEvent()
	ev.Set(wire.HeaderEventName, "CHANNEL_HANGUP")
	ev.Set(wire.HeaderUniqueID, uuid)
	ev.Set(wire.HeaderHangupCause, cause)
	return ev
}

func TestListener_CreateIdempotentAcrossEventTypes(t *testing.T) {
	l := newTestListener()

	ev1 := createEvent("u1", "call1", "appA")
	_, sess1, _ := l.handleChannelCreateOrOriginate(ev1)
	if sess1 == nil {
		t.Fatal("expected session")
	}

	ev2 := wire.NewEvent()
	ev2.Set(wire.HeaderEventName, "CHANNEL_ORIGINATE")
	ev2.Set(wire.HeaderUniqueID, "u1")
	ev2.Set("variable_call_uuid", "call1")
	_, sess2, _ := l.handleChannelCreateOrOriginate(ev2)

	if sess1 != sess2 {
		t.Fatal("expected the same Session across CHANNEL_CREATE and CHANNEL_ORIGINATE")
	}
	if l.SessionsPerApp()["appA"] != 1 {
		t.Fatalf("sessions_per_app = %v, want 1 bump only", l.SessionsPerApp())
	}
	if l.Call("call1") == nil {
		t.Fatal("expected call1 to be tracked")
	}
}

func TestListener_HangupRemovesSessionAndEmptyCall(t *testing.T) {
	l := newTestListener()
	l.handleChannelCreateOrOriginate(createEvent("u2", "call2", "appA"))

	if l.Session("u2") == nil {
		t.Fatal("expected session tracked before hangup")
	}

	l.handleChannelHangup(hangupEvent("u2", "NORMAL_CLEARING"))

	if l.Session("u2") != nil {
		t.Fatal("expected session removed after hangup")
	}
	if l.Call("call2") != nil {
		t.Fatal("expected empty call dropped after last member hangup")
	}
	if l.HangupCauses()["NORMAL_CLEARING"] != 1 {
		t.Fatalf("hangup_causes = %v", l.HangupCauses())
	}
}

func TestListener_CountFailed(t *testing.T) {
	l := newTestListener()
	l.handleChannelCreateOrOriginate(createEvent("u3", "call3", "appA"))
	l.handleChannelHangup(hangupEvent("u3", "NORMAL_CLEARING"))

	l.handleChannelCreateOrOriginate(createEvent("u4", "call4", "appA"))
	l.handleChannelHangup(hangupEvent("u4", "CALL_REJECTED"))

	if got := l.CountFailed(); got != 1 {
		t.Fatalf("CountFailed = %d, want 1", got)
	}
	if deque := l.FailedSessions("CALL_REJECTED"); len(deque) != 1 || deque[0] != "u4" {
		t.Fatalf("FailedSessions(CALL_REJECTED) = %v", deque)
	}
}

func TestListener_BackgroundJobSuccessAssociatesSession(t *testing.T) {
	l := newTestListener()
	l.handleChannelCreateOrOriginate(createEvent("u5", "call5", "appA"))

	job := model.NewJob("job1", nil)
	l.BlockJobs()
	l.RegisterJob(job)
	l.UnblockJobs()

	ev := wire.NewEvent()
	ev.Set(wire.HeaderEventName, "BACKGROUND_JOB")
	ev.Set(wire.HeaderJobUUID, "job1")
	ev.Body = "+OK u5"

	_, sess, gotJob := l.handleBackgroundJob(ev)
	if sess == nil || sess.UUID != "u5" {
		t.Fatalf("expected BACKGROUND_JOB to associate session u5, got %v", sess)
	}
	if gotJob != job {
		t.Fatal("expected the same job back")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := job.Result(ctx)
	if err != nil || result != "u5" {
		t.Fatalf("job.Result = %q, %v, want the originated session uuid", result, err)
	}
	if l.Job("job1") != nil {
		t.Fatal("expected job removed from bg_jobs after resolution")
	}
}

func TestListener_BackgroundJobFailureDropsSession(t *testing.T) {
	l := newTestListener()
	l.handleChannelCreateOrOriginate(createEvent("u6", "call6", "appA"))

	job := model.NewJob("job2", nil)
	job.SessUUID = "u6"
	l.RegisterJob(job)

	ev := wire.NewEvent()
	ev.Set(wire.HeaderEventName, "BACKGROUND_JOB")
	ev.Set(wire.HeaderJobUUID, "job2")
	ev.Body = "-ERR destination unreachable"

	l.handleBackgroundJob(ev)

	if l.Session("u6") != nil {
		t.Fatal("expected session dropped on job failure")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := job.Result(ctx); err == nil {
		t.Fatal("expected job to resolve with an error")
	}
}
