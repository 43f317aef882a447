package cdrstore

import (
	"context"
	"time"

	"github.com/sebas/switchburst/internal/clientapp"
	"github.com/sebas/switchburst/internal/esl/wire"
	"github.com/sebas/switchburst/internal/listener"
	"github.com/sebas/switchburst/internal/model"
)

// NewApp returns a clientapp.App that records one Row per hung-up session
// into ring (spec.md §4.9). It is loaded like any other application via
// Client.LoadApp — no special casing.
//
// A Session's own direction decides which half of the schema it fills:
// inbound sessions (the leg FreeSWITCH created on CHANNEL_CREATE) populate
// the caller_* columns, outbound/originated sessions (CHANNEL_ORIGINATE)
// populate the callee_* columns. Bridged two-leg calls therefore surface
// as two rows, one per leg, rather than one merged row — spec.md §4.9
// doesn't specify how bridged legs are reconciled into a single row, and
// by the time the second leg's CHANNEL_HANGUP fires the Call bookkeeping
// has already dropped cross-leg pointers for any already-removed leg
// (model.Call.RemoveSession clears First/Last on removal), so per-leg
// rows are what's actually recoverable from listener state at hangup
// time.
func NewApp(appIDHeader string, ring *Ring, lst *listener.Listener) *clientapp.App {
	return &clientapp.App{
		AppIDHeader: appIDHeader,
		Entries: []clientapp.RegEntry{
			{
				EventName: "CHANNEL_HANGUP",
				Kind:      clientapp.KindCallback,
				Callback:  recordHangupFunc(ring, lst),
			},
		},
	}
}

func recordHangupFunc(ring *Ring, lst *listener.Listener) func(ctx context.Context, sess *model.Session, job *model.Job, ev *wire.Event) {
	return func(ctx context.Context, sess *model.Session, job *model.Job, ev *wire.Event) {
		if sess == nil {
			return
		}

		row := Row{
			SwitchyApp:     sess.AppName,
			HangupCause:    ev.Get(wire.HeaderHangupCause),
			FailedCalls:    uint32(lst.CountFailed()),
			ActiveSessions: uint32(len(lst.Sessions())),
			Erlangs:        uint32(lst.ActiveCallCount()),
		}
		if row.HangupCause == "" {
			row.HangupCause = "UNKNOWN"
		}

		switch sess.Direction() {
		case model.DirectionOutbound:
			row.CalleeCreate = epoch(sess.Time("originate"))
			row.CalleeAnswer = epoch(sess.Time("answer"))
			row.CalleeHangup = epoch(sess.Time("hangup"))
		default:
			row.CallerCreate = epoch(sess.Time("create"))
			row.CallerAnswer = epoch(sess.Time("answer"))
			row.CallerReqOriginate = epoch(sess.Time("req_originate"))
			row.CallerOriginate = epoch(sess.Time("originate"))
			row.CallerHangup = epoch(sess.Time("hangup"))
			row.JobLaunch = epoch(sess.Time("job_launch"))
		}

		ring.Enqueue(row)
	}
}

func epoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
