// Package cdrstore implements the append-only CDR data storer (C9,
// spec.md §4.9): a bounded ring buffer feeding a pluggable Store
// (CSV or a columnar SQLite-backed variant), written by a background
// worker goroutine.
package cdrstore

// Row is one completed-call record, matching spec.md §4.9's schema
// exactly.
type Row struct {
	SwitchyApp          string
	HangupCause         string
	CallerCreate        float64
	CallerAnswer        float64
	CallerReqOriginate  float64
	CallerOriginate     float64
	CallerHangup        float64
	JobLaunch           float64
	CalleeCreate        float64
	CalleeAnswer        float64
	CalleeHangup        float64
	FailedCalls         uint32
	ActiveSessions      uint32
	Erlangs             uint32
}

// Columns lists the Row fields in schema order, used by both Store
// implementations to keep column/header order deterministic.
func Columns() []string {
	return []string{
		"switchy_app", "hangup_cause",
		"caller_create", "caller_answer", "caller_req_originate",
		"caller_originate", "caller_hangup", "job_launch",
		"callee_create", "callee_answer", "callee_hangup",
		"failed_calls", "active_sessions", "erlangs",
	}
}
