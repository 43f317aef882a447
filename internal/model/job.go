package model

import (
	"context"
	"sync"
	"time"

	"github.com/sebas/switchburst/internal/eslerr"
)

// Job is a background-API request future (spec.md §3 "Job"): created when
// a bgapi command is acknowledged, resolved exactly once when the
// correlated BACKGROUND_JOB event arrives (or on hangup failure).
type Job struct {
	UUID       string
	SessUUID   string
	LaunchTime time.Time
	Callback   func(result string, err error)

	mu       sync.Mutex
	done     chan struct{}
	result   string
	err      error
	resolved bool
}

// NewJob constructs a pending Job. callback, if non-nil, runs exactly
// once when the job resolves, after the job is marked done, so Result()
// waiters may unblock before the callback has run (spec.md §4.4 "invoke
// job.callback(body)").
func NewJob(uuid string, callback func(result string, err error)) *Job {
	return &Job{
		UUID:       uuid,
		LaunchTime: time.Now(),
		Callback:   callback,
		done:       make(chan struct{}),
	}
}

// Succeed resolves the job with a success value. A second call is a
// silent no-op (spec.md §8 invariant 4: "No Job is ever completed twice").
func (j *Job) Succeed(result string) {
	j.mu.Lock()
	if j.resolved {
		j.mu.Unlock()
		return
	}
	j.resolved = true
	j.result = result
	close(j.done)
	cb := j.Callback
	j.mu.Unlock()

	if cb != nil {
		cb(result, nil)
	}
}

// Fail resolves the job with a failure. See Succeed for idempotence.
func (j *Job) Fail(err error) {
	j.mu.Lock()
	if j.resolved {
		j.mu.Unlock()
		return
	}
	j.resolved = true
	j.err = err
	close(j.done)
	cb := j.Callback
	j.mu.Unlock()

	if cb != nil {
		cb("", err)
	}
}

// Result blocks until the job resolves or ctx ends, and is idempotent:
// calling it again after resolution returns the same cached outcome
// (spec.md §8 invariant 4 "job.result is idempotent").
func (j *Job) Result(ctx context.Context) (string, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		if j.err != nil {
			return "", &eslerr.JobError{JobUUID: j.UUID, Reason: j.err.Error()}
		}
		return j.result, nil
	case <-ctx.Done():
		return "", &eslerr.TimeoutError{Op: "job " + j.UUID}
	}
}

// Done reports whether the job has resolved, without blocking.
func (j *Job) Done() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}
