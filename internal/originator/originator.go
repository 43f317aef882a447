// Package originator implements the burst-loop auto-dialer (C8, spec.md
// §4.8): a rate- and concurrency-limited loop that originates calls
// across a pool, tracks admission against max_offered, and optionally
// schedules auto-hangup after each call answers.
package originator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sebas/switchburst/internal/clientapp"
	"github.com/sebas/switchburst/internal/logger"
	"github.com/sebas/switchburst/internal/pool"
)

const maxRateDefault = 250

// Config holds the originator's tunable properties (spec.md §4.8 table).
// All fields are read fresh on each burst iteration so a caller may
// mutate a live Config between calls to SetConfig.
type Config struct {
	Rate           int           // target offered calls/sec, default 30
	Limit          int           // max concurrent active calls, default 1
	MaxOffered     int           // 0 means unbounded
	Duration       time.Duration // 0 means never auto-hangup
	Period         time.Duration // burst loop re-entry period, default 1s
	AutoDuration   bool          // recompute Duration from Limit/Rate
	Autohangup     bool          // schedule a hangup on each answered call
	DurationOffset time.Duration // minimum duration pad, default 5s
	MaxRate        int           // clip ceiling, default 250
}

func (c Config) withDefaults() Config {
	if c.Rate <= 0 {
		c.Rate = 30
	}
	if c.Limit <= 0 {
		c.Limit = 1
	}
	if c.Period <= 0 {
		c.Period = time.Second
	}
	if c.DurationOffset <= 0 {
		c.DurationOffset = 5 * time.Second
	}
	if c.MaxRate <= 0 {
		c.MaxRate = maxRateDefault
	}
	if c.Rate > c.MaxRate {
		c.Rate = c.MaxRate
	}
	return c
}

// RepFieldsFunc supplies the per-call replacement fields for the cached
// originate template (spec.md §4.8 "a user-supplied rep_fields callable
// that supplies replacement fields").
type RepFieldsFunc func(appID string, iteration int) clientapp.OriginateParams

// Originator drives origination across a pool (spec.md §4.8).
type Originator struct {
	pool     *pool.Pool
	repField RepFieldsFunc
	weights  *WeightedAppIter

	mu  sync.Mutex
	cfg Config

	state           atomic.Int32
	totalOriginated atomic.Int64
	activeCalls     atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}

	iteration int

	log interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}
}

// New constructs a stopped Originator over p, dialing with repField and
// selecting app ids via weights. cfg is applied as by SetConfig.
func New(p *pool.Pool, repField RepFieldsFunc, weights map[string]int, cfg Config) *Originator {
	o := &Originator{
		pool:     p,
		repField: repField,
		weights:  NewWeightedAppIter(weights),
		log:      logger.For("originator"),
	}
	o.SetConfig(cfg)
	return o
}

// State returns the current lifecycle phase.
func (o *Originator) State() State { return State(o.state.Load()) }

// ActiveCalls returns the originator's own view of concurrently active
// calls, maintained independently of any one node's listener.
func (o *Originator) ActiveCalls() int64 { return o.activeCalls.Load() }

// TotalOriginated returns the cumulative admitted-origination counter
// (spec.md §4.8 "Admission counter").
func (o *Originator) TotalOriginated() int64 { return o.totalOriginated.Load() }

// SetConfig replaces the live config; if AutoDuration is set, Duration is
// recomputed from Limit/Rate (spec.md §4.8 "auto_duration").
func (o *Originator) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	o.mu.Lock()
	defer o.mu.Unlock()
	if cfg.AutoDuration {
		cfg.Duration = time.Duration(float64(cfg.Limit)/float64(cfg.Rate)*float64(time.Second)) + cfg.DurationOffset
	}
	o.cfg = cfg
}

func (o *Originator) config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// CurrentConfig returns a snapshot of the live Config, for callers (e.g.
// the control API) that need to read-modify-write a subset of fields.
func (o *Originator) CurrentConfig() Config {
	return o.config()
}

// SetWeight updates an app id's weight in the weighted round-robin
// selector (spec.md §4.8 "weights are mutable from other threads").
func (o *Originator) SetWeight(appID string, weight int) {
	o.weights.SetWeight(appID, weight)
}

// Start transitions INITIAL/STOPPED to ORIGINATING and starts the burst
// loop goroutine (spec.md §4.8 "start()").
func (o *Originator) Start(ctx context.Context) {
	if !o.state.CompareAndSwap(int32(StateInitial), int32(StateOriginating)) &&
		!o.state.CompareAndSwap(int32(StateStopped), int32(StateOriginating)) {
		return
	}
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	go o.run(ctx)
}

// Stop clears the burst gate; outstanding sessions live out their
// duration (spec.md §4.8 "stop()").
func (o *Originator) Stop() {
	if o.state.CompareAndSwap(int32(StateOriginating), int32(StateStopped)) {
		close(o.stopCh)
		<-o.doneCh
	}
}

// Hupall stops the burst loop then commands a server-side mass hangup
// across every node in the pool (spec.md §4.8 "hupall()").
func (o *Originator) Hupall(ctx context.Context, cause string) error {
	o.Stop()
	return o.pool.Evals(ctx, func(ctx context.Context, n *pool.Node) error {
		if !n.Client.Conn.Connected() {
			return nil
		}
		_, err := n.Client.Hupall(ctx, cause, "")
		return err
	})
}

// Shutdown stops the burst loop and hangs up every call, exactly as
// Hupall with NORMAL_CLEARING (spec.md §4.8 "shutdown()"). After
// Shutdown, Start may still be called again; the originator itself holds
// no OS resources beyond the stopped goroutine.
func (o *Originator) Shutdown(ctx context.Context) error {
	return o.Hupall(ctx, "NORMAL_CLEARING")
}

func (o *Originator) run(ctx context.Context) {
	defer close(o.doneCh)

	cfg := o.config()
	ticker := time.NewTicker(cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.state.Store(int32(StateStopped))
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.burst(ctx)
			// burst may have self-stopped on the max_offered gate; exit
			// rather than keep ticking a dead loop.
			if o.State() != StateOriginating {
				return
			}
			newCfg := o.config()
			if newCfg.Period != cfg.Period {
				cfg = newCfg
				ticker.Reset(cfg.Period)
			}
		}
	}
}

// burst runs one iteration of the algorithm in spec.md §4.8 "Burst
// algorithm".
func (o *Originator) burst(ctx context.Context) {
	cfg := o.config()
	next := o.pool.IterNodes()

	n := cfg.Limit - int(o.activeCalls.Load())
	if n > cfg.Rate {
		n = cfg.Rate
	}
	if n <= 0 {
		return
	}

	ibp := time.Duration(float64(time.Second) / float64(cfg.Rate) * 0.9)

	for i := 0; i < n; i++ {
		if o.State() != StateOriginating {
			return
		}
		if int(o.activeCalls.Load()) >= cfg.Limit {
			return
		}

		node, ok := next()
		if !ok {
			return
		}

		appID := o.weights.Next()
		if appID == "" {
			return
		}

		o.iteration++
		params := o.repField(appID, o.iteration)

		o.activeCalls.Add(1)
		total := o.totalOriginated.Add(1)

		_, err := node.Client.Originate(ctx, params, appID, o.makeAutoHangupCallback(ctx, node, cfg))
		if err != nil {
			o.activeCalls.Add(-1)
			o.log.Warn("originate failed", "app_id", appID, "error", err)
		}

		if cfg.MaxOffered > 0 && total >= int64(cfg.MaxOffered) {
			o.state.CompareAndSwap(int32(StateOriginating), int32(StateStopped))
			return
		}

		if ibp > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(ibp):
			}
		}
	}
}

// makeAutoHangupCallback returns the BACKGROUND_JOB success callback that
// schedules auto-hangup (spec.md §4.8 "Auto-hangup on background-job
// callback"). autohangup=false never schedules a hangup — the source's
// "remaining used before definition" bug is not reproduced here (see
// DESIGN.md Open Question decisions).
func (o *Originator) makeAutoHangupCallback(ctx context.Context, node *pool.Node, cfg Config) func(result string, err error) {
	release := func() {
		if o.activeCalls.Add(-1) < 0 {
			o.activeCalls.Store(0)
		}
	}

	return func(result string, err error) {
		if err != nil {
			// bgapi itself failed: no session was ever created, so the
			// admission slot is released immediately.
			release()
			return
		}

		sessUUID := result
		sess := node.Client.Listener.Session(sessUUID)
		if sess == nil {
			release()
			return
		}

		// The admission slot stays held for the life of the call; it is
		// only released on the session's actual CHANNEL_HANGUP, not on
		// this bgapi acknowledgement (spec.md §4.8 "limit: Max
		// concurrent active calls").
		go func() {
			defer release()
			select {
			case <-sess.Done():
			case <-ctx.Done():
			}
		}()

		if !cfg.Autohangup || cfg.Duration <= 0 {
			return
		}
		// spec.md §4.8: "skipped if call.vars[noautohangup] is set (the
		// recording app disables it)"; also honor a session-level override
		// for callers that never got linked into a Call.
		if call := sess.Call(); call != nil && call.GetVar("noautohangup") != "" {
			return
		}
		if sess.GetVar("noautohangup") != "" {
			return
		}

		remaining := cfg.Duration - sess.Uptime()
		if remaining < 0 {
			remaining = 0
		}

		go func() {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case <-time.After(remaining):
			}
			sess.Hangup(ctx, "NORMAL_CLEARING")
		}()
	}
}
