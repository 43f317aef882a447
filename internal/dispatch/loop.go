// Package dispatch implements the per-node event loop (C3, spec.md §4.3):
// a background pump that decodes a Connection's event stream and routes
// each event through a handler, then registered callbacks, then
// independently scheduled coroutines, keyed by event name and by a
// caller-supplied application id.
package dispatch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sebas/switchburst/internal/esl/wire"
	"github.com/sebas/switchburst/internal/logger"
	"github.com/sebas/switchburst/internal/model"
)

// HandlerFunc maintains core state for one event type (spec.md §4.3
// "Handlers"). It returns whether the event was consumed, and the
// Session/Job the event pertains to (either may be nil).
type HandlerFunc func(ev *wire.Event) (consumed bool, sess *model.Session, job *model.Job)

// CallbackFunc runs synchronously, inline, after the handler.
type CallbackFunc func(ctx context.Context, sess *model.Session, job *model.Job, ev *wire.Event)

// CoroutineFunc is scheduled as an independent goroutine after callbacks.
type CoroutineFunc func(ctx context.Context, sess *model.Session, job *model.Job, ev *wire.Event)

// EventSource is the subset of Connection the loop consumes.
type EventSource interface {
	Events() <-chan *wire.Event
	Subscribe(ctx context.Context, format string, names ...string) error
}

type callbackKey struct {
	appID string
	event string
}

// Loop is one per server node: it owns no connection itself (the caller
// supplies an EventSource) but owns all dispatch-time registrations and
// state.
type Loop struct {
	src EventSource
	log interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}

	appIDHeaders []string

	mu             sync.RWMutex
	handlers       map[string]HandlerFunc
	defaultHandler HandlerFunc
	callbacks      map[callbackKey][]CallbackFunc
	coroutines     map[callbackKey][]CoroutineFunc
	unsubscribed   map[string]bool

	epoch     time.Time
	epochOnce sync.Once

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New returns a Loop reading from src. appIDHeaders is consulted in order
// to resolve which application owns an event (spec.md §4.3 "App-id
// resolution").
func New(src EventSource, appIDHeaders []string) *Loop {
	return &Loop{
		src:          src,
		log:          logger.For("dispatch"),
		appIDHeaders: append([]string(nil), appIDHeaders...),
		handlers:     make(map[string]HandlerFunc),
		callbacks:    make(map[callbackKey][]CallbackFunc),
		coroutines:   make(map[callbackKey][]CoroutineFunc),
		unsubscribed: make(map[string]bool),
	}
}

// PrependAppIDHeader inserts header at the front of the resolution order,
// so a more recently loaded app's header wins over older registrations
// (spec.md §4.6 "App loading" step 4).
func (l *Loop) PrependAppIDHeader(header string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	filtered := l.appIDHeaders[:0:0]
	for _, h := range l.appIDHeaders {
		if h != header {
			filtered = append(filtered, h)
		}
	}
	l.appIDHeaders = append([]string{header}, filtered...)
}

// SetDefaultHandler installs the fallback handler auto-assigned to any
// event-name a callback is registered for but which has no explicit
// handler (spec.md §4.3 "Registering a callback for an event-name that
// has no handler auto-installs a default ... handler"). The listener (C4)
// supplies this at construction time.
func (l *Loop) SetDefaultHandler(fn HandlerFunc) {
	l.mu.Lock()
	l.defaultHandler = fn
	l.mu.Unlock()
}

// RegisterHandler installs the single handler for eventName and subscribes
// the connection to it (spec.md §4.3 "Handlers").
func (l *Loop) RegisterHandler(ctx context.Context, eventName string, fn HandlerFunc) error {
	l.mu.Lock()
	if l.unsubscribed[eventName] {
		l.mu.Unlock()
		return errUnsubscribed(eventName)
	}
	l.handlers[eventName] = fn
	l.mu.Unlock()
	return l.subscribe(ctx, eventName)
}

// RegisterCallback appends fn to the callback list for (appID, eventName),
// auto-installing the default handler if none is registered yet
// (spec.md §4.3). prepend controls whether fn runs before existing
// callbacks for the same key.
func (l *Loop) RegisterCallback(ctx context.Context, appID, eventName string, fn CallbackFunc, prepend bool) error {
	l.mu.Lock()
	if _, ok := l.handlers[eventName]; !ok {
		if l.defaultHandler == nil {
			l.mu.Unlock()
			return errNoDefaultHandler(eventName)
		}
		l.handlers[eventName] = l.defaultHandler
	}
	key := callbackKey{appID: appID, event: eventName}
	if prepend {
		l.callbacks[key] = append([]CallbackFunc{fn}, l.callbacks[key]...)
	} else {
		l.callbacks[key] = append(l.callbacks[key], fn)
	}
	l.mu.Unlock()
	return l.subscribe(ctx, eventName)
}

// RegisterCoroutine appends fn to the coroutine list for (appID, eventName).
func (l *Loop) RegisterCoroutine(ctx context.Context, appID, eventName string, fn CoroutineFunc) error {
	l.mu.Lock()
	if _, ok := l.handlers[eventName]; !ok {
		if l.defaultHandler == nil {
			l.mu.Unlock()
			return errNoDefaultHandler(eventName)
		}
		l.handlers[eventName] = l.defaultHandler
	}
	key := callbackKey{appID: appID, event: eventName}
	l.coroutines[key] = append(l.coroutines[key], fn)
	l.mu.Unlock()
	return l.subscribe(ctx, eventName)
}

func (l *Loop) subscribe(ctx context.Context, eventName string) error {
	l.mu.RLock()
	blocked := l.unsubscribed[eventName]
	l.mu.RUnlock()
	if blocked {
		return errUnsubscribed(eventName)
	}
	format := "plain"
	name := eventName
	// CUSTOM sub-classed event names are subscribed with the CUSTOM prefix
	// (spec.md §6 "plus any CUSTOM sub-classed names").
	if isCustomSubclass(eventName) {
		return l.src.Subscribe(ctx, format, "CUSTOM", name)
	}
	return l.src.Subscribe(ctx, format, name)
}

func isCustomSubclass(name string) bool {
	for _, r := range name {
		if r == ':' {
			return true
		}
	}
	return false
}

// UnregisterApp drops every callback and coroutine registered under appID,
// reversing the registrations LoadApp performed (spec.md §4.6 "Unloading
// reverses these steps"). Handlers are shared per event name and stay.
func (l *Loop) UnregisterApp(appID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.callbacks {
		if key.appID == appID {
			delete(l.callbacks, key)
		}
	}
	for key := range l.coroutines {
		if key.appID == appID {
			delete(l.coroutines, key)
		}
	}
}

// Unsubscribe removes event names from future handler/callback
// registration. The loop must not be running (spec.md §4.3
// "Unsubscribe discipline").
func (l *Loop) Unsubscribe(names ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errLoopRunning()
	}
	for _, n := range names {
		l.unsubscribed[n] = true
		delete(l.handlers, n)
	}
	return nil
}

// Start begins consuming decoded events until ctx is cancelled or Stop is
// called.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	go l.run(ctx)
}

// Stop signals the loop to exit after its current event.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()
	<-l.doneCh
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case ev, ok := <-l.src.Events():
			if !ok {
				return
			}
			l.dispatch(ctx, ev)
		}
	}
}

// dispatch runs the full per-event pipeline (spec.md §4.3 "Dispatch
// algorithm").
func (l *Loop) dispatch(ctx context.Context, ev *wire.Event) {
	l.epochOnce.Do(func() { l.epoch = time.Now() })

	name := ev.Name() // step 2: CUSTOM substitution already applied in Event.Name()

	l.mu.RLock()
	handler := l.handlers[name]
	l.mu.RUnlock()

	if handler == nil {
		l.log.Error("no handler registered for event", "event", name)
		return
	}

	consumed, sess, job := handler(ev)

	// step 5: complete the session's per-event future and yield once.
	if sess != nil {
		sess.Deliver(ev)
		runtime.Gosched()
	}

	if !consumed {
		return
	}

	appID := l.resolveAppID(ev)
	key := callbackKey{appID: appID, event: name}

	l.mu.RLock()
	cbs := append([]CallbackFunc(nil), l.callbacks[key]...)
	coros := append([]CoroutineFunc(nil), l.coroutines[key]...)
	l.mu.RUnlock()

	for _, cb := range cbs {
		l.invokeCallback(ctx, cb, sess, job, ev)
	}

	for _, co := range coros {
		co := co
		go func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.Error("coroutine panic", "event", name, "panic", r)
				}
			}()
			co(ctx, sess, job, ev)
		}()
	}

	// step 8: wake any waitfor(var) watchers whose value became truthy
	// during handler/callback execution, strictly after coroutine
	// scheduling so the wake-up ordering is observable and stable.
	if sess != nil {
		sess.WakeVarWaiters()
	}
}

func (l *Loop) invokeCallback(ctx context.Context, cb CallbackFunc, sess *model.Session, job *model.Job, ev *wire.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("callback panic, continuing dispatch", "panic", r)
		}
	}()
	cb(ctx, sess, job, ev)
}

// resolveAppID consults appIDHeaders in order; the first non-empty value
// wins, else "default" (spec.md §4.3 "App-id resolution").
func (l *Loop) resolveAppID(ev *wire.Event) string {
	l.mu.RLock()
	headers := l.appIDHeaders
	l.mu.RUnlock()

	for _, h := range headers {
		if v := ev.Get(h); v != "" {
			return v
		}
	}
	return "default"
}

// Epoch returns the time the first event was dispatched, or the zero
// time before any event arrives.
func (l *Loop) Epoch() time.Time {
	return l.epoch
}
