package clientapp

import (
	"context"

	"github.com/sebas/switchburst/internal/dispatch"
)

// Kind identifies which registration pipeline a RegEntry belongs to
// (spec.md §9 "explicit application-descriptor values").
type Kind int

const (
	KindHandler Kind = iota
	KindCallback
	KindCoroutine
)

// RegEntry binds one event name to one of an App's functions. Exactly one
// of Handler/Callback/Coroutine is set, matching Kind.
type RegEntry struct {
	EventName string
	Kind      Kind
	Handler   dispatch.HandlerFunc
	Callback  dispatch.CallbackFunc
	Coroutine dispatch.CoroutineFunc
}

// Deps is the funcargs map an App's PrePost can read dependency values
// from by name (spec.md §4.6 "injecting declared dependency names by
// looking them up in a funcargs map").
type Deps map[string]any

// App is an explicit, non-reflective application descriptor (spec.md §9:
// "an application provides a typed registration record listing
// (event_name, kind, function) tuples ... no reflection is required").
type App struct {
	// AppIDHeader names the channel variable this app uses to mark
	// sessions as its own (spec.md §4.6 step 4).
	AppIDHeader string
	Entries     []RegEntry
	// PrePost runs to setup on load and is invoked again with teardown=true
	// on unload (spec.md §9 "prepost as setup/teardown").
	PrePost func(ctx context.Context, deps Deps, teardown bool) error
}
