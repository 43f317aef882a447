// Package wire implements the FreeSWITCH Event Socket Layer (ESL) framing
// grammar: header blocks terminated by a blank line, optionally carrying a
// Content-Length-delimited body, with URL-encoded header values. See
// spec.md §4.1.
package wire

import (
	"strconv"
	"time"
)

// Header names the codec and dispatcher look at directly.
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderEventName     = "Event-Name"
	HeaderEventSubclass = "Event-Subclass"
	HeaderUniqueID      = "Unique-ID"
	HeaderJobUUID       = "Job-UUID"
	HeaderReplyText     = "Reply-Text"
	HeaderEventTime     = "Event-Date-Timestamp"
	HeaderHangupCause   = "Hangup-Cause"

	bodyKey = "Body"
)

// Content-Type values that determine output routing (spec.md §4.1).
const (
	ContentAuthRequest       = "auth/request"
	ContentCommandReply      = "command/reply"
	ContentAPIResponse       = "api/response"
	ContentEventPlain        = "text/event-plain"
	ContentDisconnectNotice  = "text/disconnect-notice"
	EventNameCustom          = "CUSTOM"
	EventNameDisconnected    = "SERVER_DISCONNECTED"
)

// Event is a single decoded ESL frame: an insertion-ordered set of headers
// plus an optional body. Header lookup is by map, independent of order;
// order is retained only for logging/debugging.
type Event struct {
	keys   []string
	values map[string]string
	Body   string
}

// NewEvent returns an empty, ready-to-populate Event.
func NewEvent() *Event {
	return &Event{values: make(map[string]string)}
}

// Set stores a header value, recording first-seen order in keys.
func (e *Event) Set(key, value string) {
	if e.values == nil {
		e.values = make(map[string]string)
	}
	if _, exists := e.values[key]; !exists {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Append is used for header-continuation lines: a line with no "key: value"
// separator is appended to the most recently set header's value (or to
// Body, if no header has been set yet in this frame).
func (e *Event) Append(key, extra string) {
	if key == bodyKey {
		e.Body += extra
		return
	}
	e.Set(key, e.Get(key)+extra)
}

// Get returns a header value, or "" if absent.
func (e *Event) Get(key string) string {
	return e.values[key]
}

// Has reports whether a header is present (even with an empty value).
func (e *Event) Has(key string) bool {
	_, ok := e.values[key]
	return ok
}

// Keys returns headers in insertion order, for logging.
func (e *Event) Keys() []string {
	return append([]string(nil), e.keys...)
}

// ContentType returns the Content-Type header, the field the decoder uses
// to classify and route a frame (spec.md §4.1).
func (e *Event) ContentType() string {
	return e.Get(HeaderContentType)
}

// ContentLength returns the declared Content-Length, or 0 if absent/invalid.
func (e *Event) ContentLength() int {
	n, err := strconv.Atoi(e.Get(HeaderContentLength))
	if err != nil {
		return 0
	}
	return n
}

// Name returns the effective event name: Event-Subclass when Event-Name is
// CUSTOM, else Event-Name (spec.md §4.3 step 2, §3).
func (e *Event) Name() string {
	if e.Get(HeaderEventName) == EventNameCustom {
		if sub := e.Get(HeaderEventSubclass); sub != "" {
			return sub
		}
	}
	return e.Get(HeaderEventName)
}

// UniqueID returns the channel uuid, or "" if this event carries none.
func (e *Event) UniqueID() string {
	return e.Get(HeaderUniqueID)
}

// JobUUID returns the correlated background-job uuid, or "" if absent.
func (e *Event) JobUUID() string {
	return e.Get(HeaderJobUUID)
}

// Timestamp returns the server's Event-Date-Timestamp converted to wall
// time, dividing the microsecond value per spec.md §4.3 step 1.
func (e *Event) Timestamp() time.Time {
	raw := e.Get(HeaderEventTime)
	if raw == "" {
		return time.Time{}
	}
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(micros)
}

// FSTime returns Event-Date-Timestamp as seconds since epoch (float),
// matching spec.md §4.3 step 1's `fs_time = .../1e6`.
func (e *Event) FSTime() float64 {
	raw := e.Get(HeaderEventTime)
	if raw == "" {
		return 0
	}
	micros, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return micros / 1e6
}

// synthesizeDisconnect builds the SERVER_DISCONNECTED event delivered when
// the server sends a text/disconnect-notice frame (spec.md §4.1).
func synthesizeDisconnect() *Event {
	e := NewEvent()
	e.Set(HeaderContentType, ContentDisconnectNotice)
	e.Set(HeaderEventName, EventNameDisconnected)
	return e
}
