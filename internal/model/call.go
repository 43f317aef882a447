package model

import "sync"

// Call is an ordered grouping of one or more bridged Sessions, associated
// by the call-tracking header (spec.md §3 "Call").
type Call struct {
	UUID string

	mu       sync.Mutex
	sessions []*Session
	first    *Session
	last     *Session
	vars     map[string]string
}

// NewCall constructs an empty Call for the given call-tracking uuid.
func NewCall(uuid string) *Call {
	return &Call{UUID: uuid, vars: make(map[string]string)}
}

// SetVar sets a call-scoped variable (spec.md §4.8 "skipped if
// call.vars[noautohangup] is set (the recording app disables it)").
func (c *Call) SetVar(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vars == nil {
		c.vars = make(map[string]string)
	}
	c.vars[name] = value
}

// GetVar reads a call-scoped variable, or "" if unset.
func (c *Call) GetVar(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vars[name]
}

// AddSession appends sess to the Call, recording it as First if this is
// the Call's first member, and always updating Last (spec.md §3
// "first/last references track the originating and final-leg sessions").
func (c *Call) AddSession(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.sessions {
		if existing.UUID == sess.UUID {
			return
		}
	}
	c.sessions = append(c.sessions, sess)
	if c.first == nil {
		c.first = sess
	}
	c.last = sess
}

// RemoveSession removes sess by uuid and reports whether the Call is now
// empty (the listener destroys empty Calls, spec.md §3).
func (c *Call) RemoveSession(uuid string) (empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.sessions {
		if existing.UUID == uuid {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	if c.first != nil && c.first.UUID == uuid {
		c.first = nil
	}
	if c.last != nil && c.last.UUID == uuid {
		c.last = nil
	}
	return len(c.sessions) == 0
}

// Sessions returns a snapshot of member sessions in insertion order.
func (c *Call) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}

func (c *Call) First() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first
}

func (c *Call) Last() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Contains reports whether uuid is currently a member of the Call.
func (c *Call) Contains(uuid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s.UUID == uuid {
			return true
		}
	}
	return false
}
