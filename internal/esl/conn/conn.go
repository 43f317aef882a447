// Package conn implements a single ESL connection: the auth handshake,
// api/bgapi/sendmsg/event/exit command issuance, and the reconnect policy
// (spec.md §4.2).
package conn

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sebas/switchburst/internal/eslerr"
	"github.com/sebas/switchburst/internal/esl/wire"
	"github.com/sebas/switchburst/internal/logger"
)

// State is the connection lifecycle phase (spec.md §4.2).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Config configures one Connection.
type Config struct {
	Host     string
	Port     int
	Password string

	// ConnectTimeout, AuthTimeout bound the handshake (spec.md §5: "0.5-3s").
	ConnectTimeout time.Duration
	AuthTimeout    time.Duration

	// NoErrCheck disables scanning api/bgapi reply bodies for "-ERR"
	// (spec.md §4.2 "Error checking" is enabled by default).
	NoErrCheck bool

	// Autorecon: false disables reconnect; true means retry indefinitely;
	// a positive int bounds the retry count (spec.md §4.2 "Reconnect").
	Autorecon      any
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 3 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	return c
}

// Connection is a single TCP link to one FreeSWITCH node.
type Connection struct {
	cfg Config
	log interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}

	state atomic.Int32

	// mu guards the per-dial transport state; each successful Dial installs
	// a fresh conn and decoder so the Connection can be re-dialed after a
	// transport loss (the reconnect policy depends on this).
	mu      sync.Mutex
	conn    net.Conn
	decoder *wire.Decoder

	writeMu sync.Mutex

	futures *futureQueues

	events chan *wire.Event

	authenticated atomic.Bool
	subMu         sync.Mutex
	subscribed    map[string]bool
	lastSubs      []string

	onDisconnect func()
	closing      atomic.Bool
}

// New returns a Connection that has not yet dialed.
func New(cfg Config) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		cfg:        cfg,
		log:        logger.For("esl.conn"),
		futures:    newFutureQueues(),
		events:     make(chan *wire.Event, 256),
		subscribed: make(map[string]bool),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// OnDisconnect registers a callback invoked after the transport drops,
// used by clientapp.Client.Connect to start the reconnect policy.
func (c *Connection) OnDisconnect(fn func()) { c.onDisconnect = fn }

// Addr returns the configured "host:port" for logging.
func (c *Connection) Addr() string {
	return fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
}

// State returns the current lifecycle phase.
func (c *Connection) State() State { return State(c.state.Load()) }

// Connected reports whether the transport is open (spec.md §4.1
// InboundProtocol.connected()).
func (c *Connection) Connected() bool { return c.State() != StateDisconnected }

// Authenticated reports whether the auth handshake has completed.
func (c *Connection) Authenticated() bool { return c.authenticated.Load() }

// AutoreconEnabled reports whether the configured reconnect policy allows
// any retry at all (spec.md §4.2 "Reconnect": false disables, true means
// indefinite, a positive int bounds the retry count).
func (c *Connection) AutoreconEnabled() bool {
	switch v := c.cfg.Autorecon.(type) {
	case bool:
		return v
	case int:
		return v > 0
	}
	return false
}

// Events returns the channel of decoded async events (everything not
// claimed by a pending command future): the event loop (C3) reads from
// this channel.
func (c *Connection) Events() <-chan *wire.Event { return c.events }

// Dial opens the TCP connection and performs the auth handshake
// (spec.md §4.2 "Handshake").
func (c *Connection) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "dial", Err: fmt.Errorf("already connected")}
	}
	c.state.Store(int32(StateConnecting))
	c.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "dial", Err: err}
	}

	dec := wire.NewDecoder()
	c.mu.Lock()
	c.conn = nc
	c.decoder = dec
	c.mu.Unlock()

	authFut := c.futures.register(wire.ContentAuthRequest)
	replyFut := c.futures.register(wire.ContentCommandReply)

	go c.readLoop(nc, dec)

	c.state.Store(int32(StateAuthenticating))

	authCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()
	select {
	case <-authCtx.Done():
		c.teardown(nc, authCtx.Err())
		return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "auth/request", Err: authCtx.Err()}
	case res := <-authFut.ch:
		if res.err != nil {
			c.teardown(nc, res.err)
			return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "auth/request", Err: res.err}
		}
	}

	if err := c.write("auth " + c.cfg.Password + "\n\n"); err != nil {
		c.teardown(nc, err)
		return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "auth", Err: err}
	}

	select {
	case <-authCtx.Done():
		c.teardown(nc, authCtx.Err())
		return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "auth", Err: authCtx.Err()}
	case res := <-replyFut.ch:
		if res.err != nil {
			c.teardown(nc, res.err)
			return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "auth", Err: res.err}
		}
		if res.event.Get(wire.HeaderReplyText) != "+OK accepted" {
			err := fmt.Errorf("auth rejected: %s", res.event.Get(wire.HeaderReplyText))
			c.teardown(nc, err)
			return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "auth", Err: err}
		}
	}

	c.authenticated.Store(true)
	c.state.Store(int32(StateReady))
	c.log.Info("authenticated", "host", c.cfg.Host, "port", c.cfg.Port)
	return nil
}

func (c *Connection) write(s string) error {
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil {
		return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "write", Err: fmt.Errorf("not connected")}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := nc.Write([]byte(s))
	return err
}

// readLoop pumps one transport's bytes through its decoder. nc and dec are
// pinned per dial so a stale loop from a previous connection can never feed
// or tear down its successor.
func (c *Connection) readLoop(nc net.Conn, dec *wire.Decoder) {
	buf := make([]byte, 32*1024)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			events, decErr := dec.Feed(buf[:n])
			for _, ev := range events {
				c.route(ev)
			}
			if decErr != nil {
				c.log.Error("framing violation, closing connection", "error", decErr)
				c.teardown(nc, decErr)
				return
			}
		}
		if err != nil {
			c.teardown(nc, err)
			return
		}
	}
}

func (c *Connection) route(ev *wire.Event) {
	ctype := ev.ContentType()
	switch ctype {
	case wire.ContentAuthRequest, wire.ContentCommandReply, wire.ContentAPIResponse:
		if c.futures.deliver(ctype, ev) {
			return
		}
		c.log.Warn("no pending future for reply", "content_type", ctype)
	default:
		select {
		case c.events <- ev:
		default:
			c.log.Warn("event queue full, dropping event", "name", ev.Name())
		}
	}
}

// teardown dismantles one dial's transport. It is a no-op unless nc is
// still the current connection, so a stale readLoop racing a reconnect
// cannot tear down the replacement link. The subscription set is moved to
// lastSubs so the reconnect policy can re-issue it after reauth.
func (c *Connection) teardown(nc net.Conn, cause error) {
	if nc == nil {
		return
	}
	c.mu.Lock()
	if c.conn != nc {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.decoder = nil
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	c.authenticated.Store(false)
	_ = nc.Close()
	c.futures.failAll(cause)

	c.subMu.Lock()
	if len(c.subscribed) > 0 {
		c.lastSubs = make([]string, 0, len(c.subscribed))
		for n := range c.subscribed {
			c.lastSubs = append(c.lastSubs, n)
		}
		c.subscribed = make(map[string]bool)
	}
	c.subMu.Unlock()

	if fn := c.onDisconnect; fn != nil && !c.closing.Load() {
		fn()
	}
}

// Close tears down the transport deliberately (not a transport failure),
// so no reconnect is triggered.
func (c *Connection) Close() {
	c.closing.Store(true)
	defer c.closing.Store(false)
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	c.teardown(nc, fmt.Errorf("closed by caller"))
}

// Api issues a blocking `api <cmd>` command and returns its response body
// (spec.md §4.2 "Commands"). A body beginning with "-ERR" becomes an
// APIError unless Config.NoErrCheck is set.
func (c *Connection) Api(ctx context.Context, cmd string) (string, error) {
	fut := c.futures.register(wire.ContentAPIResponse)
	if err := c.write("api " + cmd + "\n\n"); err != nil {
		return "", &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "api", Err: err}
	}
	res, err := c.await(ctx, fut, "api "+cmd)
	if err != nil {
		return "", err
	}
	if !c.cfg.NoErrCheck && strings.HasPrefix(res.Body, "-ERR") {
		return res.Body, &eslerr.APIError{Command: cmd, Reason: strings.TrimPrefix(res.Body, "-ERR ")}
	}
	return res.Body, nil
}

// Bgapi issues a non-blocking `bgapi <cmd>` and returns the Job-UUID the
// server assigns; the result arrives later as a BACKGROUND_JOB event
// (spec.md §4.2).
func (c *Connection) Bgapi(ctx context.Context, cmd string) (string, error) {
	fut := c.futures.register(wire.ContentCommandReply)
	if err := c.write("bgapi " + cmd + "\n\n"); err != nil {
		return "", &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "bgapi", Err: err}
	}
	res, err := c.await(ctx, fut, "bgapi "+cmd)
	if err != nil {
		return "", err
	}
	jobUUID := res.Get(wire.HeaderJobUUID)
	if jobUUID == "" {
		return "", &eslerr.APIError{Command: cmd, Reason: res.Get(wire.HeaderReplyText)}
	}
	return jobUUID, nil
}

// SendMsg issues a sendmsg application-execution packet against a
// specific channel (spec.md §4.2 "sendmsg").
func (c *Connection) SendMsg(ctx context.Context, uuid, callCommand, appName, appArg string, loops int) (string, error) {
	if loops <= 0 {
		loops = 1
	}
	packet := fmt.Sprintf("sendmsg %s\ncall-command: %s\nexecute-app-name: %s\nexecute-app-arg: %s\nloops: %d\n\n",
		uuid, callCommand, appName, appArg, loops)
	fut := c.futures.register(wire.ContentCommandReply)
	if err := c.write(packet); err != nil {
		return "", &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "sendmsg", Err: err}
	}
	res, err := c.await(ctx, fut, "sendmsg "+callCommand)
	if err != nil {
		return "", err
	}
	if !c.cfg.NoErrCheck && strings.HasPrefix(res.Get(wire.HeaderReplyText), "-ERR") {
		return "", &eslerr.APIError{Command: "sendmsg " + callCommand, Reason: res.Get(wire.HeaderReplyText)}
	}
	return res.Get(wire.HeaderReplyText), nil
}

// Subscribe issues `event <format> <names...>` (spec.md §4.2 "event").
// The format is usually "plain"; a name prefixed CUSTOM subscribes to
// subclassed events.
func (c *Connection) Subscribe(ctx context.Context, format string, names ...string) error {
	c.subMu.Lock()
	fresh := names[:0:0]
	for _, n := range names {
		if !c.subscribed[n] {
			fresh = append(fresh, n)
		}
	}
	c.subMu.Unlock()
	if len(fresh) == 0 {
		return nil
	}

	fut := c.futures.register(wire.ContentCommandReply)
	cmd := "event " + format + " " + strings.Join(fresh, " ")
	if err := c.write(cmd + "\n\n"); err != nil {
		return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "event", Err: err}
	}
	if _, err := c.await(ctx, fut, cmd); err != nil {
		return err
	}

	c.subMu.Lock()
	for _, n := range fresh {
		c.subscribed[n] = true
	}
	c.subMu.Unlock()
	return nil
}

// Subscriptions returns the currently subscribed event names, used to
// re-issue subscriptions after a reconnect (spec.md §4.2 "Reconnect").
func (c *Connection) Subscriptions() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]string, 0, len(c.subscribed))
	for n := range c.subscribed {
		out = append(out, n)
	}
	return out
}

// Exit issues a graceful `exit` (spec.md §4.2 "exit").
func (c *Connection) Exit(ctx context.Context) error {
	fut := c.futures.register(wire.ContentCommandReply)
	if err := c.write("exit\n\n"); err != nil {
		return &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: "exit", Err: err}
	}
	res, err := c.await(ctx, fut, "exit")
	if err != nil {
		return err
	}
	if res.Get(wire.HeaderReplyText) != "+OK bye" {
		return &eslerr.APIError{Command: "exit", Reason: res.Get(wire.HeaderReplyText)}
	}
	return nil
}

func (c *Connection) await(ctx context.Context, fut *future, op string) (*wire.Event, error) {
	select {
	case <-ctx.Done():
		return nil, &eslerr.TimeoutError{Op: op}
	case res := <-fut.ch:
		if res.err != nil {
			return nil, &eslerr.ConnectionError{Host: c.cfg.Host, Port: c.cfg.Port, Op: op, Err: res.err}
		}
		return res.event, nil
	}
}
