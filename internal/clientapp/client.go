// Package clientapp implements the Client facade (C6, spec.md §4.6): a
// Connection plus a Listener, app loading, originate(), and hupall().
package clientapp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sebas/switchburst/internal/dispatch"
	"github.com/sebas/switchburst/internal/esl/conn"
	"github.com/sebas/switchburst/internal/listener"
	"github.com/sebas/switchburst/internal/logger"
	"github.com/sebas/switchburst/internal/model"
)

// OriginateParams composes the `originate` command template (spec.md §6
// "Originate command construction").
type OriginateParams struct {
	DestURL    string
	Endpoint   string // e.g. "sofia"; default "sofia"
	Profile    string
	Gateway    string
	Proxy      string
	AppName    string
	AppArgs    string
	Exten      string
	DPType     string
	DPContext  string
	Timeout    int // originate_timeout seconds, default 60
	CallerName string
	CallerNum  string
	Codec      string
	XHeaders   map[string]string
	Vars       map[string]string
}

// Client combines a transmit Connection, its Loop, and its Listener
// (spec.md §4.6).
type Client struct {
	Conn     *conn.Connection
	Loop     *dispatch.Loop
	Listener *listener.Listener

	// CDRApp, when set, is loaded automatically by cmd/switchburst after
	// Connect succeeds. It is a plain field rather than an argument to
	// New so embedding callers can leave it nil and load their own set
	// of applications instead.
	CDRApp *App

	appIDHeader     string
	callTrackingHdr string

	mu   sync.Mutex
	apps map[string]*loadedApp
	log  interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}
}

type loadedApp struct {
	appID string
	app   *App
}

// New wires a Connection to its Loop and Listener. callTrackingHeader is
// the channel variable grouping sessions into a Call (spec.md §6, default
// "variable_call_uuid").
func New(c *conn.Connection, appIDHeaders []string, callTrackingHeader string) *Client {
	if callTrackingHeader == "" {
		callTrackingHeader = "variable_call_uuid"
	}
	loop := dispatch.New(c, appIDHeaders)
	lst := listener.New(listener.Config{
		CallTrackingHeader: callTrackingHeader,
		AppIDHeaders:       appIDHeaders,
	}, c)

	appIDHeader := "variable_app_id"
	if len(appIDHeaders) > 0 {
		appIDHeader = appIDHeaders[0]
	}

	return &Client{
		Conn:            c,
		Loop:            loop,
		Listener:        lst,
		appIDHeader:     appIDHeader,
		callTrackingHdr: callTrackingHeader,
		apps:            make(map[string]*loadedApp),
		log:             logger.For("clientapp"),
	}
}

// Connect dials the node and installs the listener's default handlers
// before starting the dispatch loop (spec.md §4.2, §4.4). When the
// connection's reconnect policy is enabled, a transport loss triggers a
// background Reconnect that re-issues the previous event subscriptions
// after reauth.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Conn.Dial(ctx); err != nil {
		return err
	}
	if err := c.Listener.Install(ctx, c.Loop); err != nil {
		return err
	}
	if c.Conn.AutoreconEnabled() {
		c.Conn.OnDisconnect(func() {
			go func() {
				err := c.Conn.Reconnect(ctx, func(names []string) {
					if serr := c.Conn.Subscribe(ctx, "plain", names...); serr != nil {
						c.log.Warn("resubscribe after reconnect failed", "error", serr)
					}
				})
				if err != nil {
					c.log.Error("reconnect failed", "addr", c.Conn.Addr(), "error", err)
				}
			}()
		})
	}
	c.Loop.Start(ctx)
	return nil
}

// Disconnect stops the loop and closes the connection.
func (c *Client) Disconnect() {
	c.Loop.Stop()
	c.Conn.Close()
}

// LoadApp instantiates app under appID: runs PrePost to setup, registers
// each declared entry on the loop, and prepends the app's AppIDHeader to
// the loop's app-id-header resolution order so it wins (spec.md §4.6
// "App loading").
func (c *Client) LoadApp(ctx context.Context, appID string, app *App, deps Deps) error {
	c.mu.Lock()
	if _, exists := c.apps[appID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("clientapp: app %q already loaded", appID)
	}
	c.apps[appID] = &loadedApp{appID: appID, app: app}
	c.mu.Unlock()

	if app.PrePost != nil {
		if err := app.PrePost(ctx, deps, false); err != nil {
			return fmt.Errorf("clientapp: prepost setup for %q: %w", appID, err)
		}
	}

	for _, entry := range app.Entries {
		if err := c.registerEntry(ctx, appID, entry); err != nil {
			return err
		}
	}

	if app.AppIDHeader != "" {
		c.Loop.PrependAppIDHeader(app.AppIDHeader)
	}
	return nil
}

func (c *Client) registerEntry(ctx context.Context, appID string, entry RegEntry) error {
	switch entry.Kind {
	case KindHandler:
		return c.Loop.RegisterHandler(ctx, entry.EventName, entry.Handler)
	case KindCallback:
		return c.Loop.RegisterCallback(ctx, appID, entry.EventName, entry.Callback, false)
	case KindCoroutine:
		return c.Loop.RegisterCoroutine(ctx, appID, entry.EventName, entry.Coroutine)
	default:
		return fmt.Errorf("clientapp: unknown registration kind for event %q", entry.EventName)
	}
}

// UnloadApp reverses LoadApp: resumes PrePost past its setup point for
// teardown (spec.md §4.6 "Unloading reverses these steps").
func (c *Client) UnloadApp(ctx context.Context, appID string, deps Deps) error {
	c.mu.Lock()
	loaded, ok := c.apps[appID]
	if ok {
		delete(c.apps, appID)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("clientapp: app %q not loaded", appID)
	}
	c.Loop.UnregisterApp(appID)
	if loaded.app.PrePost != nil {
		return loaded.app.PrePost(ctx, deps, true)
	}
	return nil
}

// Originate composes and issues an `originate` command (spec.md §4.6,
// §6). It returns a Job registered under the listener's job-registration
// gate so the BACKGROUND_JOB handler cannot race the insertion.
func (c *Client) Originate(ctx context.Context, p OriginateParams, appID string, callback func(string, error)) (*model.Job, error) {
	sessUUID := uuid.NewString()
	cmd := c.buildOriginateCommand(p, appID, sessUUID)

	job := model.NewJob(sessUUID, callback)
	c.Listener.BlockJobs()
	jobUUID, err := c.Conn.Bgapi(ctx, cmd)
	if err != nil {
		c.Listener.UnblockJobs()
		return nil, err
	}
	job.UUID = jobUUID
	job.SessUUID = sessUUID
	c.Listener.RegisterJob(job)
	c.Listener.UnblockJobs()

	return job, nil
}

func (c *Client) buildOriginateCommand(p OriginateParams, appID, sessUUID string) string {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = "sofia"
	}
	target := endpoint + "/" + p.Profile
	if p.Gateway != "" {
		target = endpoint + "/gateway/" + p.Gateway
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 60
	}

	vars := map[string]string{
		"origination_uuid":               sessUUID,
		"originate_timeout":              fmt.Sprintf("%d", timeout),
		"origination_caller_id_name":     p.CallerName,
		"origination_caller_id_number":   p.CallerNum,
		"originator_codec":               p.Codec,
		"absolute_codec_string":          p.Codec,
		"ignore_display_updates":         "true",
		"ignore_early_media":             "true",
		c.appIDHeader:                    appID,
		c.callTrackingHdr:                sessUUID,
	}
	for k, v := range p.Vars {
		vars[k] = v
	}
	for k, v := range p.XHeaders {
		key := k
		if !strings.HasPrefix(key, "sip_h_X-") {
			key = "sip_h_X-" + key
		}
		vars[key] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+vars[k])
	}
	varBlock := "{" + strings.Join(parts, ",") + "}"

	dial := varBlock + target + "/" + p.DestURL
	if p.Proxy != "" {
		dial += ";fs_path=sip:" + p.Proxy
	}

	if p.AppName != "" {
		return fmt.Sprintf("originate %s &%s(%s)", dial, p.AppName, p.AppArgs)
	}
	return fmt.Sprintf("originate %s %s %s %s", dial, p.Exten, p.DPType, p.DPContext)
}

// Hupall issues a server-side mass hangup, filtered by app id when appID
// is non-empty (spec.md §4.6 "hupall(app_id?)").
func (c *Client) Hupall(ctx context.Context, cause, appID string) (string, error) {
	if cause == "" {
		cause = "NORMAL_CLEARING"
	}
	if appID == "" {
		return c.Conn.Api(ctx, "hupall "+cause)
	}
	return c.Conn.Api(ctx, fmt.Sprintf("hupall %s %s %s", cause, c.appIDHeader, appID))
}
