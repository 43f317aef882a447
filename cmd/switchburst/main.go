// Command switchburst wires the core packages into a running burst-load
// generator: it dials every configured FreeSWITCH node, loads the CDR
// recording application on each, starts the originator, and serves the
// operator control API until interrupted. Grounded on the teacher's
// cmd/signaling/main.go (config.Load -> logger init -> banner -> build ->
// run -> signal-driven shutdown).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sebas/switchburst/internal/banner"
	"github.com/sebas/switchburst/internal/cdrstore"
	"github.com/sebas/switchburst/internal/clientapp"
	"github.com/sebas/switchburst/internal/config"
	"github.com/sebas/switchburst/internal/controlapi"
	"github.com/sebas/switchburst/internal/esl/conn"
	"github.com/sebas/switchburst/internal/logger"
	"github.com/sebas/switchburst/internal/originator"
	"github.com/sebas/switchburst/internal/pool"
)

// loadgenAppID tags every originator-driven call and is the id the CDR
// app is loaded under. The two must agree: the dispatcher resolves an
// event's app id from the originate vars and uses it as the callback
// lookup key, so a CDR app loaded under any other id would never see the
// burst traffic's CHANNEL_HANGUP events.
const loadgenAppID = "switchburst"

func main() {
	cfg := config.Load()
	logger.Init(os.Stdout, cfg.LogLevel)
	log := logger.For("main")

	printBanner(cfg)

	if len(cfg.Nodes) == 0 {
		log.Error("no ESL nodes configured; set -nodes or SWITCHBURST_NODES")
		os.Exit(1)
	}

	store, err := buildCDRStore(cfg)
	if err != nil {
		log.Error("failed to open CDR store", "error", err)
		os.Exit(1)
	}
	ring := cdrstore.NewRing(cfg.CDRBufSize, store)

	p, err := buildPool(cfg, ring)
	if err != nil {
		log.Error("failed to build node pool", "error", err)
		os.Exit(1)
	}

	orig := originator.New(p, repFields, map[string]int{loadgenAppID: 1}, originator.Config{
		Rate:           cfg.Rate,
		Limit:          cfg.Limit,
		MaxOffered:     cfg.MaxOffered,
		Period:         cfg.Period,
		AutoDuration:   true,
		Autohangup:     cfg.Autohangup,
		DurationOffset: cfg.DurationOffset,
	})

	ctrl := controlapi.NewServer(cfg.ControlAddr, orig, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ring.Run(ctx)

	if err := connectAll(ctx, p); err != nil {
		log.Error("failed to connect node pool", "error", err)
		os.Exit(1)
	}

	ctrl.Start(ctx)
	orig.Start(ctx)

	log.Info("switchburst running", "nodes", len(cfg.Nodes), "control_addr", cfg.ControlAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := orig.Shutdown(shutdownCtx); err != nil {
		log.Warn("originator shutdown reported an error", "error", err)
	}
	_ = ctrl.Stop(shutdownCtx)
	ring.Stop()
	cancel()

	for _, n := range p.Nodes() {
		n.Client.Disconnect()
	}
}

func printBanner(cfg *config.Config) {
	banner.Print("switchburst", []banner.ConfigLine{
		{Label: "nodes", Value: strconv.Itoa(len(cfg.Nodes))},
		{Label: "rate", Value: strconv.Itoa(cfg.Rate)},
		{Label: "limit", Value: strconv.Itoa(cfg.Limit)},
		{Label: "max_offered", Value: strconv.Itoa(cfg.MaxOffered)},
		{Label: "autohangup", Value: strconv.FormatBool(cfg.Autohangup)},
		{Label: "cdr_backend", Value: cfg.CDRBackend},
		{Label: "control_addr", Value: cfg.ControlAddr},
	})
}

func buildCDRStore(cfg *config.Config) (cdrstore.Store, error) {
	var store cdrstore.Store
	switch cfg.CDRBackend {
	case "sqlite":
		store = cdrstore.NewSQLiteStore()
	default:
		store = cdrstore.NewCSVStore()
	}
	if err := store.Open(cfg.CDRPath, "append"); err != nil {
		return nil, fmt.Errorf("open cdr store %q: %w", cfg.CDRPath, err)
	}
	return store, nil
}

// buildPool dials no connections yet (that happens in connectAll); it
// constructs one Client per configured node, each with its own
// connection, dispatch loop, and listener, and attaches the CDR app as
// Client.CDRApp for connectAll to load.
func buildPool(cfg *config.Config, ring *cdrstore.Ring) (*pool.Pool, error) {
	nodes := make([]*pool.Node, 0, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		c := conn.New(conn.Config{
			Host:           nc.Host,
			Port:           nc.Port,
			Password:       nc.Password,
			Autorecon:      cfg.Autorecon,
			ReconnectDelay: cfg.ReconnectDelay,
		})

		cl := clientapp.New(c, cfg.AppIDHeaders, cfg.CallTrackingHeader)
		appIDHeader := "variable_app_id"
		if len(cfg.AppIDHeaders) > 0 {
			appIDHeader = cfg.AppIDHeaders[0]
		}
		cl.CDRApp = cdrstore.NewApp(appIDHeader, ring, cl.Listener)

		nodes = append(nodes, &pool.Node{Client: cl, MaxActive: nc.MaxActive})
	}
	return pool.New(nodes), nil
}

// connectAll dials and loads the CDR app on every node in the pool.
func connectAll(ctx context.Context, p *pool.Pool) error {
	return p.Evals(ctx, func(ctx context.Context, n *pool.Node) error {
		if err := n.Client.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", n.Client.Conn.Addr(), err)
		}
		if n.Client.CDRApp != nil {
			if err := n.Client.LoadApp(ctx, loadgenAppID, n.Client.CDRApp, nil); err != nil {
				return fmt.Errorf("load cdr app: %w", err)
			}
		}
		return nil
	})
}

// repFields supplies the per-call replacement fields for the cached
// originate template (spec.md §4.8). It dials a fixed development loopback
// target; operators wire their own dial plan by supplying a different
// originator.RepFieldsFunc when embedding the originator package directly.
func repFields(appID string, iteration int) clientapp.OriginateParams {
	return clientapp.OriginateParams{
		DestURL:    "9196",
		Endpoint:   "sofia",
		Profile:    "internal",
		AppName:    "park",
		Exten:      "9196",
		DPType:     "XML",
		DPContext:  "default",
		Timeout:    60,
		CallerName: "switchburst",
		CallerNum:  "5555550100",
		Codec:      "PCMU",
	}
}
