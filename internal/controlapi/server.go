// Package controlapi exposes a small HTTP/JSON control surface over the
// originator and node pool, grounded structurally on the teacher's
// services/signaling/api/server.go (net/http, bespoke ServeMux routing,
// JSON responses, a startTime-derived uptime field) — re-purposed here
// for originator start/stop/rate control and a stats snapshot instead of
// SIP registration/dialog introspection.
package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sebas/switchburst/internal/logger"
	"github.com/sebas/switchburst/internal/originator"
	"github.com/sebas/switchburst/internal/pool"
)

// Server is the operator-facing control surface (supplements spec.md's
// distilled scope: every original_source CLI — switchy/cli.py,
// bin/auto_originator.py — assumes some operator control exists).
type Server struct {
	addr       string
	httpServer *http.Server
	orig       *originator.Originator
	pool       *pool.Pool
	startTime  time.Time
	baseCtx    context.Context
	log        interface {
		Info(string, ...any)
		Error(string, ...any)
	}
}

// NewServer builds a Server bound to addr, controlling orig and reading
// stats from p's nodes.
func NewServer(addr string, orig *originator.Originator, p *pool.Pool) *Server {
	s := &Server{
		addr:      addr,
		orig:      orig,
		pool:      p,
		startTime: time.Now(),
		log:       logger.For("controlapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/originator/start", s.handleStart)
	mux.HandleFunc("/originator/stop", s.handleStop)
	mux.HandleFunc("/originator/rate", s.handleRate)
	mux.HandleFunc("/hupall", s.handleHupall)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in a background goroutine. ctx is the process
// lifetime context handed to any originator start triggered over the API;
// the short-lived per-request context would kill the burst loop as soon as
// the response was written.
func (s *Server) Start(ctx context.Context) {
	s.baseCtx = ctx
	s.log.Info("starting control API", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("control API server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode control API response", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hangupCauses := map[string]int{}
	activeSessions := 0
	totalAnswered := 0
	for _, n := range s.pool.Nodes() {
		lst := n.Client.Listener
		for cause, count := range lst.HangupCauses() {
			hangupCauses[cause] += count
		}
		activeSessions += lst.ActiveCallCount()
		totalAnswered += lst.TotalAnsweredSessions()
	}

	s.writeJSON(w, map[string]any{
		"uptime_seconds":          int64(time.Since(s.startTime).Seconds()),
		"originator_state":        s.orig.State().String(),
		"active_calls":            s.orig.ActiveCalls(),
		"total_originated":        s.orig.TotalOriginated(),
		"active_sessions":         activeSessions,
		"total_answered_sessions": totalAnswered,
		"hangup_causes":           hangupCauses,
		"fast_count":              s.pool.FastCount(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.orig.Start(ctx)
	s.writeJSON(w, map[string]any{"state": s.orig.State().String()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.orig.Stop()
	s.writeJSON(w, map[string]any{"state": s.orig.State().String()})
}

// rateRequest mutates the live originator Config (spec.md §4.8's rate/
// limit/duration are all read fresh per burst iteration, so this takes
// effect on the very next tick).
type rateRequest struct {
	Rate       *int `json:"rate,omitempty"`
	Limit      *int `json:"limit,omitempty"`
	MaxOffered *int `json:"max_offered,omitempty"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg := s.orig.CurrentConfig()
	if req.Rate != nil {
		cfg.Rate = *req.Rate
	}
	if req.Limit != nil {
		cfg.Limit = *req.Limit
	}
	if req.MaxOffered != nil {
		cfg.MaxOffered = *req.MaxOffered
	}
	s.orig.SetConfig(cfg)

	s.writeJSON(w, map[string]any{"rate": cfg.Rate, "limit": cfg.Limit, "max_offered": cfg.MaxOffered})
}

type hupallRequest struct {
	Cause string `json:"cause"`
}

func (s *Server) handleHupall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req hupallRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // absent/empty body means default cause

	if err := s.orig.Hupall(r.Context(), req.Cause); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{"status": "ok"})
}
