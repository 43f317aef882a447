package controlapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sebas/switchburst/internal/clientapp"
	"github.com/sebas/switchburst/internal/esl/conn"
	"github.com/sebas/switchburst/internal/originator"
	"github.com/sebas/switchburst/internal/pool"
)

func newTestServer() *Server {
	c := conn.New(conn.Config{Host: "127.0.0.1", Port: 8021, Password: "ClueCon"})
	cl := clientapp.New(c, []string{"variable_app_id"}, "variable_call_uuid")
	p := pool.New([]*pool.Node{{Client: cl, MaxActive: 0}})

	repField := func(appID string, iteration int) clientapp.OriginateParams {
		return clientapp.OriginateParams{DestURL: "1000", Profile: "internal", Exten: "1000", DPType: "XML", DPContext: "default"}
	}
	orig := originator.New(p, repField, map[string]int{"loadgen": 1}, originator.Config{})

	return NewServer("127.0.0.1:0", orig, p)
}

func TestHandleStats_ReturnsSnapshot(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := body["originator_state"]; !ok {
		t.Fatal("expected originator_state in stats response")
	}
}

func TestHandleStart_TransitionsOriginator(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("POST", "/originator/start", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := s.orig.State().String(); got != "originating" {
		t.Fatalf("originator state = %q, want originating", got)
	}
	s.orig.Stop()
}

func TestHandleRate_RejectsWrongMethod(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/originator/rate", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != 405 {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleRate_UpdatesLiveConfig(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"rate":15,"limit":3}`)
	req := httptest.NewRequest("POST", "/originator/rate", body)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	cfg := s.orig.CurrentConfig()
	if cfg.Rate != 15 || cfg.Limit != 3 {
		t.Fatalf("unexpected config after rate update: %+v", cfg)
	}
}

func TestHandleHupall_StopsOriginator(t *testing.T) {
	s := newTestServer()
	s.orig.Start(context.Background())

	req := httptest.NewRequest("POST", "/hupall", strings.NewReader(`{"cause":"NORMAL_CLEARING"}`))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if got := s.orig.State().String(); got != "stopped" {
		t.Fatalf("originator state = %q, want stopped", got)
	}
}
