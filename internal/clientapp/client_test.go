package clientapp

import (
	"strings"
	"testing"

	"github.com/sebas/switchburst/internal/esl/conn"
)

func newTestClient() *Client {
	c := conn.New(conn.Config{Host: "127.0.0.1", Port: 8021, Password: "ClueCon"})
	return New(c, []string{"variable_app_id"}, "variable_call_uuid")
}

func TestBuildOriginateCommand_DialStringShape(t *testing.T) {
	cl := newTestClient()
	p := OriginateParams{
		DestURL: "1005",
		Profile: "internal",
		AppName: "park",
		Timeout: 30,
	}
	cmd := cl.buildOriginateCommand(p, "loadgen", "sess-uuid-1")

	if !strings.HasPrefix(cmd, "originate {") {
		t.Fatalf("expected originate command with var block, got %q", cmd)
	}
	if !strings.Contains(cmd, "sofia/internal/1005") {
		t.Fatalf("expected sofia/internal/1005 endpoint in %q", cmd)
	}
	if !strings.Contains(cmd, "&park()") {
		t.Fatalf("expected &park() app invocation in %q", cmd)
	}
	if !strings.Contains(cmd, "origination_uuid=sess-uuid-1") {
		t.Fatalf("expected origination_uuid var in %q", cmd)
	}
	if !strings.Contains(cmd, "variable_app_id=loadgen") {
		t.Fatalf("expected app id var in %q", cmd)
	}
	if !strings.Contains(cmd, "variable_call_uuid=sess-uuid-1") {
		t.Fatalf("expected call tracking var in %q", cmd)
	}
}

func TestBuildOriginateCommand_GatewayAndProxy(t *testing.T) {
	cl := newTestClient()
	p := OriginateParams{
		DestURL: "+15551234567",
		Gateway: "upstream",
		Proxy:   "10.0.0.1",
		Exten:   "1000",
		DPType:  "XML",
		DPContext: "default",
	}
	cmd := cl.buildOriginateCommand(p, "loadgen", "sess-uuid-2")

	if !strings.Contains(cmd, "sofia/gateway/upstream/+15551234567;fs_path=sip:10.0.0.1") {
		t.Fatalf("expected gateway+proxy dial string in %q", cmd)
	}
	if !strings.HasSuffix(cmd, "1000 XML default") {
		t.Fatalf("expected dialplan-exec tail in %q", cmd)
	}
}

func TestBuildOriginateCommand_XHeaderPrefixing(t *testing.T) {
	cl := newTestClient()
	p := OriginateParams{
		DestURL:  "1001",
		Profile:  "internal",
		Exten:    "1001",
		XHeaders: map[string]string{"Campaign-ID": "42", "sip_h_X-Already": "kept"},
	}
	cmd := cl.buildOriginateCommand(p, "loadgen", "sess-uuid-3")

	if !strings.Contains(cmd, "sip_h_X-Campaign-ID=42") {
		t.Fatalf("expected x-header prefixed, got %q", cmd)
	}
	if !strings.Contains(cmd, "sip_h_X-Already=kept") {
		t.Fatalf("expected already-prefixed header preserved, got %q", cmd)
	}
}
