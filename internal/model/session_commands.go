package model

import (
	"context"
	"fmt"
	"strings"
)

// Answer, Hangup, and Park emit channel-lifecycle commands (spec.md §4.5).

func (s *Session) Answer(ctx context.Context) (string, error) {
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "answer", "", 1)
}

func (s *Session) Hangup(ctx context.Context, cause string) (string, error) {
	if cause == "" {
		cause = "NORMAL_CLEARING"
	}
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "hangup", cause, 1)
}

func (s *Session) Park(ctx context.Context) (string, error) {
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "park", "", 1)
}

// SetVarRemote pushes a channel variable to the server (the Session's own
// SetVar only updates local bookkeeping; this also tells
// FreeSWITCH about it, per spec.md §4.5 "setvar").
func (s *Session) SetVarRemote(ctx context.Context, name, value string) (string, error) {
	s.SetVar(name, value)
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "uuid_setvar", fmt.Sprintf("%s %s %s", s.UUID, name, value), 1)
}

func (s *Session) SetVarsRemote(ctx context.Context, vars map[string]string) error {
	for name, value := range vars {
		if _, err := s.SetVarRemote(ctx, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) UnsetVarRemote(ctx context.Context, name string) (string, error) {
	s.UnsetVar(name)
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "uuid_setvar", fmt.Sprintf("%s %s", s.UUID, name), 1)
}

// Playback plays a file; endless switches to the "endless_playback" app
// name so the file loops until explicitly broken (spec.md §4.5).
func (s *Session) Playback(ctx context.Context, args string, endless bool) (string, error) {
	app := "playback"
	if endless {
		app = "endless_playback"
	}
	return s.cmd.SendMsg(ctx, s.UUID, "execute", app, args, 1)
}

func (s *Session) StartRecord(ctx context.Context, path string) (string, error) {
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "record_session", path, 1)
}

func (s *Session) StopRecord(ctx context.Context, path string) (string, error) {
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "stop_record_session", path, 1)
}

func (s *Session) Record(ctx context.Context, path string, seconds int) (string, error) {
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "record", fmt.Sprintf("%s %d", path, seconds), 1)
}

// SendDTMF emits DTMF immediately; SchedDTMF schedules it at delaySeconds.
func (s *Session) SendDTMF(ctx context.Context, digits string) (string, error) {
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "send_dtmf", digits, 1)
}

func (s *Session) SchedDTMF(ctx context.Context, digits string, delaySeconds int) (string, error) {
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "sched_dtmf", fmt.Sprintf("+%d %s", delaySeconds, digits), 1)
}

// BridgeParams composes the sip/gateway/proxy bits of a bridge dial string
// (spec.md §4.5 "bridge(dest_url, profile, gateway, proxy, params)").
type BridgeParams struct {
	DestURL string
	Profile string
	Gateway string
	Proxy   string
	Vars    map[string]string
}

func (s *Session) Bridge(ctx context.Context, p BridgeParams) (string, error) {
	var varPrefix string
	if len(p.Vars) > 0 {
		parts := make([]string, 0, len(p.Vars))
		for k, v := range p.Vars {
			parts = append(parts, k+"="+v)
		}
		varPrefix = "{" + strings.Join(parts, ",") + "}"
	}

	endpoint := "sofia/" + p.Profile
	if p.Gateway != "" {
		endpoint = "sofia/gateway/" + p.Gateway
	}
	dial := fmt.Sprintf("%s%s/%s", varPrefix, endpoint, p.DestURL)
	if p.Proxy != "" {
		dial += ";fs_path=sip:" + p.Proxy
	}
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "bridge", dial, 1)
}

func (s *Session) SchedHangup(ctx context.Context, timeoutSeconds int, cause string) (string, error) {
	if cause == "" {
		cause = "NORMAL_CLEARING"
	}
	return s.cmd.SendMsg(ctx, s.UUID, "execute", "sched_hangup", fmt.Sprintf("+%d %s", timeoutSeconds, cause), 1)
}
