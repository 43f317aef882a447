// Package config loads switchburst's process configuration from flags and
// environment variables, with an optional .env file, grounded on the
// teacher's internal/signaling/config/config.go (flag.*Var defaults,
// then os.Getenv overrides).
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// NodeConfig is one ESL connection triple (spec.md §6 "Configuration").
type NodeConfig struct {
	Host      string
	Port      int
	Password  string
	MaxActive int
}

// Config is switchburst's full runtime configuration.
type Config struct {
	LogLevel string

	Nodes []NodeConfig

	CallTrackingHeader string
	AppIDHeaders       []string

	Autorecon      bool
	ReconnectDelay time.Duration

	Rate           int
	Limit          int
	MaxOffered     int
	Period         time.Duration
	Autohangup     bool
	DurationOffset time.Duration

	CDRBackend string // "csv" or "sqlite"
	CDRPath    string
	CDRBufSize int

	ControlAddr string
}

// Load applies a .env file if present, parses flags, then applies
// environment-variable overrides (environment wins over flag values,
// matching the teacher's override ordering).
func Load() *Config {
	_ = godotenv.Load() // optional; absence of .env is not an error

	cfg := &Config{
		ReconnectDelay: 2 * time.Second,
		Period:         time.Second,
		DurationOffset: 5 * time.Second,
	}

	var nodesFlag, appIDHeadersFlag string
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&nodesFlag, "nodes", "127.0.0.1:8021:ClueCon", "comma-separated host:port:password[:max_active] ESL node list")
	flag.StringVar(&cfg.CallTrackingHeader, "call-tracking-header", "variable_call_uuid", "channel variable correlating bridged legs into a Call")
	flag.StringVar(&appIDHeadersFlag, "app-id-headers", "variable_app_id", "comma-separated channel variables carrying the app id, checked in order")
	flag.BoolVar(&cfg.Autorecon, "autorecon", true, "reconnect nodes automatically on disconnect")
	flag.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "delay between reconnect attempts")

	flag.IntVar(&cfg.Rate, "rate", 30, "originate rate per period")
	flag.IntVar(&cfg.Limit, "limit", 1, "max concurrent active calls")
	flag.IntVar(&cfg.MaxOffered, "max-offered", 0, "stop after this many originations (0 = unbounded)")
	flag.DurationVar(&cfg.Period, "period", cfg.Period, "burst period")
	flag.BoolVar(&cfg.Autohangup, "autohangup", true, "automatically hang up originated calls after their duration elapses")
	flag.DurationVar(&cfg.DurationOffset, "duration-offset", cfg.DurationOffset, "padding added to the auto-computed call duration")

	flag.StringVar(&cfg.CDRBackend, "cdr-backend", "csv", "CDR store backend: csv or sqlite")
	flag.StringVar(&cfg.CDRPath, "cdr-path", "switchburst-cdr.csv", "CDR store path")
	flag.IntVar(&cfg.CDRBufSize, "cdr-buf-size", 1024, "CDR ring buffer size in rows")

	flag.StringVar(&cfg.ControlAddr, "control-addr", ":8088", "control API listen address")

	flag.Parse()

	cfg.Nodes = parseNodes(nodesFlag)
	cfg.AppIDHeaders = parseList(appIDHeadersFlag)

	applyEnvOverrides(cfg)

	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWITCHBURST_LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SWITCHBURST_NODES"); v != "" {
		cfg.Nodes = parseNodes(v)
	}
	if v := os.Getenv("SWITCHBURST_CALL_TRACKING_HEADER"); v != "" {
		cfg.CallTrackingHeader = v
	}
	if v := os.Getenv("SWITCHBURST_APP_ID_HEADERS"); v != "" {
		cfg.AppIDHeaders = parseList(v)
	}
	if v := os.Getenv("SWITCHBURST_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rate = n
		}
	}
	if v := os.Getenv("SWITCHBURST_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limit = n
		}
	}
	if v := os.Getenv("SWITCHBURST_MAX_OFFERED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxOffered = n
		}
	}
	if v := os.Getenv("SWITCHBURST_CDR_BACKEND"); v != "" {
		cfg.CDRBackend = v
	}
	if v := os.Getenv("SWITCHBURST_CDR_PATH"); v != "" {
		cfg.CDRPath = v
	}
	if v := os.Getenv("SWITCHBURST_CONTROL_ADDR"); v != "" {
		cfg.ControlAddr = v
	}
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseNodes parses "host:port:password[:max_active]" entries separated by
// commas (spec.md §6 "Configuration" connection triple, extended with a
// per-node admission cap for the slave pool, C7).
func parseNodes(s string) []NodeConfig {
	var out []NodeConfig
	for _, entry := range parseList(s) {
		fields := strings.Split(entry, ":")
		if len(fields) < 3 {
			continue
		}
		port, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		nc := NodeConfig{Host: fields[0], Port: port, Password: fields[2]}
		if len(fields) >= 4 {
			if ma, err := strconv.Atoi(fields[3]); err == nil {
				nc.MaxActive = ma
			}
		}
		out = append(out, nc)
	}
	return out
}
