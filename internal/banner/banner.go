// Package banner renders the startup banner: the service logo followed by
// a dot-leadered table of the effective configuration, colorized when
// stdout is attached to a terminal.
package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const logo = `               _ _       _     _                    _
 _____      __(_) |_ ___| |__ | |__  _   _ _ __ ___| |_
/ __\ \ /\ / /| | __/ __| '_ \| '_ \| | | | '__/ __| __|
\__ \\ V  V / | | || (__| | | | |_) | |_| | |  \__ \ |_
|___/ \_/\_/  |_|\__\___|_| |_|_.__/ \__,_|_|  |___/\__|`

const rule = "----------------------------------------------------------------------"

const (
	ansiCyan  = "\x1b[36m"
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// ConfigLine is one label/value row in the banner's configuration table.
type ConfigLine struct {
	Label string
	Value string
}

// Print writes the banner to stdout. Color is enabled only on a terminal,
// routed through go-colorable so ANSI codes render on Windows consoles too.
func Print(serviceName string, config []ConfigLine) {
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	var w io.Writer = os.Stdout
	if color {
		w = colorable.NewColorable(os.Stdout)
	}
	Fprint(w, serviceName, config, color)
}

// Fprint renders the banner to w. Split from Print so callers (and tests)
// can render into any writer with color forced on or off.
func Fprint(w io.Writer, serviceName string, config []ConfigLine, color bool) {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}

	fmt.Fprintln(w, paint(ansiCyan, logo))
	fmt.Fprintf(w, "%s\n%s\n", serviceName, paint(ansiDim, rule))

	width := 0
	for _, c := range config {
		if n := len(c.Label) + len(c.Value); n > width {
			width = n
		}
	}
	for _, c := range config {
		leader := strings.Repeat(".", width-len(c.Label)-len(c.Value)+4)
		fmt.Fprintf(w, "  %s %s %s\n", c.Label, paint(ansiDim, leader), c.Value)
	}

	fmt.Fprintf(w, "%s\nready\n", paint(ansiDim, rule))
}
