package banner

import (
	"strings"
	"testing"
)

func TestFprint_PlainOutputHasNoANSICodes(t *testing.T) {
	var b strings.Builder
	Fprint(&b, "switchburst", []ConfigLine{
		{Label: "nodes", Value: "2"},
		{Label: "rate", Value: "30"},
	}, false)

	out := b.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("color-off output contains ANSI escapes:\n%s", out)
	}
	if !strings.Contains(out, "switchburst") {
		t.Fatal("expected service name in banner output")
	}
	if !strings.Contains(out, "nodes") || !strings.Contains(out, "rate") {
		t.Fatalf("expected config labels in banner output:\n%s", out)
	}
}

func TestFprint_DotLeadersAlignValues(t *testing.T) {
	var b strings.Builder
	Fprint(&b, "switchburst", []ConfigLine{
		{Label: "a", Value: "1"},
		{Label: "long_label", Value: "value"},
	}, false)

	// every config row ends at the same column: label + leader + value
	// widths are equalized by the dot leader.
	var rowLens []int
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, "...") {
			rowLens = append(rowLens, len(line))
		}
	}
	if len(rowLens) != 2 {
		t.Fatalf("expected 2 config rows, got %d", len(rowLens))
	}
	if rowLens[0] != rowLens[1] {
		t.Fatalf("config rows not aligned: widths %v", rowLens)
	}
}
