package originator

import (
	"testing"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Rate != 30 {
		t.Fatalf("default Rate = %d, want 30", cfg.Rate)
	}
	if cfg.Limit != 1 {
		t.Fatalf("default Limit = %d, want 1", cfg.Limit)
	}
	if cfg.MaxRate != maxRateDefault {
		t.Fatalf("default MaxRate = %d, want %d", cfg.MaxRate, maxRateDefault)
	}
}

func TestConfig_RateClippedToMaxRate(t *testing.T) {
	cfg := Config{Rate: 1000}.withDefaults()
	if cfg.Rate != maxRateDefault {
		t.Fatalf("Rate = %d, want clipped to %d", cfg.Rate, maxRateDefault)
	}
}

func TestConfig_RateClippedToCustomMaxRate(t *testing.T) {
	cfg := Config{Rate: 100, MaxRate: 50}.withDefaults()
	if cfg.Rate != 50 {
		t.Fatalf("Rate = %d, want clipped to custom MaxRate 50", cfg.Rate)
	}
}

func TestWeightedAppIter_HonorsWeights(t *testing.T) {
	w := NewWeightedAppIter(map[string]int{"a": 2, "b": 1})
	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		counts[w.Next()]++
	}
	if counts["a"] != 6 || counts["b"] != 3 {
		t.Fatalf("counts = %v, want a:6 b:3 over 3 cycles", counts)
	}
}

func TestWeightedAppIter_EmptyWeights(t *testing.T) {
	w := NewWeightedAppIter(nil)
	if got := w.Next(); got != "" {
		t.Fatalf("Next() = %q, want empty with no weights", got)
	}
}

func TestWeightedAppIter_SetWeightZeroRemoves(t *testing.T) {
	w := NewWeightedAppIter(map[string]int{"a": 1})
	w.Next() // consume the first cycle
	w.SetWeight("a", 0)
	if got := w.Next(); got != "" {
		t.Fatalf("Next() after zeroing weight = %q, want empty", got)
	}
}

func TestOriginator_ZeroValueStateIsInitial(t *testing.T) {
	o := &Originator{}
	if o.State() != StateInitial {
		t.Fatalf("zero-value state = %v, want Initial", o.State())
	}
}
