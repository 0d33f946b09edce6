package lotsize

import "testing"

func TestCalculate_Fixed(t *testing.T) {
	cfg := Config{Mode: Fixed, Value: 0.05, MinLot: 0.01, MaxLot: 100}
	got, err := Calculate(cfg, 0.33, 10000, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.05 {
		t.Errorf("got %v, want 0.05", got)
	}
}

func TestCalculate_Proportion(t *testing.T) {
	cfg := Config{Mode: Proportion, Value: 2, MinLot: 0.01, MaxLot: 100}
	got, err := Calculate(cfg, 0.1, 10000, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.2 {
		t.Errorf("got %v, want 0.2", got)
	}
}

func TestCalculate_Autolot(t *testing.T) {
	cfg := Config{Mode: Autolot, Value: 0.01, MinLot: 0.01, MaxLot: 100}
	got, err := Calculate(cfg, 0.1, 5000, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.05 {
		t.Errorf("got %v, want 0.05", got)
	}
}

func TestCalculate_ClampedToMax(t *testing.T) {
	cfg := Config{Mode: Fixed, Value: 500, MinLot: 0.01, MaxLot: 10}
	got, err := Calculate(cfg, 0.1, 10000, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10 {
		t.Errorf("got %v, want clamp to 10", got)
	}
}

func TestCalculate_ClampedToMin(t *testing.T) {
	cfg := Config{Mode: Fixed, Value: 0.001, MinLot: 0.01, MaxLot: 10}
	got, err := Calculate(cfg, 0.1, 10000, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.01 {
		t.Errorf("got %v, want clamp to 0.01", got)
	}
}

func TestCalculate_RoundedToVolumeStep(t *testing.T) {
	cfg := Config{Mode: Fixed, Value: 0.07, MinLot: 0.01, MaxLot: 100}
	got, err := Calculate(cfg, 0, 0, 0.05)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.05 {
		t.Errorf("got %v, want rounded to 0.05 step", got)
	}
}

func TestCalculate_UnknownMode(t *testing.T) {
	cfg := Config{Mode: "bogus"}
	if _, err := Calculate(cfg, 0.1, 1000, 0.01); err == nil {
		t.Error("expected error for unknown mode")
	}
}

// Property: result is always clamped into [min, max] regardless of mode.
func TestCalculate_AlwaysClamped(t *testing.T) {
	cases := []Config{
		{Mode: Fixed, Value: 1000, MinLot: 0.01, MaxLot: 5},
		{Mode: Proportion, Value: 50, MinLot: 0.01, MaxLot: 5},
		{Mode: Autolot, Value: 10, MinLot: 0.01, MaxLot: 5},
	}
	for _, cfg := range cases {
		got, err := Calculate(cfg, 1.0, 100000, 0.01)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got < cfg.MinLot || got > cfg.MaxLot {
			t.Errorf("mode %s: got %v, want within [%v, %v]", cfg.Mode, got, cfg.MinLot, cfg.MaxLot)
		}
	}
}
