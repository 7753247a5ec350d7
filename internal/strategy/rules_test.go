package strategy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBuiltin(t *testing.T) {
	for _, v := range []string{"v1", "v2", ""} {
		r, err := Builtin(v)
		if err != nil {
			t.Fatalf("%q: %v", v, err)
		}
		if err := r.Validate(); err != nil {
			t.Errorf("%q: built-in set invalid: %v", v, err)
		}
	}
	if _, err := Builtin("v9"); !errors.Is(err, ErrUnknownRuleVersion) {
		t.Errorf("expected ErrUnknownRuleVersion, got %v", err)
	}
}

func TestLoadRules_OverlaysBuiltin(t *testing.T) {
	p := writeRules(t, `
version: v1
rsi_overbought: 80
min_interval: 2m
weights:
  ma_trend: 25
`)
	r, err := LoadRules(p)
	if err != nil {
		t.Fatal(err)
	}
	if r.Version != "v1" || r.RSIOverbought != 80 || r.RSIOversold != 30 {
		t.Errorf("unexpected rsi bands %+v", r)
	}
	if r.MinInterval != 2*time.Minute {
		t.Errorf("expected 2m debounce, got %v", r.MinInterval)
	}
	if r.Weights.MATrend != 25 || r.Weights.MACDMomentum != 15 {
		t.Errorf("expected partial weight override, got %+v", r.Weights)
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "version: [",
		"unknown":       "version: v7",
		"inverted rsi":  "rsi_overbought: 20\nrsi_oversold: 40",
		"cap at 100":    "confidence_cap: 100",
		"weak > strong": "weak_threshold: 50\nstrong_threshold: 40",
	}
	for name, body := range cases {
		if _, err := LoadRules(writeRules(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
