package strategy

import (
	"math"
	"strings"
	"testing"
	"time"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol %.0e)", label, got, want, tol)
	}
}

// warm returns a snapshot with only the moving averages defined.
func warm(close, short, long float64) *indicator.Snapshot {
	return &indicator.Snapshot{
		TS:       t0,
		Close:    close,
		SMAShort: model.Some(short),
		SMALong:  model.Some(long),
	}
}

func hasText(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ─── Scenarios ───

func TestGenerator_LinearUptrendBuys(t *testing.T) {
	cfg := indicator.DefaultConfig()
	cfg.ShortWindow = 3
	cfg.LongWindow = 5
	eng := indicator.NewEngine(cfg)
	gen := NewGenerator(V2())

	var prev *indicator.Snapshot
	firstBuy := 0
	for i := 1; i <= 60; i++ {
		p := float64(i)
		cur, ok := eng.Update(model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: 1})
		if !ok {
			t.Fatalf("candle %d rejected", i)
		}
		sig := gen.Evaluate(cur, prev)
		if i < 5 && sig.Direction != Hold {
			t.Fatalf("candle %d: signal %s before MAs warmed up", i, sig.Direction)
		}
		if sig.Direction == Sell {
			t.Fatalf("candle %d: SELL in a linear uptrend: %s", i, sig.Summary())
		}
		if sig.Direction == Buy && firstBuy == 0 {
			firstBuy = i
		}
		prev = cur
	}
	if firstBuy == 0 {
		t.Fatal("expected a BUY once short MA > long MA")
	}
	if firstBuy != 5 {
		t.Errorf("expected the first BUY at candle 5, got %d", firstBuy)
	}
}

func TestGenerator_InsufficientData(t *testing.T) {
	gen := NewGenerator(V1())
	for _, s := range []*indicator.Snapshot{nil, {TS: t0, Close: 1, SMAShort: model.Some(1)}} {
		sig := gen.Evaluate(s, nil)
		if sig.Direction != Hold || !hasText(sig.Reasons, "insufficient data") {
			t.Errorf("expected HOLD/insufficient data, got %s %v", sig.Direction, sig.Reasons)
		}
	}
}

func TestGenerator_ExactCancellationHolds(t *testing.T) {
	gen := NewGenerator(V1())
	prev := warm(99, 100, 95)
	cur := warm(110, 101, 95) // MA trend +20
	cur.RSI = model.Some(80)  // -10
	cur.BBUpper = model.Some(105)
	cur.BBLower = model.Some(95)
	cur.BBWidth = model.Some(0.05)  // narrow: close > upper counts -15
	cur.VolumeRatio = model.Some(2) // rise on volume +5

	sig := gen.Evaluate(cur, prev)
	if sig.Strength != 0 {
		t.Fatalf("expected strength 0, got %v (%v)", sig.Strength, sig.Reasons)
	}
	if sig.Direction != Hold || !hasText(sig.Reasons, "cancel") {
		t.Errorf("expected HOLD on cancellation, got %s", sig.Summary())
	}
}

func TestGenerator_StrongSellWithLevels(t *testing.T) {
	gen := NewGenerator(V1())
	prev := warm(101, 100, 102)
	prev.MACDHist = model.Some(-0.1)

	// trend -20, falling histogram -15, confirmed breakdown -15, drop on volume -5
	cur := warm(90, 99, 102)
	cur.MACDHist = model.Some(-0.3)
	cur.BBUpper = model.Some(110)
	cur.BBLower = model.Some(92)
	cur.BBWidth = model.Some(0.2)
	cur.VolumeRatio = model.Some(2)
	cur.ATR = model.Some(1.5)

	sig := gen.Evaluate(cur, prev)
	if sig.Direction != Sell || sig.Grade != GradeStrong {
		t.Fatalf("expected strong SELL, got %s", sig.Summary())
	}
	assertClose(t, "strength", sig.Strength, -55, 1e-9)
	assertClose(t, "stop loss", sig.StopLoss.Or(0), 93, 1e-9)
	assertClose(t, "take profit", sig.TakeProfit.Or(0), 85.5, 1e-9)
}

func TestGenerator_StrengthClamped(t *testing.T) {
	rules := V1()
	rules.Weights.MATrend = 150
	gen := NewGenerator(rules)
	sig := gen.Evaluate(warm(10, 11, 10), nil)
	if sig.Strength != 100 {
		t.Errorf("expected clamp to 100, got %v", sig.Strength)
	}
}

// ─── Rule versions ───

func TestRuleVersions_RSIThresholds(t *testing.T) {
	cur := warm(100, 100, 100) // flat MAs: no trend vote
	cur.RSI = model.Some(72)

	v1 := NewGenerator(V1()).Evaluate(cur, nil)
	v2 := NewGenerator(V2()).Evaluate(cur, nil)
	if v1.Strength != -10 {
		t.Errorf("v1: expected RSI 72 to vote -10, got %v", v1.Strength)
	}
	if v2.Strength != 0 {
		t.Errorf("v2: expected RSI 72 inside 25/75 band, got %v", v2.Strength)
	}
}

func TestGenerator_Debounce(t *testing.T) {
	gen := NewGenerator(V2())
	at := func(d time.Duration, short, long float64) *indicator.Snapshot {
		s := warm(100, short, long)
		s.TS = t0.Add(d)
		return s
	}

	if sig := gen.Evaluate(at(0, 101, 100), nil); sig.Direction != Buy {
		t.Fatalf("expected first BUY, got %s", sig.Direction)
	}
	sig := gen.Evaluate(at(time.Minute, 101, 100), nil)
	if sig.Direction != Hold || !hasText(sig.Risks, "debounced") {
		t.Errorf("expected debounced HOLD, got %s %v", sig.Direction, sig.Risks)
	}
	// the opposite direction has its own timer
	if sig := gen.Evaluate(at(2*time.Minute, 99, 100), nil); sig.Direction != Sell {
		t.Errorf("expected SELL, got %s", sig.Direction)
	}
	// 5m after the emitted BUY, not after the suppressed one
	if sig := gen.Evaluate(at(5*time.Minute, 101, 100), nil); sig.Direction != Buy {
		t.Errorf("expected BUY after the interval, got %s", sig.Direction)
	}

	v1 := NewGenerator(V1())
	v1.Evaluate(at(0, 101, 100), nil)
	if sig := v1.Evaluate(at(time.Second, 101, 100), nil); sig.Direction != Buy {
		t.Errorf("v1 has no debounce, got %s", sig.Direction)
	}
}

// ─── Confidence & levels ───

func TestGenerator_ConfidenceCapped(t *testing.T) {
	gen := NewGenerator(V1())
	cur := warm(100, 110, 100)
	cur.VolumeRatio = model.Some(5)
	cur.TrendStrength = model.Some(10)
	cur.RSI = model.Some(100)
	cur.MACDHist = model.Some(5)

	sig := gen.Evaluate(cur, nil)
	if sig.Confidence != 95 {
		t.Errorf("expected confidence capped at 95, got %v", sig.Confidence)
	}

	quiet := warm(100, 100.5, 100)
	quiet.RSI = model.Some(50)
	if c := gen.Evaluate(quiet, nil).Confidence; c != 0 {
		t.Errorf("expected 0 confidence with neutral inputs, got %v", c)
	}
}

func TestGenerator_LevelsFallBackToBands(t *testing.T) {
	gen := NewGenerator(V1())
	cur := warm(100, 101, 100)
	cur.BBUpper = model.Some(104)
	cur.BBLower = model.Some(98)
	cur.BBWidth = model.Some(0.06)

	sig := gen.Evaluate(cur, nil)
	if sig.Direction != Buy {
		t.Fatalf("expected BUY, got %s", sig.Summary())
	}
	// half span = 3
	assertClose(t, "stop loss", sig.StopLoss.Or(0), 94, 1e-9)
	assertClose(t, "take profit", sig.TakeProfit.Or(0), 109, 1e-9)

	bare := NewGenerator(V1()).Evaluate(warm(100, 101, 100), nil)
	if bare.StopLoss.Valid || bare.TakeProfit.Valid {
		t.Error("levels must stay undefined without ATR or bands")
	}
}

func TestSignal_Summary(t *testing.T) {
	sig := NewGenerator(V1()).Evaluate(warm(0.0825, 0.083, 0.082), nil)
	s := sig.Summary()
	if !strings.HasPrefix(s, "BUY (weak)") || !strings.Contains(s, "uptrend") {
		t.Errorf("unexpected summary %q", s)
	}
}
