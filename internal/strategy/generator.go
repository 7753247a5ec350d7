// Package strategy maps indicator snapshots to trading signals.
//
// A Generator runs independent sub-votes (MA trend, MACD momentum, RSI
// extremes, Bollinger breakout, stochastic crosses, volume confirmation),
// sums their signed weights into a strength and grades it against the
// thresholds of a versioned RuleSet.
package strategy

import (
	"math"
	"sync"
	"time"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
)

// Generator evaluates snapshots under one rule set. Its only state is the
// time of the last emitted BUY and SELL, used for the debounce.
type Generator struct {
	rules RuleSet

	mu   sync.Mutex
	last map[Direction]time.Time
}

// NewGenerator creates a generator.
func NewGenerator(rules RuleSet) *Generator {
	return &Generator{
		rules: rules,
		last:  make(map[Direction]time.Time, 2),
	}
}

// Rules returns the active rule set.
func (g *Generator) Rules() RuleSet { return g.rules }

// Reset forgets the debounce timestamps.
func (g *Generator) Reset() {
	g.mu.Lock()
	g.last = make(map[Direction]time.Time, 2)
	g.mu.Unlock()
}

// ballot accumulates sub-votes.
type ballot struct {
	sum     float64
	votes   int
	reasons []string
	risks   []string
}

func (b *ballot) vote(w float64, reason string) {
	if w == 0 {
		return
	}
	b.sum += w
	b.votes++
	b.reasons = append(b.reasons, reason)
}

func (b *ballot) risk(note string) { b.risks = append(b.risks, note) }

// Evaluate classifies cur. prev is the snapshot before cur and may be nil;
// votes that need a derivative or a cross are skipped without it.
// Undefined inputs never vote.
func (g *Generator) Evaluate(cur, prev *indicator.Snapshot) Signal {
	r := g.rules
	if cur == nil {
		return Signal{Direction: Hold, Reasons: []string{"insufficient data"}, Rules: r.Version}
	}
	sig := Signal{
		Direction: Hold,
		Price:     cur.Close,
		TS:        cur.TS,
		Rules:     r.Version,
	}
	if !cur.Warm() {
		sig.Reasons = []string{"insufficient data"}
		return sig
	}

	var b ballot
	g.trendVote(&b, cur)
	g.macdVote(&b, cur, prev)
	g.rsiVote(&b, cur)
	g.bollingerVote(&b, cur)
	g.stochVote(&b, cur, prev)
	g.volumeVote(&b, cur, prev)
	g.volatilityFilter(&b, cur)

	strength := clamp(b.sum, -100, 100)
	sig.Strength = strength
	sig.Reasons = b.reasons
	sig.Risks = b.risks
	sig.Confidence = g.confidence(cur)

	abs := math.Abs(strength)
	switch {
	case strength == 0:
		if b.votes > 0 {
			sig.Reasons = append(sig.Reasons, "sub-votes cancel out")
		}
		return sig
	case abs >= r.StrongThreshold:
		sig.Grade = GradeStrong
	case abs >= r.WeakThreshold:
		sig.Grade = GradeWeak
	default:
		return sig
	}

	dir := Buy
	if strength < 0 {
		dir = Sell
	}

	if g.debounced(dir, cur.TS) {
		sig.Grade = GradeNone
		sig.Risks = append(sig.Risks, "debounced: repeat "+string(dir)+" within "+r.MinInterval.String())
		return sig
	}

	sig.Direction = dir
	sig.StopLoss, sig.TakeProfit = g.levels(dir, cur)
	return sig
}

// debounced reports whether a dir signal at ts must be suppressed, and
// records ts as the last emission when it is not.
func (g *Generator) debounced(dir Direction, ts time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rules.MinInterval > 0 {
		if last, ok := g.last[dir]; ok && ts.Sub(last) < g.rules.MinInterval {
			return true
		}
	}
	g.last[dir] = ts
	return false
}

func (g *Generator) trendVote(b *ballot, cur *indicator.Snapshot) {
	w := g.rules.Weights.MATrend
	short, long := cur.SMAShort.Value, cur.SMALong.Value
	switch {
	case short > long:
		b.vote(w, "short MA above long MA, uptrend")
	case short < long:
		b.vote(-w, "short MA below long MA, downtrend")
	}
	if ma50, ok := cur.MA50.Get(); ok {
		if ma200, ok := cur.MA200.Get(); ok && ma50 > ma200 && short > long {
			b.reasons = append(b.reasons, "MA50 above MA200 confirms the long trend")
		}
	}
}

func (g *Generator) macdVote(b *ballot, cur, prev *indicator.Snapshot) {
	hist, ok := cur.MACDHist.Get()
	if !ok {
		return
	}
	w := g.rules.Weights.MACDMomentum
	var prevHist float64
	havePrev := false
	if prev != nil {
		prevHist, havePrev = prev.MACDHist.Get()
	}
	switch {
	case hist > 0 && havePrev && hist > prevHist:
		b.vote(w, "MACD histogram positive and rising")
	case hist < 0 && havePrev && hist < prevHist:
		b.vote(-w, "MACD histogram negative and falling")
		b.risk("MACD momentum turning down")
	case hist < 0:
		b.risk("MACD histogram negative")
	}
}

func (g *Generator) rsiVote(b *ballot, cur *indicator.Snapshot) {
	rsi, ok := cur.RSI.Get()
	if !ok {
		return
	}
	w := g.rules.Weights.RSIExtreme
	switch {
	case rsi > g.rules.RSIOverbought:
		b.vote(-w, "RSI overbought ("+fmtF(rsi, 1)+")")
		b.risk("RSI overbought, pullback risk")
	case rsi < g.rules.RSIOversold:
		b.vote(w, "RSI oversold ("+fmtF(rsi, 1)+"), rebound possible")
	}
}

func (g *Generator) bollingerVote(b *ballot, cur *indicator.Snapshot) {
	upper, okU := cur.BBUpper.Get()
	lower, okL := cur.BBLower.Get()
	width, okW := cur.BBWidth.Get()
	if !okU || !okL || !okW {
		return
	}
	w := g.rules.Weights.BBBreakout
	expanding := width > g.rules.BBWidthExpansion
	confirmed := expanding && cur.VolumeRatio.Or(0) >= g.rules.VolumeConfirmRatio

	switch {
	case cur.Close > upper && confirmed:
		b.vote(w, "upper band breakout on expanding bands and volume")
	case cur.Close > upper:
		b.vote(-w, "close above upper band")
		b.risk("price stretched above upper band")
	case cur.Close < lower && confirmed:
		b.vote(-w, "lower band breakdown on expanding bands and volume")
	case cur.Close < lower:
		b.vote(w, "close below lower band, rebound possible")
	}
	if !expanding {
		b.risk("bands narrow, breakout pending")
	}
}

func (g *Generator) stochVote(b *ballot, cur, prev *indicator.Snapshot) {
	if prev == nil {
		return
	}
	k, ok1 := cur.StochK.Get()
	d, ok2 := cur.StochD.Get()
	pk, ok3 := prev.StochK.Get()
	pd, ok4 := prev.StochD.Get()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return
	}
	w := g.rules.Weights.Stoch
	switch {
	case pk <= pd && k > d && k < g.rules.StochOversold:
		b.vote(w, "stochastic bullish cross in oversold zone")
	case pk >= pd && k < d && k > g.rules.StochOverbought:
		b.vote(-w, "stochastic bearish cross in overbought zone")
	}
}

func (g *Generator) volumeVote(b *ballot, cur, prev *indicator.Snapshot) {
	if prev == nil {
		return
	}
	ratio, ok := cur.VolumeRatio.Get()
	if !ok || ratio < g.rules.VolumeConfirmRatio {
		return
	}
	w := g.rules.Weights.Volume
	switch {
	case cur.Close > prev.Close:
		b.vote(w, "rise on "+fmtF(ratio, 1)+"x average volume")
	case cur.Close < prev.Close:
		b.vote(-w, "drop on "+fmtF(ratio, 1)+"x average volume")
	}
}

func (g *Generator) volatilityFilter(b *ballot, cur *indicator.Snapshot) {
	vol, ok1 := cur.Volatility.Get()
	base, ok2 := cur.VolatilityBase.Get()
	if ok1 && ok2 && vol > base {
		b.risk("volatility " + fmtF(vol, 2) + "% above baseline " + fmtF(base, 2) + "%")
	}
}

// confidence combines volume ratio, trend magnitude, RSI distance from 50
// and MACD/signal divergence, each worth up to 25 points, capped below 100.
func (g *Generator) confidence(cur *indicator.Snapshot) float64 {
	c := 0.0
	if v, ok := cur.VolumeRatio.Get(); ok && g.rules.VolumeConfirmRatio > 0 {
		c += 25 * math.Min(v/g.rules.VolumeConfirmRatio, 1)
	}
	if v, ok := cur.TrendStrength.Get(); ok {
		// 2% separation between the MAs counts as a full trend
		c += 25 * math.Min(v/2, 1)
	}
	if v, ok := cur.RSI.Get(); ok {
		c += 25 * math.Min(math.Abs(v-50)/50, 1)
	}
	if h, ok := cur.MACDHist.Get(); ok && cur.Close > 0 {
		// divergence of 0.1% of price counts as full
		c += 25 * math.Min(math.Abs(h)/cur.Close*1000, 1)
	}
	return clamp(c, 0, g.rules.ConfidenceCap)
}

// levels returns stop-loss and take-profit around the close. ATR is the
// distance unit; without it half the Bollinger span is used.
func (g *Generator) levels(dir Direction, cur *indicator.Snapshot) (model.Float, model.Float) {
	unit, ok := cur.ATR.Get()
	if !ok {
		upper, okU := cur.BBUpper.Get()
		lower, okL := cur.BBLower.Get()
		if !okU || !okL {
			return model.None(), model.None()
		}
		unit = (upper - lower) / 2
	}
	stop := unit * g.rules.ATRStopMult
	take := unit * g.rules.ATRTakeMult
	if dir == Sell {
		return model.Some(cur.Close + stop), model.Some(cur.Close - take)
	}
	return model.Some(cur.Close - stop), model.Some(cur.Close + take)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
