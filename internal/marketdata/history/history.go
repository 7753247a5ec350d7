// Package history fetches recent candles over REST to pre-populate the
// indicator engine before the live stream starts.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
)

// Source returns up to n of the most recent candles at timeframe.
type Source interface {
	Candles(ctx context.Context, instrument model.Instrument, timeframe string, n int) ([]model.Candle, error)
}

// SeedOption configures Seed.
type SeedOption func(*seedOptions)

type seedOptions struct {
	interval time.Duration
	now      time.Time
}

// SkipForming drops candles whose bucket of length interval has not closed
// at now. Exchanges return the still-forming candle last; seeding it would
// make the aggregator's first live candle for the same bucket a duplicate.
func SkipForming(interval time.Duration, now time.Time) SeedOption {
	return func(o *seedOptions) {
		o.interval = interval
		o.now = now
	}
}

// Seed fetches n candles from src and feeds them, oldest first, through the
// engine. Duplicates are rejected by the engine. Returns the number accepted.
func Seed(ctx context.Context, src Source, eng *indicator.Engine, instrument model.Instrument, timeframe string, n int, opts ...SeedOption) (int, error) {
	var o seedOptions
	for _, opt := range opts {
		opt(&o)
	}
	candles, err := src.Candles(ctx, instrument, timeframe, n)
	if err != nil {
		return 0, fmt.Errorf("history: fetch %s %s: %w", instrument, timeframe, err)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].TS.Before(candles[j].TS) })

	forming := 0
	if o.interval > 0 {
		for len(candles) > 0 && candles[len(candles)-1].TS.Add(o.interval).After(o.now) {
			candles = candles[:len(candles)-1]
			forming++
		}
	}

	accepted := 0
	for _, c := range candles {
		if _, ok := eng.Update(c); ok {
			accepted++
		}
	}
	slog.Info("history seeded",
		"instrument", instrument.String(),
		"timeframe", timeframe,
		"fetched", len(candles)+forming,
		"forming_skipped", forming,
		"accepted", accepted,
	)
	return accepted, nil
}

// tail returns the last n candles of cs (all when n <= 0 or len(cs) <= n).
func tail(cs []model.Candle, n int) []model.Candle {
	if n <= 0 || len(cs) <= n {
		return cs
	}
	return cs[len(cs)-n:]
}
