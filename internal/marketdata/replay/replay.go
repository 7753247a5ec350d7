// Package replay emits archived candles at a configurable speed, for
// backtests and for exercising the pipeline without a live feed.
package replay

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"algotrade/internal/model"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Source loads archived candles; the SQLite archive reader implements it.
type Source interface {
	Since(ctx context.Context, instrument model.Instrument, from time.Time) ([]model.Candle, error)
}

// Replayer reads candles from a Source and replays them in time order.
type Replayer struct {
	src    Source
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer. A nil logger uses slog.Default().
func New(src Source, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{
		src:    src,
		logger: logger.With("component", "replay"),
		sleep:  sleep,
	}
}

// Run sends every candle of instrument at or after from to out and returns
// the number sent. speed scales the gaps between candle timestamps:
// 1 = real time, 100 = 100x, 0 = as fast as out accepts.
func (r *Replayer) Run(ctx context.Context, instrument model.Instrument, from time.Time, speed float64, out chan<- model.Candle) (int, error) {
	candles, err := r.src.Since(ctx, instrument, from)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		r.logger.Warn("no archived candles", "instrument", instrument.String(), "from", from)
		return 0, nil
	}
	slices.SortStableFunc(candles, func(a, b model.Candle) int { return a.TS.Compare(b.TS) })

	r.logger.Info("replay started",
		"candles", len(candles),
		"first", candles[0].TS,
		"last", candles[len(candles)-1].TS,
		"speed", speed,
	)

	var prev time.Time
	sent := 0
	for _, c := range candles {
		if speed > 0 && !prev.IsZero() {
			if gap := c.TS.Sub(prev); gap > 0 {
				if err := r.sleep(ctx, min(time.Duration(float64(gap)/speed), maxGap)); err != nil {
					return sent, err
				}
			}
		}
		prev = c.TS

		select {
		case <-ctx.Done():
			r.logger.Info("replay cancelled", "sent", sent)
			return sent, ctx.Err()
		case out <- c:
			sent++
		}
	}

	r.logger.Info("replay completed", "sent", sent)
	return sent, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
