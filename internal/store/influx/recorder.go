// Package influx records candles, indicator snapshots, signals and trades as
// InfluxDB time series for dashboards.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	"algotrade/internal/strategy"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Config configures the recorder.
type Config struct {
	URL        string
	Token      string
	Org        string
	Bucket     string
	Instrument model.Instrument
	Interval   string // candle interval tag, e.g. "1m"
}

// Recorder writes points with the blocking write API so that failures
// surface to the caller.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	cfg      Config
	logger   *slog.Logger
}

// New creates a recorder and checks the server health.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Recorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx not ready: %+v", health)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:      cfg,
		logger:   logger.With("component", "influx"),
	}, nil
}

func (r *Recorder) tags(extra ...string) map[string]string {
	t := map[string]string{"instrument": r.cfg.Instrument.String()}
	for i := 0; i+1 < len(extra); i += 2 {
		t[extra[i]] = extra[i+1]
	}
	return t
}

// Run records candles until ctx is cancelled or ch is closed.
func (r *Recorder) Run(ctx context.Context, ch <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			if err := r.writeAPI.WritePoint(ctx, candlePoint(r.tags("interval", r.cfg.Interval), c)); err != nil {
				r.logger.Warn("candle write failed", "candle", c.Key(), "error", err)
			}
		}
	}
}

func candlePoint(tags map[string]string, c model.Candle) *write.Point {
	return influxdb2.NewPoint("candles", tags, map[string]interface{}{
		"open":   c.Open,
		"high":   c.High,
		"low":    c.Low,
		"close":  c.Close,
		"volume": c.Volume,
	}, c.TS)
}

// PublishSnapshot records the defined indicator values.
func (r *Recorder) PublishSnapshot(ctx context.Context, s *indicator.Snapshot) error {
	p := influxdb2.NewPoint("indicators", r.tags(), s.Fields(), s.TS)
	return r.writeAPI.WritePoint(ctx, p)
}

// PublishSignal records a signal.
func (r *Recorder) PublishSignal(ctx context.Context, sig strategy.Signal) error {
	fields := map[string]interface{}{
		"strength":   sig.Strength,
		"confidence": sig.Confidence,
		"price":      sig.Price,
	}
	if v, ok := sig.StopLoss.Get(); ok {
		fields["stop_loss"] = v
	}
	if v, ok := sig.TakeProfit.Get(); ok {
		fields["take_profit"] = v
	}
	p := influxdb2.NewPoint("signals", r.tags("direction", string(sig.Direction), "rules", sig.Rules), fields, sig.TS)
	return r.writeAPI.WritePoint(ctx, p)
}

// PublishTrade records a closed trade at its exit time.
func (r *Recorder) PublishTrade(ctx context.Context, t model.Trade) error {
	p := influxdb2.NewPoint("trades", r.tags("reason", string(t.Reason)), map[string]interface{}{
		"entry_price": t.EntryPrice,
		"exit_price":  t.ExitPrice,
		"size":        t.Size,
		"pnl":         t.PnL,
		"return_pct":  t.ReturnPct,
		"held_s":      t.ExitTime.Sub(t.EntryTime).Seconds(),
	}, t.ExitTime)
	return r.writeAPI.WritePoint(ctx, p)
}

// Close flushes and closes the client.
func (r *Recorder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.writeAPI.Flush(ctx)
	r.client.Close()
	return err
}
