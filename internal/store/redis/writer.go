package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	"algotrade/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
)

const defaultLatestTTL = 30 * time.Minute

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr       string // Redis address, e.g. "localhost:6379"
	Password   string
	DB         int
	Instrument model.Instrument
}

// Writer publishes candles, indicator snapshots, signals and trades to Redis.
type Writer struct {
	client *goredis.Client
	keys   Keys
	logger *slog.Logger

	// OnWrite observes each pipeline round trip (for metrics).
	OnWrite func(took time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig, logger *slog.Logger) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "redis")
	logger.Info("connected", "addr", cfg.Addr)
	return &Writer{client: client, keys: Keys{Instrument: cfg.Instrument}, logger: logger}, nil
}

// Keys returns the key layout in use.
func (w *Writer) Keys() Keys { return w.keys }

// Run reads candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if err := w.write(ctx, KindCandle, string(c.JSON())); err != nil {
				w.logger.Warn("candle write failed", "candle", c.Key(), "error", err)
			}
		}
	}
}

// PublishSnapshot writes the latest indicator snapshot.
func (w *Writer) PublishSnapshot(ctx context.Context, s *indicator.Snapshot) error {
	return w.write(ctx, KindSnapshot, string(s.JSON()))
}

// PublishSignal writes a signal.
func (w *Writer) PublishSignal(ctx context.Context, sig strategy.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return w.write(ctx, KindSignal, string(data))
}

// PublishTrade appends a closed trade to the trade stream.
func (w *Writer) PublishTrade(ctx context.Context, t model.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return w.write(ctx, KindTrade, string(data))
}

// write pipelines SET latest + XADD + PUBLISH for one record.
func (w *Writer) write(ctx context.Context, kind Kind, data string) error {
	start := time.Now()
	pipe := w.client.Pipeline()

	if kind != KindTrade {
		pipe.Set(ctx, w.keys.Latest(kind), data, defaultLatestTTL)
	}
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: w.keys.Stream(kind),
		MaxLen: streamMaxLen(kind),
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, w.keys.Channel(kind), data)

	_, err := pipe.Exec(ctx)
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("redis %s pipeline: %w", kind, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
