package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"algotrade/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when a latest-record key does not exist.
var ErrNotFound = errors.New("redis: not found")

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr       string
	Password   string
	DB         int
	Instrument model.Instrument
}

// Reader reads what the Writer publishes: latest records, the trade
// stream, and live pub/sub events.
type Reader struct {
	client *goredis.Client
	keys   Keys
	logger *slog.Logger
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig, logger *slog.Logger) (*Reader, error) {
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
	logger = logger.With("component", "redis-reader")
	logger.Info("connected", "addr", cfg.Addr, "instrument", cfg.Instrument.String())
	return &Reader{client: client, keys: Keys{Instrument: cfg.Instrument}, logger: logger}, nil
}

// Latest returns the latest record of kind as raw JSON.
func (r *Reader) Latest(ctx context.Context, kind Kind) (json.RawMessage, error) {
	s, err := r.client.Get(ctx, r.keys.Latest(kind)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", r.keys.Latest(kind), err)
	}
	return json.RawMessage(s), nil
}

// RecentTrades returns up to n trades from the trade stream, newest first.
func (r *Reader) RecentTrades(ctx context.Context, n int64) ([]model.Trade, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.keys.Stream(KindTrade), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", r.keys.Stream(KindTrade), err)
	}
	return decodeTrades(msgs, r.logger), nil
}

func decodeTrades(msgs []goredis.XMessage, logger *slog.Logger) []model.Trade {
	trades := make([]model.Trade, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var t model.Trade
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			logger.Warn("skip undecodable trade", "id", m.ID, "error", err)
			continue
		}
		trades = append(trades, t)
	}
	return trades
}

// Event is one pub/sub message.
type Event struct {
	Kind    Kind
	Payload json.RawMessage
}

// Watch subscribes to the channels of kinds and forwards events to out until
// ctx is cancelled. Events are dropped when out is full.
func (r *Reader) Watch(ctx context.Context, out chan<- Event, kinds ...Kind) error {
	channels := make([]string, len(kinds))
	for i, k := range kinds {
		channels[i] = r.keys.Channel(k)
	}
	pubsub := r.client.Subscribe(ctx, channels...)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %v: %w", channels, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			kind, ok := kindOfChannel(msg.Channel)
			if !ok {
				continue
			}
			select {
			case out <- Event{Kind: kind, Payload: json.RawMessage(msg.Payload)}:
			default:
			}
		}
	}
}

// kindOfChannel parses "pub:<kind>:<instrument>".
func kindOfChannel(channel string) (Kind, bool) {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) != 3 || parts[0] != "pub" {
		return "", false
	}
	return Kind(parts[1]), true
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
