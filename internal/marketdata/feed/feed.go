// Package feed maintains the market-data websocket for one instrument and
// turns ticker pushes into candles on a bounded channel.
//
// Connection lifecycle:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting ...
//	any state    -> Stopped (Stop, context cancel, or reconnect budget exhausted)
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"algotrade/internal/marketdata/agg"
	"algotrade/internal/model"

	"github.com/gorilla/websocket"
)

// ErrReconnectBudgetExhausted is returned by Run after MaxReconnectAttempts
// consecutive failures. It wraps the last connection error.
var ErrReconnectBudgetExhausted = errors.New("feed: reconnect budget exhausted")

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds feed settings. Zero durations and counts take defaults.
type Config struct {
	URL        string // e.g. wss://stream.crypto.com/v2/market
	Instrument model.Instrument

	HeartbeatTimeout     time.Duration // default 30s
	ReconnectBase        time.Duration // default 5s
	ReconnectCap         time.Duration // default 30s
	MaxReconnectAttempts int           // default 10
	HandshakeTimeout     time.Duration // default 10s

	// CandleInterval buckets tickers into candles; 0 emits one candle per ticker.
	CandleInterval time.Duration
}

func (c *Config) defaults() {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 5 * time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Option customizes a Feed.
type Option func(*Feed)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) { f.logger = l }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(f *Feed) { f.dialer = d }
}

// Feed streams candles for one instrument.
type Feed struct {
	cfg     Config
	out     chan<- model.Candle
	backoff Backoff
	dialer  *websocket.Dialer
	logger  *slog.Logger
	agg     *agg.Aggregator

	state  atomic.Int32
	nextID atomic.Int64

	// deliverMu serializes delivery against Stop.
	deliverMu sync.Mutex
	stopped   bool

	stopOnce sync.Once
	stopCh   chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	// Optional hooks. OnStateChange and OnDrop may be called from the read
	// goroutine and must not block.
	OnStateChange func(from, to State)
	OnDrop        func(c model.Candle)
	OnMalformed   func(raw []byte, err error)
	OnTicker      func(t model.Ticker)
}

// New creates a feed that delivers candles to out. out should be buffered;
// when it is full candles are dropped and OnDrop is called.
func New(cfg Config, out chan<- model.Candle, opts ...Option) *Feed {
	cfg.defaults()
	f := &Feed{
		cfg:     cfg,
		out:     out,
		backoff: NewBackoff(cfg.ReconnectBase, cfg.ReconnectCap),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: slog.Default(),
		agg:    agg.New(cfg.CandleInterval),
		stopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(f)
	}
	f.logger = f.logger.With("component", "feed", "instrument", cfg.Instrument.String())
	return f
}

// State returns the current connection state.
func (f *Feed) State() State { return State(f.state.Load()) }

func (f *Feed) setState(to State) {
	for {
		from := State(f.state.Load())
		if from == to {
			return
		}
		if from == Stopped {
			// terminal
			return
		}
		if f.state.CompareAndSwap(int32(from), int32(to)) {
			f.logger.Debug("state change", "from", from.String(), "to", to.String())
			if f.OnStateChange != nil {
				f.OnStateChange(from, to)
			}
			return
		}
	}
}

// Stop halts the feed. After Stop returns no further candles are delivered.
// Safe to call more than once and from any goroutine.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		f.deliverMu.Lock()
		f.stopped = true
		f.deliverMu.Unlock()

		close(f.stopCh)
		f.closeConn()
		f.setState(Stopped)
	})
}

// Run connects and streams until ctx is cancelled or Stop is called (nil),
// or until the reconnect budget is exhausted (ErrReconnectBudgetExhausted).
func (f *Feed) Run(ctx context.Context) error {
	if f.State() == Stopped {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			f.Stop()
			return nil
		}

		f.setState(Connecting)
		conn, err := f.dial(ctx)
		if err == nil {
			connectedAt := time.Now()
			f.setState(Connected)
			f.logger.Info("connected", "url", f.cfg.URL)

			err = f.session(ctx, conn)
			if ctx.Err() != nil {
				f.Stop()
				return nil
			}
			if time.Since(connectedAt) > f.backoff.Cap() {
				failures = 0
			}
		}
		if ctx.Err() != nil {
			f.Stop()
			return nil
		}

		failures++
		if failures >= f.cfg.MaxReconnectAttempts {
			f.logger.Error("reconnect budget exhausted",
				"attempts", failures,
				"error", err,
			)
			f.Stop()
			return fmt.Errorf("%w after %d attempts: %w", ErrReconnectBudgetExhausted, failures, err)
		}

		delay := f.backoff.Delay(failures - 1)
		f.setState(Reconnecting)
		f.logger.Warn("disconnected, reconnecting",
			"error", err,
			"attempt", failures,
			"delay", delay,
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			f.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return conn, nil
}

func (f *Feed) closeConn() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// session subscribes and reads until the connection fails.
func (f *Feed) session(ctx context.Context, conn *websocket.Conn) error {
	defer f.closeConn()
	f.agg.Reset()

	done := make(chan struct{})
	defer close(done)

	// Closing the socket unblocks ReadMessage on cancel.
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	hb := f.cfg.HeartbeatTimeout
	conn.SetReadDeadline(time.Now().Add(hb))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(hb))
	})

	if err := conn.WriteJSON(subscribeRequest(f.nextID.Add(1), f.cfg.Instrument)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("subscribed", "channel", f.cfg.Instrument.TickerChannel())

	go f.pinger(conn, hb/3, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(hb))
		if err := f.handle(conn, raw); err != nil {
			return err
		}
	}
}

func (f *Feed) pinger(conn *websocket.Conn, every time.Duration, done <-chan struct{}) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(every)); err != nil {
				return
			}
		}
	}
}

// handle processes one inbound frame. Only a failed write is returned as an
// error; malformed input is logged and dropped.
func (f *Feed) handle(conn *websocket.Conn, raw []byte) error {
	fr, err := parseFrame(raw)
	if err != nil {
		f.malformed(raw, err)
		return nil
	}

	if fr.Method == methodHeartbeat {
		resp := request{ID: fr.ID, Method: methodRespondHeartbeat}
		if err := conn.WriteJSON(resp); err != nil {
			return fmt.Errorf("respond heartbeat: %w", err)
		}
		return nil
	}

	if fr.Code != 0 {
		f.logger.Warn("exchange error", "id", fr.ID, "method", fr.Method, "code", fr.Code, "message", fr.Message)
		return nil
	}

	if !fr.isTicker() {
		// subscription ack or other control message
		return nil
	}

	tickers, err := fr.tickers()
	if err != nil {
		f.malformed(raw, err)
		return nil
	}
	for _, t := range tickers {
		if f.OnTicker != nil {
			f.OnTicker(t)
		}
		if c, ok := f.agg.Add(t); ok {
			f.deliver(c)
		}
	}
	return nil
}

func (f *Feed) malformed(raw []byte, err error) {
	f.logger.Warn("malformed frame dropped", "error", err, "raw", truncate(raw, 256))
	if f.OnMalformed != nil {
		f.OnMalformed(raw, err)
	}
}

// deliver hands a candle to the consumer without blocking.
func (f *Feed) deliver(c model.Candle) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()
	if f.stopped {
		return
	}
	select {
	case f.out <- c:
	default:
		if f.OnDrop != nil {
			f.OnDrop(c)
		} else {
			f.logger.Warn("consumer full, dropping candle", "candle", c.Key())
		}
	}
}
