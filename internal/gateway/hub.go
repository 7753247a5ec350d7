// Package gateway streams engine events (snapshots, signals, closed trades) to
// WebSocket clients. Every message carries a per-channel sequence number so a
// client can detect gaps and backfill them from the replay buffer.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	"algotrade/internal/strategy"
)

// Channel names.
const (
	ChannelSnapshot = "snapshot"
	ChannelSignal   = "signal"
	ChannelTrade    = "trade"
)

// Channels lists every channel a client may subscribe to.
var Channels = []string{ChannelSnapshot, ChannelSignal, ChannelTrade}

const defaultReplaySize = 500

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithReplaySize sets the number of envelopes kept per channel.
func WithReplaySize(n int) Option {
	return func(h *Hub) { h.replaySize = n }
}

// WithClock replaces time.Now for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// Hub fans published events out to connected clients. It implements the
// trader's Publisher interface and serves the WebSocket upgrade.
type Hub struct {
	logger     *slog.Logger
	now        func() time.Time
	replaySize int
	upgrader   websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string][]byte // last envelope per channel
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:      slog.Default(),
		now:         time.Now,
		replaySize:  defaultReplaySize,
		clients:     make(map[*Client]bool),
		latest:      make(map[string][]byte),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.With("component", "gateway")
	return h
}

// PublishSnapshot broadcasts an indicator snapshot.
func (h *Hub) PublishSnapshot(_ context.Context, s *indicator.Snapshot) error {
	return h.publishJSON(ChannelSnapshot, s)
}

// PublishSignal broadcasts a signal together with its one-line summary.
func (h *Hub) PublishSignal(_ context.Context, sig strategy.Signal) error {
	return h.publishJSON(ChannelSignal, struct {
		strategy.Signal
		Summary string `json:"summary"`
	}{sig, sig.Summary()})
}

// PublishTrade broadcasts a closed trade.
func (h *Hub) PublishTrade(_ context.Context, t model.Trade) error {
	return h.publishJSON(ChannelTrade, t)
}

func (h *Hub) publishJSON(channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", channel, err)
	}
	h.Broadcast(channel, data)
	return nil
}

// Broadcast wraps data in an envelope and sends it to every client subscribed
// to channel. Slow clients miss messages rather than block the caller; they
// see the gap in channel_seq and backfill.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	seq := h.channelSeqs[channel]
	env := envelope(channel, data, now, seq)
	h.latest[channel] = env
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(h.replaySize)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()
	rb.Push(seq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

// envelope builds {"channel":..,"data":..,"ts":..,"channel_seq":N} by hand;
// data is already JSON.
func envelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","channel_seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// ServeHTTP upgrades the request and registers a client. ?channels=a,b
// narrows the initial subscription (default: all channels). The latest
// envelope of each subscribed channel is sent on connect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channels := Channels
	if v := r.URL.Query().Get("channels"); v != "" {
		channels = splitChannels(v)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(h, conn, channels)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	for _, ch := range channels {
		if env, ok := h.latest[ch]; ok {
			select {
			case c.send <- env:
			default:
			}
		}
	}
	h.mu.Unlock()

	h.logger.Info("client connected", "remote", r.RemoteAddr, "clients", count)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", "clients", count)
}

// Replay returns buffered envelopes for channel with seq in [from, to].
func (h *Hub) Replay(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(from, to)
}

// ChannelSeq returns the last sequence number sent on channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

func splitChannels(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
