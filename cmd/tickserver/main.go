// cmd/tickserver: demo market-data WebSocket server.
// Speaks the subset of the crypto.com market protocol the feed uses, so the
// trader can run end to end without exchange access:
//
//	-> {"id":1,"method":"subscribe","params":{"channels":["ticker.DOGE_USDT"]}}
//	<- {"id":1,"method":"subscribe","code":0}
//	<- {"id":-1,"method":"subscribe","code":0,"result":{"instrument_name":"DOGE_USDT",
//	     "subscription":"ticker.DOGE_USDT","channel":"ticker","data":[{"i":"DOGE_USDT","a":0.1234,...,"t":1700000000000}]}}
//	<- {"id":7,"method":"public/heartbeat","code":0}
//	-> {"id":7,"method":"public/respond-heartbeat"}
//
// Clients that miss two heartbeats in a row are disconnected.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR     listen address (default ":9001")
//	TICK_INSTRUMENTS     comma-separated NAME:START_PRICE pairs (default "DOGE_USDT:0.12")
//	TICK_INTERVAL_MS     broadcast interval in milliseconds (default 250)
//	HEARTBEAT_INTERVAL_S heartbeat interval in seconds (default 10, 0 disables)
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// message mirrors the exchange envelope.
type message struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  *tickerResult   `json:"result,omitempty"`
}

type tickerResult struct {
	InstrumentName string       `json:"instrument_name"`
	Subscription   string       `json:"subscription"`
	Channel        string       `json:"channel"`
	Data           []tickerData `json:"data"`
}

type tickerData struct {
	I string  `json:"i"`
	A float64 `json:"a"`
	B float64 `json:"b"`
	K float64 `json:"k"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	V float64 `json:"v"`
	T int64   `json:"t"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Name   string
	Price  float64
	High   float64
	Low    float64
	Volume float64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	out chan []byte

	mu   sync.Mutex
	subs map[string]bool
}

func (c *client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[channel]
}

func (c *client) subscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.subs[ch] = true
	}
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
	nextID  atomic.Int64
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{out: make(chan []byte, 256), subs: make(map[string]bool)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.out)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// publish sends msg to every client subscribed to channel ("" means all).
func (h *hub) publish(channel string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if channel != "" && !c.subscribed(channel) {
			continue
		}
		select {
		case c.out <- msg:
		default: // slow client, drop
		}
	}
}

// sendTo queues msg for one client if it is still registered.
func (h *hub) sendTo(conn *websocket.Conn, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[conn]; ok {
		select {
		case c.out <- msg:
		default:
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, heartbeat time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		c := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		var lastPong atomic.Int64
		lastPong.Store(time.Now().UnixNano())

		// Read pump: subscriptions and heartbeat responses.
		go func() {
			defer conn.Close()
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var req message
				if err := json.Unmarshal(raw, &req); err != nil {
					log.Printf("[tickserver] bad request from %s: %v", r.RemoteAddr, err)
					continue
				}
				switch req.Method {
				case "subscribe":
					var p struct {
						Channels []string `json:"channels"`
					}
					json.Unmarshal(req.Params, &p)
					c.subscribe(p.Channels)
					log.Printf("[tickserver] %s subscribed to %v", r.RemoteAddr, p.Channels)
					ack, _ := json.Marshal(message{ID: req.ID, Method: "subscribe"})
					h.sendTo(conn, ack)
				case "public/respond-heartbeat":
					lastPong.Store(time.Now().UnixNano())
				}
			}
		}()

		var hb <-chan time.Time
		if heartbeat > 0 {
			t := time.NewTicker(heartbeat)
			defer t.Stop()
			hb = t.C
		}

		// Write pump.
		for {
			select {
			case msg, ok := <-c.out:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-hb:
				if time.Since(time.Unix(0, lastPong.Load())) > 2*heartbeat {
					log.Printf("[tickserver] %s missed heartbeats, dropping", r.RemoteAddr)
					return
				}
				b, _ := json.Marshal(message{ID: h.nextID.Add(1), Method: "public/heartbeat"})
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a small random walk (up to ±0.1%).
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next <= 0 {
		next = price
	}
	return next
}

// tickerFrame builds the push message for one instrument.
func tickerFrame(in instrument, now time.Time) []byte {
	spread := in.Price * 0.0005
	msg := message{
		ID:     -1,
		Method: "subscribe",
		Result: &tickerResult{
			InstrumentName: in.Name,
			Subscription:   "ticker." + in.Name,
			Channel:        "ticker",
			Data: []tickerData{{
				I: in.Name,
				A: in.Price,
				B: in.Price - spread,
				K: in.Price + spread,
				H: in.High,
				L: in.Low,
				V: in.Volume,
				T: now.UnixMilli(),
			}},
		},
	}
	b, _ := json.Marshal(msg)
	return b
}

func (in *instrument) step() {
	in.Price = walkPrice(in.Price)
	if in.Price > in.High {
		in.High = in.Price
	}
	if in.Low == 0 || in.Price < in.Low {
		in.Low = in.Price
	}
	in.Volume += float64(rand.Intn(1000) + 1)
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for i := range instruments {
				instruments[i].step()
				h.publish("ticker."+instruments[i].Name, tickerFrame(instruments[i], now.UTC()))
			}
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("TICK_INSTRUMENTS", "DOGE_USDT:0.12"))
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 250)) * time.Millisecond
	heartbeat := time.Duration(envIntOrDefault("HEARTBEAT_INTERVAL_S", 10)) * time.Second

	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_INSTRUMENTS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %s, heartbeat: %s", interval, heartbeat)

	h := newHub()
	go runGenerator(h, instruments, interval, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/market", wsHandler(h, heartbeat))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (WS_URL=ws://localhost%s/v2/market)", addr, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		name := strings.ToUpper(strings.TrimSpace(seg[0]))
		price := 1.0
		if len(seg) == 2 {
			p, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
			if err != nil || p <= 0 {
				log.Printf("[tickserver] skipping invalid instrument spec: %q", part)
				continue
			}
			price = p
		}
		result = append(result, instrument{Name: name, Price: price, High: price, Low: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
