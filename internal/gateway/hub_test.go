package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	"algotrade/internal/strategy"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type msg struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	ChannelSeq int64           `json:"channel_seq"`
	Type       string          `json:"type"`
}

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(WithClock(func() time.Time { return t0 }))
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads one message, splitting coalesced frames.
func next(t *testing.T, conn *websocket.Conn, pending *[][]byte) msg {
	t.Helper()
	if len(*pending) == 0 {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		*pending = bytes.Split(raw, []byte{'\n'})
	}
	raw := (*pending)[0]
	*pending = (*pending)[1:]
	var m msg
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("bad message %s: %v", raw, err)
	}
	return m
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnvelopeFormat(t *testing.T) {
	env := envelope("signal", []byte(`{"direction":"BUY"}`), t0, 42)

	var m msg
	if err := json.Unmarshal(env, &m); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, env)
	}
	if m.Channel != "signal" || m.ChannelSeq != 42 {
		t.Errorf("envelope = %+v", m)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, m.TS); err != nil || !parsed.Equal(t0) {
		t.Errorf("ts = %q (%v)", m.TS, err)
	}
	if string(m.Data) != `{"direction":"BUY"}` {
		t.Errorf("data = %s", m.Data)
	}
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	h, url := newTestHub(t)
	all := dial(t, url)
	tradesOnly := dial(t, url+"?channels=trade")
	waitClients(t, h, 2)

	ctx := context.Background()
	sig := strategy.Signal{Direction: strategy.Buy, Grade: strategy.GradeStrong, Strength: 45, Price: 0.12, TS: t0}
	if err := h.PublishSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}
	if err := h.PublishTrade(ctx, model.Trade{PositionID: "p1", PnL: 3, Reason: model.CloseTakeProfit}); err != nil {
		t.Fatal(err)
	}

	var pa, pt [][]byte
	m := next(t, all, &pa)
	if m.Channel != ChannelSignal || m.ChannelSeq != 1 {
		t.Fatalf("first message = %+v", m)
	}
	var got struct {
		Direction strategy.Direction `json:"direction"`
		Summary   string             `json:"summary"`
	}
	json.Unmarshal(m.Data, &got)
	if got.Direction != strategy.Buy || !strings.HasPrefix(got.Summary, "BUY (strong)") {
		t.Errorf("signal payload = %s", m.Data)
	}
	if m := next(t, all, &pa); m.Channel != ChannelTrade {
		t.Errorf("second message = %+v", m)
	}

	m = next(t, tradesOnly, &pt)
	if m.Channel != ChannelTrade || !strings.Contains(string(m.Data), `"p1"`) {
		t.Errorf("filtered client got %+v", m)
	}
}

func TestHub_LatestSentOnConnect(t *testing.T) {
	h, url := newTestHub(t)
	h.PublishSnapshot(context.Background(), &indicator.Snapshot{TS: t0, Close: 0.5, Count: 3})
	h.PublishSnapshot(context.Background(), &indicator.Snapshot{TS: t0, Close: 0.6, Count: 4})

	conn := dial(t, url+"?channels=snapshot")
	var p [][]byte
	m := next(t, conn, &p)
	if m.Channel != ChannelSnapshot || m.ChannelSeq != 2 || !strings.Contains(string(m.Data), `"close":0.6`) {
		t.Errorf("initial = %+v %s", m, m.Data)
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	h, url := newTestHub(t)
	conn := dial(t, url+"?channels=snapshot")
	waitClients(t, h, 1)

	var p [][]byte
	conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"signal"}})
	if m := next(t, conn, &p); m.Type != "subscribed" {
		t.Fatalf("ack = %+v", m)
	}
	conn.WriteJSON(map[string]any{"type": "unsubscribe", "channels": []string{"snapshot"}})
	if m := next(t, conn, &p); m.Type != "unsubscribed" {
		t.Fatalf("ack = %+v", m)
	}

	h.Broadcast(ChannelSnapshot, []byte(`{}`))
	h.Broadcast(ChannelSignal, []byte(`{}`))
	if m := next(t, conn, &p); m.Channel != ChannelSignal {
		t.Errorf("got %+v, want signal only", m)
	}

	conn.WriteJSON(map[string]any{"type": "ping", "ping": 7})
	if m := next(t, conn, &p); m.Type != "pong" {
		t.Errorf("ping reply = %+v", m)
	}
}

func TestHub_ReplayAndDisconnect(t *testing.T) {
	h, url := newTestHub(t)
	for i := 0; i < 5; i++ {
		h.Broadcast(ChannelTrade, []byte(`{}`))
	}
	if h.ChannelSeq(ChannelTrade) != 5 {
		t.Errorf("seq = %d", h.ChannelSeq(ChannelTrade))
	}
	got := h.Replay(ChannelTrade, 2, 4)
	if len(got) != 3 {
		t.Fatalf("replay = %d envelopes", len(got))
	}
	var m msg
	json.Unmarshal(got[0], &m)
	if m.ChannelSeq != 2 {
		t.Errorf("first replayed seq = %d", m.ChannelSeq)
	}
	if h.Replay("unknown", 1, 10) != nil {
		t.Error("unknown channel should replay nothing")
	}

	conn := dial(t, url)
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)
}
