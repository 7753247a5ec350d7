package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"algotrade/internal/model"
	"algotrade/pkg/cryptocom"
)

const (
	methodHeartbeat        = "public/heartbeat"
	methodRespondHeartbeat = "public/respond-heartbeat"
	methodSubscribe        = "subscribe"
)

var (
	errEmptyFrame   = errors.New("empty frame")
	errNoTickerData = errors.New("ticker frame without data")
	errBadTicker    = errors.New("ticker without price or timestamp")
)

// request is an outbound message (subscribe, heartbeat response).
type request struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
	Nonce  int64          `json:"nonce,omitempty"`
}

func subscribeRequest(id int64, inst model.Instrument) request {
	return request{
		ID:     id,
		Method: methodSubscribe,
		Params: map[string]any{"channels": []string{inst.TickerChannel()}},
		Nonce:  time.Now().UnixMilli(),
	}
}

// frame is an inbound message. Ticker pushes carry Result.Data.
type frame struct {
	ID      int64        `json:"id"`
	Method  string       `json:"method"`
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Result  *frameResult `json:"result"`
}

type frameResult struct {
	InstrumentName string       `json:"instrument_name"`
	Subscription   string       `json:"subscription"`
	Channel        string       `json:"channel"`
	Data           []tickerData `json:"data"`
}

// tickerData is one ticker row: a = last trade, b = best bid, k = best ask,
// h/l/v = 24h high, low, volume, t = epoch ms.
type tickerData struct {
	I string           `json:"i"`
	A cryptocom.Number `json:"a"`
	B cryptocom.Number `json:"b"`
	K cryptocom.Number `json:"k"`
	H cryptocom.Number `json:"h"`
	L cryptocom.Number `json:"l"`
	V cryptocom.Number `json:"v"`
	T int64            `json:"t"`
}

func parseFrame(raw []byte) (frame, error) {
	var f frame
	if len(strings.TrimSpace(string(raw))) == 0 {
		return f, errEmptyFrame
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// isTicker reports whether f is a ticker push (as opposed to an ack).
func (f *frame) isTicker() bool {
	if f.Result == nil {
		return false
	}
	return f.Result.Channel == "ticker" || strings.HasPrefix(f.Result.Subscription, "ticker.")
}

// tickers normalizes every data row of a ticker push.
func (f *frame) tickers() ([]model.Ticker, error) {
	if f.Result == nil || len(f.Result.Data) == 0 {
		return nil, errNoTickerData
	}
	out := make([]model.Ticker, 0, len(f.Result.Data))
	for _, d := range f.Result.Data {
		t, err := d.normalize(f.Result.InstrumentName)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (d tickerData) normalize(instrument string) (model.Ticker, error) {
	// Older payloads carry only k; use it when the last trade is absent.
	price := d.A.Float()
	if price <= 0 {
		price = d.K.Float()
	}
	if price <= 0 || d.T <= 0 {
		return model.Ticker{}, errBadTicker
	}
	if instrument == "" {
		instrument = d.I
	}
	return model.Ticker{
		Instrument: instrument,
		Price:      price,
		Bid:        d.B.Float(),
		Ask:        d.K.Float(),
		High24h:    d.H.Float(),
		Low24h:     d.L.Float(),
		Volume24h:  d.V.Float(),
		TS:         time.UnixMilli(d.T).UTC(),
	}, nil
}

// truncate shortens raw payloads for log lines.
func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
