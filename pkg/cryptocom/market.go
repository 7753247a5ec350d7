package cryptocom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// Number decodes a JSON number or numeric string. The exchange uses both
// depending on endpoint version.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("cryptocom: bad number %q: %w", s, err)
		}
		*n = Number(d.InexactFloat64())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Float returns n as a float64.
func (n Number) Float() float64 { return float64(n) }

// Kline is one candlestick row: t is the bucket start in epoch ms.
type Kline struct {
	T int64  `json:"t"`
	O Number `json:"o"`
	H Number `json:"h"`
	L Number `json:"l"`
	C Number `json:"c"`
	V Number `json:"v"`
}

type candlestickResult struct {
	Instrument string  `json:"instrument_name"`
	Interval   string  `json:"interval"`
	Data       []Kline `json:"data"`
}

// Candlestick fetches recent candles for instrument at timeframe ("1m",
// "5m", "1h", ...). count <= 0 leaves the exchange default.
func (c *Client) Candlestick(ctx context.Context, instrument, timeframe string, count int) ([]Kline, error) {
	q := url.Values{}
	q.Set("instrument_name", instrument)
	q.Set("timeframe", timeframe)
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	var res candlestickResult
	if err := c.public(ctx, "public/get-candlestick", q, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}
