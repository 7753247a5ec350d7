package history

import (
	"context"
	"sort"
	"time"

	"algotrade/internal/model"
	"algotrade/pkg/cryptocom"
)

// CryptoComSource reads public/get-candlestick.
type CryptoComSource struct {
	client *cryptocom.Client
}

// NewCryptoComSource wraps a REST client.
func NewCryptoComSource(c *cryptocom.Client) *CryptoComSource {
	return &CryptoComSource{client: c}
}

func (s *CryptoComSource) Candles(ctx context.Context, instrument model.Instrument, timeframe string, n int) ([]model.Candle, error) {
	rows, err := s.client.Candlestick(ctx, instrument.String(), timeframe, n)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(rows))
	for _, k := range rows {
		out = append(out, model.Candle{
			TS:     time.UnixMilli(k.T).UTC(),
			Open:   k.O.Float(),
			High:   k.H.Float(),
			Low:    k.L.Float(),
			Close:  k.C.Float(),
			Volume: k.V.Float(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return tail(out, n), nil
}
