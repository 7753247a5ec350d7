package history

import (
	"context"
	"fmt"
	"time"

	"algotrade/internal/model"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// binanceMaxLimit is the largest page the klines endpoint returns.
const binanceMaxLimit = 1000

// BinanceSource reads spot klines. Instruments are mapped to the compact
// Binance symbol (DOGE_USDT -> DOGEUSDT). Useful when the primary exchange
// candle endpoint is unavailable.
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource creates a source on a public (key-less) client. baseURL
// overrides the API host when non-empty.
func NewBinanceSource(baseURL string) *BinanceSource {
	c := binance.NewClient("", "")
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	return &BinanceSource{client: c}
}

func (s *BinanceSource) Candles(ctx context.Context, instrument model.Instrument, timeframe string, n int) ([]model.Candle, error) {
	limit := n
	if limit <= 0 || limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}
	klines, err := s.client.NewKlinesService().
		Symbol(instrument.Compact()).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	out := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(k)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return tail(out, n), nil
}

func klineToCandle(k *binance.Kline) (model.Candle, error) {
	vals := make([]float64, 5)
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, fmt.Errorf("binance kline %d field %d: %w", k.OpenTime, i, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return model.Candle{
		TS:     time.UnixMilli(k.OpenTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}
