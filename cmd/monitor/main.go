// cmd/monitor is a read-only console for a running trader. It prints the
// latest snapshot and signal plus recent trades from Redis, then follows the
// live pub/sub channels until interrupted.
//
// Config (env vars, .env honoured): INSTRUMENT, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB.
//
// Usage:
//
//	go run ./cmd/monitor --trades=10 --candles
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"algotrade/config"
	"algotrade/internal/indicator"
	"algotrade/internal/logger"
	"algotrade/internal/model"
	redisstore "algotrade/internal/store/redis"
	"algotrade/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	trades := flag.Int64("trades", 10, "Recent trades to print at start")
	candles := flag.Bool("candles", false, "Also follow the candle channel")
	flag.Parse()

	if cfg.RedisAddr == "" {
		log.Fatal("[monitor] REDIS_ADDR is not set")
	}
	slogger := logger.Init("monitor", logger.ParseLevel(cfg.LogLevel))

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		Instrument: cfg.Instrument,
	}, slogger)
	if err != nil {
		log.Fatalf("[monitor] %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Printf("[monitor] %s via %s", cfg.Instrument, cfg.RedisAddr)

	for _, kind := range []redisstore.Kind{redisstore.KindSnapshot, redisstore.KindSignal} {
		raw, err := reader.Latest(ctx, kind)
		switch {
		case errors.Is(err, redisstore.ErrNotFound):
			log.Printf("[monitor] no %s published yet", kind)
		case err != nil:
			log.Printf("[monitor] latest %s: %v", kind, err)
		default:
			fmt.Println(describe(redisstore.Event{Kind: kind, Payload: raw}))
		}
	}

	if *trades > 0 {
		list, err := reader.RecentTrades(ctx, *trades)
		if err != nil {
			log.Printf("[monitor] recent trades: %v", err)
		}
		for i := len(list) - 1; i >= 0; i-- {
			fmt.Println(describeTrade(list[i]))
		}
	}

	kinds := []redisstore.Kind{redisstore.KindSnapshot, redisstore.KindSignal, redisstore.KindTrade}
	if *candles {
		kinds = append(kinds, redisstore.KindCandle)
	}
	events := make(chan redisstore.Event, 256)
	watchErr := make(chan error, 1)
	go func() { watchErr <- reader.Watch(ctx, events, kinds...) }()

	for {
		select {
		case <-ctx.Done():
			log.Println("[monitor] stopped")
			return
		case err := <-watchErr:
			if err != nil {
				log.Fatalf("[monitor] watch: %v", err)
			}
			return
		case ev := <-events:
			fmt.Println(describe(ev))
		}
	}
}

// describe renders one published record as a console line.
func describe(ev redisstore.Event) string {
	switch ev.Kind {
	case redisstore.KindSignal:
		var sig strategy.Signal
		if err := json.Unmarshal(ev.Payload, &sig); err != nil {
			break
		}
		return sig.TS.Format("15:04:05") + " SIGNAL " + sig.Summary()
	case redisstore.KindTrade:
		var t model.Trade
		if err := json.Unmarshal(ev.Payload, &t); err != nil {
			break
		}
		return describeTrade(t)
	case redisstore.KindSnapshot:
		var s indicator.Snapshot
		if err := json.Unmarshal(ev.Payload, &s); err != nil {
			break
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s SNAPSHOT close=%g", s.TS.Format("15:04:05"), s.Close)
		for _, f := range []struct {
			name string
			v    model.Float
		}{
			{"sma_s", s.SMAShort}, {"sma_l", s.SMALong}, {"rsi", s.RSI}, {"macd", s.MACD}, {"atr", s.ATR},
		} {
			if v, ok := f.v.Get(); ok {
				fmt.Fprintf(&b, " %s=%.4f", f.name, v)
			} else {
				fmt.Fprintf(&b, " %s=-", f.name)
			}
		}
		return b.String()
	case redisstore.KindCandle:
		var c model.Candle
		if err := json.Unmarshal(ev.Payload, &c); err != nil {
			break
		}
		return fmt.Sprintf("%s CANDLE o=%g h=%g l=%g c=%g v=%g", c.TS.Format("15:04:05"), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return fmt.Sprintf("%s %s", strings.ToUpper(string(ev.Kind)), ev.Payload)
}

func describeTrade(t model.Trade) string {
	return fmt.Sprintf("%s TRADE %s %s entry=%g exit=%g size=%g pnl=%.4f (%.2f%%)",
		t.ExitTime.Format("15:04:05"), t.PositionID, t.Reason, t.EntryPrice, t.ExitPrice, t.Size, t.PnL, t.ReturnPct)
}
