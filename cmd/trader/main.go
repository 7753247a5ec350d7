package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"algotrade/config"
	"algotrade/internal/api"
	"algotrade/internal/execution"
	"algotrade/internal/gateway"
	"algotrade/internal/indicator"
	"algotrade/internal/logger"
	"algotrade/internal/marketdata/bus"
	"algotrade/internal/marketdata/feed"
	"algotrade/internal/marketdata/history"
	"algotrade/internal/metrics"
	"algotrade/internal/model"
	"algotrade/internal/notification"
	"algotrade/internal/portfolio"
	"algotrade/internal/session"
	"algotrade/internal/store/influx"
	redisstore "algotrade/internal/store/redis"
	sqlitestore "algotrade/internal/store/sqlite"
	"algotrade/internal/strategy"
	"algotrade/internal/trader"
	"algotrade/pkg/cryptocom"
)

func main() {
	cfg := config.Load()
	log := logger.Init("trader", logger.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	rules, err := cfg.Rules()
	if err != nil {
		log.Error("signal rules", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, rules, log); err != nil {
		log.Error("trader exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, rules strategy.RuleSet, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	// ---- Alerts ----
	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.TelegramToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramAPIURL, log)
		if err != nil {
			log.Warn("telegram disabled", "error", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL, log,
			notification.WithWebhookInstrument(cfg.Instrument.String())))
	}
	alerts := notification.NewAsync(notifiers, 64, log)
	alertsDone := make(chan struct{})
	go func() {
		alerts.Run(ctx)
		close(alertsDone)
	}()

	// ---- Exchange client ----
	exchange := cryptocom.New(cryptocom.Config{
		BaseURL:   cfg.RESTURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Logger:    log,
	})

	// ---- Indicator engine + historical seed ----
	engCfg := indicator.DefaultConfig()
	engCfg.ShortWindow = cfg.ShortWindow
	engCfg.LongWindow = cfg.LongWindow
	eng := indicator.NewEngine(engCfg)
	eng.OnStale = func(model.Candle) { prom.StaleCandles.Inc() }
	seed(ctx, cfg, exchange, eng, log)

	// ---- Stores ----
	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
		return fmt.Errorf("journal dir: %w", err)
	}
	journal, err := execution.NewJournal(cfg.JournalPath, log)
	if err != nil {
		return err
	}
	defer journal.Close()

	fanout := bus.New[model.Candle](1000)
	fanout.OnDrop = func(subscriber string) {
		prom.FanoutDropsTotal.WithLabelValues(subscriber).Inc()
	}
	engineIn := fanout.Subscribe("engine")

	var opts []trader.Option
	var redisWriter *redisstore.Writer
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Instrument: cfg.Instrument,
		}, log)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", "error", err)
		}
	}
	if redisWriter != nil {
		redisWriter.OnWrite = func(took time.Duration) { prom.RedisWriteDur.Observe(took.Seconds()) }
		if cfg.RedisBuffered {
			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(_, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			bw := redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
			bw.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
			startSink(ctx, fanout, "redis", bw)
			opts = append(opts, trader.WithPublisher("redis", bw))
		} else {
			startSink(ctx, fanout, "redis", redisWriter)
			opts = append(opts, trader.WithPublisher("redis", redisWriter))
		}
		defer redisWriter.Close()
	}

	if cfg.InfluxURL != "" {
		rec, err := influx.New(ctx, influx.Config{
			URL:        cfg.InfluxURL,
			Token:      cfg.InfluxToken,
			Org:        cfg.InfluxOrg,
			Bucket:     cfg.InfluxBucket,
			Instrument: cfg.Instrument,
			Interval:   cfg.CandleInterval.String(),
		}, log)
		if err != nil {
			log.Warn("influxdb unavailable, continuing without it", "error", err)
		} else {
			startSink(ctx, fanout, "influx", rec)
			opts = append(opts, trader.WithPublisher("influx", rec))
			defer rec.Close()
		}
	}

	if cfg.SQLitePath != "" {
		archive, err := sqlitestore.New(sqlitestore.WriterConfig{
			DBPath:     cfg.SQLitePath,
			Instrument: cfg.Instrument,
		}, log)
		if err != nil {
			return fmt.Errorf("candle archive: %w", err)
		}
		if last, err := archive.LastTimestamp(ctx); err == nil && !last.IsZero() {
			log.Info("candle archive", "path", cfg.SQLitePath, "last_candle", last)
		}
		startSink(ctx, fanout, "sqlite", archive)
		defer archive.Close()
	}

	var rdb *goredis.Client
	if redisWriter != nil {
		rdb = redisWriter.Client()
	}
	health.StartLivenessChecker(ctx, rdb, journal, 10*time.Second)

	// ---- Risk, execution, evaluation loop ----
	risk := portfolio.NewRiskManager(portfolio.RiskConfig{
		StopLossPct:         cfg.StopLossPct,
		TakeProfitPct:       cfg.TakeProfitPct,
		MaxPositions:        cfg.MaxPositions,
		MaxDrawdownPct:      cfg.MaxDrawdownPct,
		MaxVolatility:       cfg.MaxVolatility,
		MaxDailyLossPct:     cfg.MaxDailyLossPct,
		MaxPositionFraction: cfg.MaxPositionFraction,
		InitialEquity:       cfg.InitialEquity,
	}, portfolio.WithRiskLogger(log))

	var ledger execution.Ledger
	if cfg.TradingMode == config.ModeLive {
		placer := &execution.CryptoComPlacer{
			Client:      exchange,
			Instrument:  cfg.Instrument,
			PricePlaces: int32(cfg.PricePlaces),
			QtyPlaces:   int32(cfg.QtyPlaces),
		}
		ledger = execution.NewLiveGateway(execution.LiveConfig{
			Instrument:     cfg.Instrument,
			InitialBalance: cfg.InitialBalance,
			Allocation:     cfg.Allocation,
			QtyPlaces:      int32(cfg.QtyPlaces),
			PollInterval:   cfg.PollInterval,
			PollTimeout:    cfg.PollTimeout,
		}, placer, log)
	} else {
		ledger = execution.NewPaperLedger(execution.PaperConfig{
			InitialBalance: cfg.InitialBalance,
			Allocation:     cfg.Allocation,
			SlippageBps:    cfg.SlippageBps,
		}, log)
	}

	// ---- Live event stream (/ws) ----
	stream := gateway.NewHub(gateway.WithLogger(log))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "algotrade_stream_clients",
		Help: "Connected event stream clients.",
	}, func() float64 { return float64(stream.ClientCount()) }))
	opts = append(opts, trader.WithPublisher("stream", stream))

	opts = append(opts,
		trader.WithJournal(journal),
		trader.WithNotifier(alerts),
		trader.WithMetrics(prom),
		trader.WithHealth(health),
		trader.WithLogger(log),
	)
	tr := trader.New(trader.Config{
		Instrument:   cfg.Instrument.String(),
		EvalInterval: cfg.EvalInterval,
		Location:     cfg.Location(),
	}, eng, strategy.NewGenerator(rules), risk, ledger, opts...)

	// ---- HTTP: API, /metrics, /healthz ----
	router := api.NewRouter(tr,
		api.WithHealth(health),
		api.WithGatherer(reg),
		api.WithTradeStore(journal),
		api.WithStream(stream),
		api.WithLogger(log),
		api.WithLocation(cfg.Location()),
	)
	srv := metrics.NewServer(cfg.HTTPAddr, router, log)
	srv.Start()

	// ---- Pipeline: feed -> fanout -> engine -> trader ----
	candleCh := make(chan model.Candle, 1000)
	f := feed.New(feed.Config{
		URL:                  cfg.WSURL,
		Instrument:           cfg.Instrument,
		HeartbeatTimeout:     cfg.HeartbeatTimeout,
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectCap:         cfg.ReconnectCap,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		CandleInterval:       cfg.CandleInterval,
	}, candleCh, feed.WithLogger(log))
	f.OnStateChange = func(_, to feed.State) {
		prom.FeedState.Set(float64(to))
		health.SetFeedState(to.String(), to == feed.Connected)
		if to == feed.Reconnecting {
			prom.FeedReconnects.Inc()
		}
	}
	f.OnTicker = func(t model.Ticker) {
		prom.TickersTotal.Inc()
		health.SetLastTickTime(t.TS)
	}
	f.OnDrop = func(model.Candle) { prom.DroppedTickers.Inc() }
	f.OnMalformed = func([]byte, error) { prom.MalformedFrames.Inc() }

	go fanout.Run(ctx, candleCh)
	go runEngine(ctx, eng, engineIn, prom)
	go reportSaturation(ctx, fanout, prom)
	go tr.Run(ctx)

	feedErr := make(chan error, 1)
	go func() { feedErr <- f.Run(ctx) }()

	log.Info("trader running",
		"instrument", cfg.Instrument.String(),
		"mode", string(cfg.TradingMode),
		"rules", rules.Version,
		"candle_interval", cfg.CandleInterval.String(),
		"http", cfg.HTTPAddr,
		"session", session.StatusString(time.Now(), cfg.Location()),
	)

	var exitErr error
	select {
	case s := <-sigCh:
		log.Info("shutdown signal received", "signal", s.String())
	case err := <-feedErr:
		if errors.Is(err, feed.ErrReconnectBudgetExhausted) {
			health.SetTradingHalted(true)
			alerts.Send(ctx, notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "Market data feed lost",
				Message: fmt.Sprintf("%s: %v", cfg.Instrument, err),
			})
			exitErr = err
		}
	}

	f.Stop()
	cancel()
	<-alertsDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	stream.Close()
	srv.Stop(shutdownCtx)

	rs := risk.Metrics()
	log.Info("shutdown complete",
		"open_positions", rs.OpenPositions,
		"realized_pnl", rs.RealizedPnL,
		"balance", ledger.Balance(),
		"evaluations", tr.Evaluations(),
	)
	return exitErr
}

// seed warms the engine from the configured history source. Failures are
// logged; the engine then warms up from the live stream.
func seed(ctx context.Context, cfg *config.Config, exchange *cryptocom.Client, eng *indicator.Engine, log *slog.Logger) {
	if cfg.SeedSource == config.SeedNone || cfg.SeedCandles == 0 {
		return
	}
	interval := cfg.CandleInterval
	if interval <= 0 {
		interval = time.Minute
	}

	var src history.Source
	timeframe := cryptoComTimeframe(interval)
	switch cfg.SeedSource {
	case config.SeedCryptoCom:
		src = history.NewCryptoComSource(exchange)
	case config.SeedBinance:
		src = history.NewBinanceSource(cfg.BinanceURL)
		timeframe = binanceTimeframe(interval)
	case config.SeedSQLite:
		r, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			log.Warn("seed archive unavailable", "error", err)
			return
		}
		defer r.Close()
		src = r
	}

	seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := history.Seed(seedCtx, src, eng, cfg.Instrument, timeframe, cfg.SeedCandles,
		history.SkipForming(interval, time.Now()))
	if err != nil {
		log.Warn("history seed failed, warming up from the live stream", "source", cfg.SeedSource, "error", err)
		return
	}
	log.Info("engine seeded", "source", cfg.SeedSource, "candles", n, "warm", eng.Latest().Warm())
}

// startSink subscribes w to the candle fan-out and runs it.
func startSink(ctx context.Context, fanout *bus.FanOut[model.Candle], name string, w model.CandleWriter) {
	go w.Run(ctx, fanout.Subscribe(name))
}

// runEngine feeds candles to the engine and times each update.
func runEngine(ctx context.Context, eng *indicator.Engine, in <-chan model.Candle, prom *metrics.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			start := time.Now()
			if _, accepted := eng.Update(c); accepted {
				prom.CandlesTotal.Inc()
			}
			prom.IndicatorComputeDur.Observe(time.Since(start).Seconds())
		}
	}
}

func reportSaturation(ctx context.Context, fanout *bus.FanOut[model.Candle], prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range fanout.ChannelStats() {
				if s.Cap > 0 {
					pct := float64(s.Len) / float64(s.Cap) * 100
					prom.ChannelSaturationPct.WithLabelValues("fanout_" + s.Name).Set(pct)
				}
			}
		}
	}
}

// cryptoComTimeframe maps an interval to the exchange candlestick timeframe
// ("1m", "5m", "1h", "1D").
func cryptoComTimeframe(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return "1D"
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dm", max(1, int(d/time.Minute)))
	}
}

// binanceTimeframe is the kline interval ("1m", "4h", "1d").
func binanceTimeframe(d time.Duration) string {
	if d >= 24*time.Hour {
		return "1d"
	}
	return cryptoComTimeframe(d)
}
