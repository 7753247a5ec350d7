// cmd/backtest replays archived candles from the SQLite archive through the
// indicator engine, signal rules, risk manager and a paper ledger, using the
// same evaluation loop as the live trader.
//
// Strategy and risk parameters come from the usual environment (.env).
//
// Usage:
//
//	go run ./cmd/backtest --db=data/candles.db --from=2024-03-01T00:00:00Z --speed=0
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"algotrade/config"
	"algotrade/internal/execution"
	"algotrade/internal/indicator"
	"algotrade/internal/logger"
	"algotrade/internal/marketdata/replay"
	"algotrade/internal/model"
	"algotrade/internal/portfolio"
	sqlitestore "algotrade/internal/store/sqlite"
	"algotrade/internal/strategy"
	"algotrade/internal/trader"
)

// report summarizes one backtest run.
type report struct {
	Candles     int
	Evaluations uint64
	Buys        int
	Sells       int
	OpenAtEnd   int
	LastClose   float64
	Balance     float64
	TotalValue  float64
	Risk        model.RiskState
	Performance portfolio.PerformanceStats
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	dbPath := flag.String("db", cfg.SQLitePath, "Path to the SQLite candle archive")
	fromStr := flag.String("from", "", "Start time, RFC3339 or unix seconds (empty = all)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	instrument := flag.String("instrument", cfg.Instrument.String(), "Instrument to replay")
	journalPath := flag.String("journal", "", "Optional SQLite journal for the simulated trades")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("[backtest] no archive: set --db or SQLITE_PATH")
	}
	from, err := parseFrom(*fromStr)
	if err != nil {
		log.Fatalf("[backtest] bad --from: %v", err)
	}
	rules, err := cfg.Rules()
	if err != nil {
		log.Fatalf("[backtest] signal rules: %v", err)
	}
	cfg.Instrument = model.ParseInstrument(*instrument)
	slogger := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	var opts []trader.Option
	if *journalPath != "" {
		journal, err := execution.NewJournal(*journalPath, slogger)
		if err != nil {
			log.Fatalf("[backtest] journal: %v", err)
		}
		defer journal.Close()
		opts = append(opts, trader.WithJournal(journal))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	candleCh := make(chan model.Candle, 1000)
	go func() {
		defer close(candleCh)
		if _, err := replay.New(reader, slogger).Run(ctx, cfg.Instrument, from, *speed, candleCh); err != nil && ctx.Err() == nil {
			log.Printf("[backtest] replay error: %v", err)
		}
	}()

	rep := backtest(ctx, cfg, rules, candleCh, slogger, opts...)
	printReport(cfg, rules, rep)
}

// backtest drives the trader from in until it is closed. The trader's clock
// follows candle time so daily resets and debounce behave as they would live.
func backtest(ctx context.Context, cfg *config.Config, rules strategy.RuleSet, in <-chan model.Candle, log *slog.Logger, opts ...trader.Option) report {
	engCfg := indicator.DefaultConfig()
	engCfg.ShortWindow = cfg.ShortWindow
	engCfg.LongWindow = cfg.LongWindow
	eng := indicator.NewEngine(engCfg)

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
	ledger := execution.NewPaperLedger(execution.PaperConfig{
		InitialBalance: cfg.InitialBalance,
		Allocation:     cfg.Allocation,
		SlippageBps:    cfg.SlippageBps,
	}, log)

	var now time.Time
	opts = append([]trader.Option{
		trader.WithClock(func() time.Time { return now }),
		trader.WithLogger(log),
	}, opts...)
	tr := trader.New(trader.Config{
		Instrument: cfg.Instrument.String(),
		Location:   cfg.Location(),
	}, eng, strategy.NewGenerator(rules), risk, ledger, opts...)

	var rep report
	for c := range in {
		if ctx.Err() != nil {
			break
		}
		now = c.TS
		if _, ok := eng.Update(c); !ok {
			continue
		}
		rep.Candles++
		rep.LastClose = c.Close
		sig, ok := tr.Step(ctx)
		if !ok {
			continue
		}
		switch sig.Direction {
		case strategy.Buy:
			rep.Buys++
		case strategy.Sell:
			rep.Sells++
		}
	}

	rep.Evaluations = tr.Evaluations()
	rep.OpenAtEnd = len(risk.Positions())
	rep.Balance = ledger.Balance()
	rep.TotalValue = ledger.TotalValue(rep.LastClose)
	rep.Risk = risk.Metrics()
	rep.Performance = risk.Performance()
	return rep
}

func printReport(cfg *config.Config, rules strategy.RuleSet, r report) {
	p := r.Performance
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Instrument:        %-16s ║\n", cfg.Instrument)
	fmt.Printf("║  Rules:             %-16s ║\n", rules.Version)
	fmt.Printf("║  Candles processed: %-16d ║\n", r.Candles)
	fmt.Printf("║  Buy / Sell signals:%-16s ║\n", fmt.Sprintf(" %d / %d", r.Buys, r.Sells))
	fmt.Printf("║  Closed trades:     %-16d ║\n", p.TotalTrades)
	fmt.Printf("║  Win rate:          %-16s ║\n", fmt.Sprintf("%.1f%%", p.WinRate))
	fmt.Printf("║  Avg return:        %-16s ║\n", fmt.Sprintf("%.2f%%", p.AvgReturnPct))
	fmt.Printf("║  Realized PnL:      %-16.4f ║\n", p.TotalPnL)
	fmt.Printf("║  Max drawdown:      %-16s ║\n", fmt.Sprintf("%.2f%%", r.Risk.MaxDrawdownPct))
	fmt.Printf("║  Open at end:       %-16d ║\n", r.OpenAtEnd)
	fmt.Printf("║  Final value:       %-16.4f ║\n", r.TotalValue)
	fmt.Println("╚══════════════════════════════════════╝")
}

// parseFrom accepts RFC3339 or unix seconds; empty means the whole archive.
func parseFrom(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
