package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"main/internal/clock"
	"main/internal/ops"
	"main/internal/paper"
	"main/internal/report"
	"main/pkg/conn"

	"github.com/yanun0323/logs"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	startTime := flag.Float64("start", 0, "Simulated start timestamp in unix seconds")
	endTime := flag.Float64("end", 0, "Simulated end timestamp in unix seconds")
	tickSize := flag.Float64("tick", 0, "Simulated seconds per tick")
	timeout := flag.Float64("timeout", 0, "Per-attempt processor timeout in seconds")
	concurrent := flag.Bool("concurrent", false, "Run processors concurrently per tick")
	seed := flag.Int64("seed", 0, "Price walk seed (0=default)")
	traders := flag.Int("traders", 1, "Number of paper traders to drive")
	flag.Parse()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	applyFlags(&loaded, *startTime, *endTime, *tickSize, *timeout, *concurrent, *seed)

	if err := run(context.Background(), loaded, *traders); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Resolve(ops.FileConfig{})
	}
	return ops.Load(path)
}

func applyFlags(loaded *ops.Loaded, start, end, tick, timeout float64, concurrent bool, seed int64) {
	if start != 0 {
		loaded.Clock.StartTime = start
	}
	if end != 0 {
		loaded.Clock.EndTime = end
	}
	if tick != 0 {
		loaded.Clock.TickSize = tick
	}
	if timeout != 0 {
		loaded.Clock.ProcessorTimeout = timeout
	}
	if concurrent {
		loaded.Clock.ConcurrentProcessors = true
	}
	if seed != 0 {
		loaded.Paper.Seed = seed
	}
}

func run(ctx context.Context, loaded ops.Loaded, traders int) error {
	if traders <= 0 {
		return fmt.Errorf("traders must be > 0")
	}
	loaded.Clock.Mode = clock.ModeBacktest

	bt, err := clock.NewBacktestClock(loaded.Clock, func(p clock.Processor, err error) {
		logs.Warnf("processor %v failed: %v", p, err)
	})
	if err != nil {
		return err
	}

	accounts := make([]*paper.Processor, 0, traders)
	for i := 0; i < traders; i++ {
		cfg := loaded.Paper
		cfg.Seed = loaded.Paper.Seed + int64(i)
		trader, err := paper.New(cfg)
		if err != nil {
			return err
		}
		if err := bt.AddProcessor(trader); err != nil {
			return err
		}
		accounts = append(accounts, trader)
	}

	logs.Infof("running backtest from %.3f to %.3f, tick %.3fs, %d traders",
		bt.StartTime(), bt.EndTime(), bt.TickSize(), traders)

	if err := bt.Scope(ctx, func(ctx context.Context) error {
		return bt.Run(ctx)
	}); err != nil {
		return err
	}

	printSummary(bt, accounts)

	if loaded.Report.Enabled {
		if err := flushStats(bt, loaded.Report); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(bt *clock.BacktestClock, accounts []*paper.Processor) {
	fmt.Fprintf(os.Stdout, "ticks executed: %d, final timestamp: %.3f\n",
		bt.TickCounter(), bt.CurrentTimestamp())
	for _, trader := range accounts {
		stats, ok := bt.GetProcessorStats(trader)
		if !ok {
			continue
		}
		_, _, p95, _ := bt.GetProcessorPerformance(trader)
		fmt.Fprintf(os.Stdout,
			"%v: ticks=%d errors=%d avg=%.6fs max=%.6fs p95=%.6fs price=%.4f pnl=%.4f\n",
			trader, stats.TotalTicks, stats.FailedTicks,
			stats.AvgExecutionTime, stats.MaxExecutionTime, p95,
			trader.Price(), trader.RealizedPnL())
	}
}

func flushStats(bt *clock.BacktestClock, cfg ops.ReportConfig) error {
	client, err := conn.New(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logs.Errorf("closing stats database: %v", err)
		}
	}()

	recorder, err := report.NewRecorder(client, cfg.RunID)
	if err != nil {
		return err
	}
	return recorder.Flush(bt)
}
