package main

import (
	"context"
	"flag"
	"log"
	"math"
	"time"

	"main/internal/clock"
	"main/internal/ops"
	"main/internal/processor"
	"main/internal/report"
	"main/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	duration := flag.Float64("duration", 0, "Seconds to run (0=until interrupted)")
	tickSize := flag.Float64("tick", 0, "Seconds per tick")
	checkURL := flag.String("check-url", "", "URL probed for connectivity")
	lagThreshold := flag.Float64("lag-threshold", 0.5, "Average execution seconds before a processor is reported lagging")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *tickSize != 0 {
		loaded.Clock.TickSize = *tickSize
	}
	if *checkURL != "" {
		loaded.Monitor.CheckURL = *checkURL
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "clockwork/monitor",
			ServerAddress:   *pyroscopeAddr,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if err := run(context.Background(), loaded, *duration, *lagThreshold); err != nil {
		log.Fatalf("monitor failed: %v", err)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Resolve(ops.FileConfig{Clock: ops.ClockConfig{Mode: "realtime"}})
	}
	return ops.Load(path)
}

func run(ctx context.Context, loaded ops.Loaded, duration, lagThreshold float64) error {
	loaded.Clock.Mode = clock.ModeRealtime

	rt, err := clock.NewRealtimeClock(loaded.Clock, func(p clock.Processor, err error) {
		logs.Warnf("processor %v failed: %v", p, err)
	})
	if err != nil {
		return err
	}

	network := processor.NewNetwork(networkConfig(loaded.Monitor, loaded.Clock.StatsWindowSize))
	if err := rt.AddProcessor(network); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	target := math.MaxFloat64
	if duration > 0 {
		target = rt.CurrentTimestamp() + duration
	}

	logs.Infof("monitoring with tick %.3fs, probing %s", rt.TickSize(), loaded.Monitor.CheckURL)

	err = rt.Scope(ctx, func(ctx context.Context) error {
		reporter := time.NewTicker(10 * time.Second)
		defer reporter.Stop()
		go func() {
			for {
				select {
				case <-reporter.C:
					reportStatus(rt, network, lagThreshold)
				case <-ctx.Done():
					return
				}
			}
		}()
		return rt.RunTil(ctx, target)
	})
	if err != nil && ctx.Err() == nil {
		return err
	}

	reportStatus(rt, network, lagThreshold)
	if loaded.Report.Enabled {
		return flushStats(rt, loaded.Report)
	}
	return nil
}

func networkConfig(cfg ops.MonitorConfig, windowSize int) processor.NetworkConfig {
	return processor.NetworkConfig{
		CheckURL:        cfg.CheckURL,
		CheckInterval:   secondsToDuration(cfg.CheckInterval),
		CheckTimeout:    secondsToDuration(cfg.CheckTimeout),
		StatsWindowSize: windowSize,
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func reportStatus(rt *clock.RealtimeClock, network *processor.Network, lagThreshold float64) {
	stats, ok := rt.GetProcessorStats(network)
	if !ok {
		return
	}
	logs.Infof("network %s: ticks=%d errors=%d avg=%.6fs max=%.6fs",
		network.NetworkStatus(), stats.TotalTicks, stats.FailedTicks,
		stats.AvgExecutionTime, stats.MaxExecutionTime)
	for _, p := range rt.GetLaggingProcessors(lagThreshold) {
		logs.Warnf("processor %v is lagging", p)
	}
}

func flushStats(rt *clock.RealtimeClock, cfg ops.ReportConfig) error {
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
	return recorder.Flush(rt)
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
