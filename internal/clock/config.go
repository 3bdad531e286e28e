package clock

import "fmt"

// Mode selects the time-advance strategy a clock runs with.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeBacktest
	ModeRealtime
)

func (m Mode) String() string {
	switch m {
	case ModeBacktest:
		return "backtest"
	case ModeRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

const (
	defaultTickSize         = 1.0
	defaultProcessorTimeout = 1.0
	defaultMaxRetries       = 3
	defaultStatsWindowSize  = 100
)

// Config is the immutable run configuration for a clock. Fields are never
// mutated after construction; derive variants by copying the value and
// replacing fields.
type Config struct {
	// Mode determines which clock type accepts this config.
	Mode Mode

	// TickSize is the simulated seconds advanced per tick.
	TickSize float64

	// StartTime and EndTime bound the simulated run. Only meaningful in
	// backtest mode; EndTime must be > 0 there.
	StartTime float64
	EndTime   float64

	// ProcessorTimeout is the real seconds allowed per processor per
	// tick attempt.
	ProcessorTimeout float64

	// MaxRetries is the retry budget per tick per processor, spent only
	// on timeouts.
	MaxRetries int

	// RetryBackoff is the base delay in seconds between timeout
	// retries, doubled per consecutive retry of the same tick. Zero
	// disables the delay.
	RetryBackoff float64

	// ConcurrentProcessors selects parallel fan-out instead of the
	// sequential fail-fast chain.
	ConcurrentProcessors bool

	// StatsWindowSize caps the retained execution-time samples per
	// processor.
	StatsWindowSize int
}

// DefaultConfig returns the baseline configuration for the given mode.
func DefaultConfig(mode Mode) Config {
	return Config{
		Mode:             mode,
		TickSize:         defaultTickSize,
		ProcessorTimeout: defaultProcessorTimeout,
		MaxRetries:       defaultMaxRetries,
		StatsWindowSize:  defaultStatsWindowSize,
	}
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.Mode != ModeBacktest && c.Mode != ModeRealtime {
		return fmt.Errorf("mode must be backtest or realtime")
	}
	if c.TickSize <= 0 {
		return fmt.Errorf("tick_size must be > 0")
	}
	if c.EndTime < c.StartTime {
		return fmt.Errorf("end_time must be >= start_time")
	}
	if c.ProcessorTimeout <= 0 {
		return fmt.Errorf("processor_timeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must be >= 0")
	}
	if c.StatsWindowSize <= 0 {
		return fmt.Errorf("stats_window_size must be > 0")
	}
	return nil
}
