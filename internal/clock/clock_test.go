package clock

import (
	"sync"
	"time"
)

// fakeProcessor is the shared test double for clock tests. Concurrent
// fan-out may tick it from several goroutines, so counters are guarded.
type fakeProcessor struct {
	mu            sync.Mutex
	name          string
	startCalled   bool
	stopCalled    bool
	stopCount     int
	tickCount     int
	lastTimestamp float64

	sleep        time.Duration
	slowAttempts int // first N ticks sleep, later ones return fast
	calls        int

	tickErr  error
	startErr error
	stopErr  error
}

func newFakeProcessor(name string) *fakeProcessor {
	return &fakeProcessor{name: name}
}

func (f *fakeProcessor) Start(ts float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.startCalled = true
	f.lastTimestamp = ts
	return nil
}

func (f *fakeProcessor) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled = true
	f.stopCount++
	return f.stopErr
}

func (f *fakeProcessor) Tick(ts float64) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	tickErr := f.tickErr
	sleep := f.sleep
	slowAttempts := f.slowAttempts
	f.mu.Unlock()

	if tickErr != nil {
		return tickErr
	}
	if sleep > 0 && (slowAttempts == 0 || call <= slowAttempts) {
		time.Sleep(sleep)
	}

	f.mu.Lock()
	f.tickCount++
	f.lastTimestamp = ts
	f.mu.Unlock()
	return nil
}

func (f *fakeProcessor) String() string {
	return "fake(" + f.name + ")"
}

func (f *fakeProcessor) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCount
}

func (f *fakeProcessor) ticks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickCount
}

func (f *fakeProcessor) lastTS() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTimestamp
}

func backtestConfig() Config {
	cfg := DefaultConfig(ModeBacktest)
	cfg.StartTime = 1000
	cfg.EndTime = 1010
	cfg.ProcessorTimeout = 0.5
	cfg.MaxRetries = 2
	cfg.StatsWindowSize = 10
	return cfg
}

func realtimeConfig() Config {
	cfg := DefaultConfig(ModeRealtime)
	cfg.TickSize = 0.1
	cfg.ProcessorTimeout = 1.0
	cfg.MaxRetries = 2
	cfg.StatsWindowSize = 10
	return cfg
}

// errorRecorder collects error-callback invocations.
type errorRecorder struct {
	mu     sync.Mutex
	errors []error
	procs  []Processor
}

func (r *errorRecorder) callback(p Processor, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs = append(r.procs, p)
	r.errors = append(r.errors, err)
}

func (r *errorRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func (r *errorRecorder) first() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return nil
	}
	return r.errors[0]
}
