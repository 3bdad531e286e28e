package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// Processor is the capability contract a unit of work satisfies to be
// driven by a clock.
type Processor interface {
	// Start is called once when the processor is activated, with the
	// clock's current timestamp.
	Start(timestamp float64) error

	// Stop is called once when the processor is deactivated.
	Stop() error

	// Tick is invoked once per scheduled tick while active.
	Tick(timestamp float64) error
}

// ContextTicker is implemented by processors whose tick honors
// cancellation. When present, the engine prefers it over Tick and attaches
// the attempt deadline to the context.
type ContextTicker interface {
	TickContext(ctx context.Context, timestamp float64) error
}

// ErrorCallback receives every processor failure, timeout or otherwise,
// before it propagates. It runs inline on the tick control flow and must
// not block indefinitely.
type ErrorCallback func(p Processor, err error)

// BaseClock owns the processor registry, the scope lifecycle, and the tick
// execution engine shared by both clock variants.
//
// A run is scoped: Enter the clock, operate, Exit the clock. Scope wraps
// the pattern with a guaranteed Exit. The registry is mutated only by the
// owning control flow; the mutex exists so the read-only query API stays
// safe from other goroutines while a run is in flight.
type BaseClock struct {
	mu  sync.RWMutex
	cfg Config

	processors []Processor
	states     map[Processor]ProcessorState

	current     float64
	tickCounter int64

	snapshot  []Processor // captured at Enter, nil outside a scope
	started   bool
	running   bool
	runActive bool

	runCancel context.CancelFunc

	errorCallback ErrorCallback

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newBaseClock(cfg Config, cb ErrorCallback) *BaseClock {
	return &BaseClock{
		cfg:           cfg,
		states:        make(map[Processor]ProcessorState),
		current:       cfg.StartTime,
		errorCallback: cb,
		now:           time.Now,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config returns the clock's configuration value.
func (b *BaseClock) Config() Config {
	return b.cfg
}

// Mode returns the configured clock mode.
func (b *BaseClock) Mode() Mode {
	return b.cfg.Mode
}

// TickSize returns the simulated seconds advanced per tick.
func (b *BaseClock) TickSize() float64 {
	return b.cfg.TickSize
}

// CurrentTimestamp returns the clock's current simulated time.
func (b *BaseClock) CurrentTimestamp() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// TickCounter returns the number of ticks executed so far.
func (b *BaseClock) TickCounter() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tickCounter
}

// Processors returns the registered processors in registration order.
func (b *BaseClock) Processors() []Processor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Processor, len(b.processors))
	copy(out, b.processors)
	return out
}

// Enter opens the clock's scope: it captures the processor snapshot and
// starts every registered processor at the current timestamp. It fails
// with ErrContext if a scope is already open or the clock is still marked
// running, and with a wrapped ErrClock if a processor refuses to start.
func (b *BaseClock) Enter(ctx context.Context) error {
	b.mu.Lock()
	if b.snapshot != nil {
		b.mu.Unlock()
		return contextErrorf("clock is already in a context")
	}
	if b.running {
		b.mu.Unlock()
		return contextErrorf("clock is still running")
	}
	snapshot := make([]Processor, len(b.processors))
	copy(snapshot, b.processors)
	current := b.current
	b.mu.Unlock()

	for i, p := range snapshot {
		if err := p.Start(current); err != nil {
			for _, started := range snapshot[:i] {
				if stopErr := started.Stop(); stopErr != nil {
					logs.Errorf("stop processor %s during aborted enter: %+v", processorName(started), stopErr)
				}
			}
			return clockErrorf("start processor %s: %v", processorName(p), err)
		}
	}

	b.mu.Lock()
	b.snapshot = snapshot
	b.started = true
	b.mu.Unlock()
	return nil
}

// Exit closes the scope: it deactivates and stops the snapshot processors
// and cancels any in-flight run. When the scoped body failed, the context
// marker is deliberately left set, so the next Enter fails with ErrContext
// until Reset is called. This mirrors long-standing caller-visible
// behavior around error paths; see Reset.
func (b *BaseClock) Exit(bodyErr error) {
	b.mu.Lock()
	cancel := b.runCancel
	b.runCancel = nil
	// Processors removed mid-scope were stopped by RemoveProcessor; only
	// the ones still registered get their Stop here.
	stopping := make([]Processor, 0, len(b.snapshot))
	for _, p := range b.snapshot {
		state, ok := b.states[p]
		if !ok {
			continue
		}
		if state.IsActive {
			b.states[p] = state.WithActive(false)
		}
		stopping = append(stopping, p)
	}
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, p := range stopping {
		if err := p.Stop(); err != nil {
			logs.Errorf("stop processor %s: %+v", processorName(p), err)
		}
	}

	b.mu.Lock()
	b.started = false
	b.runActive = false
	if bodyErr == nil {
		b.snapshot = nil
		b.running = false
	}
	b.mu.Unlock()
}

// Reset clears the context marker and running flag after a failed scope.
// Callers that want to re-enter after a body error must call it first.
func (b *BaseClock) Reset() {
	b.mu.Lock()
	b.snapshot = nil
	b.started = false
	b.running = false
	b.runActive = false
	b.mu.Unlock()
}

// Scope runs fn inside the clock's context, guaranteeing Exit on every
// path including panics. The body error (or Enter error) is returned.
func (b *BaseClock) Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Enter(ctx); err != nil {
		return err
	}
	var err error
	defer func() {
		if r := recover(); r != nil {
			b.Exit(fmt.Errorf("panic: %v", r))
			panic(r)
		}
		b.Exit(err)
	}()
	err = fn(ctx)
	return err
}

// AddProcessor registers a processor with a fresh inactive state. If the
// clock scope is already open, the processor is started immediately at the
// current timestamp; a start failure leaves the registry unchanged.
func (b *BaseClock) AddProcessor(p Processor) error {
	b.mu.Lock()
	if _, ok := b.states[p]; ok {
		b.mu.Unlock()
		return clockErrorf("processor %s is already registered", processorName(p))
	}
	started := b.started
	current := b.current
	b.mu.Unlock()

	if started {
		if err := p.Start(current); err != nil {
			return clockErrorf("start processor %s: %v", processorName(p), err)
		}
	}

	b.mu.Lock()
	b.processors = append(b.processors, p)
	b.states[p] = ProcessorState{}
	b.mu.Unlock()
	return nil
}

// RemoveProcessor unregisters a processor and drops its state. An active
// processor is stopped first; the removal happens regardless, but a stop
// failure is surfaced as a wrapped ErrClock.
func (b *BaseClock) RemoveProcessor(p Processor) error {
	b.mu.Lock()
	state, ok := b.states[p]
	if !ok {
		b.mu.Unlock()
		return clockErrorf("processor %s is not registered", processorName(p))
	}
	active := state.IsActive || b.started
	delete(b.states, p)
	for i, registered := range b.processors {
		if registered == p {
			b.processors = append(b.processors[:i], b.processors[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if active {
		if err := p.Stop(); err != nil {
			return clockErrorf("stop processor %s: %v", processorName(p), err)
		}
	}
	return nil
}

// PauseProcessor clears the processor's activity flag. Idempotent; fails
// only when the processor is not registered.
func (b *BaseClock) PauseProcessor(p Processor) error {
	return b.setActive(p, false)
}

// ResumeProcessor sets the processor's activity flag. Idempotent; fails
// only when the processor is not registered.
func (b *BaseClock) ResumeProcessor(p Processor) error {
	return b.setActive(p, true)
}

func (b *BaseClock) setActive(p Processor, active bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.states[p]
	if !ok {
		return clockErrorf("processor %s is not registered", processorName(p))
	}
	b.states[p] = state.WithActive(active)
	return nil
}

// GetProcessorState returns the processor's current state snapshot.
func (b *BaseClock) GetProcessorState(p Processor) (ProcessorState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	state, ok := b.states[p]
	return state, ok
}

// GetProcessorStats returns the derived summary statistics.
func (b *BaseClock) GetProcessorStats(p Processor) (Stats, bool) {
	state, ok := b.GetProcessorState(p)
	if !ok {
		return Stats{}, false
	}
	return state.Snapshot(), true
}

// GetProcessorPerformance returns mean, sample standard deviation and the
// 95th percentile over the retained execution-time window.
func (b *BaseClock) GetProcessorPerformance(p Processor) (mean, stdDev, p95 float64, ok bool) {
	state, ok := b.GetProcessorState(p)
	if !ok {
		return 0, 0, 0, false
	}
	return state.AvgExecutionTime(), state.StdDevExecutionTime(), state.ExecutionPercentile(95), true
}

// GetLaggingProcessors returns the active processors whose average
// execution time exceeds the threshold in seconds.
func (b *BaseClock) GetLaggingProcessors(threshold float64) []Processor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var lagging []Processor
	for _, p := range b.processors {
		state := b.states[p]
		if state.IsActive && state.AvgExecutionTime() > threshold {
			lagging = append(lagging, p)
		}
	}
	return lagging
}

func (b *BaseClock) setCurrent(ts float64) {
	b.mu.Lock()
	b.current = ts
	b.mu.Unlock()
}

func (b *BaseClock) finishTick() {
	b.mu.Lock()
	b.tickCounter++
	b.mu.Unlock()
}

func (b *BaseClock) setState(p Processor, state ProcessorState) {
	b.mu.Lock()
	if _, ok := b.states[p]; ok {
		b.states[p] = state
	}
	b.mu.Unlock()
}

func (b *BaseClock) state(p Processor) ProcessorState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.states[p]
}

// beginRun flips the single-run guard, activates the snapshot processors,
// and returns the run context. It fails when no scope is open or another
// run is in flight.
func (b *BaseClock) beginRun(ctx context.Context) (context.Context, []Processor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runActive {
		return nil, nil, clockErrorf("clock is already running")
	}
	if b.snapshot == nil {
		return nil, nil, clockErrorf("clock must be started in a context")
	}
	b.runActive = true
	b.running = true
	b.started = true

	for _, p := range b.snapshot {
		if state, ok := b.states[p]; ok {
			b.states[p] = state.WithActive(true)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.runCancel = cancel

	snapshot := make([]Processor, len(b.snapshot))
	copy(snapshot, b.snapshot)
	return runCtx, snapshot, nil
}

func (b *BaseClock) endRun() {
	b.mu.Lock()
	b.runActive = false
	if b.runCancel != nil {
		b.runCancel()
		b.runCancel = nil
	}
	b.mu.Unlock()
}

// activeProcessors filters the snapshot down to processors still flagged
// active, preserving registration order.
func (b *BaseClock) activeProcessors(snapshot []Processor) []Processor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var active []Processor
	for _, p := range snapshot {
		if state, ok := b.states[p]; ok && state.IsActive {
			active = append(active, p)
		}
	}
	return active
}

func processorName(p Processor) string {
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", p)
}
