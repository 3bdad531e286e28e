package clock

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// errAttemptTimeout classifies a single attempt exceeding the processor
// timeout. It is internal: exhausted budgets surface as *TimeoutError.
var errAttemptTimeout = errors.New("tick attempt timed out")

// executeTick runs one tick for every given processor at the timestamp,
// honoring the configured fan-out strategy. Sequential mode fails fast in
// registration order; concurrent mode lets every processor run, then
// reports the first failure in registration order.
func (b *BaseClock) executeTick(ctx context.Context, processors []Processor, ts float64) error {
	if len(processors) == 0 {
		return nil
	}
	if b.cfg.ConcurrentProcessors {
		return b.executeTickConcurrent(ctx, processors, ts)
	}
	return b.executeTickSequential(ctx, processors, ts)
}

func (b *BaseClock) executeTickSequential(ctx context.Context, processors []Processor, ts float64) error {
	for _, p := range processors {
		elapsed, err := b.executeProcessor(ctx, p, ts)
		if err != nil {
			if isRunCancellation(ctx, err) {
				return err
			}
			b.recordFailure(p, err)
			return err
		}
		b.recordSuccess(p, elapsed, ts)
	}
	return nil
}

// isRunCancellation reports whether err is the run context ending rather
// than a processor failure. A cancelled run propagates bare: no state
// update, no error callback.
func isRunCancellation(ctx context.Context, err error) bool {
	cerr := ctx.Err()
	return cerr != nil && errors.Is(err, cerr)
}

func (b *BaseClock) executeTickConcurrent(ctx context.Context, processors []Processor, ts float64) error {
	elapsed := make([]float64, len(processors))
	results := make([]error, len(processors))

	var wg sync.WaitGroup
	for i, p := range processors {
		wg.Add(1)
		go func(i int, p Processor) {
			defer wg.Done()
			elapsed[i], results[i] = b.executeProcessor(ctx, p, ts)
		}(i, p)
	}
	wg.Wait()

	var firstErr error
	for i, p := range processors {
		if err := results[i]; err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !isRunCancellation(ctx, err) {
				b.recordFailure(p, err)
			}
			continue
		}
		b.recordSuccess(p, elapsed[i], ts)
	}
	return firstErr
}

func (b *BaseClock) recordSuccess(p Processor, elapsed, ts float64) {
	state := b.state(p).
		ResetRetries().
		RecordExecution(elapsed, b.cfg.StatsWindowSize, b.now()).
		WithTimestamp(ts)
	b.setState(p, state)
}

func (b *BaseClock) recordFailure(p Processor, err error) {
	b.setState(p, b.state(p).RecordError(err, b.now()))
	if b.errorCallback != nil {
		b.errorCallback(p, err)
	}
}

// executeProcessor drives one processor through one tick, retrying timed
// out attempts up to the configured budget. Non-timeout errors are never
// retried. The returned duration is that of the last attempt.
func (b *BaseClock) executeProcessor(ctx context.Context, p Processor, ts float64) (float64, error) {
	timeout := secondsToDuration(b.cfg.ProcessorTimeout)
	for attempt := 0; ; attempt++ {
		start := b.now()
		err := b.runAttempt(ctx, p, ts, timeout)
		elapsed := b.now().Sub(start).Seconds()
		if err == nil {
			return elapsed, nil
		}
		if !errors.Is(err, errAttemptTimeout) {
			return elapsed, err
		}
		if attempt >= b.cfg.MaxRetries {
			return elapsed, &TimeoutError{
				Processor: processorName(p),
				Timeout:   b.cfg.ProcessorTimeout,
				Attempts:  attempt + 1,
			}
		}
		b.setState(p, b.state(p).WithRetryCount(attempt+1))
		if b.cfg.RetryBackoff > 0 {
			delay := b.cfg.RetryBackoff * math.Pow(2, float64(attempt))
			if err := b.sleep(ctx, secondsToDuration(delay)); err != nil {
				return elapsed, err
			}
		}
	}
}

// runAttempt executes a single tick attempt under the attempt deadline.
// Processors implementing ContextTicker get the deadline context and can
// abort early; a plain Tick that overruns is abandoned, its goroutine left
// to finish on its own.
func (b *BaseClock) runAttempt(ctx context.Context, p Processor, ts float64, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if ct, ok := p.(ContextTicker); ok {
			done <- ct.TickContext(attemptCtx, ts)
			return
		}
		done <- p.Tick(ts)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return errAttemptTimeout
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errAttemptTimeout
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
