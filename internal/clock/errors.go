package clock

import (
	"errors"
	"fmt"
)

var (
	// ErrClock marks illegal clock API usage: duplicate or unknown
	// processors, overlapping runs, running past configured bounds, or
	// wrapped processor start/stop failures.
	ErrClock = errors.New("clock: invalid operation")

	// ErrContext marks illegal context nesting or re-entry while the
	// clock is still marked running.
	ErrContext = errors.New("clock: context error")

	// ErrProcessorTimeout marks a tick that exceeded the processor
	// timeout on every attempt, retries included.
	ErrProcessorTimeout = errors.New("clock: processor timeout")
)

// TimeoutError reports a processor whose tick attempts all timed out.
type TimeoutError struct {
	Processor string
	Timeout   float64
	Attempts  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("processor %s timed out after %d attempts of %gs", e.Processor, e.Attempts, e.Timeout)
}

// Is lets errors.Is match a TimeoutError against ErrProcessorTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrProcessorTimeout
}

func clockErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrClock, fmt.Sprintf(format, args...))
}

func contextErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContext, fmt.Sprintf(format, args...))
}
