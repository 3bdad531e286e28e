package clock

import (
	"math"
	"sort"
	"time"
)

// ProcessorState is an immutable snapshot of a processor's health and
// performance inside the clock. Every mutation returns a new snapshot; the
// stored value is never modified in place, so readers can hold a snapshot
// without coordination.
type ProcessorState struct {
	// LastTimestamp is the last tick time the processor completed. Zero
	// until the first successful tick.
	LastTimestamp float64

	// IsActive reports whether the processor currently receives ticks.
	IsActive bool

	// RetryCount is the current retry depth; MaxConsecutiveRetries is
	// the running peak across resets.
	RetryCount            int
	MaxConsecutiveRetries int

	// ErrorCount is cumulative; ConsecutiveErrors is the currently
	// unbroken error run, reset by the next success.
	ErrorCount        int
	ConsecutiveErrors int

	LastError       string
	LastErrorTime   time.Time
	LastSuccessTime time.Time

	// ExecutionTimes holds the most recent successful tick durations in
	// seconds, oldest first, truncated to the stats window.
	ExecutionTimes []float64
}

// WithActive returns a copy with the activity flag replaced.
func (s ProcessorState) WithActive(active bool) ProcessorState {
	s.IsActive = active
	return s
}

// WithTimestamp returns a copy with the last completed tick time replaced.
func (s ProcessorState) WithTimestamp(ts float64) ProcessorState {
	s.LastTimestamp = ts
	return s
}

// WithRetryCount returns a copy with the retry depth replaced, keeping the
// peak in MaxConsecutiveRetries.
func (s ProcessorState) WithRetryCount(n int) ProcessorState {
	s.RetryCount = n
	if n > s.MaxConsecutiveRetries {
		s.MaxConsecutiveRetries = n
	}
	return s
}

// ResetRetries returns a copy with the retry depth cleared. The peak is
// preserved.
func (s ProcessorState) ResetRetries() ProcessorState {
	s.RetryCount = 0
	return s
}

// RecordError returns a copy with the error bookkeeping advanced.
func (s ProcessorState) RecordError(err error, now time.Time) ProcessorState {
	s.ErrorCount++
	s.ConsecutiveErrors++
	s.LastError = err.Error()
	s.LastErrorTime = now
	return s
}

// RecordExecution returns a copy with the sample appended (truncated to
// window), the consecutive-error run broken, and the success time stamped.
func (s ProcessorState) RecordExecution(seconds float64, window int, now time.Time) ProcessorState {
	samples := make([]float64, 0, len(s.ExecutionTimes)+1)
	samples = append(samples, s.ExecutionTimes...)
	samples = append(samples, seconds)
	if window > 0 && len(samples) > window {
		samples = samples[len(samples)-window:]
	}
	s.ExecutionTimes = samples
	s.ConsecutiveErrors = 0
	s.LastSuccessTime = now
	return s
}

// TotalTicks counts every attempt outcome, successes plus failures.
func (s ProcessorState) TotalTicks() int {
	return len(s.ExecutionTimes) + s.ErrorCount
}

// SuccessfulTicks counts the retained successful samples.
func (s ProcessorState) SuccessfulTicks() int {
	return len(s.ExecutionTimes)
}

// FailedTicks counts recorded failures.
func (s ProcessorState) FailedTicks() int {
	return s.ErrorCount
}

// TotalExecutionTime sums the retained samples in seconds.
func (s ProcessorState) TotalExecutionTime() float64 {
	var sum float64
	for _, v := range s.ExecutionTimes {
		sum += v
	}
	return sum
}

// AvgExecutionTime is the mean of the retained samples, 0 when empty.
func (s ProcessorState) AvgExecutionTime() float64 {
	if len(s.ExecutionTimes) == 0 {
		return 0
	}
	return s.TotalExecutionTime() / float64(len(s.ExecutionTimes))
}

// MaxExecutionTime is the largest retained sample, 0 when empty.
func (s ProcessorState) MaxExecutionTime() float64 {
	var max float64
	for _, v := range s.ExecutionTimes {
		if v > max {
			max = v
		}
	}
	return max
}

// StdDevExecutionTime is the sample standard deviation (divisor n-1) of
// the retained samples, 0 when fewer than two.
func (s ProcessorState) StdDevExecutionTime() float64 {
	n := len(s.ExecutionTimes)
	if n < 2 {
		return 0
	}
	mean := s.AvgExecutionTime()
	var sum float64
	for _, v := range s.ExecutionTimes {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// ErrorRate is failed ticks over total ticks as a percentage, 0 when no
// ticks have been recorded.
func (s ProcessorState) ErrorRate() float64 {
	total := s.TotalTicks()
	if total == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(total) * 100
}

// ExecutionPercentile interpolates the p-th percentile (0-100) over the
// sorted retained samples, 0 when empty.
func (s ProcessorState) ExecutionPercentile(p float64) float64 {
	n := len(s.ExecutionTimes)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, s.ExecutionTimes)
	sort.Float64s(sorted)

	rank := p / 100 * float64(n-1)
	if rank <= 0 {
		return sorted[0]
	}
	if rank >= float64(n-1) {
		return sorted[n-1]
	}
	lo := int(math.Floor(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

// Stats is the point-in-time summary returned by the query API.
type Stats struct {
	TotalTicks       int
	SuccessfulTicks  int
	FailedTicks      int
	AvgExecutionTime float64
	MaxExecutionTime float64
}

// Snapshot derives the summary statistics for this state.
func (s ProcessorState) Snapshot() Stats {
	return Stats{
		TotalTicks:       s.TotalTicks(),
		SuccessfulTicks:  s.SuccessfulTicks(),
		FailedTicks:      s.FailedTicks(),
		AvgExecutionTime: s.AvgExecutionTime(),
		MaxExecutionTime: s.MaxExecutionTime(),
	}
}
