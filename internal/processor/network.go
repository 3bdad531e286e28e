package processor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// NetworkStatus is the connectivity state the monitor reports.
type NetworkStatus uint8

const (
	NetworkStopped NetworkStatus = iota
	NetworkNotConnected
	NetworkConnected
	NetworkError
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkStopped:
		return "stopped"
	case NetworkNotConnected:
		return "not_connected"
	case NetworkConnected:
		return "connected"
	case NetworkError:
		return "error"
	default:
		return "unknown"
	}
}

// CheckFunc probes connectivity. A nil error means connected.
type CheckFunc func(ctx context.Context) error

const (
	defaultCheckInterval    = 10 * time.Second
	defaultCheckTimeout     = 5 * time.Second
	defaultNetworkErrorWait = 60 * time.Second
	defaultRetryBase        = 100 * time.Millisecond
	defaultCheckURL         = "https://www.google.com"
)

// NetworkConfig controls the network monitor.
type NetworkConfig struct {
	CheckInterval   time.Duration
	CheckTimeout    time.Duration
	ErrorWait       time.Duration
	RetryBase       time.Duration
	StatsWindowSize int

	// CheckURL is probed with a HEAD request when Check is nil.
	CheckURL string
	Check    CheckFunc
}

func (c NetworkConfig) withDefaults() NetworkConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = defaultCheckTimeout
	}
	if c.ErrorWait <= 0 {
		c.ErrorWait = defaultNetworkErrorWait
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.StatsWindowSize <= 0 {
		c.StatsWindowSize = defaultStatsWindowSize
	}
	if c.CheckURL == "" {
		c.CheckURL = defaultCheckURL
	}
	if c.Check == nil {
		c.Check = httpCheck(c.CheckURL)
	}
	return c
}

// Network monitors connectivity in its own loop while ticked by a clock.
// Failed checks back off exponentially up to ErrorWait so a dead link is
// not hammered.
type Network struct {
	*Base
	cfg NetworkConfig

	mu          sync.Mutex
	status      NetworkStatus
	consecutive int
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewNetwork creates a network monitor processor.
func NewNetwork(cfg NetworkConfig) *Network {
	cfg = cfg.withDefaults()
	return &Network{
		Base:   NewBase(cfg.StatsWindowSize),
		cfg:    cfg,
		status: NetworkStopped,
	}
}

// NetworkStatus returns the current connectivity state.
func (n *Network) NetworkStatus() NetworkStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Start begins the check loop. The first check runs immediately.
func (n *Network) Start(timestamp float64) error {
	if err := n.Base.Start(timestamp); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.status = NetworkNotConnected
	n.consecutive = 0
	n.cancel = cancel
	n.done = make(chan struct{})
	done := n.done
	n.mu.Unlock()

	go n.loop(ctx, done)
	return nil
}

// Stop terminates the check loop and marks the monitor stopped.
func (n *Network) Stop() error {
	n.mu.Lock()
	cancel := n.cancel
	done := n.done
	n.cancel = nil
	n.done = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	n.mu.Lock()
	n.status = NetworkStopped
	n.mu.Unlock()
	return n.Base.Stop()
}

func (n *Network) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		wait := n.runCheck(ctx)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// runCheck performs one connectivity probe and returns the delay before
// the next one.
func (n *Network) runCheck(ctx context.Context) time.Duration {
	checkCtx, cancel := context.WithTimeout(ctx, n.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	err := n.cfg.Check(checkCtx)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return n.cfg.CheckInterval
	}

	switch {
	case err == nil:
		n.mu.Lock()
		n.status = NetworkConnected
		n.consecutive = 0
		n.mu.Unlock()
		n.RecordTick(elapsed.Seconds())
		return n.cfg.CheckInterval

	case checkCtx.Err() == context.DeadlineExceeded:
		n.mu.Lock()
		n.status = NetworkNotConnected
		n.consecutive++
		consecutive := n.consecutive
		n.mu.Unlock()
		n.RecordError(errors.Wrap(context.DeadlineExceeded, "network check timed out"))
		logs.Warnf("network check timed out after %s", n.cfg.CheckTimeout)
		return n.retryDelay(consecutive)

	default:
		n.mu.Lock()
		n.status = NetworkError
		n.consecutive++
		consecutive := n.consecutive
		n.mu.Unlock()
		n.RecordError(err)
		logs.Errorf("network check failed: %+v", err)
		return n.retryDelay(consecutive)
	}
}

// retryDelay doubles from RetryBase per consecutive failure, capped at
// ErrorWait.
func (n *Network) retryDelay(consecutive int) time.Duration {
	delay := n.cfg.RetryBase
	for i := 1; i < consecutive; i++ {
		delay *= 2
		if delay >= n.cfg.ErrorWait {
			return n.cfg.ErrorWait
		}
	}
	if delay > n.cfg.ErrorWait {
		return n.cfg.ErrorWait
	}
	return delay
}

func (n *Network) String() string {
	return "network-monitor"
}

func httpCheck(url string) CheckFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return errors.Wrap(err, "build network check request")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "network check request")
		}
		defer resp.Body.Close()
		return nil
	}
}
