package paper

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"main/internal/processor"

	"github.com/yanun0323/decimal"
)

// Config controls the paper-trading processor. Price-like fields carry
// decimals at the JSON edge and are resolved to floats for the walk.
type Config struct {
	Seed       int64           `json:"seed"`
	StartPrice decimal.Decimal `json:"startPrice"`
	OrderQty   decimal.Decimal `json:"orderQty"`
	Volatility float64         `json:"volatility"`
	TradeEvery int             `json:"tradeEvery"`

	StatsWindowSize int `json:"statsWindowSize"`
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if _, err := parseDecimal(c.StartPrice); err != nil {
		return fmt.Errorf("startPrice: %w", err)
	}
	if qty, err := parseDecimal(c.OrderQty); err != nil {
		return fmt.Errorf("orderQty: %w", err)
	} else if qty <= 0 {
		return fmt.Errorf("orderQty must be > 0")
	}
	if c.Volatility < 0 {
		return fmt.Errorf("volatility must be >= 0")
	}
	if c.TradeEvery < 0 {
		return fmt.Errorf("tradeEvery must be >= 0")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.StartPrice == "" {
		c.StartPrice = "100"
	}
	if c.OrderQty == "" {
		c.OrderQty = "1"
	}
	if c.TradeEvery <= 0 {
		c.TradeEvery = 2
	}
	return c
}

// Processor drives a seeded price walk and flips a one-lot position each
// trade interval, accruing realized PnL. Given the same seed and tick
// sequence the account is bit-identical across runs, which makes it a
// useful determinism probe for the backtest clock.
type Processor struct {
	*processor.Base

	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	price    float64
	qty      float64
	position float64 // signed lots
	entry    float64
	realized float64
	ticks    int
}

// New validates the config and creates a paper processor.
func New(cfg Config) (*Processor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	price, err := parseDecimal(cfg.StartPrice)
	if err != nil {
		return nil, err
	}
	qty, err := parseDecimal(cfg.OrderQty)
	if err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Processor{
		Base:  processor.NewBase(cfg.StatsWindowSize),
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		price: price,
		qty:   qty,
	}, nil
}

// Tick advances the walk one step and trades on the configured cadence.
func (p *Processor) Tick(timestamp float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	step := p.rng.NormFloat64() * p.cfg.Volatility
	p.price *= math.Exp(step)
	p.ticks++

	if p.ticks%p.cfg.TradeEvery == 0 {
		p.flip()
	}
	return p.Base.Tick(timestamp)
}

// flip closes any open position at the current price and opens the
// opposite side.
func (p *Processor) flip() {
	if p.position != 0 {
		p.realized += p.position * (p.price - p.entry)
	}
	if p.position > 0 {
		p.position = -p.qty
	} else {
		p.position = p.qty
	}
	p.entry = p.price
}

// Price returns the current walk price.
func (p *Processor) Price() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price
}

// RealizedPnL returns the accumulated realized profit and loss.
func (p *Processor) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realized
}

// Position returns the signed open position.
func (p *Processor) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Processor) String() string {
	return "paper-trader"
}

func parseDecimal(d decimal.Decimal) (float64, error) {
	v, err := strconv.ParseFloat(string(d), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q", string(d))
	}
	return v, nil
}
