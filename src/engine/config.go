package engine

import "fmt"

// Defaults mirror the tuning the engine ships with.
const (
	DefaultMatchingWorkers   = 4
	DefaultMarketDataWorkers = 2
	DefaultRingSize          = 65536
	DefaultPort              = 8080
)

// Config sizes the engine's worker pools and queues. Zero values are not
// usable; start from DefaultConfig and override.
type Config struct {
	// MatchingWorkers is the number of matching goroutines. Each owns one
	// ingress ring, and symbols are hashed across them so one symbol is
	// only ever matched by one worker.
	MatchingWorkers int

	// MarketDataWorkers is the number of goroutines draining the shared
	// market data ring.
	MarketDataWorkers int

	// RingSize is the capacity of each ring. Must be a power of two.
	RingSize uint64

	// Port is carried for the serving layer; the engine itself never
	// listens.
	Port int

	// EnableMetrics controls the throughput worker that refreshes the
	// per-second gauges.
	EnableMetrics bool

	// Verbose makes workers log individual order rejections instead of
	// only counting them.
	Verbose bool

	// SimulationMode marks runs driven purely by the simulated feed.
	SimulationMode bool
}

func DefaultConfig() Config {
	return Config{
		MatchingWorkers:   DefaultMatchingWorkers,
		MarketDataWorkers: DefaultMarketDataWorkers,
		RingSize:          DefaultRingSize,
		Port:              DefaultPort,
		EnableMetrics:     true,
	}
}

func (c Config) Validate() error {
	if c.MatchingWorkers < 1 {
		return fmt.Errorf("%w: matching workers must be >= 1, got %d", ErrStartupFailed, c.MatchingWorkers)
	}
	if c.MarketDataWorkers < 1 {
		return fmt.Errorf("%w: market data workers must be >= 1, got %d", ErrStartupFailed, c.MarketDataWorkers)
	}
	if c.RingSize == 0 || c.RingSize&(c.RingSize-1) != 0 {
		return fmt.Errorf("%w: ring size %d is not a power of two", ErrStartupFailed, c.RingSize)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrStartupFailed, c.Port)
	}
	return nil
}
