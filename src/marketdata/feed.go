package marketdata

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrAlreadyStreaming is returned when Start is called on a running feed.
	ErrAlreadyStreaming = errors.New("feed already streaming")
	// ErrNoSymbols is returned when the feed is configured without symbols.
	ErrNoSymbols = errors.New("feed requires at least one symbol")
)

// DefaultSymbols is the instrument set used when none is configured.
var DefaultSymbols = []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}

// FeedConfig controls the simulated market data source.
type FeedConfig struct {
	Symbols    []string
	TickRate   int     // full symbol sweeps per second
	Volatility float64 // stddev of the per-tick gaussian price step
	Seed       int64   // 0 seeds from the clock
}

// DefaultFeedConfig mirrors the tuning the engine is benchmarked with.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		Symbols:    DefaultSymbols,
		TickRate:   1000,
		Volatility: 0.01,
	}
}

// Feed is a simulated market data source. Each tick it sweeps all symbols
// and emits, per symbol, a trade with 30% probability, a quote with 70% and
// a tick with 50%, driving prices with a clamped gaussian random walk. The
// publish function is expected to be non-blocking; records it refuses are
// counted as dropped and never retried.
type Feed struct {
	cfg     FeedConfig
	publish func(Record) error

	prices map[string]float64
	rng    *rand.Rand

	streaming atomic.Bool
	shutdown  chan struct{}
	wg        sync.WaitGroup

	seq       atomic.Uint64
	generated atomic.Uint64
	dropped   atomic.Uint64
}

// NewFeed builds a feed that hands every generated record to publish.
func NewFeed(cfg FeedConfig, publish func(Record) error) (*Feed, error) {
	if len(cfg.Symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 1000
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.01
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	prices := make(map[string]float64, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		// starting price in the 100-1000 range
		prices[sym] = 100.0 + float64(rng.Intn(900))
	}

	return &Feed{
		cfg:     cfg,
		publish: publish,
		prices:  prices,
		rng:     rng,
	}, nil
}

// Start launches the streaming goroutine.
func (f *Feed) Start() error {
	if !f.streaming.CompareAndSwap(false, true) {
		return ErrAlreadyStreaming
	}
	f.shutdown = make(chan struct{})
	f.wg.Add(1)
	go f.run()
	log.Info().
		Int("symbols", len(f.cfg.Symbols)).
		Int("tick_rate", f.cfg.TickRate).
		Float64("volatility", f.cfg.Volatility).
		Msg("Market data feed started")
	return nil
}

// Stop halts streaming and waits for the goroutine to exit. Safe to call
// more than once.
func (f *Feed) Stop() {
	if !f.streaming.CompareAndSwap(true, false) {
		return
	}
	close(f.shutdown)
	f.wg.Wait()
	log.Info().
		Uint64("generated", f.generated.Load()).
		Uint64("dropped", f.dropped.Load()).
		Msg("Market data feed stopped")
}

// Generated returns the number of records produced so far.
func (f *Feed) Generated() uint64 { return f.generated.Load() }

// Dropped returns the number of records the publish function refused.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

func (f *Feed) run() {
	defer f.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(f.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-f.shutdown:
			return
		case <-ticker.C:
			for _, sym := range f.cfg.Symbols {
				if f.rng.Float64() < 0.3 {
					f.emit(f.nextTrade(sym))
				}
				if f.rng.Float64() < 0.7 {
					f.emit(f.nextQuote(sym))
				}
				if f.rng.Float64() < 0.5 {
					f.emit(f.nextTick(sym))
				}
			}
		}
	}
}

func (f *Feed) emit(rec Record) {
	f.generated.Add(1)
	if !rec.Valid() {
		f.dropped.Add(1)
		return
	}
	if err := f.publish(rec); err != nil {
		f.dropped.Add(1)
	}
}

func (f *Feed) nextTrade(symbol string) Record {
	price := f.step(symbol)
	seq := f.seq.Add(1)
	return Record{
		SequenceNumber: seq,
		Symbol:         symbol,
		Type:           RecordTrade,
		Timestamp:      time.Now().UnixNano(),
		TradeID:        seq,
		TradePrice:     price,
		TradeQuantity:  uint64(100 + f.rng.Intn(10000)),
	}
}

func (f *Feed) nextQuote(symbol string) Record {
	price := f.prices[symbol]
	spread := price * 0.001
	return Record{
		SequenceNumber: f.seq.Add(1),
		Symbol:         symbol,
		Type:           RecordQuote,
		Timestamp:      time.Now().UnixNano(),
		BidPrice:       price - spread/2,
		BidQuantity:    uint64(1000 + f.rng.Intn(10000)),
		AskPrice:       price + spread/2,
		AskQuantity:    uint64(1000 + f.rng.Intn(10000)),
	}
}

func (f *Feed) nextTick(symbol string) Record {
	price := f.step(symbol)
	return Record{
		SequenceNumber: f.seq.Add(1),
		Symbol:         symbol,
		Type:           RecordTick,
		Timestamp:      time.Now().UnixNano(),
		TradePrice:     price,
		TradeQuantity:  uint64(100 + f.rng.Intn(1000)),
	}
}

// step advances the symbol's random walk and returns the new price. Moves
// are clamped to 5% of the current price so a burst of extreme draws cannot
// blow up the simulation.
func (f *Feed) step(symbol string) float64 {
	price := f.prices[symbol]
	change := f.rng.NormFloat64() * f.cfg.Volatility
	maxChange := price * 0.05
	if change > maxChange {
		change = maxChange
	}
	if change < -maxChange {
		change = -maxChange
	}
	price += change
	if price < 1 {
		price = 1
	}
	f.prices[symbol] = price
	return price
}
