// Package sink contains event sink implementations that publish engine
// output to external systems.
package sink

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ultramatch/src/engine"
	"ultramatch/src/marketdata"
)

const (
	// kafkaQueueDepth is the internal hand-off buffer between the engine's
	// workers and the Kafka writer goroutine.
	kafkaQueueDepth = 4096

	// kafkaBatchSize and kafkaFlushInterval bound how long a message waits
	// before it is pushed to the broker.
	kafkaBatchSize     = 100
	kafkaFlushInterval = 50 * time.Millisecond
)

// envelope is the JSON document published per event.
type envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// KafkaSink publishes trade, fill and cancel events to a Kafka topic. Sink
// calls only marshal and enqueue onto a buffered channel; a single writer
// goroutine drains the channel in batches. When the channel is full the
// event is dropped and counted, so a dead broker slows nothing down.
type KafkaSink struct {
	writer *kafka.Writer
	queue  chan kafka.Message

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewKafkaSink builds a sink for the given brokers and topic. Call Start
// before wiring it into the engine.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		queue: make(chan kafka.Message, kafkaQueueDepth),
	}
}

// Start launches the writer goroutine.
func (k *KafkaSink) Start() error {
	if !k.running.CompareAndSwap(false, true) {
		return engine.ErrAlreadyRunning
	}
	k.done = make(chan struct{})
	k.wg.Add(1)
	go k.run()
	log.Info().Str("topic", k.writer.Topic).Msg("Kafka sink started")
	return nil
}

// Stop flushes what is already queued, then closes the writer.
func (k *KafkaSink) Stop() {
	if !k.running.CompareAndSwap(true, false) {
		return
	}
	close(k.done)
	k.wg.Wait()
	if err := k.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("Kafka writer close failed")
	}
	log.Info().
		Uint64("published", k.published.Load()).
		Uint64("dropped", k.dropped.Load()).
		Uint64("failed", k.failed.Load()).
		Msg("Kafka sink stopped")
}

// Published returns how many messages reached the broker.
func (k *KafkaSink) Published() uint64 { return k.published.Load() }

// Dropped returns how many events were discarded on a full queue.
func (k *KafkaSink) Dropped() uint64 { return k.dropped.Load() }

// Failed returns how many messages the broker write rejected.
func (k *KafkaSink) Failed() uint64 { return k.failed.Load() }

func (k *KafkaSink) run() {
	defer k.wg.Done()

	ticker := time.NewTicker(kafkaFlushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, kafkaBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := k.writer.WriteMessages(ctx, batch...)
		cancel()
		if err != nil {
			k.failed.Add(uint64(len(batch)))
			log.Warn().Err(err).Int("batch", len(batch)).Msg("Kafka write failed")
		} else {
			k.published.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-k.done:
			// drain whatever was queued before the stop signal
			for {
				select {
				case msg := <-k.queue:
					batch = append(batch, msg)
					if len(batch) >= kafkaBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case msg := <-k.queue:
			batch = append(batch, msg)
			if len(batch) >= kafkaBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (k *KafkaSink) enqueue(key, eventType string, data any) {
	if !k.running.Load() {
		k.dropped.Add(1)
		return
	}
	value, err := json.Marshal(envelope{
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Data:      data,
	})
	if err != nil {
		k.dropped.Add(1)
		return
	}
	select {
	case k.queue <- kafka.Message{Key: []byte(key), Value: value}:
	default:
		k.dropped.Add(1)
	}
}

func (k *KafkaSink) OnTrade(trade engine.Trade) {
	k.enqueue(trade.Symbol, "trade", trade)
}

func (k *KafkaSink) OnFill(order engine.Order, quantity uint64, price float64) {
	k.enqueue(order.Symbol, "fill", map[string]any{
		"order":      order,
		"fill_qty":   quantity,
		"fill_price": price,
	})
}

func (k *KafkaSink) OnCancelled(order engine.Order) {
	k.enqueue(order.Symbol, "cancel", order)
}

// OnSnapshot is a no-op: book updates stream over WebSocket, the Kafka
// topic carries only execution events.
func (k *KafkaSink) OnSnapshot(engine.BookSnapshot) {}

// OnMarketData is a no-op for the same reason.
func (k *KafkaSink) OnMarketData(marketdata.Record) {}
