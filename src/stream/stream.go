package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ultramatch/src/engine"
	"ultramatch/src/marketdata"
)

// Frame is the JSON envelope pushed to WebSocket subscribers.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Frame type tags.
const (
	FrameTrade      = "trade"
	FrameFill       = "fill"
	FrameCancel     = "cancel"
	FrameSnapshot   = "snapshot"
	FrameMarketData = "market_data"
)

// subscriberBuffer is the per-connection channel depth; a connection that
// falls this far behind starts losing frames.
const subscriberBuffer = 256

// StreamServer publishes engine events to WebSocket subscribers. It is an
// engine.EventSink: sink calls marshal once and broadcast through a
// non-blocking hub, so a slow or dead subscriber can never back-pressure a
// matching worker.
type StreamServer struct {
	hub      *Hub[[]byte]
	upgrader websocket.Upgrader
	srv      *http.Server

	running atomic.Bool
	wg      sync.WaitGroup

	published   atomic.Uint64
	marshalErrs atomic.Uint64
}

func NewStreamServer(port int) *StreamServer {
	s := &StreamServer{
		hub:      NewHub[[]byte](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start launches the WebSocket listener.
func (s *StreamServer) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return engine.ErrAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", s.srv.Addr).Msg("Stream server failed")
		}
	}()

	log.Info().Str("addr", s.srv.Addr).Msg("Stream server listening")
	return nil
}

// Stop shuts the listener down and waits for connection handlers.
func (s *StreamServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
	s.wg.Wait()

	log.Info().
		Uint64("published", s.published.Load()).
		Uint64("dropped", s.hub.Dropped()).
		Uint64("marshal_errors", s.marshalErrs.Load()).
		Msg("Stream server stopped")
}

// Subscribers returns the live WebSocket subscriber count.
func (s *StreamServer) Subscribers() int { return s.hub.Subscribers() }

// Published returns how many frames have been broadcast.
func (s *StreamServer) Published() uint64 { return s.published.Load() }

func (s *StreamServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := s.hub.Subscribe(subscriberBuffer)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.hub.Unsubscribe(sub)
		defer conn.Close()

		// drain inbound frames only to observe the close
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					s.hub.Unsubscribe(sub)
					return
				}
			}
		}()

		for payload := range sub.C {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}()
}

func (s *StreamServer) publish(frameType string, data any) {
	payload, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		s.marshalErrs.Add(1)
		return
	}
	s.published.Add(1)
	s.hub.Broadcast(payload)
}

func (s *StreamServer) OnTrade(trade engine.Trade) {
	s.publish(FrameTrade, trade)
}

func (s *StreamServer) OnFill(order engine.Order, quantity uint64, price float64) {
	s.publish(FrameFill, map[string]any{
		"order":      order,
		"fill_qty":   quantity,
		"fill_price": price,
	})
}

func (s *StreamServer) OnCancelled(order engine.Order) {
	s.publish(FrameCancel, order)
}

func (s *StreamServer) OnSnapshot(snapshot engine.BookSnapshot) {
	s.publish(FrameSnapshot, snapshot)
}

func (s *StreamServer) OnMarketData(record marketdata.Record) {
	s.publish(FrameMarketData, record)
}
