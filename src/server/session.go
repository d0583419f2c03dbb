package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ultramatch/src/engine"
)

// session is one connected client. Reads happen on the session's own
// goroutine; writes are serialized by writeMu so replies from the read loop
// never interleave mid-frame.
type session struct {
	id       string
	clientID uint64
	conn     net.Conn
	srv      *Server

	clientName string
	seq        uint64 // last reply sequence sent

	writeMu sync.Mutex
	closed  sync.Once
}

func newSession(srv *Server, conn net.Conn, clientID uint64) *session {
	return &session{
		id:       uuid.NewString(),
		clientID: clientID,
		conn:     conn,
		srv:      srv,
	}
}

// run is the session read loop: header, body, dispatch, repeat. Any I/O or
// framing error ends the session; protocol-level rejections are replied and
// the session continues.
func (s *session) run() {
	defer s.close()

	log.Info().
		Str("session", s.id).
		Uint64("client_id", s.clientID).
		Str("remote", s.conn.RemoteAddr().String()).
		Msg("Client connected")

	headerBuf := make([]byte, HeaderSize)
	bodyBuf := make([]byte, MaxMessageSize-HeaderSize)

	for {
		if _, err := io.ReadFull(s.conn, headerBuf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Str("session", s.id).Err(err).Msg("Header read failed")
			}
			return
		}

		header, err := DecodeHeader(headerBuf)
		if err != nil {
			log.Warn().Str("session", s.id).Err(err).Msg("Bad frame, dropping connection")
			return
		}

		body := bodyBuf[:header.Length]
		if header.Length > 0 {
			if _, err := io.ReadFull(s.conn, body); err != nil {
				log.Warn().Str("session", s.id).Err(err).Msg("Body read failed")
				return
			}
		}

		if stop := s.dispatch(header, string(body)); stop {
			return
		}
	}
}

// dispatch handles one inbound frame. It returns true when the session
// should end (logout).
func (s *session) dispatch(header Header, body string) bool {
	switch header.Type {
	case MsgOrderSubmit:
		s.handleSubmit(header, body)
	case MsgOrderCancel:
		s.handleCancel(header, body)
	case MsgOrderModify:
		s.handleModify(header, body)
	case MsgOrderBookRequest:
		s.handleBookRequest(header, body)
	case MsgOrderStatusRequest:
		s.handleStatusRequest(header, body)
	case MsgHeartbeat:
		s.reply(MsgHeartbeat, nil)
	case MsgLogin:
		s.handleLogin(header, body)
	case MsgLogout:
		log.Info().Str("session", s.id).Str("client", s.clientName).Msg("Client logged out")
		return true
	case MsgMarketData:
		// market data subscription control is not implemented; clients
		// receive the stream feed instead
	default:
		log.Warn().
			Str("session", s.id).
			Uint32("type", uint32(header.Type)).
			Msg("Unknown message type")
	}
	return false
}

func (s *session) handleSubmit(_ Header, body string) {
	req, err := ParseSubmit(body)
	if err != nil {
		s.reply(MsgOrderSubmit, rejectBody(err))
		return
	}

	// order ids always come from the engine-wide counter, never from any
	// per-client state, so they are unique across sessions. The book
	// timestamp is stamped here by NewOrder; the header timestamp is the
	// sender's clock and never enters priority ordering.
	order := engine.NewOrder(s.srv.engine.NextOrderID(), s.clientID, req.Symbol, req.Side, req.Type, req.Quantity, req.Price)

	if err := s.srv.engine.SubmitOrder(order); err != nil {
		s.reply(MsgOrderSubmit, rejectBody(err))
		return
	}
	s.reply(MsgOrderSubmit, ackBody(order.ID))
}

func (s *session) handleCancel(_ Header, body string) {
	req, err := ParseCancel(body)
	if err != nil {
		s.reply(MsgOrderCancel, rejectBody(err))
		return
	}
	if err := s.srv.engine.CancelOrder(req.OrderID, req.Symbol); err != nil {
		s.reply(MsgOrderCancel, rejectBody(err))
		return
	}
	s.reply(MsgOrderCancel, ackBody(req.OrderID))
}

func (s *session) handleModify(_ Header, body string) {
	req, err := ParseModify(body)
	if err != nil {
		s.reply(MsgOrderModify, rejectBody(err))
		return
	}
	if err := s.srv.engine.ModifyOrder(req.OrderID, req.Symbol, req.Quantity, req.Price); err != nil {
		s.reply(MsgOrderModify, rejectBody(err))
		return
	}
	s.reply(MsgOrderModify, ackBody(req.OrderID))
}

func (s *session) handleBookRequest(_ Header, body string) {
	symbol := body
	snapshot, ok := s.srv.engine.Snapshot(symbol, 0)
	if !ok {
		s.reply(MsgOrderBookRequest, rejectBody(ErrUnknownSymbol))
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.reply(MsgOrderBookRequest, rejectBody(err))
		return
	}
	s.reply(MsgOrderBookRequest, payload)
}

func (s *session) handleStatusRequest(_ Header, body string) {
	req, err := ParseCancel(body) // same ORDER_ID:SYMBOL shape
	if err != nil {
		s.reply(MsgOrderStatusRequest, rejectBody(err))
		return
	}
	order, ok := s.srv.engine.GetOrder(req.OrderID, req.Symbol)
	if !ok {
		s.reply(MsgOrderStatusRequest, rejectBody(engine.ErrOrderNotFound))
		return
	}
	payload, err := json.Marshal(order)
	if err != nil {
		s.reply(MsgOrderStatusRequest, rejectBody(err))
		return
	}
	s.reply(MsgOrderStatusRequest, payload)
}

func (s *session) handleLogin(_ Header, body string) {
	name, err := ParseLogin(body)
	if err != nil {
		s.reply(MsgLogin, rejectBody(err))
		return
	}
	s.clientName = name
	log.Info().
		Str("session", s.id).
		Str("client", name).
		Uint64("client_id", s.clientID).
		Msg("Client logged in")
	s.reply(MsgLogin, ackBody(s.clientID))
}

func (s *session) reply(msgType MessageType, body []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.seq++
	frame, err := EncodeMessage(msgType, s.seq, uint64(time.Now().UnixNano()), body)
	if err != nil {
		log.Error().Str("session", s.id).Err(err).Msg("Reply encoding failed")
		return
	}
	if _, err := s.conn.Write(frame); err != nil {
		log.Warn().Str("session", s.id).Err(err).Msg("Reply write failed")
		s.close()
	}
}

func (s *session) close() {
	s.closed.Do(func() {
		_ = s.conn.Close()
		s.srv.dropSession(s)
		log.Info().Str("session", s.id).Str("client", s.clientName).Msg("Client disconnected")
	})
}
