package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"ultramatch/src/engine"
)

// Server is the framed-TCP ingress adapter. Each accepted connection gets a
// session goroutine that translates wire messages into engine calls; the
// engine never knows the transport exists.
type Server struct {
	engine *engine.Engine
	addr   string

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup

	clientSeq atomic.Uint64

	sessionsMu sync.Mutex
	sessions   map[*session]struct{}
}

func New(eng *engine.Engine, port int) *Server {
	return &Server{
		engine:   eng,
		addr:     fmt.Sprintf(":%d", port),
		sessions: make(map[*session]struct{}),
	}
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return engine.ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("%w: listen %s: %v", engine.ErrStartupFailed, s.addr, err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	log.Info().Str("addr", s.addr).Msg("TCP ingress listening")
	return nil
}

// Stop closes the listener and every live session, then waits for their
// goroutines. Safe to call more than once.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	_ = s.listener.Close()

	s.sessionsMu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.sessionsMu.Unlock()
	for _, sess := range open {
		sess.close()
	}

	s.wg.Wait()
	log.Info().Str("addr", s.addr).Msg("TCP ingress stopped")
}

// Addr returns the bound listener address, useful when port 0 was requested.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SessionCount returns the number of live client sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.running.Load() {
				return
			}
			log.Warn().Err(err).Msg("Accept failed")
			continue
		}

		sess := newSession(s, conn, s.clientSeq.Add(1))
		s.sessionsMu.Lock()
		s.sessions[sess] = struct{}{}
		s.sessionsMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()
	}
}

func (s *Server) dropSession(sess *session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess)
	s.sessionsMu.Unlock()
}
