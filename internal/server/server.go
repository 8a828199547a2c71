// Package server runs the accept loop: one TCP listener, one request per
// connection, dispatched onto a ThreadPool so a slow or stuck client never
// blocks the listener from accepting the next one.
package server

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/launix-de/kvs/internal/admission"
	"github.com/launix-de/kvs/internal/engine"
	"github.com/launix-de/kvs/internal/metrics"
	"github.com/launix-de/kvs/internal/pool"
	"github.com/launix-de/kvs/internal/wire"
)

// Server owns the listener and dispatches each accepted connection onto its
// ThreadPool, handing the handler a Clone of the base engine so concurrent
// connections never share a reader-handle cache.
type Server struct {
	addr   string
	engine engine.Engine
	pool   pool.ThreadPool
	guard  *admission.Guard
	logger zerolog.Logger
	metrics *metrics.Metrics

	maxValueBytes int

	listener net.Listener
}

// New builds a Server. engine, threadPool, and guard are all required;
// metricsSink may be nil to disable metrics recording entirely.
func New(addr string, eng engine.Engine, threadPool pool.ThreadPool, guard *admission.Guard, metricsSink *metrics.Metrics, maxValueBytes int, logger zerolog.Logger) *Server {
	return &Server{
		addr:          addr,
		engine:        eng,
		pool:          threadPool,
		guard:         guard,
		metrics:       metricsSink,
		maxValueBytes: maxValueBytes,
		logger:        logger,
	}
}

// Run opens the listener and accepts connections until Shutdown closes it.
// Any other accept error is logged and the loop keeps accepting.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info().Str("addr", s.addr).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedConnError(err) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		accept, reason := s.guard.AcceptConnection()
		if !accept {
			if s.metrics != nil {
				s.metrics.ConnectionRejected(reason)
			}
			s.logger.Debug().Str("reason", reason).Msg("connection rejected")
			conn.Close()
			continue
		}

		if !s.guard.AcquireGoroutine() {
			s.guard.ReleaseConnection()
			if s.metrics != nil {
				s.metrics.ConnectionRejected("goroutine limit")
			}
			s.logger.Debug().Msg("connection rejected: goroutine limit")
			conn.Close()
			continue
		}

		if s.metrics != nil {
			s.metrics.ConnectionOpened()
		}
		connEngine := s.engine.Clone()
		s.pool.Spawn(func() {
			defer s.guard.ReleaseGoroutine()
			defer s.guard.ReleaseConnection()
			defer func() {
				if s.metrics != nil {
					s.metrics.ConnectionClosed()
				}
			}()
			defer connEngine.Close()
			s.handle(conn, connEngine)
		})
	}
}

// Shutdown closes the listener. In-flight connections are left to finish on
// their own; ThreadPool.Shutdown, called after this returns, blocks until
// they have finished.
func (s *Server) Shutdown() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handle serves exactly one request on conn: the protocol carries no
// pipelining, so after the response is written the connection is closed.
func (s *Server) handle(conn net.Conn, eng engine.Engine) {
	defer conn.Close()

	start := time.Now()
	reader := wire.GetReader(conn)
	defer wire.PutReader(reader)

	req, err := wire.ReadRequest(reader)
	if err != nil {
		wire.WriteResponse(conn, wire.Failure("malformed request: "+err.Error()))
		s.recordRequest("malformed", false, start)
		return
	}

	if !s.guard.AllowRequest() {
		wire.WriteResponse(conn, wire.Failure("rate limit exceeded"))
		s.recordRequest("rate_limited", false, start)
		return
	}

	kind, resp := s.dispatch(req, eng)
	if err := wire.WriteResponse(conn, resp); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
	s.recordRequest(kind, resp.Ok, start)
}

func (s *Server) dispatch(req wire.Request, eng engine.Engine) (kind string, resp wire.Response) {
	switch req.Kind {
	case wire.Get:
		kind = "get"
		value, ok, err := eng.Get(req.Key)
		if err != nil {
			return kind, wire.Failure(err.Error())
		}
		if !ok {
			return kind, wire.SuccessNone()
		}
		return kind, wire.Success(value)

	case wire.Set:
		kind = "set"
		if s.maxValueBytes > 0 && len(req.Value) > s.maxValueBytes {
			return kind, wire.Failure("value exceeds maximum size")
		}
		if err := eng.Set(req.Key, req.Value); err != nil {
			return kind, wire.Failure(err.Error())
		}
		return kind, wire.SuccessNone()

	case wire.Remove:
		kind = "remove"
		if err := eng.Remove(req.Key); err != nil {
			return kind, wire.Failure(err.Error())
		}
		return kind, wire.SuccessNone()

	default:
		return "unknown", wire.Failure("unrecognized request kind")
	}
}

func (s *Server) recordRequest(kind string, ok bool, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordRequest(kind, ok)
	s.metrics.ObserveLatency(kind, time.Since(start).Seconds())
}

func isClosedConnError(err error) bool {
	var netErr *net.OpError
	if ok := asOpError(err, &netErr); ok {
		return netErr.Err.Error() == "use of closed network connection"
	}
	return false
}

func asOpError(err error, target **net.OpError) bool {
	e, ok := err.(*net.OpError)
	if ok {
		*target = e
	}
	return ok
}
