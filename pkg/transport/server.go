package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"
)

// Handler answers one request. It is called concurrently.
type Handler interface {
	Handle(ctx context.Context, req []byte) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, req []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, req []byte) ([]byte, error) {
	return f(ctx, req)
}

const (
	codeShutdown      quic.ApplicationErrorCode = 1
	codeHandlerFailed quic.StreamErrorCode      = 2
	codeBadFrame      quic.StreamErrorCode      = 3
)

// Server accepts QUIC connections and hands every stream to a `Handler`.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	msink   metrics.MetricSink
	handler Handler

	// graceful termination asked, do not spam connection errors in logs
	gracefulTerm atomic.Bool
	closeCh      chan struct{}

	tr    *quic.Transport
	ln    *quic.Listener
	udpLn *net.UDPConn
}

// NewServer binds the UDP socket and the QUIC listener. Requests are only
// processed once `Serve` runs.
func NewServer(cfg *Config, handler Handler) (s *Server, err error) {
	cfg, err = cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	s = &Server{
		cfg:     cfg,
		logger:  cfg.logger(),
		msink:   cfg.sink(),
		handler: handler,
		closeCh: make(chan struct{}),
	}

	defer func() {
		if err != nil {
			s.Shutdown()
		}
	}()

	addr := net.ParseIP(cfg.BindAddr)
	if addr == nil {
		addr = net.IPv4zero
	}

	udpLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: addr, Port: cfg.BindPort})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to allocate UDP listener: %w", err)
	}
	s.udpLn = udpLn

	if err := s.negociateBufferSize(cfg.BufferSize); err != nil {
		return nil, err
	}

	s.tr = &quic.Transport{
		Conn: udpLn,
	}

	ln, err := s.tr.Listen(cfg.TlsConfig, &quic.Config{
		Versions:           []quic.Version{quic.Version2, quic.Version1},
		Allow0RTT:          false,
		MaxIncomingStreams: cfg.MaxIncomingStreams,
		MaxIdleTimeout:     1 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to allocate QUIC listener: %w", err)
	}
	s.ln = ln
	return s, nil
}

// Addr is the address the server listens on.
func (s *Server) Addr() net.Addr {
	if s.udpLn == nil {
		return nil
	}
	return s.udpLn.LocalAddr()
}

// Serve processes connections until ctx is done or the server is shut down.
// It waits for the handlers still running and returns nil on a graceful
// termination.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return ErrClosed
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		select {
		case <-egCtx.Done():
			s.Shutdown()
		case <-s.closeCh:
		}
		return nil
	})

	eg.Go(func() error {
		for {
			conn, err := s.ln.Accept(egCtx)
			if err != nil {
				if s.gracefulTerm.Load() || egCtx.Err() != nil {
					return nil
				}
				s.logger.Warn("unexpected QUIC listener closure", LabelError.L(err))
				s.Shutdown()
				return err
			}

			s.msink.IncrCounterWithLabels(
				MetricConnInCount,
				1.0,
				labelsFor(s.cfg.MetricLabels, conn.RemoteAddr(), LabelPeerCN.M(peerCN(conn))),
			)
			eg.Go(func() error {
				s.serveConn(egCtx, eg, conn)
				return nil
			})
		}
	})

	return eg.Wait()
}

// serveConn tracks every stream in eg so Serve only returns once in-flight
// requests are done.
func (s *Server) serveConn(ctx context.Context, eg *errgroup.Group, conn quic.Connection) {
	logger := s.logger.With(LabelPeer.L(conn.RemoteAddr().String()))
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			var appErr *quic.ApplicationError
			if !s.gracefulTerm.Load() && ctx.Err() == nil && !errors.As(err, &appErr) {
				logger.Debug("connection lost", LabelError.L(err))
			}
			return
		}
		eg.Go(func() error {
			s.serveStream(ctx, logger, conn, stream)
			return nil
		})
	}
}

func (s *Server) serveStream(ctx context.Context, logger *slog.Logger, conn quic.Connection, stream quic.Stream) {
	labels := labelsFor(s.cfg.MetricLabels, conn.RemoteAddr())
	defer stream.Close()

	req, err := readFrame(stream, s.cfg.MaxFrameSize)
	if err != nil {
		logger.Debug("invalid request frame", LabelError.L(err))
		s.msink.IncrCounterWithLabels(MetricRequestInErrorCount, 1.0, append(labels, LabelError.M("bad_frame")))
		stream.CancelRead(codeBadFrame)
		stream.CancelWrite(codeBadFrame)
		return
	}
	s.msink.IncrCounterWithLabels(MetricRequestInCount, 1.0, labels)
	s.msink.IncrCounterWithLabels(MetricRequestInBytes, float32(len(req)), labels)

	start := time.Now()
	reply, err := s.handler.Handle(ctx, req)
	s.msink.AddSampleWithLabels(MetricRequestHandlingSeconds, float32(time.Since(start).Seconds()), labels)
	if err != nil {
		logger.Warn("handler failed", LabelError.L(err))
		s.msink.IncrCounterWithLabels(MetricRequestInErrorCount, 1.0, append(labels, LabelError.M("handler")))
		stream.CancelWrite(codeHandlerFailed)
		return
	}

	if err := writeFrame(stream, reply, s.cfg.MaxFrameSize); err != nil {
		logger.Warn("failed to write reply", LabelError.L(err))
		s.msink.IncrCounterWithLabels(MetricRequestInErrorCount, 1.0, append(labels, LabelError.M("write")))
		stream.CancelWrite(codeHandlerFailed)
		return
	}
	s.msink.IncrCounterWithLabels(MetricReplyOutBytes, float32(len(reply)), labels)
}

// Shutdown closes the listener and every connection. It is idempotent.
func (s *Server) Shutdown() error {
	if !s.gracefulTerm.CompareAndSwap(false, true) {
		return nil
	}
	close(s.closeCh)

	if s.ln != nil {
		s.ln.Close()
	}
	if s.tr != nil {
		s.tr.Close()
	}
	if s.udpLn != nil {
		s.udpLn.Close()
	}
	return nil
}

func (s *Server) negociateBufferSize(requested int) error {
	size := requested
	for size > 0 {
		if err := s.udpLn.SetReadBuffer(size); err != nil {
			if s.cfg.EnforceBufferSize {
				return ErrBufferSize
			}
			size = size >> 1
			continue
		}
		if size != requested {
			s.logger.Warn("using smaller than expected UDP buffer", "bytes", size)
		}
		s.msink.SetGaugeWithLabels(
			MetricUDPBufferSizeBytes,
			float32(size),
			s.cfg.MetricLabels,
		)
		return nil
	}
	return ErrBufferSize
}

func peerCN(conn quic.Connection) string {
	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return state.PeerCertificates[0].Subject.CommonName
}
