package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/quic-go/quic-go"
)

// Client sends requests to servers, reusing one connection per address.
type Client struct {
	cfg    *Config
	logger *slog.Logger
	msink  metrics.MetricSink

	lk     sync.Mutex
	closed bool
	conns  map[string]quic.Connection

	tr    *quic.Transport
	udpLn *net.UDPConn
}

func NewClient(cfg *Config) (*Client, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	udpLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to allocate UDP socket: %w", err)
	}

	return &Client{
		cfg:    cfg,
		logger: cfg.logger(),
		msink:  cfg.sink(),
		conns:  make(map[string]quic.Connection),
		tr:     &quic.Transport{Conn: udpLn},
		udpLn:  udpLn,
	}, nil
}

// Request sends payload to the server at addr and waits for its reply.
func (c *Client) Request(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	labels := c.cfg.MetricLabels
	reply, err := c.request(ctx, addr, payload)
	if err != nil {
		c.msink.IncrCounterWithLabels(
			MetricRequestOutErrorCount,
			1.0,
			append(append([]metrics.Label(nil), labels...), LabelAddress.M(addr)),
		)
		return nil, err
	}
	c.msink.IncrCounterWithLabels(MetricRequestOutCount, 1.0, labels)
	return reply, nil
}

func (c *Client) request(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	conn, err := c.getActiveCx(ctx, addr)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		c.logger.Debug("dropping connection", LabelAddress.L(addr), LabelError.L(err))
		c.forget(addr, conn)
		return nil, fmt.Errorf("transport: cannot open stream: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(codeBadFrame)
		stream.CancelWrite(codeBadFrame)
	})
	defer stop()

	if err := writeFrame(stream, payload, c.cfg.MaxFrameSize); err != nil {
		stream.CancelWrite(codeBadFrame)
		stream.CancelRead(codeBadFrame)
		return nil, err
	}
	// Closing the send side tells the server the request is complete.
	stream.Close()

	reply, err := readFrame(stream, c.cfg.MaxFrameSize)
	if err != nil {
		stream.CancelRead(codeBadFrame)
		var streamErr *quic.StreamError
		if errors.As(err, &streamErr) && streamErr.ErrorCode == codeHandlerFailed {
			return nil, fmt.Errorf("%w: %s", ErrRemoteFailure, addr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return reply, nil
}

func (c *Client) getActiveCx(ctx context.Context, addr string) (quic.Connection, error) {
	c.lk.Lock()
	if c.closed {
		c.lk.Unlock()
		return nil, ErrClosed
	}
	conn, ok := c.conns[addr]
	c.lk.Unlock()

	if ok {
		select {
		case <-conn.Context().Done():
			c.forget(addr, conn)
		default:
			return conn, nil
		}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid address %q: %w", addr, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, err = c.tr.Dial(dialCtx, udpAddr, c.cfg.TlsConfig, &quic.Config{
		Versions:        []quic.Version{quic.Version2, quic.Version1},
		MaxIdleTimeout:  1 * time.Minute,
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		c.msink.IncrCounterWithLabels(
			MetricConnOutErrorCount,
			1.0,
			append(append([]metrics.Label(nil), c.cfg.MetricLabels...), LabelAddress.M(addr)),
		)
		return nil, fmt.Errorf("transport: cannot dial %s: %w", addr, err)
	}
	c.msink.IncrCounterWithLabels(MetricConnOutCount, 1.0, labelsFor(c.cfg.MetricLabels, conn.RemoteAddr()))

	c.lk.Lock()
	defer c.lk.Unlock()
	if c.closed {
		conn.CloseWithError(codeShutdown, "client closed")
		return nil, ErrClosed
	}
	// Another request may have raced us, keep a single connection.
	if existing, ok := c.conns[addr]; ok {
		conn.CloseWithError(codeShutdown, "duplicate connection")
		return existing, nil
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *Client) forget(addr string, conn quic.Connection) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.conns[addr] == conn {
		delete(c.conns, addr)
	}
}

// Close terminates every connection. It is idempotent.
func (c *Client) Close() error {
	c.lk.Lock()
	if c.closed {
		c.lk.Unlock()
		return nil
	}
	c.closed = true
	conns := c.conns
	c.conns = nil
	c.lk.Unlock()

	for _, conn := range conns {
		conn.CloseWithError(codeShutdown, "client closed")
	}
	c.tr.Close()
	return c.udpLn.Close()
}
