// Package transport carries encoded requests to remote objects over QUIC.
//
// Every request travels on its own bidirectional stream: the client writes
// one frame and closes its side, the server answers with one frame.
package transport

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

const (
	// ALPN negotiated when the TLS configuration does not set one.
	ALPN = "objmesh"

	defaultUDPBufferSize = 1 << 21
	defaultMaxFrameSize  = 4 << 20
	defaultDialTimeout   = 5 * time.Second
	defaultMaxStreams    = 1000
)

var (
	ErrNoTLSConfig     = errors.New("transport: no TLS config provided")
	ErrBufferSize      = errors.New("transport: could not allocate UDP buffer")
	ErrTooLargeFrame   = errors.New("transport: frame exceeds the maximum size")
	ErrClosed          = errors.New("transport: closed")
	ErrRemoteFailure   = errors.New("transport: remote handler failed")
	ErrUdpNotAvailable = errors.New("transport: UDP listener not available")
)

// Config of a `Server` or a `Client`.
type Config struct {
	// TlsConfig MUST be set. mTLS is recommended between peers.
	TlsConfig *tls.Config

	// BindAddr and BindPort are where the server listens. A zero port picks
	// an ephemeral one, see `Server.Addr`. Clients ignore them.
	BindAddr string
	BindPort int

	// BufferSize of the requested UDP kernel buffer.
	BufferSize int

	// EnforceBufferSize fails if the kernel doesn't allocate what we asked.
	// Otherwise the requested size is halved until it fits.
	EnforceBufferSize bool

	// MaxFrameSize bounds the size of requests and replies.
	MaxFrameSize int

	// MaxIncomingStreams is the number of concurrent requests a connection
	// may carry.
	MaxIncomingStreams int64

	// DialTimeout controls how long a client waits for a connection.
	DialTimeout time.Duration

	// MetricLabels to add to every metric emitted by the transport.
	MetricLabels []metrics.Label

	// MetricSink to use for emitting metrics.
	MetricSink metrics.MetricSink

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler
}

func (cfg *Config) withDefaults() (*Config, error) {
	if cfg == nil || cfg.TlsConfig == nil {
		return nil, ErrNoTLSConfig
	}
	out := *cfg
	out.TlsConfig = cfg.TlsConfig.Clone()
	if len(out.TlsConfig.NextProtos) == 0 {
		out.TlsConfig.NextProtos = []string{ALPN}
	}
	if out.BufferSize == 0 {
		out.BufferSize = defaultUDPBufferSize
	}
	if out.MaxFrameSize <= 0 {
		out.MaxFrameSize = defaultMaxFrameSize
	}
	if out.MaxIncomingStreams <= 0 {
		out.MaxIncomingStreams = defaultMaxStreams
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = defaultDialTimeout
	}
	return &out, nil
}

func (cfg *Config) logger() *slog.Logger {
	if cfg.LogHandler == nil {
		return slog.Default()
	}
	return slog.New(cfg.LogHandler)
}

func (cfg *Config) sink() metrics.MetricSink {
	if cfg.MetricSink == nil {
		return metrics.Default()
	}
	return cfg.MetricSink
}
