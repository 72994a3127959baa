package objmesh

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

type config struct {
	name         string
	logHandler   slog.Handler
	metricLabels []metrics.Label
	msink        metrics.MetricSink
	loop         EventLoop
}

// Option to pass to `NewObjectBuilder`.
type Option func(*config) error

// WithName sets a human-readable name used in logs and metrics.
func WithName(name string) Option {
	return func(c *config) error {
		c.name = name
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the object.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// the object and its signals.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithEventLoop binds the object to a loop. Methods advertised without
// their own loop run there, and so do subscriptions targeting the object.
// Defaults to `DefaultEventLoop()`.
func WithEventLoop(loop EventLoop) Option {
	return func(c *config) error {
		if loop == nil {
			return ErrInvalidCfg
		}
		c.loop = loop
		return nil
	}
}

func (c *config) logger() *slog.Logger {
	if c.logHandler != nil {
		return slog.New(c.logHandler)
	}
	return slog.Default()
}

func (c *config) sink() metrics.MetricSink {
	if c.msink != nil {
		return c.msink
	}
	return metrics.Default()
}
