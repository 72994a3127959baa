package directory

import (
	"fmt"
	"log/slog"
	"time"

	leg_metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"
)

type config struct {
	mlCfg        *memberlist.Config
	logHandler   slog.Handler
	metricLabels []metrics.Label
	msink        metrics.MetricSink
	neighbours   []string
	tombstoneTTL time.Duration
	reapPeriod   time.Duration
}

// Option to pass to `Create`
type Option func(*config) error

// WithProfile picks the memberlist timings: "lan" (default), "wan" or
// "local" for a single host.
func WithProfile(profile string) Option {
	return func(c *config) error {
		var base *memberlist.Config
		switch profile {
		case "", "lan":
			base = memberlist.DefaultLANConfig()
		case "wan":
			base = memberlist.DefaultWANConfig()
		case "local":
			base = memberlist.DefaultLocalConfig()
		default:
			return fmt.Errorf("unknown gossip profile %q", profile)
		}
		// Keep what previous options already set.
		base.Name = c.mlCfg.Name
		base.BindAddr = c.mlCfg.BindAddr
		base.BindPort = c.mlCfg.BindPort
		base.AdvertisePort = c.mlCfg.AdvertisePort
		base.MetricLabels = c.mlCfg.MetricLabels
		c.mlCfg = base
		return nil
	}
}

// WithListenOn specifies which interface memberlist gossips on. A zero port
// picks an ephemeral one.
func WithListenOn(addr string, port int) Option {
	return func(c *config) error {
		c.mlCfg.BindAddr = addr
		c.mlCfg.BindPort = port
		c.mlCfg.AdvertisePort = port
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

// WithNodeName specifies which name should be exposed to other peers when
// joining the cluster. For a well-behaving cluster, the name MUST be unique.
func WithNodeName(name string) Option {
	return func(c *config) error {
		if name != "" {
			c.mlCfg.Name = name
		}
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// directory and its memberlist.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels

		// memberlist still emits through armon/go-metrics.
		c.mlCfg.MetricLabels = make([]leg_metrics.Label, len(labels))
		for i, label := range labels {
			c.mlCfg.MetricLabels[i] = leg_metrics.Label{
				Name:  label.Name,
				Value: label.Value,
			}
		}
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// the directory.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithNeighbours controls which peers are tried by `Join` when it is called
// without any.
func WithNeighbours(neighbours []string) Option {
	return func(c *config) error {
		c.neighbours = neighbours
		return nil
	}
}

// WithTombstoneTTL controls how long unregistered names are remembered, so
// late gossip cannot resurrect them.
func WithTombstoneTTL(ttl time.Duration) Option {
	return func(c *config) error {
		if ttl <= 0 {
			return fmt.Errorf("tombstone TTL must be positive, got %s", ttl)
		}
		c.tombstoneTTL = ttl
		if c.reapPeriod > ttl {
			c.reapPeriod = ttl
		}
		return nil
	}
}
