package objmesh

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
)

// drainPollInterval is how often `Drain` samples the active counters.
const drainPollInterval = 5 * time.Millisecond

// Signal is a registry of subscribers fanned out to on `Trigger`.
//
// Triggers take a snapshot of the subscribers at entry: a concurrent
// `Connect` is not seen by a trigger already running, while a concurrent
// `Disable` or `Disconnect` is honoured by any dispatch not yet started.
type Signal struct {
	name   string
	params signature.Signature
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	lk       sync.Mutex
	subs     []*subscriber
	byLink   map[Link]*subscriber
	lastLink Link
	closed   bool

	inflight atomic.Int64
}

// NewSignal creates a standalone signal. A nil params accepts any
// arguments; it is only enforced by `GenericObject.Emit`.
func NewSignal(name string, params signature.Signature, opts ...Option) (*Signal, error) {
	cfg := &config{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}
	return newSignal(name, params, cfg), nil
}

func newSignal(name string, params signature.Signature, cfg *config) *Signal {
	return &Signal{
		name:   name,
		params: params,
		logger: cfg.logger().With(LabelSignal.L(name)),
		msink:  cfg.sink(),
		labels: withLabels(cfg.metricLabels, LabelSignal.M(name)),
		byLink: make(map[Link]*subscriber),
	}
}

func (s *Signal) Name() string {
	return s.name
}

func (s *Signal) Params() signature.Signature {
	return s.params
}

// Connect adds an active subscriber dispatched on, by order of precedence,
// the `OnEventLoop` option, the loop of the target callable or object, or
// `DefaultEventLoop()`.
func (s *Signal) Connect(target Target, opts ...ConnectOption) (Link, error) {
	if target.object == nil && target.callable.IsZero() {
		return 0, fmt.Errorf("%w: empty target", ErrInvalidCfg)
	}

	cc := &connectConfig{}
	for _, opt := range opts {
		opt(cc)
	}

	loop := cc.loop
	if loop == nil {
		if target.object != nil {
			if obj := target.object.ptr.Value(); obj != nil {
				loop = obj.EventLoop()
			}
		} else {
			loop = target.callable.Loop()
		}
	}
	if loop == nil {
		loop = DefaultEventLoop()
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closed {
		return 0, ErrTargetUnavailable
	}
	s.lastLink++
	sub := &subscriber{
		link:   s.lastLink,
		target: target,
		guard:  cc.guard,
		loop:   loop,
	}
	sub.enabled.Store(true)
	s.subs = append(s.subs, sub)
	s.byLink[sub.link] = sub
	return sub.link, nil
}

// ConnectFunc subscribes a callable.
func (s *Signal) ConnectFunc(c Callable, opts ...ConnectOption) (Link, error) {
	return s.Connect(FuncTarget(c), opts...)
}

// ConnectMethod subscribes a method of another object.
func (s *Signal) ConnectMethod(obj *GenericObject, method string, opts ...ConnectOption) (Link, error) {
	return s.Connect(MethodTarget(obj, method), opts...)
}

// ConnectBound subscribes fn bound to target without keeping target alive.
// Once target is collected the subscriber removes itself.
func ConnectBound[T any](s *Signal, target *T, fn func(*T, []value.Value) error, opts ...ConnectOption) (Link, error) {
	g := NewWeakGuard(target)
	c := DynamicCallable(signature.Of(signature.Void), func(args []value.Value) (value.Value, error) {
		t, unlock, ok := g.Borrow()
		if !ok {
			return value.Value{}, ErrTargetUnavailable
		}
		defer unlock()
		return value.None(), fn(t, args)
	})
	return s.Connect(FuncTarget(c), append([]ConnectOption{WithGuard(g)}, opts...)...)
}

// Disable stops dispatching to link but keeps it listed until disconnected.
func (s *Signal) Disable(link Link) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	sub, ok := s.byLink[link]
	if !ok {
		return false
	}
	sub.enabled.Store(false)
	return true
}

// Disconnect removes link. Dispatches already started may still complete:
// use `DisconnectAndDrain` to wait for them.
func (s *Signal) Disconnect(link Link) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.removeLocked(link) != nil
}

// DisconnectAll removes every subscriber and reports whether any existed.
func (s *Signal) DisconnectAll() bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	had := len(s.subs) > 0
	for _, sub := range s.subs {
		sub.enabled.Store(false)
		sub.removed.Store(true)
	}
	s.subs = nil
	clear(s.byLink)
	return had
}

// DisconnectAndDrain removes link then waits for its in-flight dispatches.
func (s *Signal) DisconnectAndDrain(ctx context.Context, link Link) error {
	s.lk.Lock()
	sub := s.removeLocked(link)
	s.lk.Unlock()
	if sub == nil {
		return fmt.Errorf("%w: %d", ErrUnknownLink, link)
	}
	return waitZero(ctx, &sub.active)
}

// Drain waits until no dispatch of this signal is running, including those
// of already removed subscribers.
func (s *Signal) Drain(ctx context.Context) error {
	return waitZero(ctx, &s.inflight)
}

// Close disables the signal, waits for in-flight dispatches then drops
// every subscriber. Later triggers are no-ops.
func (s *Signal) Close(ctx context.Context) error {
	s.lk.Lock()
	s.closed = true
	for _, sub := range s.subs {
		sub.enabled.Store(false)
	}
	s.lk.Unlock()

	err := s.Drain(ctx)
	s.DisconnectAll()
	return err
}

// Subscribers lists the subscribers in insertion order.
func (s *Signal) Subscribers() []SubscriberInfo {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make([]SubscriberInfo, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub.info())
	}
	return out
}

// Trigger posts one dispatch per active subscriber and returns immediately.
// Handler failures are logged and counted, never returned.
func (s *Signal) Trigger(args ...value.Value) {
	s.lk.Lock()
	if s.closed {
		s.lk.Unlock()
		return
	}
	snapshot := slices.Clone(s.subs)
	s.lk.Unlock()

	s.msink.IncrCounterWithLabels(MetricTriggerCount, 1, s.labels)

	for _, sub := range snapshot {
		if !sub.enabled.Load() {
			continue
		}

		obj, release, ok := sub.acquire()
		if !ok {
			s.expire(sub)
			continue
		}

		sub.active.Add(1)
		s.inflight.Add(1)

		owned := make([]value.Value, len(args))
		for i := range args {
			owned[i] = args[i].Clone()
		}

		var once sync.Once
		done := func(err error) {
			once.Do(func() {
				if err != nil {
					s.handlerFailed(sub, err)
				}
				release()
				sub.active.Add(-1)
				s.inflight.Add(-1)
			})
		}

		err := sub.loop.Post(func() {
			if !sub.enabled.Load() {
				done(nil)
				return
			}
			sub.deliver(obj, owned, done)
		})
		if err != nil {
			done(err)
			continue
		}
		s.msink.IncrCounterWithLabels(MetricTriggerDispatchCount, 1, s.labels)
	}
}

// removeLocked MUST be called with lk held.
func (s *Signal) removeLocked(link Link) *subscriber {
	sub, ok := s.byLink[link]
	if !ok {
		return nil
	}
	sub.enabled.Store(false)
	sub.removed.Store(true)
	delete(s.byLink, link)
	s.subs = slices.DeleteFunc(s.subs, func(other *subscriber) bool {
		return other == sub
	})
	return sub
}

func (s *Signal) expire(sub *subscriber) {
	s.lk.Lock()
	removed := s.removeLocked(sub.link) != nil
	s.lk.Unlock()
	if !removed {
		return
	}

	s.logger.Warn(
		"subscriber target is gone, removing it",
		LabelLink.L(sub.link),
		LabelError.L(ErrTargetUnavailable),
	)
	s.msink.IncrCounterWithLabels(
		MetricSubscriberRemovedCount,
		1,
		withLabels(s.labels, LabelReason.M("target_unavailable")),
	)
}

func (s *Signal) handlerFailed(sub *subscriber, err error) {
	s.logger.Warn(
		"subscriber failed",
		LabelLink.L(sub.link),
		LabelError.L(err),
	)
	s.msink.IncrCounterWithLabels(MetricSubscriberHandlerErrors, 1, s.labels)
}

func waitZero(ctx context.Context, counter *atomic.Int64) error {
	if counter.Load() == 0 {
		return nil
	}
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if counter.Load() == 0 {
				return nil
			}
		}
	}
}
