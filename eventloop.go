package objmesh

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-metrics"
)

// EventLoop is an execution context serialising the work posted to it.
//
// Implementations MUST run tasks in the order they were posted and MUST NOT
// block the poster.
type EventLoop interface {
	Post(task func()) error
}

// Loop is an `EventLoop` backed by a single goroutine and an unbounded FIFO.
type Loop struct {
	name   string
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	lk     sync.Mutex
	queue  []func()
	closed bool

	wakeCh     chan struct{}
	mainLoopWg sync.WaitGroup
}

// NewLoop starts a new event loop. Only the logging and metrics options are
// honoured.
func NewLoop(opts ...Option) (*Loop, error) {
	cfg := &config{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	l := &Loop{
		name:   cfg.name,
		logger: cfg.logger(),
		msink:  cfg.sink(),
		labels: cfg.metricLabels,
		wakeCh: make(chan struct{}, 1),
	}
	if l.name != "" {
		l.logger = l.logger.With(LabelLoop.L(l.name))
		l.labels = withLabels(l.labels, LabelLoop.M(l.name))
	}

	l.mainLoopWg.Add(1)
	go l.run()
	return l, nil
}

// Post enqueues a task. It never blocks.
func (l *Loop) Post(task func()) error {
	l.lk.Lock()
	defer l.lk.Unlock()
	if l.closed {
		return ErrLoopClosed
	}
	l.queue = append(l.queue, task)

	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Close refuses new tasks, waits for the queued ones to run then stops the
// goroutine. Calling Close from a task of the same loop deadlocks.
func (l *Loop) Close() error {
	l.lk.Lock()
	if l.closed {
		l.lk.Unlock()
		return nil
	}
	l.closed = true
	close(l.wakeCh)
	l.lk.Unlock()

	l.mainLoopWg.Wait()
	return nil
}

func (l *Loop) run() {
	defer l.mainLoopWg.Done()
	for {
		_, ok := <-l.wakeCh

		l.lk.Lock()
		batch := l.queue
		l.queue = nil
		l.lk.Unlock()

		for _, task := range batch {
			l.exec(task)
		}

		// The queue cannot grow once wakeCh is closed.
		if !ok {
			return
		}
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", LabelError.L(r))
			l.msink.IncrCounterWithLabels(MetricEventLoopTaskPanicCount, 1, l.labels)
		}
	}()
	task()
}

var (
	defaultLoop     *Loop
	defaultLoopOnce sync.Once
)

// DefaultEventLoop returns the process-wide loop, creating it on first use.
// It is never closed.
func DefaultEventLoop() EventLoop {
	defaultLoopOnce.Do(func() {
		// NewLoop only fails on invalid options.
		defaultLoop, _ = NewLoop(WithName("default"))
	})
	return defaultLoop
}

// LoopFunc adapts a function to the `EventLoop` interface.
//
// `Inline` is the LoopFunc running tasks on the poster's goroutine.
type LoopFunc func(task func()) error

func (f LoopFunc) Post(task func()) error {
	return f(task)
}

var Inline EventLoop = LoopFunc(func(task func()) error {
	task()
	return nil
})
