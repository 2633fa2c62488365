// Package activitylog decouples bot loops from persistence. Bots and the tracker
// publish events onto a bounded channel; a single consumer goroutine writes them
// to a Sink. Delivery is best effort and at most once.
package activitylog

import (
	"context"
	"crypto-bots-go/internal/metrics"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink persists activity events. Implementations must be safe for use from
// the consumer goroutine while other goroutines read from the same store.
type Sink interface {
	InsertBot(ctx context.Context, e BotCreated) error
	UpdateBot(ctx context.Context, e BotUpdated) error
	StopBot(ctx context.Context, e BotStopped) error
	InsertTransaction(ctx context.Context, e TransactionLogged) error
}

// Publisher is the only part of the log that bots depend on.
type Publisher interface {
	// Publish hands the event to the log without blocking. It returns false
	// if the event was dropped.
	Publish(e Event) bool
}

// Options tunes a Log.
type Options struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// Log is the activity log.
type Log struct {
	sink         Sink
	logger       *zap.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
	start  sync.Once
}

// New creates a Log. Call Start before publishing.
func New(sink Sink, logger *zap.Logger, opts Options) *Log {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		sink:         sink,
		logger:       logger,
		writeTimeout: opts.WriteTimeout,
		events:       make(chan Event, opts.BufferSize),
		done:         make(chan struct{}),
	}
}

// Start launches the consumer goroutine. It is safe to call more than once.
func (l *Log) Start() {
	l.start.Do(func() {
		go l.consume()
		l.logger.Info("Activity log started.")
	})
}

// Publish enqueues e. When the buffer is full or the log is stopped the event
// is dropped and counted; the caller is never blocked.
func (l *Log) Publish(e Event) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		metrics.ActivityEvents.WithLabelValues(string(e.Kind()), "dropped").Inc()
		return false
	}
	select {
	case l.events <- e:
		metrics.ActivityQueueDepth.Set(float64(len(l.events)))
		return true
	default:
		metrics.ActivityEvents.WithLabelValues(string(e.Kind()), "dropped").Inc()
		l.logger.Warn("Activity log buffer full, dropping event",
			zap.String("kind", string(e.Kind())), zap.String("uuid", e.CorrelationID()))
		return false
	}
}

// Stop closes intake and waits for queued events to be written, or for ctx
// to expire.
func (l *Log) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	l.mu.Unlock()

	l.Start() // drain even if Start was never called
	select {
	case <-l.done:
		l.logger.Info("Activity log stopped.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("activity log drain: %w", ctx.Err())
	}
}

func (l *Log) consume() {
	defer close(l.done)
	for e := range l.events {
		metrics.ActivityQueueDepth.Set(float64(len(l.events)))
		l.persist(e)
	}
}

// persist routes e to the sink. Failures are logged and swallowed.
func (l *Log) persist(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()

	var err error
	switch ev := e.(type) {
	case BotCreated:
		err = l.sink.InsertBot(ctx, ev)
	case BotUpdated:
		err = l.sink.UpdateBot(ctx, ev)
	case BotStopped:
		err = l.sink.StopBot(ctx, ev)
	case TransactionLogged:
		err = l.sink.InsertTransaction(ctx, ev)
	default:
		l.logger.Warn("Received activity event with unexpected type", zap.String("type", fmt.Sprintf("%T", e)))
		return
	}

	if err != nil {
		metrics.ActivityEvents.WithLabelValues(string(e.Kind()), "failed").Inc()
		l.logger.Error("Failed to persist activity event",
			zap.String("kind", string(e.Kind())), zap.String("uuid", e.CorrelationID()), zap.Error(err))
		return
	}
	metrics.ActivityEvents.WithLabelValues(string(e.Kind()), "persisted").Inc()
}

// Discard is a Publisher that drops everything. Useful for one-off runs such
// as backtests.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) bool { return true }
