package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	defaultCompositionQueueSize    = 256
	defaultCompositionWriteTimeout = 5 * time.Second
)

// CompositionWriteObserver counts audit writes by kind and status.
type CompositionWriteObserver interface {
	ObserveCompositionWrite(kind, status string)
}

// AsyncCompositionLogger implements ports.CompositionSink on top of a
// CompositionWriter. Writes run on one background worker in submission
// order; when the queue is full the event is dropped and logged.
type AsyncCompositionLogger struct {
	writer   ports.CompositionWriter
	logger   *slog.Logger
	observer CompositionWriteObserver
	timeout  time.Duration
	now      func() time.Time

	queue chan domain.CompositionEvent
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncCompositionLogger(writer ports.CompositionWriter, logger *slog.Logger, observer CompositionWriteObserver, queueSize int) *AsyncCompositionLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultCompositionQueueSize
	}
	l := &AsyncCompositionLogger{
		writer:   writer,
		logger:   logger,
		observer: observer,
		timeout:  defaultCompositionWriteTimeout,
		now:      time.Now,
		queue:    make(chan domain.CompositionEvent, queueSize),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

// LogComposition assigns the log id and queues the write. It returns an
// empty id when the event could not be queued.
func (l *AsyncCompositionLogger) LogComposition(_ context.Context, entry domain.CompositionEntry) string {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	if !l.enqueue(domain.CompositionEvent{Kind: domain.CompositionEventEntry, Entry: &entry}) {
		return ""
	}
	return entry.ID
}

func (l *AsyncCompositionLogger) LogResult(_ context.Context, result domain.CompositionResult) {
	if result.LogID == "" {
		return
	}
	l.enqueue(domain.CompositionEvent{Kind: domain.CompositionEventResult, Result: &result})
}

func (l *AsyncCompositionLogger) LogFeedback(_ context.Context, feedback domain.CompositionFeedback) {
	if feedback.LogID == "" {
		return
	}
	l.enqueue(domain.CompositionEvent{Kind: domain.CompositionEventFeedback, Feedback: &feedback})
}

func (l *AsyncCompositionLogger) enqueue(event domain.CompositionEvent) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("composition_log_failed", "kind", event.Kind, "error", "logger closed")
		l.observe(event.Kind, "dropped")
		return false
	}
	select {
	case l.queue <- event:
		return true
	default:
		l.logger.Warn("composition_log_failed", "kind", event.Kind, "error", "queue full")
		l.observe(event.Kind, "dropped")
		return false
	}
}

func (l *AsyncCompositionLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := ApplyCompositionEvent(ctx, l.writer, event)
		cancel()
		if err != nil {
			l.logger.Warn("composition_log_failed", "kind", event.Kind, "error", err)
			l.observe(event.Kind, "error")
			continue
		}
		l.observe(event.Kind, "ok")
	}
}

func (l *AsyncCompositionLogger) observe(kind, status string) {
	if l.observer != nil {
		l.observer.ObserveCompositionWrite(kind, status)
	}
}

// Close stops accepting events and waits for queued writes to finish or ctx
// to expire.
func (l *AsyncCompositionLogger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyCompositionEvent routes one audit event to the matching writer call.
func ApplyCompositionEvent(ctx context.Context, writer ports.CompositionWriter, event domain.CompositionEvent) error {
	switch event.Kind {
	case domain.CompositionEventEntry:
		if event.Entry == nil {
			return domain.WrapError(domain.ErrInvalidInput, "apply composition event", fmt.Errorf("entry is missing"))
		}
		return writer.WriteComposition(ctx, *event.Entry)
	case domain.CompositionEventResult:
		if event.Result == nil {
			return domain.WrapError(domain.ErrInvalidInput, "apply composition event", fmt.Errorf("result is missing"))
		}
		return writer.WriteResult(ctx, *event.Result)
	case domain.CompositionEventFeedback:
		if event.Feedback == nil {
			return domain.WrapError(domain.ErrInvalidInput, "apply composition event", fmt.Errorf("feedback is missing"))
		}
		return writer.WriteFeedback(ctx, *event.Feedback)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "apply composition event", fmt.Errorf("unknown kind %q", event.Kind))
	}
}
