package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/resilience"
)

const queueGroup = "workers"

// CompositionQueue carries prompt composition audit events from the API to
// the worker. The publishing side implements ports.CompositionWriter and the
// consuming side implements ports.CompositionEventSource.
type CompositionQueue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	ClientName           string
}

func New(url, subject string) (*CompositionQueue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*CompositionQueue, error) {
	if subject == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "connect nats", errors.New("subject is required"))
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.ClientName
	if name == "" {
		name = "frepi-finance"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &CompositionQueue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *CompositionQueue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *CompositionQueue) WriteComposition(ctx context.Context, entry domain.CompositionEntry) error {
	return q.publish(ctx, domain.CompositionEvent{Kind: domain.CompositionEventEntry, Entry: &entry})
}

func (q *CompositionQueue) WriteResult(ctx context.Context, result domain.CompositionResult) error {
	return q.publish(ctx, domain.CompositionEvent{Kind: domain.CompositionEventResult, Result: &result})
}

func (q *CompositionQueue) WriteFeedback(ctx context.Context, feedback domain.CompositionFeedback) error {
	return q.publish(ctx, domain.CompositionEvent{Kind: domain.CompositionEventFeedback, Feedback: &feedback})
}

func (q *CompositionQueue) publish(ctx context.Context, event domain.CompositionEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeCompositionEvents consumes events in the worker queue group until
// ctx is done, then drains the subscription. Malformed payloads are logged
// and skipped.
func (q *CompositionQueue) SubscribeCompositionEvents(ctx context.Context, handler func(context.Context, domain.CompositionEvent) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, queueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		event, err := decodeEvent(msg.Data)
		if err != nil {
			log.Printf("composition event rejected: %v", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, event); err != nil {
			log.Printf("composition event handler error kind=%s: %v", event.Kind, err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeEvent(event domain.CompositionEvent) ([]byte, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode composition event: %w", err)
	}
	return payload, nil
}

func decodeEvent(data []byte) (domain.CompositionEvent, error) {
	var event domain.CompositionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.CompositionEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode composition event", err)
	}
	if err := validateEvent(event); err != nil {
		return domain.CompositionEvent{}, err
	}
	return event, nil
}

func validateEvent(event domain.CompositionEvent) error {
	var ok bool
	switch event.Kind {
	case domain.CompositionEventEntry:
		ok = event.Entry != nil && event.Entry.ID != ""
	case domain.CompositionEventResult:
		ok = event.Result != nil && event.Result.LogID != ""
	case domain.CompositionEventFeedback:
		ok = event.Feedback != nil && event.Feedback.LogID != ""
	}
	if !ok {
		return domain.WrapError(domain.ErrInvalidInput, "validate composition event", fmt.Errorf("incomplete %q event", event.Kind))
	}
	return nil
}
