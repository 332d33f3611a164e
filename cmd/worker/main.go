package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kirillkom/frepi-finance/internal/bootstrap"
	"github.com/kirillkom/frepi-finance/internal/config"
	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/usecase"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/scheduler"
	"github.com/kirillkom/frepi-finance/internal/observability/logging"
	"github.com/kirillkom/frepi-finance/internal/observability/metrics"
)

const (
	applyAttempts = 3
	applyBackoff  = 250 * time.Millisecond
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:              logger,
		CompositionObserver: workerMetrics,
		BreakerObserver:     workerMetrics.ObserveBreakerState,
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("worker metrics listening on :%s", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("worker metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup

	if cfg.HeartbeatEnabled && cfg.TelegramEnabled() {
		location, err := time.LoadLocation(cfg.HeartbeatTimezone)
		if err != nil {
			log.Fatalf("heartbeat timezone error: %v", err)
		}
		jobs, err := scheduler.New(app.Heartbeat, usecase.HeartbeatSchedule(), scheduler.Options{
			Location: location,
			Logger:   logger,
			Observer: workerMetrics,
		})
		if err != nil {
			log.Fatalf("heartbeat scheduler error: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs.Run(ctx)
		}()
		log.Printf("heartbeat scheduler started (%s)", cfg.HeartbeatTimezone)
	}

	if app.Queue != nil {
		log.Printf("worker subscribed to %s", cfg.NATSCompositionSubject)
		err = app.Queue.SubscribeCompositionEvents(ctx, func(handlerCtx context.Context, event domain.CompositionEvent) error {
			workerMetrics.StartEvent()
			if event.Entry != nil && !event.Entry.CreatedAt.IsZero() {
				workerMetrics.ObserveQueueLag(time.Since(event.Entry.CreatedAt))
			}
			err := applyEvent(handlerCtx, app, event)
			workerMetrics.FinishEvent(event.Kind, err)
			status := "ok"
			if err != nil {
				status = "error"
			}
			workerMetrics.ObserveCompositionWrite(event.Kind, status)
			return err
		})
		if err != nil {
			log.Printf("worker subscribe error: %v", err)
			stop()
		}
	} else {
		log.Printf("NATS_URL is empty; composition events are written by the api")
		<-ctx.Done()
	}

	wg.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

// applyEvent persists one event. Results and feedback can overtake their
// entry when several workers share the queue group, so a missing row is
// retried briefly.
func applyEvent(ctx context.Context, app *bootstrap.App, event domain.CompositionEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		err = usecase.ApplyCompositionEvent(writeCtx, app.CompositionLog, event)
		if err == nil || !domain.IsKind(err, domain.ErrNotFound) || event.Kind == domain.CompositionEventEntry {
			return err
		}
		select {
		case <-writeCtx.Done():
			return err
		case <-time.After(applyBackoff * time.Duration(attempt)):
		}
	}
	return err
}
