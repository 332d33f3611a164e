package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/frepi-finance/internal/adapters/http"
	telegramadapter "github.com/kirillkom/frepi-finance/internal/adapters/telegram"
	"github.com/kirillkom/frepi-finance/internal/bootstrap"
	"github.com/kirillkom/frepi-finance/internal/config"
	"github.com/kirillkom/frepi-finance/internal/observability/logging"
	"github.com/kirillkom/frepi-finance/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:              logger,
		AgentObserver:       httpMetrics,
		CompositionObserver: httpMetrics,
		BreakerObserver:     httpMetrics.ObserveBreakerState,
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Sessions.RunEviction(ctx, time.Minute)
	}()

	deps := httpadapter.Deps{
		Sessions: app.Sessions,
		Turns:    app.Agent,
		Feedback: app.CompositionWriter,
		Metrics:  httpMetrics,
		Logger:   logger,
	}
	if cfg.TelegramEnabled() {
		bot := telegramadapter.New(app.Telegram, app.Sessions, app.Agent, app.Identifier, telegramadapter.Options{
			Workers:     cfg.TelegramWorkers,
			TurnTimeout: cfg.AgentTurnTimeout,
			Logger:      logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.Run(ctx)
		}()

		switch cfg.TelegramMode {
		case config.TelegramModeWebhook:
			deps.Updates = bot
		case config.TelegramModePolling:
			poller := telegramadapter.NewPoller(app.Telegram, bot, telegramadapter.PollerOptions{Logger: logger})
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := poller.Run(ctx); err != nil {
					log.Printf("telegram poller error: %v", err)
				}
			}()
		}
		log.Printf("telegram transport enabled (%s)", cfg.TelegramMode)
	}

	router := httpadapter.NewRouter(cfg, deps).Handler()
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.AgentTurnTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		log.Fatalf("api listen error: %v", err)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		log.Printf("api listening on :%s", cfg.APIPort)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown error: %v", err)
	}
	wg.Wait()
}
