package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/frepi-finance/internal/config"
	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
	"github.com/kirillkom/frepi-finance/internal/core/usecase"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/llm/openai"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/prompts"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/queue/nats"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/resilience"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/telegram"
)

// Options carries the per-binary observers. Nil observers are no-ops.
type Options struct {
	Logger              *slog.Logger
	AgentObserver       ports.AgentObserver
	CompositionObserver usecase.CompositionWriteObserver
	BreakerObserver     resilience.StateObserver
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Store          *postgres.Store
	CompositionLog *postgres.CompositionLogRepository
	// Queue is nil when NATS_URL is empty; composition events are then
	// written to Postgres in-process.
	Queue *nats.CompositionQueue
	// CompositionWriter is where the API sends audit writes.
	CompositionWriter ports.CompositionWriter
	Audit             *usecase.AsyncCompositionLogger

	Prompts    domain.PromptLibrary
	Classifier *usecase.IntentClassifier
	Composer   *usecase.PromptComposer
	Sessions   *usecase.MemorySessionStore
	Identifier *usecase.StoreIdentifier
	Tools      *usecase.ToolDispatcher
	Agent      *usecase.Agent
	Heartbeat  *usecase.HeartbeatService
	Telegram   *telegram.Client

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executorOpts := []resilience.ExecutorOption{resilience.WithLogger(logger)}
	if opts.BreakerObserver != nil {
		executorOpts = append(executorOpts, resilience.WithStateObserver(opts.BreakerObserver))
	}
	executor := resilience.NewExecutor(resilienceConfig(cfg), executorOpts...)

	library, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	location, err := time.LoadLocation(cfg.HeartbeatTimezone)
	if err != nil {
		return nil, fmt.Errorf("load heartbeat timezone: %w", err)
	}

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxOpenConns: cfg.PostgresMaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers := []func(){func() { _ = db.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	compositionLog := postgres.NewCompositionLogRepository(db)
	if err := compositionLog.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	store := postgres.NewStore(db, executor)

	var queue *nats.CompositionQueue
	var writer ports.CompositionWriter = compositionLog
	if cfg.NATSURL != "" {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSCompositionSubject, nats.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init composition queue: %w", err)
		}
		closers = append(closers, queue.Close)
		writer = queue
	}

	archive, err := localfs.New(cfg.InvoiceArchiveDir)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init invoice archive: %w", err)
	}
	exports, err := localfs.New(cfg.ReportExportDir)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init report exports: %w", err)
	}

	llm := openai.New(openai.Options{
		BaseURL:     cfg.OpenAIBaseURL,
		APIKey:      cfg.OpenAIAPIKey,
		ChatModel:   cfg.ChatModel,
		VisionModel: cfg.VisionModel,
		Timeout:     cfg.LLMTimeout,
		Executor:    executor,
	})
	// The Bot API client doubles as the media downloader, so it exists even
	// when the bot transport is off.
	bot := telegram.New(telegram.Options{
		BaseURL:  cfg.TelegramAPIBaseURL,
		Token:    cfg.TelegramBotToken,
		SendRPS:  cfg.TelegramSendRPS,
		Executor: executor,
	})

	trends := usecase.NewPriceTrends(store, time.Duration(cfg.PriceFreshnessDays)*24*time.Hour)
	identifier := usecase.NewStoreIdentifier(store)
	toolbox := &usecase.Toolbox{
		Store:      store,
		Identifier: identifier,
		Engagement: usecase.NewEngagementService(store),
		Cashflow:   usecase.NewCashflow(store),
		FoodCost:   usecase.NewFoodCostCalculator(store),
		Trends:     trends,
		Invoices: usecase.NewInvoiceService(usecase.InvoiceDeps{
			Store:      store,
			Downloader: bot,
			Reader:     openai.NewInvoiceReader(llm),
			PDF:        pdftext.NewExtractor(),
			Archive:    archive,
			Trends:     trends,
			Logger:     logger,
		}),
		Workbooks: xlsx.NewWorkbookWriter(),
		Exports:   exports,
	}
	if cfg.TelegramEnabled() {
		toolbox.Documents = bot
	}
	tools := usecase.NewToolCatalog(toolbox, logger, cfg.AgentToolTimeout)

	audit := usecase.NewAsyncCompositionLogger(writer, logger, opts.CompositionObserver, cfg.CompositionQueueSize)
	closers = append(closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := audit.Close(closeCtx); err != nil {
			logger.Warn("composition_log_failed", "stage", "close", "error", err)
		}
	})

	classifier := usecase.NewIntentClassifier()
	composer := usecase.NewPromptComposer(library)
	agent := usecase.NewAgent(usecase.AgentDeps{
		Classifier: classifier,
		Composer:   composer,
		Context:    usecase.NewContextLoader(store, usecase.NewDripService(store)),
		Identifier: identifier,
		Model:      llm,
		Tools:      tools,
		Audit:      audit,
		Observer:   opts.AgentObserver,
		Logger:     logger,
	}, usecase.AgentConfig{
		Model:         cfg.ChatModel,
		MaxIterations: cfg.AgentMaxIterations,
		TurnTimeout:   cfg.AgentTurnTimeout,
		Temperature:   cfg.AgentTemperature,
	})

	return &App{
		Config: cfg,
		Logger: logger,

		Store:             store,
		CompositionLog:    compositionLog,
		Queue:             queue,
		CompositionWriter: writer,
		Audit:             audit,

		Prompts:    library,
		Classifier: classifier,
		Composer:   composer,
		Sessions:   usecase.NewMemorySessionStore(cfg.SessionIdleTTL),
		Identifier: identifier,
		Tools:      tools,
		Agent:      agent,
		Heartbeat:  usecase.NewHeartbeatService(store, trends, bot, location, logger),
		Telegram:   bot,

		closeFn: closeAll,
	}, nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff:     cfg.ResilienceRetryInitialBackoff,
		RetryMaxBackoff:         cfg.ResilienceRetryMaxBackoff,
		RetryMultiplier:         cfg.ResilienceRetryMultiplier,
		BreakerEnabled:          cfg.ResilienceBreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.ResilienceBreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:      cfg.ResilienceBreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.ResilienceBreakerHalfOpenMaxCalls, 0)),
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
