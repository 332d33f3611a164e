package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const (
	DefaultAgentMaxIterations = 8
	DefaultAgentTurnTimeout   = 120 * time.Second
	DefaultAgentTemperature   = 0.7

	turnStatusOK    = "ok"
	turnStatusError = "error"

	toolArgsPreviewLimit = 100
)

// TurnContextSource provides the optional prompt context of a turn.
type TurnContextSource interface {
	UserMemory(ctx context.Context, restaurantID int64) (*domain.UserMemory, error)
	RecentContext(ctx context.Context, restaurantID int64, intent domain.Intent) (string, error)
	DripContext(ctx context.Context, restaurantID int64, intent domain.Intent) (string, error)
}

type AgentConfig struct {
	Model         string
	MaxIterations int
	TurnTimeout   time.Duration
	Temperature   float64
}

type AgentDeps struct {
	Classifier *IntentClassifier
	Composer   *PromptComposer
	Context    TurnContextSource
	Identifier ports.UserIdentifier
	Model      ports.ChatModel
	Tools      ports.ToolDispatcher
	Audit      ports.CompositionSink
	Observer   ports.AgentObserver
	Logger     *slog.Logger
}

// Agent runs one inbound message through classification, composition and
// the bounded model/tool loop.
type Agent struct {
	deps AgentDeps
	cfg  AgentConfig
	now  func() time.Time
}

func NewAgent(deps AgentDeps, cfg AgentConfig) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultAgentMaxIterations
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultAgentTurnTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultAgentTemperature
	}
	if deps.Classifier == nil {
		deps.Classifier = NewIntentClassifier()
	}
	if deps.Audit == nil {
		deps.Audit = noopCompositionSink{}
	}
	if deps.Observer == nil {
		deps.Observer = noopAgentObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{deps: deps, cfg: cfg, now: time.Now}
}

// HandleTurn processes one message for a session the caller has exclusive
// access to. On error the session is restored to its state before the turn.
func (a *Agent) HandleTurn(ctx context.Context, session *domain.Session, text string, hasPhoto bool) (domain.TurnResult, error) {
	started := a.now()
	snapshot := session.Snapshot()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.TurnTimeout)
	defer cancel()

	a.ensureIdentity(ctx, session)

	intent := a.deps.Classifier.Classify(text, hasPhoto, session.IsNewUser)
	result := domain.TurnResult{Intent: intent}

	memory, dbContext, dripContext := a.fetchContext(ctx, session, intent.Intent)
	prompt := a.deps.Composer.Compose(intent, memory, dbContext, dripContext)
	a.deps.Observer.ObserveComposition(prompt)

	if len(session.Messages) == 0 || session.LastIntent != intent.Intent {
		session.SetSystemMessage(prompt.SystemMessage)
	}
	session.LastIntent = intent.Intent
	session.Append(domain.Message{Role: domain.RoleUser, Content: text})

	logID := a.deps.Audit.LogComposition(ctx, domain.CompositionEntry{
		RestaurantID:      session.RestaurantID,
		ChatID:            session.ChatID,
		SessionID:         session.ID,
		UserMessage:       text,
		Intent:            prompt.Intent,
		IntentConfidence:  prompt.IntentConfidence,
		BaseVersion:       prompt.BaseVersion,
		Layers:            prompt.Summaries(),
		ContextItemsCount: contextItems(memory, dbContext, dripContext),
		TokenEstimate:     prompt.TotalTokens,
		Fingerprint:       prompt.Fingerprint,
		Model:             a.cfg.Model,
		CreatedAt:         started.UTC(),
	})
	result.LogID = logID

	reply, iterations, calls, err := a.runLoop(ctx, session)
	result.Iterations = iterations
	result.ToolCalls = calls

	outcome := domain.CompositionResult{
		LogID:     logID,
		ElapsedMS: a.now().Sub(started).Milliseconds(),
		ToolCalls: calls,
	}
	if err != nil {
		session.Restore(snapshot)
		outcome.Failed = true
		outcome.ErrorMessage = err.Error()
		a.deps.Audit.LogResult(ctx, outcome)
		a.deps.Observer.ObserveTurn(intent.Intent, turnStatusError, iterations)
		a.deps.Logger.Error("agent_turn_failed",
			"chat_id", session.ChatID,
			"intent", intent.Intent,
			"iterations", iterations,
			"error", err,
		)
		return result, fmt.Errorf("handle turn: %w", err)
	}

	session.Append(domain.Message{Role: domain.RoleAssistant, Content: reply})
	if logID != "" {
		session.LastCompositionLogID = logID
	}
	result.Reply = reply

	outcome.ResponseLength = len([]rune(reply))
	a.deps.Audit.LogResult(ctx, outcome)
	a.deps.Observer.ObserveTurn(intent.Intent, turnStatusOK, iterations)
	a.deps.Logger.Info("agent_turn_completed",
		"chat_id", session.ChatID,
		"restaurant_id", session.RestaurantID,
		"intent", intent.Intent,
		"confidence", intent.Confidence,
		"iterations", iterations,
		"tool_calls", len(calls),
		"prompt_tokens", prompt.TotalTokens,
		"elapsed_ms", outcome.ElapsedMS,
	)
	return result, nil
}

// ensureIdentity looks the chat up once. A session without a restaurant is
// looked up again on later turns unless it was already flagged as new.
func (a *Agent) ensureIdentity(ctx context.Context, session *domain.Session) {
	if a.deps.Identifier == nil {
		return
	}
	if session.Identified && (session.HasRestaurant() || session.IsNewUser) {
		return
	}
	id, err := a.deps.Identifier.Identify(ctx, session.ChatID)
	if err != nil {
		a.deps.Logger.Warn("context_fetch_failed", "source", "identity", "chat_id", session.ChatID, "error", err)
		return
	}
	session.ApplyIdentification(id)
}

func (a *Agent) fetchContext(ctx context.Context, session *domain.Session, intent domain.Intent) (*domain.UserMemory, string, string) {
	if a.deps.Context == nil || !session.HasRestaurant() {
		return nil, "", ""
	}
	restaurantID := session.RestaurantID

	var (
		memory      *domain.UserMemory
		dbContext   string
		dripContext string
	)
	// Each fetch is best-effort; the group never returns an error.
	var g errgroup.Group
	g.Go(func() error {
		m, err := a.deps.Context.UserMemory(ctx, restaurantID)
		if err != nil {
			a.warnContext("user_memory", restaurantID, err)
			return nil
		}
		memory = m
		return nil
	})
	g.Go(func() error {
		text, err := a.deps.Context.RecentContext(ctx, restaurantID, intent)
		if err != nil {
			a.warnContext("recent_context", restaurantID, err)
			return nil
		}
		dbContext = text
		return nil
	})
	if intent != domain.IntentOnboarding {
		g.Go(func() error {
			text, err := a.deps.Context.DripContext(ctx, restaurantID, intent)
			if err != nil {
				a.warnContext("drip_context", restaurantID, err)
				return nil
			}
			dripContext = text
			return nil
		})
	}
	_ = g.Wait()
	return memory, dbContext, dripContext
}

func (a *Agent) warnContext(source string, restaurantID int64, err error) {
	a.deps.Logger.Warn("context_fetch_failed", "source", source, "restaurant_id", restaurantID, "error", err)
}

func (a *Agent) runLoop(ctx context.Context, session *domain.Session) (string, int, []domain.ToolCallSummary, error) {
	var definitions []domain.ToolDefinition
	if a.deps.Tools != nil {
		definitions = a.deps.Tools.Definitions()
	}
	calls := make([]domain.ToolCallSummary, 0)

	for i := 1; i <= a.cfg.MaxIterations; i++ {
		req := domain.ChatRequest{
			Model:       a.cfg.Model,
			Messages:    append([]domain.Message(nil), session.Messages...),
			Tools:       definitions,
			Temperature: a.cfg.Temperature,
		}
		if len(definitions) > 0 {
			req.ToolChoice = domain.ToolChoiceAuto
		}
		resp, err := a.deps.Model.Complete(ctx, req)
		if err != nil {
			return "", i, calls, fmt.Errorf("llm completion: %w", err)
		}
		if !resp.WantsTools() {
			return resp.Content, i, calls, nil
		}
		if a.deps.Tools == nil {
			return "", i, calls, domain.WrapError(domain.ErrUnknownTool, "agent loop", fmt.Errorf("model requested tools but none are registered"))
		}

		session.Append(domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: append([]domain.ToolCall(nil), resp.ToolCalls...),
		})
		for _, call := range resp.ToolCalls {
			payload := a.deps.Tools.Dispatch(ctx, call, session)
			status := turnStatusOK
			if isErrorPayload(payload) {
				status = turnStatusError
			}
			a.deps.Observer.ObserveToolCall(call.Name, status)
			calls = append(calls, domain.ToolCallSummary{Tool: call.Name, ArgsSummary: argsPreview(call.Arguments)})
			session.Append(domain.Message{
				Role:       domain.RoleTool,
				Content:    payload,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}
	return "", a.cfg.MaxIterations, calls, domain.WrapError(domain.ErrLoopLimit, "agent loop", fmt.Errorf("no final answer after %d model calls", a.cfg.MaxIterations))
}

func argsPreview(raw string) string {
	args, err := ParseToolArgs(raw)
	if err != nil {
		return truncateRunes(strings.TrimSpace(raw), toolArgsPreviewLimit)
	}
	return args.Summary(toolArgsPreviewLimit)
}

func isErrorPayload(payload string) bool {
	var body map[string]any
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return false
	}
	_, ok := body["error"]
	return ok
}

func contextItems(memory *domain.UserMemory, dbContext, dripContext string) int {
	n := 0
	if memory != nil {
		n++
	}
	if dbContext != "" {
		n++
	}
	if dripContext != "" {
		n++
	}
	return n
}

type noopCompositionSink struct{}

func (noopCompositionSink) LogComposition(context.Context, domain.CompositionEntry) string { return "" }
func (noopCompositionSink) LogResult(context.Context, domain.CompositionResult)            {}
func (noopCompositionSink) LogFeedback(context.Context, domain.CompositionFeedback)        {}

type noopAgentObserver struct{}

func (noopAgentObserver) ObserveTurn(domain.Intent, string, int)   {}
func (noopAgentObserver) ObserveToolCall(string, string)           {}
func (noopAgentObserver) ObserveComposition(domain.ComposedPrompt) {}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}
