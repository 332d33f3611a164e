package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

type scriptedModel struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	err       error
	requests  []domain.ChatRequest
}

func (m *scriptedModel) Complete(_ context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return domain.ChatResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return domain.ChatResponse{Content: "ok"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

type loopingModel struct {
	calls int
}

func (m *loopingModel) Complete(context.Context, domain.ChatRequest) (domain.ChatResponse, error) {
	m.calls++
	return domain.ChatResponse{ToolCalls: []domain.ToolCall{{ID: "c", Name: "echo", Arguments: `{"message":"again"}`}}}, nil
}

type fakeTurnContext struct {
	memory    *domain.UserMemory
	recent    string
	drip      string
	memoryErr error
	recentErr error
	dripErr   error

	mu          sync.Mutex
	dripQueried bool
}

func (f *fakeTurnContext) UserMemory(context.Context, int64) (*domain.UserMemory, error) {
	return f.memory, f.memoryErr
}

func (f *fakeTurnContext) RecentContext(context.Context, int64, domain.Intent) (string, error) {
	return f.recent, f.recentErr
}

func (f *fakeTurnContext) DripContext(context.Context, int64, domain.Intent) (string, error) {
	f.mu.Lock()
	f.dripQueried = true
	f.mu.Unlock()
	return f.drip, f.dripErr
}

type fakeIdentifier struct {
	id    domain.Identification
	err   error
	calls int
}

func (f *fakeIdentifier) Identify(context.Context, int64) (domain.Identification, error) {
	f.calls++
	return f.id, f.err
}

type recordingSink struct {
	mu       sync.Mutex
	entries  []domain.CompositionEntry
	results  []domain.CompositionResult
	feedback []domain.CompositionFeedback
}

func (s *recordingSink) LogComposition(_ context.Context, entry domain.CompositionEntry) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return "log-1"
}

func (s *recordingSink) LogResult(_ context.Context, result domain.CompositionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *recordingSink) LogFeedback(_ context.Context, feedback domain.CompositionFeedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, feedback)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoDispatcher() *ToolDispatcher {
	d := NewToolDispatcher(discardLogger(), 0)
	d.Register(GroupCatalog, domain.ToolDefinition{
		Name:       "echo",
		Parameters: []byte(`{"type":"object"}`),
	}, func(_ context.Context, args ToolArgs, _ *domain.Session) (any, error) {
		return map[string]any{"echo": args.String("message")}, nil
	})
	d.Register(GroupCatalog, domain.ToolDefinition{
		Name:       "boom",
		Parameters: []byte(`{"type":"object"}`),
	}, func(context.Context, ToolArgs, *domain.Session) (any, error) {
		return nil, errors.New("db down")
	})
	return d
}

func newTestAgent(model *scriptedModel, contextSource TurnContextSource, identifier *fakeIdentifier, sink *recordingSink) *Agent {
	deps := AgentDeps{
		Composer: NewPromptComposer(testPromptLibrary()),
		Context:  contextSource,
		Model:    model,
		Tools:    echoDispatcher(),
		Audit:    sink,
		Logger:   discardLogger(),
	}
	if identifier != nil {
		deps.Identifier = identifier
	}
	return NewAgent(deps, AgentConfig{Model: "gpt-test"})
}

func TestAgentNewConversationOnboarding(t *testing.T) {
	model := &scriptedModel{responses: []domain.ChatResponse{{Content: "Bem-vindo! Qual o nome do seu restaurante?"}}}
	sink := &recordingSink{}
	identifier := &fakeIdentifier{id: domain.Identification{Known: false}}
	agent := newTestAgent(model, &fakeTurnContext{recent: "ignored"}, identifier, sink)

	session := domain.NewSession(42, "s-1", fixedNow())
	result, err := agent.HandleTurn(context.Background(), session, "Olá", false)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	if result.Intent.Intent != domain.IntentOnboarding || result.Intent.Confidence != 1.0 {
		t.Fatalf("intent = %+v, want onboarding/1.0", result.Intent)
	}
	if result.Reply != "Bem-vindo! Qual o nome do seu restaurante?" {
		t.Fatalf("reply = %q", result.Reply)
	}
	if session.LastIntent != domain.IntentOnboarding {
		t.Fatalf("last intent = %q", session.LastIntent)
	}
	if len(model.requests) != 1 {
		t.Fatalf("model calls = %d, want 1", len(model.requests))
	}

	req := model.requests[0]
	if req.Temperature != 0.7 || req.ToolChoice != domain.ToolChoiceAuto || len(req.Tools) != 2 {
		t.Fatalf("request = temp %v choice %q tools %d", req.Temperature, req.ToolChoice, len(req.Tools))
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != domain.RoleSystem || req.Messages[1].Content != "Olá" {
		t.Fatalf("request messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "Cadastro Financeiro") {
		t.Fatalf("system message missing onboarding skill: %q", req.Messages[0].Content)
	}
	if strings.Contains(req.Messages[0].Content, "Dados Recentes") {
		t.Fatal("db context must be absent without a restaurant")
	}

	roles := []domain.Role{domain.RoleSystem, domain.RoleUser, domain.RoleAssistant}
	if len(session.Messages) != len(roles) {
		t.Fatalf("history = %+v", session.Messages)
	}
	for i, role := range roles {
		if session.Messages[i].Role != role {
			t.Fatalf("message %d role = %q, want %q", i, session.Messages[i].Role, role)
		}
	}

	if len(sink.entries) != 1 || len(sink.results) != 1 {
		t.Fatalf("audit = %d entries %d results", len(sink.entries), len(sink.results))
	}
	entry := sink.entries[0]
	if entry.Intent != domain.IntentOnboarding || entry.Model != "gpt-test" || entry.ChatID != 42 || entry.Fingerprint == "" {
		t.Fatalf("entry = %+v", entry)
	}
	if sink.results[0].LogID != "log-1" || sink.results[0].Failed || sink.results[0].ResponseLength == 0 {
		t.Fatalf("result = %+v", sink.results[0])
	}
	if session.LastCompositionLogID != "log-1" || result.LogID != "log-1" {
		t.Fatalf("log id = %q / %q", session.LastCompositionLogID, result.LogID)
	}
}

func TestAgentToolLoop(t *testing.T) {
	model := &scriptedModel{responses: []domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{
			{ID: "call-1", Name: "echo", Arguments: `{"message":"primeiro"}`},
			{ID: "call-2", Name: "boom", Arguments: `{}`},
			{ID: "call-3", Name: "missing", Arguments: `{}`},
		}},
		{Content: "Pronto."},
	}}
	sink := &recordingSink{}
	agent := newTestAgent(model, nil, nil, sink)
	session := domain.NewSession(1, "s", fixedNow())

	result, err := agent.HandleTurn(context.Background(), session, "quanto paguei no arroz?", false)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if result.Reply != "Pronto." || result.Iterations != 2 {
		t.Fatalf("result = %+v", result)
	}
	if len(model.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(model.requests))
	}

	// system, user, assistant(tool_calls), 3 tool results, assistant reply
	if len(session.Messages) != 7 {
		t.Fatalf("history length = %d: %+v", len(session.Messages), session.Messages)
	}
	call := session.Messages[2]
	if call.Role != domain.RoleAssistant || len(call.ToolCalls) != 3 || call.ToolCalls[1].ID != "call-2" {
		t.Fatalf("assistant tool call turn = %+v", call)
	}
	wantTool := []struct {
		id      string
		content string
	}{
		{"call-1", `{"echo":"primeiro"}`},
		{"call-2", `{"error":"Tool execution failed: db down"}`},
		{"call-3", `{"error":"Unknown tool: missing"}`},
	}
	for i, want := range wantTool {
		msg := session.Messages[3+i]
		if msg.Role != domain.RoleTool || msg.ToolCallID != want.id || msg.Content != want.content {
			t.Fatalf("tool message %d = %+v, want %+v", i, msg, want)
		}
	}
	if got := len(model.requests[1].Messages); got != 6 {
		t.Fatalf("second request carries %d messages, want 6", got)
	}

	if len(result.ToolCalls) != 3 || result.ToolCalls[0].Tool != "echo" || result.ToolCalls[0].ArgsSummary != `{"message":"primeiro"}` {
		t.Fatalf("tool summaries = %+v", result.ToolCalls)
	}
	if len(sink.results) != 1 || len(sink.results[0].ToolCalls) != 3 {
		t.Fatalf("logged result = %+v", sink.results)
	}
}

func TestAgentLoopLimitRollsBack(t *testing.T) {
	model := &loopingModel{}
	sink := &recordingSink{}
	agent := NewAgent(AgentDeps{
		Composer: NewPromptComposer(testPromptLibrary()),
		Model:    model,
		Tools:    echoDispatcher(),
		Audit:    sink,
		Logger:   discardLogger(),
	}, AgentConfig{MaxIterations: 3})

	session := domain.NewSession(1, "s", fixedNow())
	session.Append(domain.Message{Role: domain.RoleSystem, Content: "old"})
	session.Append(userMessage("antes"))
	session.LastIntent = domain.IntentGeneral

	_, err := agent.HandleTurn(context.Background(), session, "de novo", false)
	if !errors.Is(err, domain.ErrLoopLimit) {
		t.Fatalf("error = %v, want ErrLoopLimit", err)
	}
	if model.calls != 3 {
		t.Fatalf("model calls = %d, want 3", model.calls)
	}
	if len(session.Messages) != 2 || session.Messages[1].Content != "antes" {
		t.Fatalf("session not rolled back: %+v", session.Messages)
	}
	if len(sink.results) != 1 || !sink.results[0].Failed || sink.results[0].ErrorMessage == "" {
		t.Fatalf("failed result not logged: %+v", sink.results)
	}
}

func TestAgentModelErrorRollsBack(t *testing.T) {
	model := &scriptedModel{err: errors.New("quota exceeded")}
	agent := newTestAgent(model, nil, nil, &recordingSink{})
	session := domain.NewSession(1, "s", fixedNow())

	_, err := agent.HandleTurn(context.Background(), session, "oi", false)
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("error = %v", err)
	}
	if len(session.Messages) != 0 || session.LastIntent != "" {
		t.Fatalf("session mutated: %+v intent %q", session.Messages, session.LastIntent)
	}
}

func TestAgentSystemMessageReplacement(t *testing.T) {
	model := &scriptedModel{}
	agent := newTestAgent(model, nil, nil, &recordingSink{})
	session := domain.NewSession(1, "s", fixedNow())
	ctx := context.Background()

	if _, err := agent.HandleTurn(ctx, session, "4", false); err != nil {
		t.Fatal(err)
	}
	first := session.Messages[0].Content
	if !strings.Contains(first, "Lista de Acompanhamento") {
		t.Fatalf("system = %q", first)
	}

	// same intent keeps the existing system message
	session.Messages[0].Content = "pinned"
	if _, err := agent.HandleTurn(ctx, session, "4", false); err != nil {
		t.Fatal(err)
	}
	if session.Messages[0].Content != "pinned" {
		t.Fatalf("system replaced on unchanged intent: %q", session.Messages[0].Content)
	}

	// intent change replaces it, leaving exactly one system message first
	if _, err := agent.HandleTurn(ctx, session, "2", false); err != nil {
		t.Fatal(err)
	}
	systems := 0
	for _, msg := range session.Messages {
		if msg.Role == domain.RoleSystem {
			systems++
		}
	}
	if systems != 1 || !strings.Contains(session.Messages[0].Content, "Fechamento Mensal") {
		t.Fatalf("system messages = %d first = %q", systems, session.Messages[0].Content)
	}
	if session.LastIntent != domain.IntentMonthlyClosure {
		t.Fatalf("last intent = %q", session.LastIntent)
	}
	if len(session.Messages) != 7 {
		t.Fatalf("history length = %d, want 7", len(session.Messages))
	}
}

func TestAgentContextFailuresDegrade(t *testing.T) {
	model := &scriptedModel{}
	source := &fakeTurnContext{
		memoryErr: errors.New("timeout"),
		recent:    "Produtos monitorados: 3",
		dripErr:   errors.New("boom"),
	}
	agent := newTestAgent(model, source, nil, &recordingSink{})
	session := domain.NewSession(1, "s", fixedNow())
	session.RestaurantID = 7

	if _, err := agent.HandleTurn(context.Background(), session, "4", false); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	system := model.requests[0].Messages[0].Content
	if !strings.Contains(system, "Produtos monitorados: 3") {
		t.Fatalf("db context missing: %q", system)
	}
}

func TestAgentSkipsDripForOnboarding(t *testing.T) {
	source := &fakeTurnContext{drip: "## Perguntas de Preferência (Drip)\n- x"}
	agent := newTestAgent(&scriptedModel{}, source, nil, &recordingSink{})
	session := domain.NewSession(1, "s", fixedNow())
	session.RestaurantID = 7
	session.IsNewUser = true

	if _, err := agent.HandleTurn(context.Background(), session, "oi", false); err != nil {
		t.Fatal(err)
	}
	if source.dripQueried {
		t.Fatal("drip context fetched for onboarding")
	}
}

func TestAgentIdentityCached(t *testing.T) {
	identifier := &fakeIdentifier{id: domain.Identification{Known: true, OnboardingComplete: true, RestaurantID: 9, RestaurantName: "Cantina"}}
	agent := newTestAgent(&scriptedModel{}, nil, identifier, &recordingSink{})
	session := domain.NewSession(1, "s", fixedNow())
	ctx := context.Background()

	for range 2 {
		if _, err := agent.HandleTurn(ctx, session, "oi", false); err != nil {
			t.Fatal(err)
		}
	}
	if identifier.calls != 1 {
		t.Fatalf("identify calls = %d, want 1", identifier.calls)
	}
	if session.RestaurantID != 9 || session.IsNewUser {
		t.Fatalf("identity = %+v", session.Identity)
	}
}
