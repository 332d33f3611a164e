package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/resilience"
)

func TestCompleteSendsToolsAndParsesToolCalls(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-2024",
			"choices": [{"message": {"content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "search_products", "arguments": "{\"query\":\"arroz\"}"}}
			]}, "finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 8}
		}`))
	}))
	defer server.Close()

	client := New(Options{BaseURL: server.URL, APIKey: "sk-test", ChatModel: "gpt-4o"})
	resp, err := client.Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "persona"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "old", Name: "get_watchlist", Arguments: "{}"}}},
			{Role: domain.RoleTool, Content: `{"count":0}`, ToolCallID: "old", ToolName: "get_watchlist"},
			{Role: domain.RoleUser, Content: "quanto custa o arroz?"},
		},
		Tools:       []domain.ToolDefinition{{Name: "search_products", Description: "search", Parameters: json.RawMessage(`{"type":"object"}`)}},
		ToolChoice:  domain.ToolChoiceAuto,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !resp.WantsTools() || resp.ToolCalls[0].Name != "search_products" || resp.ToolCalls[0].Arguments != `{"query":"arroz"}` {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.PromptTokens != 120 || resp.Model != "gpt-4o-2024" {
		t.Fatalf("response = %+v", resp)
	}

	if captured["model"] != "gpt-4o" || captured["tool_choice"] != "auto" {
		t.Fatalf("request = %v", captured)
	}
	messages := captured["messages"].([]any)
	assistant := messages[1].(map[string]any)
	if assistant["content"] != nil || len(assistant["tool_calls"].([]any)) != 1 {
		t.Fatalf("assistant message = %v", assistant)
	}
	tool := messages[2].(map[string]any)
	if tool["tool_call_id"] != "old" || tool["name"] != "get_watchlist" {
		t.Fatalf("tool message = %v", tool)
	}
	tools := captured["tools"].([]any)
	if tools[0].(map[string]any)["type"] != "function" {
		t.Fatalf("tools = %v", tools)
	}
}

func TestCompleteOmitsToolsWhenNoneGiven(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Olá!"}}]}`))
	}))
	defer server.Close()

	resp, err := New(Options{BaseURL: server.URL, ChatModel: "gpt-4o"}).Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "oi"}},
	})
	if err != nil || resp.Content != "Olá!" || resp.WantsTools() {
		t.Fatalf("Complete() = %+v, %v", resp, err)
	}
	if _, ok := captured["tools"]; ok {
		t.Fatalf("request carried tools: %v", captured)
	}
	if _, ok := captured["tool_choice"]; ok {
		t.Fatalf("request carried tool_choice: %v", captured)
	}
}

func TestCompleteWrapsRetryableStatusAsTemporary(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	_, err := New(Options{BaseURL: server.URL, Executor: exec}).Complete(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("error = %v, want temporary", err)
	}
	if !strings.Contains(err.Error(), "Rate limit reached") {
		t.Fatalf("error lacks API message: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	_, err := New(Options{BaseURL: server.URL, Executor: exec}).Complete(context.Background(), domain.ChatRequest{})
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("error = %v", err)
	}
	if errors.Is(err, domain.ErrTemporary) || calls != 1 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}

func TestReadInvoiceImageSendsDataURL(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		answer := "Aqui está:\n```json\n" +
			`{"supplier_name":"Atacadão","invoice_date":"2025-03-10","total_amount":82.0,` +
			`"items":[{"product_name":"ARROZ 5KG","quantity":2,"unit":"un","unit_price":25,"total_price":50,"confidence":null}],` +
			`"confidence_score":0.93}` + "\n```"
		resp, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": answer}}}})
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	reader := NewInvoiceReader(New(Options{BaseURL: server.URL, ChatModel: "gpt-4o", VisionModel: "gpt-4o-vision"}))
	invoice, err := reader.ReadInvoiceImage(context.Background(), []byte{0xFF, 0xD8}, "image/png")
	if err != nil {
		t.Fatalf("ReadInvoiceImage() error = %v", err)
	}
	if invoice.SupplierName != "Atacadão" || invoice.Total() != 82 || invoice.Confidence != 0.93 {
		t.Fatalf("invoice = %+v", invoice)
	}
	if len(invoice.Items) != 1 || invoice.Items[0].Confidence != 0.8 {
		t.Fatalf("items = %+v", invoice.Items)
	}

	if captured["model"] != "gpt-4o-vision" || captured["temperature"] != 0.1 {
		t.Fatalf("request = %v", captured)
	}
	user := captured["messages"].([]any)[1].(map[string]any)
	parts := user["content"].([]any)
	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	if image["url"] != "data:image/png;base64,/9g=" || image["detail"] != "high" {
		t.Fatalf("image part = %v", image)
	}
}

func TestParseInvoiceContent(t *testing.T) {
	invoice, err := parseInvoiceContent(`Resultado: {"supplier_name":"Assaí","items":[]} fim`)
	if err != nil || invoice.SupplierName != "Assaí" || invoice.Confidence != 0.8 {
		t.Fatalf("braces fallback = %+v, %v", invoice, err)
	}

	_, err = parseInvoiceContent(`{"error":"Imagem nao parece ser uma nota fiscal"}`)
	if !errors.Is(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), "nota fiscal") {
		t.Fatalf("not an invoice error = %v", err)
	}

	_, err = parseInvoiceContent("não consegui ler")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("free text error = %v", err)
	}
}

func TestReadInvoiceTextRejectsEmptyDocument(t *testing.T) {
	reader := NewInvoiceReader(New(Options{BaseURL: "http://127.0.0.1:1"}))
	if _, err := reader.ReadInvoiceText(context.Background(), "   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v", err)
	}
}
