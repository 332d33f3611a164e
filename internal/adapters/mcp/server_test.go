package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/usecase"
)

func newTestBridge() *ToolBridge {
	tools := usecase.NewToolDispatcher(nil, 0)
	tools.Register("watchlist", domain.ToolDefinition{
		Name:        "get_watchlist",
		Description: "Lista produtos monitorados",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer"}}}`),
	}, func(_ context.Context, args usecase.ToolArgs, session *domain.Session) (any, error) {
		return map[string]any{
			"restaurant_id": session.RestaurantID,
			"limit":         args.Int("limit", 10),
		}, nil
	})
	tools.Register("watchlist", domain.ToolDefinition{Name: "check_watchlist_alerts"},
		func(context.Context, usecase.ToolArgs, *domain.Session) (any, error) {
			return nil, errors.New("store unavailable")
		})

	session := domain.NewSession(0, "mcp", time.Now())
	session.RestaurantID = 12
	return NewToolBridge(tools, session)
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %+v", res.Content)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", res.Content[0])
	}
	return text.Text
}

func TestCallRunsToolForConfiguredRestaurant(t *testing.T) {
	bridge := newTestBridge()

	res, err := bridge.Call(context.Background(), callRequest("get_watchlist", map[string]any{"limit": 3}))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body["restaurant_id"] != float64(12) || body["limit"] != float64(3) {
		t.Fatalf("payload = %v", body)
	}
}

func TestCallMarksToolFailures(t *testing.T) {
	bridge := newTestBridge()

	for _, name := range []string{"check_watchlist_alerts", "does_not_exist"} {
		res, err := bridge.Call(context.Background(), callRequest(name, nil))
		if err != nil {
			t.Fatalf("Call(%s) error = %v", name, err)
		}
		if !res.IsError {
			t.Fatalf("Call(%s) should be an error result: %s", name, resultText(t, res))
		}
	}
}

func TestToMCPToolDefaultsEmptySchema(t *testing.T) {
	tool := toMCPTool(domain.ToolDefinition{Name: "complete_onboarding", Description: "Conclui o cadastro"})
	if tool.Name != "complete_onboarding" || tool.Description != "Conclui o cadastro" {
		t.Fatalf("tool = %+v", tool)
	}
	if string(tool.RawInputSchema) != `{"type":"object","properties":{}}` {
		t.Fatalf("schema = %s", tool.RawInputSchema)
	}
}
