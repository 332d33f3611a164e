package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
)

const instructions = `Ferramentas financeiras do Frepi para um restaurante fixo: notas fiscais, ` +
	`fechamento mensal, CMV do cardápio, lista de acompanhamento de preços e preferências. ` +
	`Valores monetários em reais (BRL).`

// ToolBridge exposes the tool catalog to MCP clients on behalf of one
// restaurant. Calls share a single session and run one at a time.
type ToolBridge struct {
	tools ports.ToolDispatcher

	mu      sync.Mutex
	session *domain.Session
}

func NewToolBridge(tools ports.ToolDispatcher, session *domain.Session) *ToolBridge {
	return &ToolBridge{tools: tools, session: session}
}

// NewServer builds the MCP server with every catalog tool registered.
func NewServer(bridge *ToolBridge, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"frepi-finance",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, def := range bridge.tools.Definitions() {
		s.AddTool(toMCPTool(def), bridge.Call)
	}
	return s
}

func toMCPTool(def domain.ToolDefinition) mcp.Tool {
	schema := def.Parameters
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return mcp.NewToolWithRawSchema(def.Name, def.Description, schema)
}

// Call runs one tool invocation through the dispatcher.
func (b *ToolBridge) Call(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	payload := b.tools.Dispatch(ctx, domain.ToolCall{
		ID:        "mcp-" + uuid.NewString(),
		Name:      request.Params.Name,
		Arguments: string(raw),
	}, b.session)
	if isErrorPayload(payload) {
		return mcp.NewToolResultError(payload), nil
	}
	return mcp.NewToolResultText(payload), nil
}

func isErrorPayload(payload string) bool {
	var body map[string]any
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return false
	}
	_, ok := body["error"]
	return ok
}
