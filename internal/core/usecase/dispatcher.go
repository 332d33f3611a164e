package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

// ToolHandler executes one tool. A returned error becomes an LLM-visible
// error payload; it never aborts the agent loop.
type ToolHandler func(ctx context.Context, args ToolArgs, session *domain.Session) (any, error)

type toolEntry struct {
	group      string
	definition domain.ToolDefinition
	handler    ToolHandler
}

// ToolDispatcher is the static registry of tools by name.
type ToolDispatcher struct {
	entries map[string]toolEntry
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

func NewToolDispatcher(logger *slog.Logger, timeout time.Duration) *ToolDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolDispatcher{
		entries: make(map[string]toolEntry),
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a tool. Registering the same name twice panics.
func (d *ToolDispatcher) Register(group string, definition domain.ToolDefinition, handler ToolHandler) {
	if _, exists := d.entries[definition.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", definition.Name))
	}
	d.entries[definition.Name] = toolEntry{group: group, definition: definition, handler: handler}
	d.order = append(d.order, definition.Name)
}

func (d *ToolDispatcher) Definitions() []domain.ToolDefinition {
	out := make([]domain.ToolDefinition, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.entries[name].definition)
	}
	return out
}

// Groups returns tool names per handler group, sorted by group.
func (d *ToolDispatcher) Groups() map[string][]string {
	out := make(map[string][]string)
	for _, name := range d.order {
		group := d.entries[name].group
		out[group] = append(out[group], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

func (d *ToolDispatcher) Has(name string) bool {
	_, ok := d.entries[name]
	return ok
}

// Dispatch parses the raw arguments, runs the tool and returns the JSON
// payload for the tool-role message.
func (d *ToolDispatcher) Dispatch(ctx context.Context, call domain.ToolCall, session *domain.Session) string {
	if !d.Has(call.Name) {
		return encodeToolResult(unknownToolResult(call.Name))
	}
	args, err := ParseToolArgs(call.Arguments)
	if err != nil {
		return encodeToolResult(failedToolResult(err))
	}
	return encodeToolResult(d.Invoke(ctx, call.Name, args, session))
}

// Invoke runs a tool with already-parsed arguments and returns its result
// object. Unknown tools and handler failures become {"error": ...}.
func (d *ToolDispatcher) Invoke(ctx context.Context, name string, args ToolArgs, session *domain.Session) (result any) {
	entry, ok := d.entries[name]
	if !ok {
		return unknownToolResult(name)
	}
	if args == nil {
		args = ToolArgs{}
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("tool_panic", "tool", name, "panic", fmt.Sprint(recovered))
			result = failedToolResult(fmt.Errorf("%v", recovered))
		}
	}()

	out, err := entry.handler(ctx, args, session)
	if err != nil {
		d.logger.Warn("tool_call_failed", "tool", name, "group", entry.group, "error", err)
		return failedToolResult(err)
	}
	if out == nil {
		return map[string]any{"success": true}
	}
	return out
}

func unknownToolResult(name string) map[string]any {
	return map[string]any{"error": "Unknown tool: " + name}
}

func failedToolResult(err error) map[string]any {
	return map[string]any{"error": "Tool execution failed: " + err.Error()}
}

// IsToolError reports whether a tool result is an error payload.
func IsToolError(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	_, has := m["error"]
	return has
}

func encodeToolResult(result any) string {
	payload, err := json.Marshal(result)
	if err != nil {
		fallback, _ := json.Marshal(failedToolResult(fmt.Errorf("encode result: %w", err)))
		return string(fallback)
	}
	return string(payload)
}

// ToolArgs are the decoded arguments of a tool call.
type ToolArgs map[string]any

var errArgsNotObject = errors.New("arguments must be a JSON object")

func ParseToolArgs(raw string) (ToolArgs, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ToolArgs{}, nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	switch v := decoded.(type) {
	case map[string]any:
		return ToolArgs(v), nil
	case nil:
		return ToolArgs{}, nil
	default:
		return nil, errArgsNotObject
	}
}

// Summary is a short preview of the arguments for the audit log.
func (a ToolArgs) Summary(limit int) string {
	payload, err := json.Marshal(map[string]any(a))
	if err != nil {
		return ""
	}
	runes := []rune(string(payload))
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

func (a ToolArgs) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return formatNumber(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// RequireString returns an invalid-input error when key is missing or blank.
func (a ToolArgs) RequireString(key string) (string, error) {
	v := a.String(key)
	if v == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "read tool arguments", fmt.Errorf("%s is required", key))
	}
	return v, nil
}

func (a ToolArgs) Float(key string, fallback float64) float64 {
	if v, ok := a.FloatOK(key); ok {
		return v
	}
	return fallback
}

func (a ToolArgs) FloatOK(key string) (float64, bool) {
	return domain.Record(a).FloatOK(key)
}

func (a ToolArgs) RequireFloat(key string) (float64, error) {
	v, ok := a.FloatOK(key)
	if !ok {
		return 0, domain.WrapError(domain.ErrInvalidInput, "read tool arguments", fmt.Errorf("%s must be a number", key))
	}
	return v, nil
}

func (a ToolArgs) Int(key string, fallback int) int {
	if v, ok := a.FloatOK(key); ok {
		return int(v)
	}
	return fallback
}

func (a ToolArgs) Bool(key string, fallback bool) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "sim", "yes", "1":
			return true
		case "false", "nao", "não", "no", "0":
			return false
		}
	}
	return fallback
}

func (a ToolArgs) Strings(key string) []string {
	return domain.Record(a).StringSlice(key)
}

func (a ToolArgs) Object(key string) map[string]any {
	v, _ := a[key].(map[string]any)
	return v
}

// Raw returns the value as decoded, for pass-through columns.
func (a ToolArgs) Raw(key string) any {
	return a[key]
}
