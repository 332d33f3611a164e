package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Options struct {
	BaseURL     string
	APIKey      string
	ChatModel   string
	VisionModel string
	Timeout     time.Duration
	Executor    *resilience.Executor
	HTTPClient  *http.Client
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	chatModel   string
	visionModel string
	httpClient  *http.Client
	executor    *resilience.Executor
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	vision := opts.VisionModel
	if vision == "" {
		vision = opts.ChatModel
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      opts.APIKey,
		chatModel:   opts.ChatModel,
		visionModel: vision,
		httpClient:  httpClient,
		executor:    opts.Executor,
	}
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireTool struct {
	Type     string                `json:"type"`
	Function domain.ToolDefinition `json:"function"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion request with optional tools.
func (c *Client) Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}
	payload := chatCompletionRequest{
		Model:       model,
		Messages:    toWireMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		payload.Tools = make([]wireTool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			payload.Tools = append(payload.Tools, wireTool{Type: "function", Function: tool})
		}
		payload.ToolChoice = req.ToolChoice
	}

	var response chatCompletionResponse
	if err := c.call(ctx, "chat", payload, &response); err != nil {
		return domain.ChatResponse{}, err
	}
	if len(response.Choices) == 0 {
		return domain.ChatResponse{}, errors.New("chat completion returned no choices")
	}

	msg := response.Choices[0].Message
	out := domain.ChatResponse{
		Model:            response.Model,
		PromptTokens:     response.Usage.PromptTokens,
		CompletionTokens: response.Usage.CompletionTokens,
	}
	if msg.Content != nil {
		out.Content = *msg.Content
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

func toWireMessages(messages []domain.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case domain.RoleTool:
			wm.ToolCallID = m.ToolCallID
			wm.Name = m.ToolName
		case domain.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				if m.Content == "" {
					wm.Content = nil
				}
				for _, call := range m.ToolCalls {
					wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
						ID:       call.ID,
						Type:     "function",
						Function: wireFunctionCall{Name: call.Name, Arguments: call.Arguments},
					})
				}
			}
		}
		out = append(out, wm)
	}
	return out
}

func (c *Client) call(ctx context.Context, operation string, payload any, out any) error {
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/chat/completions", payload, out, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "openai."+operation, call, classifyOpenAIError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded("openai "+operation, err)
}
