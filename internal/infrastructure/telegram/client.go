package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/chunking"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/resilience"
)

const (
	defaultBaseURL   = "https://api.telegram.org"
	messageLimit     = 4096
	maxDownloadBytes = 20 << 20
	parseMode        = "Markdown"
)

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	SendRPS    float64
	Executor   *resilience.Executor
	HTTPClient *http.Client
}

// Client is a Bot API client. It implements ports.Notifier,
// ports.DocumentSender, ports.MediaResolver and ports.MediaDownloader.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
	splitter   *chunking.Splitter
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	sendRPS := opts.SendRPS
	if sendRPS <= 0 {
		sendRPS = 25
	}
	return &Client{
		baseURL:    baseURL,
		token:      opts.Token,
		httpClient: httpClient,
		executor:   opts.Executor,
		limiter:    rate.NewLimiter(rate.Limit(sendRPS), max(1, int(sendRPS))),
		splitter:   chunking.NewSplitter(messageLimit),
	}
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// SendText delivers text in 4096-rune chunks, in order. A chunk whose
// Markdown Telegram refuses is resent as plain text.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range c.splitter.Split(text) {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait send slot: %w", err)
		}
		err := c.sendMessage(ctx, chatID, chunk, parseMode)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.markupRejected() {
			err = c.sendMessage(ctx, chatID, chunk, "")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendMessage(ctx context.Context, chatID int64, text, mode string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if mode != "" {
		payload["parse_mode"] = mode
	}
	return c.callJSON(ctx, "sendMessage", payload, nil)
}

// SendChatAction shows a status such as "typing" in the chat.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.callJSON(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": action}, nil)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data io.Reader, caption string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait send slot: %w", err)
	}

	return c.execute(ctx, "sendDocument", func(callCtx context.Context) error {
		var body bytes.Buffer
		form := multipart.NewWriter(&body)
		_ = form.WriteField("chat_id", strconv.FormatInt(chatID, 10))
		if caption != "" {
			_ = form.WriteField("caption", caption)
		}
		part, err := form.CreateFormFile("document", filename)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(content); err != nil {
			return fmt.Errorf("write form file: %w", err)
		}
		if err := form.Close(); err != nil {
			return fmt.Errorf("close form: %w", err)
		}

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.methodURL("sendDocument"), &body)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", form.FormDataContentType())
		return c.do(req, "sendDocument", nil)
	})
}

// MediaURL resolves a file id to its download URL via getFile.
func (c *Client) MediaURL(ctx context.Context, fileID string) (string, error) {
	if strings.TrimSpace(fileID) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "telegram getFile", errors.New("file id is required"))
	}
	var file File
	if err := c.callJSON(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("telegram getFile: empty file_path for %s", fileID)
	}
	return c.baseURL + "/file/bot" + c.token + "/" + file.FilePath, nil
}

// Download fetches a file and reports its content type.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	var (
		data     []byte
		mimeType string
	)
	err := c.execute(ctx, "download", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("download file: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Method: "download", StatusCode: resp.StatusCode, Description: resp.Status}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		if len(body) > maxDownloadBytes {
			return domain.WrapError(domain.ErrInvalidInput, "download file", fmt.Errorf("file exceeds %d bytes", maxDownloadBytes))
		}
		data = body
		mimeType = resp.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = http.DetectContentType(body)
		}
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = strings.TrimSpace(mimeType[:i])
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	// Long polls are not retried here; the poller owns backoff.
	if err := c.post(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, wrapTemporaryIfNeeded("telegram getUpdates", err)
	}
	return updates, nil
}

func (c *Client) callJSON(ctx context.Context, method string, payload any, out any) error {
	return c.execute(ctx, method, func(callCtx context.Context) error {
		return c.post(callCtx, method, payload, out)
	})
}

func (c *Client) execute(ctx context.Context, method string, fn func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "telegram."+method, fn, resilience.ClassifyTransport)
	} else {
		err = fn(ctx)
	}
	return wrapTemporaryIfNeeded("telegram "+method, err)
}

func (c *Client) post(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Method: method, StatusCode: resp.StatusCode, Description: resp.Status}
		}
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK || resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := envelope.ErrorCode
		if status == 0 {
			status = resp.StatusCode
		}
		apiErr := &APIError{Method: method, StatusCode: status, Description: envelope.Description}
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if resilience.ClassifyTransport(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
