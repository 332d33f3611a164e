package httpadapter

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/frepi-finance/internal/config"
	"github.com/kirillkom/frepi-finance/internal/core/domain"
	"github.com/kirillkom/frepi-finance/internal/core/ports"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/telegram"
	"github.com/kirillkom/frepi-finance/internal/observability/metrics"
)

const (
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxRequestBodyBytes  = 1 << 20
)

// UpdateQueue accepts webhook updates for asynchronous processing.
type UpdateQueue interface {
	Enqueue(update telegram.Update) bool
}

type Deps struct {
	Sessions ports.SessionStore
	Turns    ports.TurnHandler
	Feedback ports.CompositionWriter
	Updates  UpdateQueue
	Metrics  *metrics.HTTPServerMetrics
	Logger   *slog.Logger
}

type Router struct {
	deps          Deps
	logger        *slog.Logger
	webhookSecret string

	limiter          *rate.Limiter
	maxInFlight      int
	backpressureWait time.Duration
}

func NewRouter(cfg config.Config, deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		deps:             deps,
		logger:           logger,
		webhookSecret:    cfg.TelegramWebhookSecret,
		maxInFlight:      cfg.APIBackpressureMaxInFlight,
		backpressureWait: cfg.APIBackpressureWait,
	}
	if cfg.APIRateLimitRPS > 0 {
		burst := cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		rt.limiter = rate.NewLimiter(rate.Limit(cfg.APIRateLimitRPS), burst)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	app := http.NewServeMux()
	app.HandleFunc("POST /v1/chat", rt.chat)
	app.HandleFunc("POST /v1/compositions/{id}/feedback", rt.feedback)
	if rt.deps.Updates != nil {
		app.HandleFunc("POST /telegram/webhook", rt.telegramWebhook)
	}

	var limited http.Handler = app
	limited = backpressureMiddleware(limited, rt.maxInFlight, rt.backpressureWait)
	limited = rateLimitMiddleware(limited, rt.limiter)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.deps.Metrics != nil {
		root.Handle("GET /metrics", rt.deps.Metrics.Handler())
	}
	root.Handle("/", limited)

	var handler http.Handler = recoverMiddleware(root, rt.logger)
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler, rt.logger)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	ChatID   int64  `json:"chat_id"`
	Message  string `json:"message"`
	HasPhoto bool   `json:"has_photo"`
}

type chatResponse struct {
	Reply      string        `json:"reply"`
	Intent     domain.Intent `json:"intent"`
	Confidence float64       `json:"confidence"`
	Iterations int           `json:"iterations"`
	LogID      string        `json:"log_id,omitempty"`
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.ChatID == 0 || req.Message == "" {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "chat", errors.New("chat_id and message are required")))
		return
	}
	annotate(r.Context(), "chat_id", req.ChatID)

	session, release, err := rt.deps.Sessions.Acquire(r.Context(), req.ChatID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	result, err := rt.deps.Turns.HandleTurn(r.Context(), session, req.Message, req.HasPhoto)
	if err != nil {
		writeError(w, err)
		return
	}
	annotate(r.Context(), "intent", result.Intent.Intent, "iterations", result.Iterations)
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:      result.Reply,
		Intent:     result.Intent.Intent,
		Confidence: result.Intent.Confidence,
		Iterations: result.Iterations,
		LogID:      result.LogID,
	})
}

type feedbackRequest struct {
	Kind    domain.FeedbackKind `json:"kind"`
	Details string              `json:"details"`
}

func (rt *Router) feedback(w http.ResponseWriter, r *http.Request) {
	logID := strings.TrimSpace(r.PathValue("id"))
	var req feedbackRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !req.Kind.Valid() {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "record feedback",
			fmt.Errorf("kind must be positive, negative or correction, got %q", req.Kind)))
		return
	}
	if rt.deps.Feedback == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "composition log is disabled"})
		return
	}

	err := rt.deps.Feedback.WriteFeedback(r.Context(), domain.CompositionFeedback{
		LogID:   logID,
		Kind:    req.Kind,
		Details: strings.TrimSpace(req.Details),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "log_id": logID})
}

func (rt *Router) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	if rt.webhookSecret != "" {
		got := r.Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(rt.webhookSecret)) != 1 {
			writeError(w, domain.WrapError(domain.ErrUnauthorized, "telegram webhook", errors.New("secret token mismatch")))
			return
		}
	}

	var update telegram.Update
	if err := decodeJSONBody(w, r, &update); err != nil {
		writeError(w, err)
		return
	}
	annotate(r.Context(), "update_id", update.UpdateID)
	if !rt.deps.Updates.Enqueue(update) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "update queue is full"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
