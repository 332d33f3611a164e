package httpadapter

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddlewareKeepsValidIDs(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if seen != "trace-42" || res.Header().Get(requestIDHeader) != "trace-42" {
		t.Fatalf("request id = %q, header = %q", seen, res.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "has spaces\tand tabs")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if seen == "" || strings.Contains(seen, " ") {
		t.Fatalf("invalid id should be replaced, got %q", seen)
	}
}

func TestAccessLogIncludesAnnotations(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		annotate(r.Context(), "chat_id", int64(77))
		w.WriteHeader(http.StatusTeapot)
	})
	handler := requestIDMiddleware(accessLogMiddleware(inner, logger))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat", nil))

	line := buf.String()
	for _, want := range []string{`"msg":"http_request"`, `"chat_id":77`, `"status":418`, `"level":"WARN"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %s: %s", want, line)
		}
	}
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), logger)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/chat", nil))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", res.Code)
	}
	if !strings.Contains(buf.String(), "http_handler_panic") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}
