package telegram

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIError is a Bot API call that answered ok=false or a non-2xx status.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s: status=%d: %s (retry after %s)", e.Method, e.StatusCode, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s: status=%d: %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// markupRejected reports whether Telegram refused the Markdown of a message.
func (e *APIError) markupRejected() bool {
	return e.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Description), "can't parse entities")
}
