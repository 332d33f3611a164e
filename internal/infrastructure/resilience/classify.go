package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// StatusCoder is implemented by HTTP status errors of the outbound clients.
type StatusCoder interface {
	HTTPStatus() int
}

// ClassifyTransport is the classifier shared by the HTTP clients: timeouts,
// throttling and 5xx responses are retried, other statuses are final and do
// not count against the breaker.
func ClassifyTransport(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr StatusCoder
	if errors.As(err, &statusErr) {
		if IsRetryableHTTPStatus(statusErr.HTTPStatus()) {
			return ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return ErrorClassification{Retryable: false, RecordFailure: true}
}

func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
