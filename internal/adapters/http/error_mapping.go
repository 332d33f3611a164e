package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrLoopLimit):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
