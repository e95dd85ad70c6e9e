package httpadapter

import (
	"net/http"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrAccess):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrNotFound), domain.IsKind(err, domain.ErrStateNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrSessionLocked):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrContractUnsatisfied):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrCallTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
