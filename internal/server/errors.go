package server

import (
	"errors"
	"net/http"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// Wire error codes.
const (
	codeValidation      = "validation"
	codeNotFound        = "not_found"
	codeForbidden       = "forbidden"
	codeConflict        = "conflict"
	codeUnauthenticated = "unauthenticated"
	codeInternal        = "internal"
)

const internalErrorMessage = "internal server error"

// mapError translates an engine error into its wire code, HTTP status and
// client-safe message. Anything that is not a domain error is reported as an
// internal error without detail.
func mapError(err error) (code string, status int, message string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return codeValidation, http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrNotFound):
		return codeNotFound, http.StatusNotFound, err.Error()
	case errors.Is(err, chat.ErrForbidden):
		return codeForbidden, http.StatusForbidden, err.Error()
	case errors.Is(err, chat.ErrConflict):
		return codeConflict, http.StatusConflict, err.Error()
	case errors.Is(err, chat.ErrUnauthenticated):
		return codeUnauthenticated, http.StatusUnauthorized, err.Error()
	default:
		return codeInternal, http.StatusInternalServerError, internalErrorMessage
	}
}

func newErrorPayload(err error, details string) errorPayload {
	code, _, message := mapError(err)
	return errorPayload{Error: message, Code: code, Details: details}
}
