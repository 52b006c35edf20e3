package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeForbidden        = "forbidden"
	ErrCodeUnsupportedMedia = "unsupported_media_type"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeBadGateway       = "bad_gateway"
	ErrCodeGatewayTimeout   = "gateway_timeout"
	ErrCodeUnavailable      = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBackendError maps a client error to a response. Anything outside
// the client's taxonomy is logged and reported as 500.
func (s *Server) writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		valErr  *thingsboard.ValidationError
		authErr *thingsboard.AuthError
		reqErr  *thingsboard.RequestError
		netErr  *thingsboard.NetworkError
	)

	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, Error{
			Status:  http.StatusBadRequest,
			Code:    ErrCodeValidation,
			Message: valErr.Message,
			Field:   valErr.Field,
		})
	case errors.As(err, &authErr):
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, authErr.Message)
	case errors.As(err, &reqErr):
		if reqErr.Status == http.StatusNotFound {
			writeNotFound(w, reqErr.Message)
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, reqErr.Message)
	case errors.As(err, &netErr):
		writeError(w, http.StatusGatewayTimeout, ErrCodeGatewayTimeout, netErr.Error())
	case errors.Is(err, thingsboard.ErrNonNumeric):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	default:
		s.logger.Error("unmapped backend error",
			"error", err,
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
		)
		writeInternalError(w, "internal server error")
	}
}
