package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"
)

type errorResponse struct {
	Error     *errors.ReconcilerError `json:"error"`
	RequestID string                  `json:"requestId,omitempty"`
}

// statusFor maps an error kind onto an HTTP status
func statusFor(kind errors.ErrorCategory) int {
	switch kind {
	case errors.CategoryValidation, errors.CategoryParse, errors.CategoryFile:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryInvalidState, errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rerr := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "unexpected error")
	writeErrorStatus(w, r, statusFor(rerr.Category), rerr)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, rerr *errors.ReconcilerError) {
	entry := logger.FromContext(r.Context()).WithFields(logger.Fields{
		"status": status,
		"kind":   rerr.Category,
		"code":   rerr.Code,
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(rerr).Error("Request error")
	} else {
		entry.Debug(rerr.Message)
	}

	writeJSON(w, r, status, errorResponse{Error: rerr, RequestID: RequestIDFromContext(r.Context())})
}

func routeNotFound(r *http.Request) *errors.ReconcilerError {
	return errors.New(errors.CategoryNotFound, errors.CodeRouteNotFound,
		fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}

func methodNotAllowed(r *http.Request) *errors.ReconcilerError {
	return errors.New(errors.CategoryValidation, errors.CodeMethodNotAllowed,
		fmt.Sprintf("method %s is not allowed on %s", r.Method, r.URL.Path))
}

func rateLimited() *errors.ReconcilerError {
	return errors.New(errors.CategoryRateLimited, errors.CodeTooManyRequests, "rate limit exceeded").
		WithSuggestion("Retry the request later")
}

// decodeJSON reads a single JSON object from the request body into dst
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if err == io.EOF {
			return errors.ValidationError(errors.CodeMissingField, "body", nil, nil).
				WithSuggestion("Send a JSON object in the request body")
		}
		return errors.ValidationError(errors.CodeInvalidValue, "body", nil, err).
			WithSuggestion("Send a well-formed JSON object with the documented fields")
	}
	return nil
}
