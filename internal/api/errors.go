package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/MJE43/game-simulation-go/internal/sentryx"
)

// Error types reported in APIError.Type.
const (
	ErrTypeValidation = "validation_error"
	ErrTypeNotFound   = "not_found"
	ErrTypeConflict   = "shutting_down"
	ErrTypeInternal   = "internal_error"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorBuilder helps construct structured errors with context.
type ErrorBuilder struct {
	err APIError
}

func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{err: APIError{Type: errType, Message: message, Context: map[string]any{}}}
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.Context[key] = value
	return b
}

func (b *ErrorBuilder) WithRequest(r *http.Request) *ErrorBuilder {
	b.err.RequestID = middleware.GetReqID(r.Context())
	b.err.Context["path"] = r.URL.Path
	b.err.Context["method"] = r.Method
	return b
}

func (b *ErrorBuilder) Build() APIError {
	b.err.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if len(b.err.Context) == 0 {
		b.err.Context = nil
	}
	return b.err
}

// ErrorHandler logs and writes error responses.
type ErrorHandler struct {
	log zerolog.Logger
}

func NewErrorHandler(log zerolog.Logger) *ErrorHandler {
	return &ErrorHandler{log: log}
}

func (h *ErrorHandler) Write(w http.ResponseWriter, r *http.Request, status int, apiErr APIError) {
	ev := h.log.Warn()
	if status >= 500 {
		ev = h.log.Error()
	}
	ev.Str("request_id", apiErr.RequestID).
		Str("type", apiErr.Type).
		Int("status", status).
		Str("path", r.URL.Path).
		Msg(apiErr.Message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

func (h *ErrorHandler) Validation(w http.ResponseWriter, r *http.Request, field, message string) {
	h.Write(w, r, http.StatusBadRequest, NewError(ErrTypeValidation, message).
		WithRequest(r).
		WithContext("field", field).
		Build())
}

// Recoverer turns handler panics into 500 responses and reports them.
func (h *ErrorHandler) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panic")
				sentryx.CaptureError(fmt.Errorf("panic: %v", rec), "api handler panic on %s", r.URL.Path)
				h.Write(w, r, http.StatusInternalServerError,
					NewError(ErrTypeInternal, "internal server error").WithRequest(r).Build())
			}
		}()
		next.ServeHTTP(w, r)
	})
}
