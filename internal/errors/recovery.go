package errors

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/optbench/internal/logging"
)

// HTTPStatus maps an error kind to the status code the HTTP surface returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case ParseError, UnresolvedReference, CycleDetected, DimensionMismatch,
		NotEnoughObjectives, TooManyObjectives, UnsupportedDesign, InvalidArgument:
		return http.StatusBadRequest
	case Singular, NumericFailure, NoSolution:
		return http.StatusUnprocessableEntity
	case Cancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes err as a JSON body {"kind": ..., "error": ...} with the
// status derived from its kind.
func WriteJSON(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"kind":  kind.String(),
		"error": MessageOf(err),
	})
}

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					fields := map[string]interface{}{
						"error": rec,
						"stack": string(debug.Stack()),
					}
					if r != nil {
						fields["method"] = r.Method
						fields["path"] = r.URL.Path
					}
					logger.Error("Recovered from panic", fields)

					WriteJSON(w, Errorf(Unknown, "internal error: %v", rec))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorHandler is a middleware that logs responses with an error status.
func ErrorHandler(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			if rw.status >= http.StatusBadRequest {
				logger.Warn("Request error", map[string]interface{}{
					"status": rw.status,
					"method": r.Method,
					"path":   r.URL.Path,
					"query":  r.URL.RawQuery,
				})
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code before writing the header.
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
