package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"govqueue/pkg/requestcontext"
)

// RequestID tags every request with an ID for log correlation. An incoming
// X-Request-ID header is honored so upstream proxies can trace calls
// end to end.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
