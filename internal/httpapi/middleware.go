package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Printf("%s %s status=%d from=%s dur=%s", r.Method, r.URL.Path, rec.status, r.RemoteAddr, time.Since(start))
	})
}

type identityKey struct{}

func identityFrom(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(types.Identity)
	return id, ok
}

// identityMiddleware resolves an optional bearer token.  A request without
// Authorization proceeds anonymously; a present but invalid token is a 401.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := s.tokens.Verify(header)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identityFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "auth_required", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
