package filesession

import (
	"net/http"

	"pkt.systems/filesession/internal/loggingutil"
)

// Middleware opens a Scope for every request, exposes it through
// ScopeFromContext(r.Context()) and closes it once next returns, committing
// any modified sessions. A scope already present on the request is reused
// and left for its owner to close.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ScopeFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		scope := NewScope(r.Context())
		defer func() {
			if err := scope.Close(); err != nil {
				logger := loggingutil.WithSubsystem(loggingutil.FromContext(r.Context(), nil), "filesession", "http")
				logger.Warn("filesession.scope.close_failed", "scope", scope.ID(), "error", err)
			}
		}()
		next.ServeHTTP(w, r.WithContext(ContextWithScope(r.Context(), scope)))
	})
}
