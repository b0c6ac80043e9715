package middleware

import (
	"net/http"
	"strings"

	"github.com/pagemule/pagemule/internal/engine"
)

// ActorExtractor reads the caller identity from the X-Actor header and
// stores it in the request context so audit entries can attribute
// operations. Absent headers fall back to the engine default.
func ActorExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
			r = r.WithContext(engine.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
