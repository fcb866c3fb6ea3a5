// ABOUTME: CORS, method dispatch, and authentication middleware for the relay router
// ABOUTME: Extracts credentials from header or query and gates protected endpoints

package server

import (
	"net/http"
	"strings"

	"github.com/vargolabs/archie-relay/internal/auth"
)

// tokenHeader is the custom credential header the web UI sends.
const tokenHeader = "X-Clawd-Token"

// withCORS attaches the CORS header set to every response and
// short-circuits OPTIONS pre-flights with an empty success.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+tokenHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// method dispatches to next only on an exact method match; everything
// else is not found.
func (s *Server) method(m string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			http.NotFound(w, r)
			return
		}
		next(w, r)
	}
}

// extractToken pulls the raw credential from the Authorization header,
// the custom token header, or the token query parameter. The query form
// exists because EventSource clients cannot set headers.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token := strings.TrimPrefix(h, "Bearer "); token != h {
			return token
		}
	}
	if h := r.Header.Get(tokenHeader); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

// requireAuth verifies the caller's credential before any other work.
// Verification or authorization failure yields a bare 401 with no
// detail; the specific reason stays in the logs.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ident, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.logger.Debug("rejected request", "path", r.URL.Path, "error", err)
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next(w, r.WithContext(auth.WithIdentity(r.Context(), ident)))
	}
}
