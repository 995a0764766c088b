package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// adminPath reports whether path belongs to the operator surface: cache
// statistics and warming. Chat, health and metrics stay public.
func adminPath(path string) bool {
	return path == "/stats" || strings.HasPrefix(path, "/cache/")
}

// authMiddleware requires "Authorization: Bearer <token>" on admin paths
// when an AuthToken is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.config.AuthToken == "" {
		return next
	}
	want := []byte(s.config.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !adminPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			if s.logger != nil {
				s.logger.Warn("rejected admin request",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
					"has_credentials", ok)
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="dreamdesk"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header. The scheme
// match is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
