package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"lakegate.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// openPaths never require a token.
var openPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/auth/token",
	"/v1/auth/refresh",
	"/v1/users/recovery",
	"/v1/users/password",
}

// anonymousAllowed reports routes that serve anonymous callers with public
// visibility: catalog reads and signup.
func anonymousAllowed(r *http.Request) bool {
	p := r.URL.Path
	if r.Method == http.MethodPost && p == "/v1/users" {
		return true
	}
	if r.Method == http.MethodGet &&
		(p == "/v1/collections" || p == "/v1/files" ||
			strings.HasPrefix(p, "/v1/collections/") || strings.HasPrefix(p, "/v1/files/")) {
		// mutating catalog subroutes use other methods
		return true
	}
	if r.Method == http.MethodPost && (p == "/v1/collections/filter" || p == "/v1/files/filter") {
		return true
	}
	return false
}

func isOpenPath(path string) bool {
	for _, p := range openPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth decodes the bearer token into an identity and enforces the
// admin-only route prefixes. Anonymous callers pass through only on open or
// anonymous-visibility routes.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isOpenPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			if anonymousAllowed(r) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		identity, err := a.auth.Decode(token, false)
		if err != nil {
			respondFault(w, r, err)
			return
		}
		if a.adminOnly(r.URL.Path) && identity.Role != "admin" {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) adminOnly(path string) bool {
	for _, prefix := range a.adminPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
