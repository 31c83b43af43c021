package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// role is the privilege a route requires.
type role int

const (
	// roleUser may search and read source status.
	roleUser role = iota
	// roleAdmin may additionally manage sources and trigger reindexes.
	roleAdmin
)

// authKeys holds the configured Bearer tokens.
type authKeys struct {
	user  string
	admin string
}

// disabled reports whether no key is configured at all.
func (k authKeys) disabled() bool { return k.user == "" && k.admin == "" }

// roleOf resolves the privilege granted by token. ok is false when the token
// matches no configured key. With no admin key set, the user key is admin.
func (k authKeys) roleOf(token string) (r role, ok bool) {
	if k.admin != "" && tokenEqual(token, k.admin) {
		return roleAdmin, true
	}
	if k.user != "" && tokenEqual(token, k.user) {
		if k.admin == "" {
			return roleAdmin, true
		}
		return roleUser, true
	}
	return roleUser, false
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// authMiddleware returns an HTTP middleware that enforces Bearer token
// authentication and the route's required role. If no key is configured the
// middleware is a no-op; a warning is logged at server startup instead.
//
// Protected routes must supply:
//
//	Authorization: Bearer <key>
//
// Missing or unknown tokens receive 401 Unauthorized with a
// WWW-Authenticate: Bearer challenge. A valid user token on an admin route
// receives 403 permission-denied. Token values are never logged, only
// their presence.
func authMiddleware(keys authKeys, required role, next http.Handler) http.Handler {
	if keys.disabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		if token == "" {
			log.Warn("auth: missing Authorization header",
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="semsearch"`)
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}

		granted, ok := keys.roleOf(token)
		if !ok {
			log.Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", true),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="semsearch" error="invalid_token"`)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		if granted < required {
			log.Warn("auth: admin privilege required", slog.String("path", r.URL.Path))
			writeError(w, r, fmt.Errorf("%w: admin privilege required", rag.ErrPermissionDenied))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
