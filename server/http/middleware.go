package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/viant/treq/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFrom returns the authenticated identity attached by the auth
// middleware, or nil.
func IdentityFrom(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

func withIdentity(r *http.Request, identity *auth.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, identity))
}

// authenticate resolves the request identity and rejects blocked script-token
// operations up front. Handlers re-check scope once request-carried ids are
// bound.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, op auth.Operation) (*auth.Identity, bool) {
	identity, err := s.service.Authenticator().Authenticate(r)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if err := auth.EnforceScope(identity, op, "", ""); err != nil {
		writeError(w, err)
		return nil, false
	}
	return identity, true
}

// cors wraps the router with the CORS policy: localhost origins on any port
// are always allowed, plus the configured web origins; credentials are
// permitted so cookie auth works from the web UI.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			header := w.Header()
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				header.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if parsed.Scheme == "http" && (host == "localhost" || host == "127.0.0.1") {
		return true
	}
	config := s.service.Config()
	for _, allowed := range config.CorsOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return config.WebURL != "" &&
		strings.EqualFold(strings.TrimRight(config.WebURL, "/"), strings.TrimRight(origin, "/"))
}
