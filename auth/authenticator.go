package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/viant/treq"
)

// Method identifies how a request authenticated.
type Method string

const (
	MethodNone   Method = "none"
	MethodBearer Method = "bearer"
	MethodScript Method = "script"
	MethodCookie Method = "cookie"
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	Method       Method
	Token        *TokenPayload // set for script tokens
	WebSessionID string        // set for cookie web-sessions
}

// Authenticator evaluates the three credential kinds in order: bearer,
// script token, cookie web-session.
type Authenticator struct {
	serverToken     string
	issuer          *Issuer
	webSessions     *WebSessions
	allowCookieAuth bool
}

// NewAuthenticator wires the credential evaluators. serverToken may be empty,
// in which case all requests pass as unauthenticated.
func NewAuthenticator(serverToken string, issuer *Issuer, webSessions *WebSessions, allowCookieAuth bool) *Authenticator {
	return &Authenticator{
		serverToken:     serverToken,
		issuer:          issuer,
		webSessions:     webSessions,
		allowCookieAuth: allowCookieAuth,
	}
}

// Required reports whether a server token is configured.
func (a *Authenticator) Required() bool { return a.serverToken != "" }

// Authenticate resolves the request identity or returns UNAUTHORIZED when a
// server token is configured and no credential succeeds.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	bearer := bearerValue(r)

	if a.serverToken != "" && bearer != "" && !IsScriptToken(bearer) {
		if subtle.ConstantTimeCompare([]byte(bearer), []byte(a.serverToken)) == 1 {
			return &Identity{Method: MethodBearer}, nil
		}
	}

	if bearer != "" && IsScriptToken(bearer) && a.issuer != nil {
		payload, err := a.issuer.Validate(r.Context(), bearer)
		if err != nil {
			return nil, err
		}
		return &Identity{Method: MethodScript, Token: payload}, nil
	}

	if a.allowCookieAuth && a.webSessions != nil {
		if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
			if a.webSessions.Validate(cookie.Value) {
				return &Identity{Method: MethodCookie, WebSessionID: cookie.Value}, nil
			}
		}
	}

	if a.serverToken == "" {
		return &Identity{Method: MethodNone}, nil
	}
	return nil, treq.NewError(treq.CodeUnauthorized, "authentication required")
}

func bearerValue(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if value == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return strings.TrimSpace(value)
}
