package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/treq"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *Issuer, *WebSessions) {
	issuer := NewIssuer("server-secret")
	webSessions := NewWebSessions()
	return NewAuthenticator("server-secret", issuer, webSessions, true), issuer, webSessions
}

func TestAuthenticateBearer(t *testing.T) {
	authenticator, _, _ := newTestAuthenticator(t)

	r := httptest.NewRequest("GET", "/health", nil)
	r.Header.Set("Authorization", "Bearer server-secret")
	identity, err := authenticator.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodBearer, identity.Method)

	r = httptest.NewRequest("GET", "/health", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	_, err = authenticator.Authenticate(r)
	assert.Equal(t, treq.CodeUnauthorized, treq.AsError(err).Code)
}

func TestAuthenticateScriptToken(t *testing.T) {
	authenticator, issuer, _ := newTestAuthenticator(t)
	token, _, err := issuer.Issue(context.Background(), "f1", "s1")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/execute", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	identity, err := authenticator.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodScript, identity.Method)
	require.NotNil(t, identity.Token)
	assert.Equal(t, "f1", identity.Token.FlowID)
}

func TestAuthenticateCookie(t *testing.T) {
	authenticator, _, webSessions := newTestAuthenticator(t)
	id, err := webSessions.Issue()
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/session/x", nil)
	r.AddCookie(BuildCookie(id, false, 30*time.Minute))
	identity, err := authenticator.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodCookie, identity.Method)
	assert.Equal(t, id, identity.WebSessionID)

	// stale cookie fails
	r = httptest.NewRequest("GET", "/session/x", nil)
	r.AddCookie(BuildCookie("missing", false, 30*time.Minute))
	_, err = authenticator.Authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticateNoTokenConfigured(t *testing.T) {
	authenticator := NewAuthenticator("", nil, nil, false)
	r := httptest.NewRequest("GET", "/health", nil)
	identity, err := authenticator.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodNone, identity.Method)
}

func TestWebSessionSlidingExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	webSessions := NewWebSessions(WithWebSessionsClock(clock), WithWebSessionTTL(10*time.Minute))
	id, err := webSessions.Issue()
	require.NoError(t, err)

	clock.Advance(8 * time.Minute)
	assert.True(t, webSessions.Validate(id), "validation slides expiry")
	clock.Advance(8 * time.Minute)
	assert.True(t, webSessions.Validate(id))
	clock.Advance(11 * time.Minute)
	assert.False(t, webSessions.Validate(id))
}

func TestWebSessionLimit(t *testing.T) {
	webSessions := NewWebSessions(WithMaxWebSessions(1))
	_, err := webSessions.Issue()
	require.NoError(t, err)
	_, err = webSessions.Issue()
	assert.Equal(t, treq.CodeSessionLimitReached, treq.AsError(err).Code)
}

func TestEnforceScope(t *testing.T) {
	scripted := &Identity{Method: MethodScript, Token: &TokenPayload{FlowID: "f1", SessionID: "s1"}}

	// blocked outright
	err := EnforceScope(scripted, OpSessionCreate, "", "")
	assert.Equal(t, treq.CodeScopeViolation, treq.AsError(err).Code)
	err = EnforceScope(scripted, OpScriptSpawn, "", "")
	assert.Equal(t, treq.CodeScopeViolation, treq.AsError(err).Code)

	// scoped: matching ids pass
	assert.NoError(t, EnforceScope(scripted, OpExecute, "f1", "s1"))
	// mismatched flow rejected even with matching session
	err = EnforceScope(scripted, OpExecute, "f2", "s1")
	assert.Equal(t, treq.CodeScopeViolation, treq.AsError(err).Code)
	err = EnforceScope(scripted, OpSessionUpdate, "", "s2")
	assert.Equal(t, treq.CodeScopeViolation, treq.AsError(err).Code)

	// bearer identities pass unconditionally
	assert.NoError(t, EnforceScope(&Identity{Method: MethodBearer}, OpSessionCreate, "", ""))
}
