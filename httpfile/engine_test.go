package httpfile

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/treq"
	"github.com/viant/treq/internal/pointer"
	"github.com/viant/treq/service"
)

type mapCookieStore struct {
	header   string
	captured http.Header
}

func (m *mapCookieStore) CookieHeader(string) string { return m.header }

func (m *mapCookieStore) SetFromResponse(_ string, header http.Header) bool {
	m.captured = header
	return len(header["Set-Cookie"]) > 0
}

func TestRunStringDispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "sid=abc", r.Header.Get("Cookie"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"user":"bob"}`, string(body))
		http.SetCookie(w, &http.Cookie{Name: "auth", Value: "xyz"})
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	raw := "POST {{host}}/login\nX-Api-Key: {{apiKey}}\nContent-Type: application/json\n\n{\"user\":\"bob\"}\n"
	cookies := &mapCookieStore{header: "sid=abc"}
	var events []string
	engine := NewEngine()
	response, err := engine.RunString(context.Background(), raw, &service.RunOptions{
		Variables:   map[string]interface{}{"host": server.URL, "apiKey": "secret-key"},
		CookieStore: cookies,
		OnEvent: func(fields map[string]interface{}) {
			events = append(events, fields["type"].(string))
		},
	})
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()

	assert.Equal(t, http.StatusCreated, response.Status)
	assert.Equal(t, "POST", response.Method)
	body, _ := io.ReadAll(response.Body)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.NotEmpty(t, cookies.captured["Set-Cookie"], "response cookies reach the store")

	assert.Equal(t, []string{
		treq.EventParseStarted, treq.EventParseFinished,
		treq.EventInterpolateStarted, treq.EventInterpolateFinished,
		treq.EventCompileStarted, treq.EventCompileFinished,
		treq.EventFetchStarted, treq.EventFetchFinished,
	}, events)
}

func TestRunStringNoFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/from" {
			http.Redirect(w, r, "/to", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := NewEngine()
	response, err := engine.RunString(context.Background(), "GET "+server.URL+"/from\n",
		&service.RunOptions{FollowRedirects: pointer.Ref(false)})
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()
	assert.Equal(t, http.StatusFound, response.Status)

	expected, _ := url.JoinPath(server.URL, "from")
	assert.Equal(t, expected, response.URL)
}

func TestRunStringFetchError(t *testing.T) {
	engine := NewEngine()
	var sawError bool
	_, err := engine.RunString(context.Background(), "GET http://127.0.0.1:1/unreachable\n",
		&service.RunOptions{OnEvent: func(fields map[string]interface{}) {
			if fields["type"] == treq.EventError {
				sawError = true
			}
		}})
	require.Error(t, err)
	assert.True(t, sawError)
}

func TestRunStringNoRequest(t *testing.T) {
	engine := NewEngine()
	_, err := engine.RunString(context.Background(), "# nothing here\n", nil)
	assert.Error(t, err)
}
