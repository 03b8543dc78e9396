package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/treq"
	"github.com/viant/treq/httpfile"
	"github.com/viant/treq/service"
	"github.com/viant/treq/wsession"
)

func newTestServer(t *testing.T, mutate ...func(*service.Config)) (*httptest.Server, *service.Service) {
	t.Helper()
	config := &service.Config{Workspace: t.TempDir(), MaxBodyBytes: 4096}
	for _, apply := range mutate {
		apply(config)
	}
	aService, err := service.New(context.Background(), config, httpfile.NewParser(), httpfile.NewEngine())
	require.NoError(t, err)
	server := httptest.NewServer(New(aService).Handler())
	t.Cleanup(func() {
		server.Close()
		_ = aService.Close()
	})
	return server, aService
}

func decodeBody(t *testing.T, response *http.Response, target interface{}) {
	t.Helper()
	defer func() { _ = response.Body.Close() }()
	require.NoError(t, json.NewDecoder(response.Body).Decode(target))
}

func errorCode(t *testing.T, response *http.Response) string {
	t.Helper()
	envelope := map[string]map[string]interface{}{}
	decodeBody(t, response, &envelope)
	code, _ := envelope["error"]["code"].(string)
	return code
}

func TestHealthAndCapabilities(t *testing.T) {
	server, _ := newTestServer(t)

	response, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	health := map[string]interface{}{}
	decodeBody(t, response, &health)
	assert.Equal(t, true, health["healthy"])
	assert.NotEmpty(t, health["version"])

	response, err = http.Get(server.URL + "/capabilities")
	require.NoError(t, err)
	capabilities := map[string]interface{}{}
	decodeBody(t, response, &capabilities)
	features := capabilities["features"].(map[string]interface{})
	assert.Equal(t, false, features["streamingBodies"])
	assert.Equal(t, true, features["wsProxy"])
	assert.Equal(t, true, features["sse"])
}

func TestExecuteEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	server, _ := newTestServer(t)
	payload := `{"content":"GET ` + upstream.URL + `/x\n"}`
	response, err := http.Post(server.URL+"/execute", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	envelope := map[string]interface{}{}
	decodeBody(t, response, &envelope)
	assert.NotEmpty(t, envelope["runId"])
	inner := envelope["response"].(map[string]interface{})
	assert.Equal(t, float64(200), inner["status"])
	assert.Equal(t, "buffered", inner["bodyMode"])

	response, err = http.Post(server.URL+"/execute", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	assert.Equal(t, treq.CodeContentOrPathRequired, errorCode(t, response))
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	client := server.Client()

	response, err := client.Post(server.URL+"/session", "application/json",
		strings.NewReader(`{"variables":{"host":"https://api.example.com"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode)
	created := map[string]interface{}{}
	decodeBody(t, response, &created)
	sessionID := created["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	request, _ := http.NewRequest(http.MethodPut, server.URL+"/session/"+sessionID+"/variables",
		strings.NewReader(`{"variables":{"apiToken":"abc"},"mode":"merge"}`))
	request.Header.Set("Content-Type", "application/json")
	response, err = client.Do(request)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	state := map[string]interface{}{}
	decodeBody(t, response, &state)
	assert.Equal(t, float64(2), state["snapshotVersion"])
	variables := state["variables"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", variables["apiToken"], "sensitive keys never leave the server")

	request, _ = http.NewRequest(http.MethodDelete, server.URL+"/session/"+sessionID, nil)
	response, err = client.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusNoContent, response.StatusCode)

	response, err = client.Get(server.URL + "/session/" + sessionID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	assert.Equal(t, treq.CodeSessionNotFound, errorCode(t, response))
}

func TestBearerAuthAndCookieLogin(t *testing.T) {
	server, _ := newTestServer(t, func(config *service.Config) {
		config.Token = "top-secret"
		config.AllowCookieAuth = true
	})
	client := server.Client()

	response, err := client.Get(server.URL + "/capabilities")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.Equal(t, treq.CodeUnauthorized, errorCode(t, response))

	request, _ := http.NewRequest(http.MethodGet, server.URL+"/capabilities", nil)
	request.Header.Set("Authorization", "Bearer top-secret")
	response, err = client.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)

	response, err = client.Post(server.URL+"/auth/login", "application/json",
		strings.NewReader(`{"token":"wrong"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	_ = response.Body.Close()

	response, err = client.Post(server.URL+"/auth/login", "application/json",
		strings.NewReader(`{"token":"top-secret"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	cookies := response.Cookies()
	_ = response.Body.Close()
	require.NotEmpty(t, cookies)
	sessionCookie := cookies[0]
	assert.Equal(t, "treq_session", sessionCookie.Name)
	assert.True(t, sessionCookie.HttpOnly)

	request, _ = http.NewRequest(http.MethodGet, server.URL+"/capabilities", nil)
	request.AddCookie(sessionCookie)
	response, err = client.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)

	request, _ = http.NewRequest(http.MethodPost, server.URL+"/auth/logout", nil)
	request.AddCookie(sessionCookie)
	response, err = client.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusNoContent, response.StatusCode)

	request, _ = http.NewRequest(http.MethodGet, server.URL+"/capabilities", nil)
	request.AddCookie(sessionCookie)
	response, err = client.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
}

func TestScriptTokenScopeEnforcement(t *testing.T) {
	server, aService := newTestServer(t, func(config *service.Config) {
		config.Token = "top-secret"
	})
	client := server.Client()

	ownFlow := aService.CreateFlow("", "scripted", nil)
	otherFlow := aService.CreateFlow("", "other", nil)
	token, _, err := aService.Issuer().Issue(context.Background(), ownFlow.FlowID, "")
	require.NoError(t, err)

	do := func(method, path, body string) *http.Response {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		request, _ := http.NewRequest(method, server.URL+path, reader)
		request.Header.Set("Authorization", "Bearer "+token)
		request.Header.Set("Content-Type", "application/json")
		response, err := client.Do(request)
		require.NoError(t, err)
		return response
	}

	response := do(http.MethodPost, "/session", `{}`)
	assert.Equal(t, http.StatusForbidden, response.StatusCode)
	assert.Equal(t, treq.CodeScopeViolation, errorCode(t, response))

	response = do(http.MethodGet, "/flows/"+otherFlow.FlowID, "")
	assert.Equal(t, http.StatusForbidden, response.StatusCode)
	assert.Equal(t, treq.CodeScopeViolation, errorCode(t, response))

	response = do(http.MethodGet, "/flows/"+ownFlow.FlowID, "")
	_ = response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)
}

func TestEventStreamReplayAndFraming(t *testing.T) {
	server, aService := newTestServer(t)

	flowID := aService.CreateFlow("", "sse", nil).FlowID
	aService.Bus().Emit("", treq.NewRunID(), map[string]interface{}{
		"type":   "executionStarted",
		"flowId": flowID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		server.URL+"/event?flowId="+flowID+"&afterSeq=0", nil)
	response, err := server.Client().Do(request)
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()
	require.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "text/event-stream", response.Header.Get("Content-Type"))

	reader := bufio.NewReader(response.Body)
	var lines []string
	for len(lines) < 6 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
	assert.Equal(t, "event: connected", lines[0])
	assert.Equal(t, "data: {}", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "event: executionStarted", lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "id: "))
	assert.True(t, strings.HasSuffix(lines[4], "-1"), "id carries runId-seq")
	assert.True(t, strings.HasPrefix(lines[5], "data: "))
	var envelope treq.Envelope
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[5], "data: ")), &envelope))
	assert.Equal(t, flowID, envelope.FlowID)
	assert.Equal(t, uint64(1), envelope.Seq)
}

func TestEventStreamRequiresFilterWithToken(t *testing.T) {
	server, _ := newTestServer(t, func(config *service.Config) {
		config.Token = "top-secret"
	})
	request, _ := http.NewRequest(http.MethodGet, server.URL+"/event", nil)
	request.Header.Set("Authorization", "Bearer top-secret")
	response, err := server.Client().Do(request)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	assert.Equal(t, treq.CodeValidationError, errorCode(t, response))
}

func TestEventSocketDeliversEnvelopes(t *testing.T) {
	server, aService := newTestServer(t)

	flowID := aService.CreateFlow("", "ws-events", nil).FlowID
	aService.Bus().Emit("", treq.NewRunID(), map[string]interface{}{
		"type":   "scriptOutput",
		"flowId": flowID,
		"line":   "hello",
	})

	wsURL := strings.Replace(server.URL, "http", "ws", 1) +
		"/event/ws?flowId=" + flowID + "&afterSeq=0"
	conn, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = response.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var envelope treq.Envelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "scriptOutput", envelope.Type)
	assert.Equal(t, "hello", envelope.Payload["line"])
}

func newEchoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWsSessionBridge(t *testing.T) {
	upstream := newEchoUpstream(t)
	server, _ := newTestServer(t)
	client := server.Client()

	upstreamURL := strings.Replace(upstream.URL, "http", "ws", 1)
	response, err := client.Post(server.URL+"/execute/ws", "application/json",
		strings.NewReader(`{"upstreamUrl":"`+upstreamURL+`"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	opened := map[string]interface{}{}
	decodeBody(t, response, &opened)
	wsSessionID := opened["wsSessionId"].(string)
	require.NotEmpty(t, wsSessionID)
	assert.Equal(t, float64(1), opened["lastSeq"], "session.opened consumes seq 1")

	bridgeURL := strings.Replace(server.URL, "http", "ws", 1) +
		"/ws/session/" + wsSessionID + "?afterSeq=0"
	conn, handshake, err := websocket.DefaultDialer.Dial(bridgeURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = handshake.Body.Close()

	readEnvelope := func() wsession.Envelope {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var envelope wsession.Envelope
		require.NoError(t, json.Unmarshal(data, &envelope))
		return envelope
	}

	envelope := readEnvelope()
	assert.Equal(t, wsession.TypeOpened, envelope.Type)
	assert.Equal(t, int64(1), envelope.Seq)
	envelope = readEnvelope()
	assert.Equal(t, wsession.TypeReplayEnd, envelope.Type)
	assert.Zero(t, envelope.Seq, "replay terminator carries no seq")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"chat","payload":{"text":"ping"}}`)))

	// the outbound record and the echoed inbound are emitted concurrently;
	// their seqs are 2 and 3 but arrival order is not fixed
	byType := map[string]wsession.Envelope{}
	for i := 0; i < 2; i++ {
		envelope = readEnvelope()
		byType[envelope.Type] = envelope
	}
	require.Contains(t, byType, wsession.TypeOutbound)
	require.Contains(t, byType, wsession.TypeInbound, "echo comes back as inbound")
	seqs := map[int64]bool{
		byType[wsession.TypeOutbound].Seq: true,
		byType[wsession.TypeInbound].Seq:  true,
	}
	assert.True(t, seqs[2] && seqs[3], "outbound and inbound consume seqs 2 and 3")
}

func TestWsSessionReplayGap(t *testing.T) {
	upstream := newEchoUpstream(t)
	server, aService := newTestServer(t)
	client := server.Client()

	upstreamURL := strings.Replace(upstream.URL, "http", "ws", 1)
	response, err := client.Post(server.URL+"/execute/ws", "application/json",
		strings.NewReader(`{"upstreamUrl":"`+upstreamURL+`","replayBufferSize":2}`))
	require.NoError(t, err)
	opened := map[string]interface{}{}
	decodeBody(t, response, &opened)
	wsSessionID := opened["wsSessionId"].(string)

	for i := 0; i < 4; i++ {
		_, err := aService.WsManager().Send(wsSessionID, "chat",
			map[string]interface{}{"n": i})
		require.NoError(t, err)
	}

	bridgeURL := strings.Replace(server.URL, "http", "ws", 1) +
		"/ws/session/" + wsSessionID + "?afterSeq=0"
	conn, handshake, err := websocket.DefaultDialer.Dial(bridgeURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = handshake.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var envelope wsession.Envelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, wsession.TypeError, envelope.Type)
	assert.Equal(t, treq.CodeWsReplayGap, envelope.Payload["code"])

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, wsession.TypeReplayEnd, envelope.Type)
}

func TestWsSessionNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	response, err := server.Client().Get(server.URL + "/ws/session/ws-missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	assert.Equal(t, treq.CodeWsSessionNotFound, errorCode(t, response))
}

type fakeImporter struct {
	issues []service.ImportIssue
}

func (f *fakeImporter) Preview(_ context.Context, format string, _ []byte) (*service.ImportResult, error) {
	return &service.ImportResult{Content: "GET https://api.example.com/\n", Issues: f.issues}, nil
}

func (f *fakeImporter) Apply(_ context.Context, format string, payload []byte, force bool) (*service.ImportResult, error) {
	return f.Preview(context.Background(), format, payload)
}

func TestImportStatusMapping(t *testing.T) {
	newServer := func(issues []service.ImportIssue) *httptest.Server {
		config := &service.Config{Workspace: t.TempDir()}
		aService, err := service.New(context.Background(), config,
			httpfile.NewParser(), httpfile.NewEngine(), service.WithImporter(&fakeImporter{issues: issues}))
		require.NoError(t, err)
		server := httptest.NewServer(New(aService).Handler())
		t.Cleanup(func() {
			server.Close()
			_ = aService.Close()
		})
		return server
	}
	post := func(server *httptest.Server, path string) *http.Response {
		response, err := http.Post(server.URL+path, "application/json", bytes.NewReader([]byte(`{}`)))
		require.NoError(t, err)
		_ = response.Body.Close()
		return response
	}

	clean := newServer(nil)
	assert.Equal(t, http.StatusOK, post(clean, "/import/postman/preview").StatusCode)

	partial := newServer([]service.ImportIssue{{Severity: "warning", Message: "unsupported auth helper"}})
	assert.Equal(t, http.StatusMultiStatus, post(partial, "/import/postman/preview").StatusCode)

	failing := newServer([]service.ImportIssue{{Severity: "error", Message: "not a collection"}})
	assert.Equal(t, http.StatusUnprocessableEntity, post(failing, "/import/postman/apply").StatusCode)
	assert.Equal(t, http.StatusOK, post(failing, "/import/postman/apply?force=true").StatusCode)
}

func TestCORSPolicy(t *testing.T) {
	server, _ := newTestServer(t)
	client := server.Client()

	request, _ := http.NewRequest(http.MethodOptions, server.URL+"/execute", nil)
	request.Header.Set("Origin", "http://localhost:5173")
	response, err := client.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	assert.Equal(t, "http://localhost:5173", response.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", response.Header.Get("Access-Control-Allow-Credentials"))

	request, _ = http.NewRequest(http.MethodGet, server.URL+"/health", nil)
	request.Header.Set("Origin", "https://evil.example.com")
	response, err = client.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Empty(t, response.Header.Get("Access-Control-Allow-Origin"))
}

func TestDocServesOpenAPI(t *testing.T) {
	server, _ := newTestServer(t)
	response, err := http.Get(server.URL + "/doc")
	require.NoError(t, err)
	document := map[string]interface{}{}
	decodeBody(t, response, &document)
	assert.Equal(t, "3.0.3", document["openapi"])
	paths := document["paths"].(map[string]interface{})
	assert.Contains(t, paths, "/execute")
	assert.Contains(t, paths, "/event")
}
