package httpfile

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/viant/treq"
	"github.com/viant/treq/service"
)

// Engine dispatches one raw request over HTTP, emitting lifecycle events
// through the run options.
type Engine struct {
	parser *Parser
	client *http.Client
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithHTTPClient overrides the default client, used by tests.
func WithHTTPClient(client *http.Client) EngineOption {
	return func(e *Engine) { e.client = client }
}

// NewEngine creates an Engine.
func NewEngine(options ...EngineOption) *Engine {
	ret := &Engine{parser: NewParser()}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// RunString parses, interpolates and dispatches raw, returning the response
// with an unread body. Lifecycle events are reported via options.OnEvent in
// parse/interpolate/compile/fetch pairs.
func (e *Engine) RunString(ctx context.Context, raw string, options *service.RunOptions) (*service.EngineResponse, error) {
	if options == nil {
		options = &service.RunOptions{}
	}
	emit := func(eventType string, fields map[string]interface{}) {
		if options.OnEvent == nil {
			return
		}
		if fields == nil {
			fields = map[string]interface{}{}
		}
		fields["type"] = eventType
		options.OnEvent(fields)
	}

	emit(treq.EventParseStarted, nil)
	requests, err := e.parser.Parse(raw)
	if err != nil || len(requests) == 0 {
		emit(treq.EventError, map[string]interface{}{"stage": "parse"})
		if err == nil {
			err = fmt.Errorf("no request found in source")
		}
		return nil, err
	}
	request := requests[0]
	emit(treq.EventParseFinished, map[string]interface{}{"method": request.Method})

	emit(treq.EventInterpolateStarted, nil)
	targetURL := interpolate(request.URL, options.Variables)
	body := interpolate(request.Body, options.Variables)
	headers := make(map[string]string, len(request.Headers))
	for name, value := range request.Headers {
		headers[name] = interpolate(value, options.Variables)
	}
	emit(treq.EventInterpolateFinished, map[string]interface{}{"url": targetURL})

	emit(treq.EventCompileStarted, nil)
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, targetURL, strings.NewReader(body))
	if err != nil {
		emit(treq.EventError, map[string]interface{}{"stage": "compile", "message": err.Error()})
		return nil, trace.Wrap(err)
	}
	for name, value := range headers {
		httpRequest.Header.Set(name, value)
	}
	if options.CookieStore != nil {
		if cookie := options.CookieStore.CookieHeader(targetURL); cookie != "" {
			httpRequest.Header.Set("Cookie", cookie)
		}
	}
	client, err := e.clientFor(options)
	if err != nil {
		return nil, err
	}
	emit(treq.EventCompileFinished, nil)

	emit(treq.EventFetchStarted, map[string]interface{}{"method": request.Method, "url": targetURL})
	started := time.Now()
	httpResponse, err := client.Do(httpRequest)
	if err != nil {
		emit(treq.EventError, map[string]interface{}{"stage": "fetch", "message": err.Error()})
		return nil, trace.Wrap(err)
	}
	ttfb := time.Since(started).Milliseconds()
	emit(treq.EventFetchFinished, map[string]interface{}{"status": httpResponse.StatusCode, "ttfbMs": ttfb})

	finalURL := targetURL
	if httpResponse.Request != nil && httpResponse.Request.URL != nil {
		finalURL = httpResponse.Request.URL.String()
	}
	if options.CookieStore != nil {
		options.CookieStore.SetFromResponse(finalURL, httpResponse.Header)
	}
	return &service.EngineResponse{
		Status:  httpResponse.StatusCode,
		Headers: httpResponse.Header,
		Body:    httpResponse.Body,
		URL:     finalURL,
		Method:  request.Method,
		TTFBMs:  ttfb,
	}, nil
}

func (e *Engine) clientFor(options *service.RunOptions) (*http.Client, error) {
	if e.client != nil {
		return e.client, nil
	}
	transport := &http.Transport{}
	if options.ValidateSSL != nil && !*options.ValidateSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if options.Proxy != "" {
		proxyURL, err := url.Parse(options.Proxy)
		if err != nil {
			return nil, trace.BadParameter("invalid proxy %q: %v", options.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	client := &http.Client{Transport: transport, Timeout: options.Timeout}
	if options.FollowRedirects != nil && !*options.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}

// interpolate substitutes {{name}} placeholders from variables; unresolved
// placeholders are left intact.
func interpolate(text string, variables map[string]interface{}) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	var builder strings.Builder
	for {
		open := strings.Index(text, "{{")
		if open == -1 {
			builder.WriteString(text)
			break
		}
		closing := strings.Index(text[open:], "}}")
		if closing == -1 {
			builder.WriteString(text)
			break
		}
		closing += open
		builder.WriteString(text[:open])
		name := strings.TrimSpace(text[open+2 : closing])
		if value, ok := variables[name]; ok {
			builder.WriteString(fmt.Sprintf("%v", value))
		} else {
			builder.WriteString(text[open : closing+2])
		}
		text = text[closing+2:]
	}
	return builder.String()
}
