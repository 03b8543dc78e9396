package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Jar owns a session-local cookie jar and exposes the capability surface the
// engine receives: a Cookie header for a URL, and ingestion of Set-Cookie
// response headers.
type Jar struct {
	mux   sync.Mutex
	jar   *cookiejar.Jar
	count int
}

// NewJar creates an empty cookie jar with public-suffix domain matching, so a
// Set-Cookie for example.co.uk never leaks to other co.uk hosts.
func NewJar() *Jar {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Jar{jar: jar}
}

// CookieHeader returns the Cookie header value for rawURL, or empty when no
// cookies apply.
func (j *Jar) CookieHeader(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	j.mux.Lock()
	cookies := j.jar.Cookies(u)
	j.mux.Unlock()
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}
	return strings.Join(parts, "; ")
}

// SetFromResponse ingests Set-Cookie headers from a response to rawURL and
// reports whether the jar changed.
func (j *Jar) SetFromResponse(rawURL string, header http.Header) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	cookies := (&http.Response{Header: header}).Cookies()
	if len(cookies) == 0 {
		return false
	}
	j.mux.Lock()
	j.jar.SetCookies(u, cookies)
	j.count += len(cookies)
	j.mux.Unlock()
	return true
}

// Count returns the number of cookies ingested over the session lifetime.
func (j *Jar) Count() int {
	j.mux.Lock()
	defer j.mux.Unlock()
	return j.count
}
