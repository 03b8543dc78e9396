package service

import (
	"time"

	"github.com/viant/scy/cred/secret"
)

// Defaults applied by NewService when the corresponding Config field is zero.
const (
	DefaultMaxBodyBytes  = 1 << 20 // 1 MiB
	DefaultMaxSessions   = 100
	DefaultSessionTTL    = 30 * time.Minute
	DefaultMaxWsSessions = 50
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 7700
)

// Config carries the service and server settings.
type Config struct {
	// Workspace is the root directory all path-based reads resolve against.
	Workspace string `json:"workspace"`
	Host      string `json:"host"`
	Port      int    `json:"port"`

	// Token is the static bearer token; empty disables authentication.
	Token string `json:"token,omitempty"`
	// TokenSecret optionally resolves Token from a scy secret resource.
	TokenSecret     secret.Resource `json:"tokenSecret,omitempty"`
	AllowCookieAuth bool            `json:"allowCookieAuth,omitempty"`
	CorsOrigins     []string        `json:"corsOrigins,omitempty"`

	MaxBodyBytes  int           `json:"maxBodyBytes,omitempty"`
	MaxSessions   int           `json:"maxSessions,omitempty"`
	SessionTTL    time.Duration `json:"sessionTtl,omitempty"`
	MaxWsSessions int           `json:"maxWsSessions,omitempty"`

	// RedisAddr selects the Redis-backed script-token store; empty keeps the
	// in-memory store.
	RedisAddr string `json:"redisAddr,omitempty"`

	WebURL string `json:"webUrl,omitempty"`
	WebDir string `json:"webDir,omitempty"`
}

// Init fills zero fields with defaults.
func (c *Config) Init() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.MaxWsSessions == 0 {
		c.MaxWsSessions = DefaultMaxWsSessions
	}
}
