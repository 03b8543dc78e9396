// Package service is the orchestration facade: it owns the session store,
// flow tracker, event bus, WS-session manager and auth state, and exposes the
// parse/execute/session/flow/workspace operations the server surfaces.
package service

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/scy/cred/secret"

	"github.com/viant/treq"
	"github.com/viant/treq/auth"
	"github.com/viant/treq/event"
	"github.com/viant/treq/flow"
	"github.com/viant/treq/script"
	"github.com/viant/treq/session"
	"github.com/viant/treq/wsession"
)

// Service wires the stores and collaborators together. External callers hold
// only opaque ids; every stateful structure is owned here.
type Service struct {
	config *Config
	log    *logrus.Entry
	fs     afs.Service

	parser   Parser
	engine   Engine
	importer Importer
	hooks    []Hook

	sessions  *session.Store
	flows     *flow.Store
	bus       *event.Bus
	wsManager *wsession.Manager

	issuer        *auth.Issuer
	webSessions   *auth.WebSessions
	authenticator *auth.Authenticator
	scripts       *script.Runner
	redis         *redis.Client

	closeOnce sync.Once
}

// Option customizes a Service.
type Option func(*Service)

// WithImporter installs the request-collection importer.
func WithImporter(importer Importer) Option {
	return func(s *Service) { s.importer = importer }
}

// WithHooks registers plugin hooks invoked around executions.
func WithHooks(hooks ...Hook) Option {
	return func(s *Service) { s.hooks = append(s.hooks, hooks...) }
}

// New builds a Service from config and the parser/engine collaborators.
func New(ctx context.Context, config *Config, parser Parser, engine Engine, options ...Option) (*Service, error) {
	config.Init()
	ret := &Service{
		config: config,
		log:    treq.Logger("service"),
		fs:     afs.New(),
		parser: parser,
		engine: engine,
	}
	if err := ret.resolveToken(ctx); err != nil {
		return nil, err
	}

	ret.sessions = session.NewStore(
		session.WithMaxSessions(config.MaxSessions),
		session.WithTTL(config.SessionTTL),
	)
	ret.flows = flow.NewStore()
	ret.bus = event.New()
	ret.wsManager = wsession.New(wsession.WithMaxWsSessions(config.MaxWsSessions))

	if config.Token != "" {
		issuerOptions := []auth.IssuerOption{}
		if config.RedisAddr != "" {
			ret.redis = redis.NewClient(&redis.Options{Addr: config.RedisAddr})
			issuerOptions = append(issuerOptions,
				auth.WithActiveStore(auth.NewRedisActiveStore(ret.redis, "treq:")))
		}
		ret.issuer = auth.NewIssuer(config.Token, issuerOptions...)
		ret.webSessions = auth.NewWebSessions()
	}
	ret.authenticator = auth.NewAuthenticator(config.Token, ret.issuer, ret.webSessions, config.AllowCookieAuth)
	ret.scripts = script.New(ret.issuer, ret.bus, ret.baseURL())

	for _, option := range options {
		option(ret)
	}
	return ret, nil
}

// resolveToken loads the bearer token from the configured secret resource
// when one is set; an explicit Token wins.
func (s *Service) resolveToken(ctx context.Context) error {
	if s.config.Token != "" || s.config.TokenSecret == "" {
		return nil
	}
	secrets := secret.New()
	cred, err := secrets.GetCredentials(ctx, string(s.config.TokenSecret))
	if err != nil {
		return treq.Errorf(treq.CodeInternalError, "token secret resolution failed: %v", err)
	}
	s.config.Token = cred.Password
	return nil
}

func (s *Service) baseURL() string {
	return "http://" + s.config.Host + ":" + strconv.Itoa(s.config.Port)
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

// Authenticator returns the request authenticator.
func (s *Service) Authenticator() *auth.Authenticator { return s.authenticator }

// WebSessions returns the cookie web-session registry; nil without a token.
func (s *Service) WebSessions() *auth.WebSessions { return s.webSessions }

// Issuer returns the script-token issuer; nil without a token.
func (s *Service) Issuer() *auth.Issuer { return s.issuer }

// Bus returns the event bus.
func (s *Service) Bus() *event.Bus { return s.bus }

// WsManager returns the WS-session manager.
func (s *Service) WsManager() *wsession.Manager { return s.wsManager }

// Scripts returns the whitelisted script runner.
func (s *Service) Scripts() *script.Runner { return s.scripts }

// Close releases all owned resources: sweepers stop, bus subscribers are
// closed, WS sessions are closed with a clean code.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.sessions.Close()
		s.bus.CloseAll()
		s.wsManager.CloseAll()
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				s.log.WithError(err).Warn("redis close failed")
			}
		}
	})
	return nil
}
