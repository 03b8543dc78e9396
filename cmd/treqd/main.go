package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/viant/scy/cred/secret"

	"github.com/viant/treq"
	"github.com/viant/treq/httpfile"
	serverhttp "github.com/viant/treq/server/http"
	"github.com/viant/treq/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config := &service.Config{}
	var tokenSecret, corsOrigins string
	var debug bool

	flag.StringVar(&config.Workspace, "workspace", ".", "workspace root for .http files")
	flag.StringVar(&config.Host, "host", service.DefaultHost, "listen host")
	flag.IntVar(&config.Port, "port", service.DefaultPort, "listen port")
	flag.StringVar(&config.Token, "token", os.Getenv("TREQ_TOKEN"), "bearer token; empty disables authentication (default $TREQ_TOKEN)")
	flag.StringVar(&tokenSecret, "token-secret", "", "scy secret resource resolving the bearer token")
	flag.BoolVar(&config.AllowCookieAuth, "allow-cookie-auth", false, "accept web-session cookies for the browser UI")
	flag.StringVar(&corsOrigins, "cors-origins", "", "comma-separated additional allowed origins")
	flag.IntVar(&config.MaxBodyBytes, "max-body-bytes", service.DefaultMaxBodyBytes, "response body cap per execute")
	flag.IntVar(&config.MaxSessions, "max-sessions", service.DefaultMaxSessions, "concurrent session cap")
	flag.DurationVar(&config.SessionTTL, "session-ttl", service.DefaultSessionTTL, "idle session expiry")
	flag.IntVar(&config.MaxWsSessions, "max-ws-sessions", service.DefaultMaxWsSessions, "concurrent WS-session cap")
	flag.StringVar(&config.RedisAddr, "redis-addr", "", "redis address for the script-token store; empty keeps it in memory")
	flag.StringVar(&config.WebURL, "web-url", "", "web UI origin allowed by CORS")
	flag.BoolVar(&debug, "debug", false, "debug logging")
	flag.Parse()

	treq.ConfigureLogging(os.Stderr, debug)
	log := treq.Logger("treqd")

	config.TokenSecret = secret.Resource(tokenSecret)
	for _, origin := range strings.Split(corsOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			config.CorsOrigins = append(config.CorsOrigins, origin)
		}
	}
	workspace, err := filepath.Abs(config.Workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid workspace %q: %v\n", config.Workspace, err)
		os.Exit(1)
	}
	config.Workspace = workspace

	ctx := context.Background()
	aService, err := service.New(ctx, config, httpfile.NewParser(), httpfile.NewEngine())
	if err != nil {
		log.WithError(err).Fatal("service init failed")
	}
	server := serverhttp.New(aService)

	errors := make(chan error, 1)
	go func() { errors <- server.ListenAndServe() }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errors:
		if err != nil {
			log.WithError(err).Fatal("server failed")
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}
