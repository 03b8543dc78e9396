package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/viant/treq"
	"github.com/viant/treq/auth"
	"github.com/viant/treq/service"
)

// Server is the HTTP/SSE/WS front of the service.
type Server struct {
	service  *service.Service
	router   *httprouter.Router
	log      *logrus.Entry
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// New builds the route table over the service.
func New(aService *service.Service) *Server {
	ret := &Server{
		service: aService,
		router:  httprouter.New(),
		log:     treq.Logger("server"),
	}
	ret.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || ret.originAllowed(origin)
		},
	}
	ret.registerRoutes()
	return ret
}

func (s *Server) registerRoutes() {
	// health and the API document are reachable without credentials
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/doc", s.handleDoc)

	s.handle(http.MethodGet, "/capabilities", auth.OpCapabilities, s.handleCapabilities)
	s.handle(http.MethodGet, "/config", auth.OpConfigRead, s.handleConfig)

	s.handle(http.MethodPost, "/parse", auth.OpParse, s.handleParse)
	s.handle(http.MethodPost, "/execute", auth.OpExecute, s.handleExecute)

	s.handle(http.MethodPost, "/session", auth.OpSessionCreate, s.handleSessionCreate)
	s.handle(http.MethodGet, "/session/:id", auth.OpSessionRead, s.handleSessionGet)
	s.handle(http.MethodPut, "/session/:id/variables", auth.OpSessionUpdate, s.handleSessionVariables)
	s.handle(http.MethodDelete, "/session/:id", auth.OpSessionDelete, s.handleSessionDelete)

	s.handle(http.MethodPost, "/flows", auth.OpFlowCreate, s.handleFlowCreate)
	s.handle(http.MethodGet, "/flows/:flowId", auth.OpExecutionRead, s.handleFlowGet)
	s.handle(http.MethodPost, "/flows/:flowId/finish", auth.OpFlowFinish, s.handleFlowFinish)
	s.handle(http.MethodGet, "/flows/:flowId/executions/:reqExecId", auth.OpExecutionRead, s.handleExecutionGet)

	s.handle(http.MethodGet, "/workspace/files", auth.OpWorkspaceList, s.handleWorkspaceFiles)
	s.handle(http.MethodGet, "/workspace/requests", auth.OpWorkspaceList, s.handleWorkspaceRequests)

	s.handle(http.MethodGet, "/event", auth.OpEventsSubscribe, s.handleEventStream)
	s.handle(http.MethodGet, "/event/ws", auth.OpEventsSubscribe, s.handleEventSocket)

	s.handle(http.MethodPost, "/execute/ws", auth.OpExecute, s.handleWsProxyOpen)
	s.handle(http.MethodGet, "/ws/session/:wsSessionId", auth.OpEventsSubscribe, s.handleWsSession)

	s.handle(http.MethodPost, "/import/:format/preview", auth.OpImport, s.handleImportPreview)
	s.handle(http.MethodPost, "/import/:format/apply", auth.OpImport, s.handleImportApply)

	s.handle(http.MethodPost, "/script", auth.OpScriptSpawn, s.handleScriptSpawn)

	s.router.POST("/auth/login", s.handleWebLogin)
	s.handle(http.MethodPost, "/auth/logout", auth.OpCapabilities, s.handleWebLogout)
}

// handle registers an authenticated route; handlers re-enforce scope once
// request ids are bound.
func (s *Server) handle(method, path string, op auth.Operation,
	handler func(http.ResponseWriter, *http.Request, httprouter.Params)) {
	s.router.Handle(method, path, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		identity, ok := s.authenticate(w, r, op)
		if !ok {
			return
		}
		handler(w, withIdentity(r, identity), params)
	})
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	return s.cors(s.router)
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	config := s.service.Config()
	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	s.httpServer = &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithField("address", address).Info("listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the service.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if closeErr := s.service.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
