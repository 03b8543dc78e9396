package http

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/viant/scy/cred/secret"

	"github.com/viant/treq"
	"github.com/viant/treq/auth"
	"github.com/viant/treq/script"
	"github.com/viant/treq/service"
	"github.com/viant/treq/session"
)

const webCookieMaxAge = 30 * time.Minute

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": true,
		"version": treq.Version,
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	importers := []string{}
	if s.service.HasImporter() {
		importers = []string{"postman", "curl"}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":         treq.Version,
		"protocolVersion": treq.ProtocolVersion,
		"features": map[string]interface{}{
			"streamingBodies": false,
			"wsProxy":         true,
			"sse":             true,
			"scripts":         true,
			"importers":       importers,
		},
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	config := s.service.Config()
	token := ""
	if config.Token != "" {
		token = "[redacted]"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workspace":       config.Workspace,
		"host":            config.Host,
		"port":            config.Port,
		"token":           token,
		"allowCookieAuth": config.AllowCookieAuth,
		"maxBodyBytes":    config.MaxBodyBytes,
		"maxSessions":     config.MaxSessions,
		"maxWsSessions":   config.MaxWsSessions,
	})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	request := &service.ParseRequest{}
	if err := decodeJSON(r, request); err != nil {
		writeError(w, err)
		return
	}
	response, err := s.service.Parse(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	request := &service.ExecuteRequest{}
	if err := decodeJSON(r, request); err != nil {
		writeError(w, err)
		return
	}
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpExecute, request.FlowID, request.SessionID); err != nil {
		writeError(w, err)
		return
	}
	response, err := s.service.Execute(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

type sessionCreateRequest struct {
	Variables map[string]interface{} `json:"variables,omitempty"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	request := &sessionCreateRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, request); err != nil {
			writeError(w, err)
			return
		}
	}
	state := s.service.CreateSession(request.Variables)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId": state.ID,
		"session":   state,
	})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpSessionRead, "", id); err != nil {
		writeError(w, err)
		return
	}
	state, err := s.service.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type sessionVariablesRequest struct {
	Variables map[string]interface{} `json:"variables"`
	Mode      string                 `json:"mode,omitempty"`
}

func (s *Server) handleSessionVariables(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpSessionUpdate, "", id); err != nil {
		writeError(w, err)
		return
	}
	request := &sessionVariablesRequest{}
	if err := decodeJSON(r, request); err != nil {
		writeError(w, err)
		return
	}
	mode := session.UpdateMode(request.Mode)
	if mode == "" {
		mode = session.ModeMerge
	}
	if mode != session.ModeMerge && mode != session.ModeReplace {
		writeError(w, treq.Errorf(treq.CodeValidationError, "unknown update mode %q", request.Mode))
		return
	}
	state, err := s.service.UpdateSessionVariables(r.Context(), id, request.Variables, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if err := s.service.DeleteSession(params.ByName("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flowCreateRequest struct {
	SessionID string                 `json:"sessionId,omitempty"`
	Label     string                 `json:"label,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

func (s *Server) handleFlowCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	request := &flowCreateRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, request); err != nil {
			writeError(w, err)
			return
		}
	}
	descriptor := s.service.CreateFlow(request.SessionID, request.Label, request.Meta)
	writeJSON(w, http.StatusCreated, descriptor)
}

func (s *Server) handleFlowGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	flowID := params.ByName("flowId")
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpExecutionRead, flowID, ""); err != nil {
		writeError(w, err)
		return
	}
	descriptor, err := s.service.GetFlow(flowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, descriptor)
}

func (s *Server) handleFlowFinish(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	flowID := params.ByName("flowId")
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpFlowFinish, flowID, ""); err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.service.FinishFlow(flowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExecutionGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	flowID := params.ByName("flowId")
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpExecutionRead, flowID, ""); err != nil {
		writeError(w, err)
		return
	}
	execution, err := s.service.GetExecution(flowID, params.ByName("reqExecId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleWorkspaceFiles(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var ignore []string
	for _, value := range r.URL.Query()["ignore"] {
		for _, fragment := range strings.Split(value, ",") {
			if fragment = strings.TrimSpace(fragment); fragment != "" {
				ignore = append(ignore, fragment)
			}
		}
	}
	files, err := s.service.ListFiles(r.Context(), ignore)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleWorkspaceRequests(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, treq.NewError(treq.CodeValidationError, "path query parameter is required"))
		return
	}
	requests, err := s.service.ListRequests(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (s *Server) handleWsProxyOpen(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	request := &service.WsProxyRequest{}
	if err := decodeJSON(r, request); err != nil {
		writeError(w, err)
		return
	}
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpExecute, request.FlowID, ""); err != nil {
		writeError(w, err)
		return
	}
	response, err := s.service.OpenWsProxy(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleImportPreview(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, treq.Errorf(treq.CodeValidationError, "payload read failed: %v", err))
		return
	}
	result, err := s.service.ImportPreview(r.Context(), params.ByName("format"), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, importStatus(result, false), result)
}

func (s *Server) handleImportApply(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	force := r.URL.Query().Get("force") == "true"
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, treq.Errorf(treq.CodeValidationError, "payload read failed: %v", err))
		return
	}
	result, err := s.service.ImportApply(r.Context(), params.ByName("format"), payload, force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, importStatus(result, force), result)
}

// importStatus maps an import outcome: clean 200, partial 207, error-level
// issues 422 unless forced.
func importStatus(result *service.ImportResult, force bool) int {
	if result.HasErrors() && !force {
		return http.StatusUnprocessableEntity
	}
	if result.Partial() {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}

type scriptSpawnRequest struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Dir       string            `json:"dir,omitempty"`
	FlowID    string            `json:"flowId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Host      string            `json:"host,omitempty"`
	Secret    string            `json:"secret,omitempty"`
}

func (s *Server) handleScriptSpawn(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	request := &scriptSpawnRequest{}
	if err := decodeJSON(r, request); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.service.Scripts().Run(r.Context(), &script.Spec{
		Command:   request.Command,
		Args:      request.Args,
		Env:       request.Env,
		Dir:       request.Dir,
		FlowID:    request.FlowID,
		SessionID: request.SessionID,
		Host:      request.Host,
		Secret:    secret.Resource(request.Secret),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type webLoginRequest struct {
	Token string `json:"token"`
}

// handleWebLogin exchanges the bearer token for an HttpOnly web-session
// cookie so the browser UI never stores the token itself.
func (s *Server) handleWebLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	config := s.service.Config()
	if config.Token == "" || s.service.WebSessions() == nil {
		writeError(w, treq.NewError(treq.CodeValidationError, "cookie login requires a configured token"))
		return
	}
	request := &webLoginRequest{}
	if err := decodeJSON(r, request); err != nil {
		writeError(w, err)
		return
	}
	if subtle.ConstantTimeCompare([]byte(request.Token), []byte(config.Token)) != 1 {
		writeError(w, treq.NewError(treq.CodeUnauthorized, "invalid token"))
		return
	}
	id, err := s.service.WebSessions().Issue()
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, auth.BuildCookie(id, auth.IsSecureRequest(r), webCookieMaxAge))
	writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": true})
}

func (s *Server) handleWebLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	identity := IdentityFrom(r.Context())
	if identity != nil && identity.WebSessionID != "" && s.service.WebSessions() != nil {
		s.service.WebSessions().Revoke(identity.WebSessionID)
	}
	http.SetCookie(w, auth.ClearCookie(auth.IsSecureRequest(r)))
	w.WriteHeader(http.StatusNoContent)
}
