package http

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

func (s *Server) handleDoc(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(openapiDocument))
}

// openapiDocument is the embedded API description. The SSE endpoint emits
// non-envelope control frames (connected, heartbeat comments) that clients
// must tolerate.
const openapiDocument = `{
  "openapi": "3.0.3",
  "info": {
    "title": "treq server",
    "description": "Local .http request execution service: parse, execute, sessions, flows, events and WebSocket proxying.",
    "version": "0.9.0"
  },
  "components": {
    "securitySchemes": {
      "bearer": {"type": "http", "scheme": "bearer"},
      "cookie": {"type": "apiKey", "in": "cookie", "name": "treq_session"}
    },
    "schemas": {
      "Error": {
        "type": "object",
        "properties": {
          "error": {
            "type": "object",
            "required": ["code", "message"],
            "properties": {
              "code": {"type": "string"},
              "message": {"type": "string"},
              "details": {"type": "object", "additionalProperties": true}
            }
          }
        }
      },
      "Envelope": {
        "type": "object",
        "required": ["type", "ts", "runId", "seq"],
        "properties": {
          "type": {"type": "string"},
          "ts": {"type": "integer", "format": "int64"},
          "runId": {"type": "string"},
          "sessionId": {"type": "string"},
          "flowId": {"type": "string"},
          "reqExecId": {"type": "string"},
          "seq": {"type": "integer", "format": "int64"},
          "payload": {"type": "object", "additionalProperties": true}
        }
      },
      "ExecuteRequest": {
        "type": "object",
        "properties": {
          "content": {"type": "string"},
          "path": {"type": "string"},
          "requestName": {"type": "string"},
          "requestIndex": {"type": "integer"},
          "sessionId": {"type": "string"},
          "flowId": {"type": "string"},
          "reqLabel": {"type": "string"},
          "variables": {"type": "object", "additionalProperties": true},
          "timeoutMs": {"type": "integer", "minimum": 100, "maximum": 300000},
          "basePath": {"type": "string"},
          "followRedirects": {"type": "boolean"},
          "validateSSL": {"type": "boolean"}
        }
      },
      "ExecuteResponse": {
        "type": "object",
        "required": ["runId", "request", "paths", "limits"],
        "properties": {
          "runId": {"type": "string"},
          "reqExecId": {"type": "string"},
          "flowId": {"type": "string"},
          "session": {"type": "object", "additionalProperties": true},
          "request": {
            "type": "object",
            "properties": {
              "method": {"type": "string"},
              "url": {"type": "string"},
              "name": {"type": "string"},
              "index": {"type": "integer"}
            }
          },
          "paths": {
            "type": "object",
            "properties": {
              "workspaceRoot": {"type": "string"},
              "file": {"type": "string"}
            }
          },
          "response": {
            "type": "object",
            "properties": {
              "status": {"type": "integer"},
              "headers": {"type": "object", "additionalProperties": {"type": "array", "items": {"type": "string"}}},
              "body": {"type": "string"},
              "bodyMode": {"type": "string", "enum": ["none", "buffered"]},
              "bodyBytes": {"type": "integer"},
              "encoding": {"type": "string", "enum": ["utf-8", "base64"]},
              "truncated": {"type": "boolean"}
            }
          },
          "limits": {"type": "object", "properties": {"maxBodyBytes": {"type": "integer"}}},
          "timing": {
            "type": "object",
            "properties": {
              "startedAt": {"type": "integer", "format": "int64"},
              "endedAt": {"type": "integer", "format": "int64"},
              "durationMs": {"type": "integer", "format": "int64"},
              "ttfbMs": {"type": "integer", "format": "int64"}
            }
          }
        }
      }
    }
  },
  "security": [{"bearer": []}, {"cookie": []}],
  "paths": {
    "/health": {"get": {"summary": "Liveness check", "security": [], "responses": {"200": {"description": "healthy"}}}},
    "/capabilities": {"get": {"summary": "Protocol version and feature flags", "responses": {"200": {"description": "capabilities"}}}},
    "/config": {"get": {"summary": "Effective configuration, token redacted", "responses": {"200": {"description": "configuration"}}}},
    "/parse": {"post": {"summary": "Parse .http content or a workspace file", "responses": {"200": {"description": "parse result"}, "400": {"description": "invalid input"}, "403": {"description": "path outside workspace"}}}},
    "/execute": {"post": {"summary": "Execute one request", "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/ExecuteRequest"}}}}, "responses": {"200": {"description": "execute envelope", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/ExecuteResponse"}}}}}}},
    "/session": {"post": {"summary": "Create a session", "responses": {"201": {"description": "created"}, "429": {"description": "session limit reached"}}}},
    "/session/{id}": {
      "get": {"summary": "Read a session, sensitive variables redacted", "responses": {"200": {"description": "session"}, "404": {"description": "not found"}}},
      "delete": {"summary": "Delete a session", "responses": {"204": {"description": "deleted"}}}
    },
    "/session/{id}/variables": {"put": {"summary": "Merge or replace session variables", "responses": {"200": {"description": "updated session"}}}},
    "/flows": {"post": {"summary": "Create a flow", "responses": {"201": {"description": "flow descriptor"}}}},
    "/flows/{flowId}": {"get": {"summary": "Read a flow", "responses": {"200": {"description": "flow descriptor"}}}},
    "/flows/{flowId}/finish": {"post": {"summary": "Finalize a flow and return its summary", "responses": {"200": {"description": "summary"}}}},
    "/flows/{flowId}/executions/{reqExecId}": {"get": {"summary": "Read one recorded execution", "responses": {"200": {"description": "execution"}}}},
    "/workspace/files": {"get": {"summary": "List workspace .http files", "parameters": [{"name": "ignore", "in": "query", "schema": {"type": "string"}}], "responses": {"200": {"description": "files"}}}},
    "/workspace/requests": {"get": {"summary": "List requests in a workspace file", "parameters": [{"name": "path", "in": "query", "required": true, "schema": {"type": "string"}}], "responses": {"200": {"description": "request summaries"}}}},
    "/event": {"get": {"summary": "Server-sent event stream. Emits an initial 'connected' frame and heartbeat comments; event is the envelope type, id is runId-seq.", "parameters": [{"name": "sessionId", "in": "query", "schema": {"type": "string"}}, {"name": "flowId", "in": "query", "schema": {"type": "string"}}, {"name": "afterSeq", "in": "query", "schema": {"type": "integer"}}], "responses": {"200": {"description": "text/event-stream"}}}},
    "/event/ws": {"get": {"summary": "Event stream over WebSocket, one JSON envelope per frame", "responses": {"101": {"description": "switching protocols"}}}},
    "/execute/ws": {"post": {"summary": "Open a proxied WS-session against an upstream WebSocket", "responses": {"200": {"description": "wsSessionId and lastSeq"}}}},
    "/ws/session/{wsSessionId}": {"get": {"summary": "Bridge onto a WS-session; ?afterSeq= replays buffered envelopes then goes live", "responses": {"101": {"description": "switching protocols"}}}},
    "/import/{format}/preview": {"post": {"summary": "Convert a foreign collection without writing", "responses": {"200": {"description": "clean"}, "207": {"description": "partial"}, "422": {"description": "errors"}}}},
    "/import/{format}/apply": {"post": {"summary": "Convert and write the result", "parameters": [{"name": "force", "in": "query", "schema": {"type": "boolean"}}], "responses": {"200": {"description": "clean"}, "207": {"description": "partial"}, "422": {"description": "errors"}}}},
    "/script": {"post": {"summary": "Spawn a whitelisted script with a scoped token", "responses": {"200": {"description": "result"}, "400": {"description": "command not permitted"}}}},
    "/auth/login": {"post": {"summary": "Exchange the bearer token for a web-session cookie", "security": [], "responses": {"200": {"description": "cookie set"}, "401": {"description": "invalid token"}}}},
    "/auth/logout": {"post": {"summary": "Revoke the web-session cookie", "responses": {"204": {"description": "revoked"}}}},
    "/doc": {"get": {"summary": "This document", "security": [], "responses": {"200": {"description": "OpenAPI 3.0.3"}}}}
  }
}`
