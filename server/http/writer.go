// Package http exposes the service over HTTP: routing, auth and scope
// middleware, request binding, SSE and WebSocket endpoints, and the error
// envelope mapping.
package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/viant/treq"
)

// errorEnvelope is the wire form of every non-2xx response.
type errorEnvelope struct {
	Error *treq.Error `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	typed := treq.AsError(err)
	writeJSON(w, treq.StatusOf(typed.Code), &errorEnvelope{Error: typed})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

func decodeJSON(r *http.Request, target interface{}) error {
	if r.Body == nil {
		return treq.NewError(treq.CodeValidationError, "request body required")
	}
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return treq.Errorf(treq.CodeValidationError, "malformed request body: %v", err)
	}
	return nil
}

// StreamWriter frames server-sent-event records over a ResponseWriter,
// flushing each frame so it reaches the client immediately.
type StreamWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewStreamWriter wraps rw; writes fail when rw cannot flush.
func NewStreamWriter(rw http.ResponseWriter) *StreamWriter {
	flusher, _ := rw.(http.Flusher)
	return &StreamWriter{writer: rw, flusher: flusher}
}

// WriteFrame emits one event-stream record. Data lines are prefixed
// individually so multi-line payloads stay within the grammar.
func (w *StreamWriter) WriteFrame(eventType, id string, data []byte) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "event: %s\n", eventType)
	if id != "" {
		fmt.Fprintf(&builder, "id: %s\n", id)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(&builder, "data: %s\n", line)
	}
	builder.WriteString("\n")
	return w.flush([]byte(builder.String()))
}

// WriteEnvelope frames one envelope: event is the envelope type, id is
// "<runId>-<seq>".
func (w *StreamWriter) WriteEnvelope(envelope treq.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return w.WriteFrame(envelope.Type, fmt.Sprintf("%s-%d", envelope.RunID, envelope.Seq), data)
}

// WriteComment emits a comment record, used as the keep-alive heartbeat.
func (w *StreamWriter) WriteComment(text string) error {
	return w.flush([]byte(": " + text + "\n\n"))
}

func (w *StreamWriter) flush(frame []byte) error {
	if w.flusher == nil {
		return fmt.Errorf("streaming not supported: %T does not support flushing", w.writer)
	}
	if _, err := w.writer.Write(frame); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
