package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/viant/treq"
	"github.com/viant/treq/auth"
	"github.com/viant/treq/event"
)

const (
	sseHeartbeatInterval = 30 * time.Second
	sseBacklog           = 64
)

// eventFilter binds the sessionId/flowId/afterSeq query parameters and
// enforces the filter requirement plus script-token scope.
func (s *Server) eventFilter(r *http.Request) (event.Filter, uint64, error) {
	query := r.URL.Query()
	filter := event.Filter{
		SessionID: query.Get("sessionId"),
		FlowID:    query.Get("flowId"),
	}
	if s.service.Authenticator().Required() && filter.SessionID == "" && filter.FlowID == "" {
		return filter, 0, treq.NewError(treq.CodeValidationError,
			"sessionId or flowId filter is required")
	}
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpEventsSubscribe,
		filter.FlowID, filter.SessionID); err != nil {
		return filter, 0, err
	}
	var afterSeq uint64
	if raw := query.Get("afterSeq"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, 0, treq.Errorf(treq.CodeValidationError, "invalid afterSeq %q", raw)
		}
		afterSeq = parsed
	}
	return filter, afterSeq, nil
}

// subscribeEvents registers a buffered live subscription atomically with the
// replay snapshot: an envelope emitted while the client connects lands either
// in the returned replay slice or on the channel, never in neither.
func (s *Server) subscribeEvents(filter event.Filter, afterSeq uint64) ([]treq.Envelope, chan treq.Envelope, chan struct{}, string) {
	events := make(chan treq.Envelope, sseBacklog)
	closed := make(chan struct{})
	replayed, subscriberID := s.service.Bus().ReplayAndSubscribe(filter, afterSeq,
		func(envelope treq.Envelope) error {
			select {
			case events <- envelope:
				return nil
			default:
				return treq.NewError(treq.CodeInternalError, "subscriber backlog full")
			}
		}, func() { close(closed) })
	return replayed, events, closed, subscriberID
}

// handleEventStream serves the live event feed as server-sent events: an
// initial connected frame, replayed envelopes past afterSeq, then live
// delivery with periodic heartbeat comments.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	filter, afterSeq, err := s.eventFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer := NewStreamWriter(w)
	if err := writer.WriteFrame("connected", "", []byte("{}")); err != nil {
		s.log.WithError(err).Debug("sse handshake failed")
		return
	}

	replayed, events, closed, subscriberID := s.subscribeEvents(filter, afterSeq)
	defer s.service.Bus().Unsubscribe(subscriberID)
	for _, envelope := range replayed {
		if err := writer.WriteEnvelope(envelope); err != nil {
			return
		}
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case envelope := <-events:
			if err := writer.WriteEnvelope(envelope); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := writer.WriteComment("heartbeat"); err != nil {
				return
			}
		}
	}
}
