package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/HyphaGroup/chatsidecar/internal/metrics"
	"github.com/HyphaGroup/chatsidecar/internal/render"
)

// subscriberIdleTimeout bounds how long handleStreamGet waits for the next live event before
// sending an SSE `ping` event, matching the original pubsub.get_message timeout.
const subscriberIdleTimeout = 30 * time.Second

type minimalEnvelope struct {
	Seq  int64      `json:"seq"`
	Kind render.Kind `json:"kind"`
}

// handleStreamGet serves the SSE stream for a session: it subscribes to the Live Bus before
// replaying the persisted backlog (so no event published during the replay window is lost, per
// the Live Bus's own Subscribe contract), then relays live events until a terminal kind arrives
// or the client disconnects.
func (s *Server) handleStreamGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	afterSeq, err := strconv.ParseInt(r.URL.Query().Get("after_seq"), 10, 64)
	if err != nil {
		afterSeq = 0
	}

	ctx, log := withSessionLogger(r.Context(), sessionID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.bus.Subscribe(ctx, sessionID)
	if err != nil {
		log.Error("httpapi: subscribe failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe to stream")
		return
	}
	defer sub.Close()

	metrics.LiveSubscribers.Inc()
	defer metrics.LiveSubscribers.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	maxSeq := afterSeq
	backlog, err := s.store.GetEventsAfter(ctx, sessionID, afterSeq)
	if err != nil {
		log.Error("httpapi: get events after failed", "error", err)
		return
	}
	for _, evt := range backlog {
		if evt.Seq > maxSeq {
			maxSeq = evt.Seq
		}
		if !writeStreamEvent(w, flusher, evt.SessionID, evt.MessageID, evt.StreamID, evt.Seq, evt.EventType, evt.RenderPayload) {
			return
		}
	}

	timer := time.NewTimer(subscriberIdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-timer.C:
			if _, err := fmt.Fprint(w, "event: ping\ndata: \n\n"); err != nil {
				return
			}
			flusher.Flush()
			timer.Reset(subscriberIdleTimeout)

		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env minimalEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn("httpapi: invalid envelope from live bus", "error", err)
				continue
			}
			if env.Seq <= maxSeq {
				continue
			}
			maxSeq = env.Seq

			if _, err := fmt.Fprintf(w, "event: stream\ndata: %s\n\n", msg.Payload); err != nil {
				return
			}
			flusher.Flush()

			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(subscriberIdleTimeout)

			if env.Kind.Terminal() {
				return
			}
		}
	}
}

// writeStreamEvent renders one persisted backlog row in the same {sessionId, messageId, ...}
// envelope shape the live bus publishes, so a client's parser never needs to distinguish backlog
// replay from live relay.
func writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, sessionID, messageID, streamID string, seq int64, kind string, payload []byte) bool {
	envelope := render.Envelope{
		SessionID: sessionID,
		MessageID: messageID,
		StreamID:  streamID,
		Seq:       seq,
		Kind:      render.Kind(kind),
		Payload:   payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return true
	}
	if _, err := fmt.Fprintf(w, "event: stream\ndata: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// handleStreamDelete signals the Session Registry to cancel the chat's in-flight generation, if
// any; it always returns 204, matching the original's fire-and-forget stop_stream semantics.
func (s *Server) handleStreamDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	s.sessions.CancelGeneration(sessionID)
	w.WriteHeader(http.StatusNoContent)
}
