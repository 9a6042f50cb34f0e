package streamruntime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/chatsidecar/internal/render"
	"github.com/HyphaGroup/chatsidecar/internal/streamproc"
)

// snapshotEvent is one entry of a message's content_render snapshot: the render event's kind
// flattened alongside its payload fields (`{"type": kind, ...payload}`). This differs from the
// SSE wire envelope, which carries kind and payload as separate fields.
type snapshotEvent struct {
	kind    render.Kind
	payload json.RawMessage
}

// MarshalJSON flattens payload's fields alongside a "type" key holding the event kind.
func (e snapshotEvent) MarshalJSON() ([]byte, error) {
	fields := map[string]interface{}{}
	if len(e.payload) > 0 {
		if err := json.Unmarshal(e.payload, &fields); err != nil {
			fields = map[string]interface{}{}
		}
	}
	fields["type"] = string(e.kind)
	return json.Marshal(fields)
}

// snapshotAccumulator builds the two derived columns a message's snapshot needs: the flattened
// display text (only assistant_text events contribute) and the full ordered event list.
type snapshotAccumulator struct {
	events    []snapshotEvent
	textParts []string
}

func (s *snapshotAccumulator) addEvent(kind render.Kind, payload json.RawMessage) {
	if kind == render.KindAssistantText {
		var text render.TextPayload
		if err := json.Unmarshal(payload, &text); err == nil && text.Text != "" {
			s.textParts = append(s.textParts, text.Text)
		}
	}
	s.events = append(s.events, snapshotEvent{kind: kind, payload: payload})
}

func (s *snapshotAccumulator) contentText() string {
	joined := ""
	for _, part := range s.textParts {
		joined += part
	}
	return joined
}

// render marshals the accumulated events into the JSON document stored as messages.content_render.
func (s *snapshotAccumulator) render() ([]byte, error) {
	return json.Marshal(struct {
		Events []snapshotEvent `json:"events"`
	}{Events: s.events})
}

// streamContext holds the mutable state of a single turn's streaming run: the monotonically
// increasing seq counter, the snapshot accumulator, and the batch of events awaiting their next
// flush to the Message Store.
type streamContext struct {
	sessionID string
	messageID string
	streamID  string
	seq       int64

	snapshot  snapshotAccumulator
	processor *streamproc.Processor

	startedAt        time.Time
	lastFlushAt      int64 // unix millis; compared against the 200ms throttle
	eventsSinceFlush int
	pendingEvents    []pendingEvent
}

// pendingEvent mirrors store.Event but is built up before the stream id/session id are
// redundantly threaded through every call site.
type pendingEvent struct {
	seq           int64
	eventType     string
	renderPayload json.RawMessage
}

func newStreamContext(sessionID, messageID string, startSeq int64) *streamContext {
	return &streamContext{
		sessionID: sessionID,
		messageID: messageID,
		streamID:  uuid.NewString(),
		seq:       startSeq,
		startedAt: time.Now(),
	}
}
