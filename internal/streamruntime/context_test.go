package streamruntime

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/HyphaGroup/chatsidecar/internal/render"
)

func TestSnapshotAccumulatorContentTextOnlyFromAssistantText(t *testing.T) {
	var acc snapshotAccumulator
	acc.addEvent(render.KindAssistantText, render.MustPayload(render.TextPayload{Text: "hello "}))
	acc.addEvent(render.KindAssistantThinking, render.MustPayload(render.TextPayload{Text: "ignored"}))
	acc.addEvent(render.KindAssistantText, render.MustPayload(render.TextPayload{Text: "world"}))

	if got := acc.contentText(); got != "hello world" {
		t.Errorf("contentText = %q, want %q", got, "hello world")
	}
}

func TestSnapshotAccumulatorRenderIncludesEveryEventType(t *testing.T) {
	var acc snapshotAccumulator
	acc.addEvent(render.KindSystem, render.MustPayload(render.SystemPayload{Subtype: "session_init"}))
	acc.addEvent(render.KindToolStarted, render.MustPayload(render.ToolPayload{ID: "T1", Name: "Bash", Status: "started"}))

	doc, err := acc.render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var decoded struct {
		Events []map[string]interface{} `json:"events"`
	}
	if err := json.Unmarshal(doc, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(decoded.Events))
	}
	if decoded.Events[0]["type"] != "system" {
		t.Errorf("events[0].type = %v, want system", decoded.Events[0]["type"])
	}
	if decoded.Events[1]["type"] != "tool_started" {
		t.Errorf("events[1].type = %v, want tool_started", decoded.Events[1]["type"])
	}
	if decoded.Events[1]["id"] != "T1" {
		t.Errorf("events[1].id = %v, want T1", decoded.Events[1]["id"])
	}
}

func TestNewStreamContextGeneratesDistinctStreamIDs(t *testing.T) {
	a := newStreamContext("sess-1", "msg-1", 1)
	b := newStreamContext("sess-1", "msg-1", 1)
	if a.streamID == "" || b.streamID == "" {
		t.Fatal("streamID must not be empty")
	}
	if a.streamID == b.streamID {
		t.Error("two stream contexts for the same turn boundary must not share a stream id")
	}
	if !strings.Contains(a.streamID, "-") {
		t.Errorf("streamID %q does not look like a uuid", a.streamID)
	}
}
