// Package render defines the wire shape shared by the live bus and the SSE stream: the
// envelope that wraps every render event, and the closed set of event kinds a turn can emit.
package render

import "encoding/json"

// Kind enumerates the closed set of render event kinds. New kinds are never added at runtime;
// consumers that see an unrecognized kind should treat it as opaque rather than fail.
type Kind string

const (
	KindSystem            Kind = "system"
	KindAssistantText     Kind = "assistant_text"
	KindAssistantThinking Kind = "assistant_thinking"
	KindToolStarted       Kind = "tool_started"
	KindToolCompleted     Kind = "tool_completed"
	KindToolFailed        Kind = "tool_failed"
	KindUserText          Kind = "user_text"
	KindPromptSuggestions Kind = "prompt_suggestions"
	KindComplete          Kind = "complete"
	KindCancelled         Kind = "cancelled"
	KindError             Kind = "error"
)

// Terminal reports whether k ends a turn's stream. Exactly one terminal kind is emitted per run.
func (k Kind) Terminal() bool {
	switch k {
	case KindComplete, KindCancelled, KindError:
		return true
	default:
		return false
	}
}

// Envelope is the wire shape published to the live bus and relayed over SSE. Field names are
// camelCase on the wire and must not change.
type Envelope struct {
	SessionID string          `json:"sessionId"`
	MessageID string          `json:"messageId"`
	StreamID  string          `json:"streamId"`
	Seq       int64           `json:"seq"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	TS        int64           `json:"ts"` // unix millis
}

// SystemPayload is the payload of a `system` event.
type SystemPayload struct {
	Subtype string `json:"subtype"`
}

// TextPayload is the payload of `assistant_text`, `assistant_thinking`, and `user_text` events.
type TextPayload struct {
	Text string `json:"text"`
}

// PromptSuggestionsPayload is the payload of a `prompt_suggestions` event.
type PromptSuggestionsPayload struct {
	Suggestions []string `json:"suggestions"`
}

// ToolPayload is the payload of `tool_started`, `tool_completed`, and `tool_failed` events.
type ToolPayload struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Title    string      `json:"title,omitempty"`
	ParentID string      `json:"parentId,omitempty"`
	Status   string      `json:"status"`
	Input    interface{} `json:"input,omitempty"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// CompletePayload is the payload of a `complete` event.
type CompletePayload struct {
	TotalCostUSD float64                `json:"total_cost_usd"`
	Usage        map[string]interface{} `json:"usage,omitempty"`
}

// ErrorPayload is the payload of an `error` event.
type ErrorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// MustPayload marshals v, panicking on failure; v is always one of the payload structs above,
// so a marshal failure indicates a programming error, not a runtime condition.
func MustPayload(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("render: payload marshal: " + err.Error())
	}
	return b
}
