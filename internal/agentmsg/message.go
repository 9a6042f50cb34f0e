// Package agentmsg models the polymorphic message stream produced by the agent CLI as a closed
// Go tagged union, mirroring the {System, Assistant, User, Result} / {Text, Thinking, ToolUse,
// ToolResult} shape the stream processor pattern-matches on.
package agentmsg

// Message is the tagged union of everything an agent client can hand to the stream processor.
// Kind says which one of the pointer fields is set; callers should switch on Kind rather than
// probe fields.
type Message struct {
	Kind MessageKind

	System    *SystemMessage
	Assistant *AssistantMessage
	User      *UserMessage
	Result    *ResultMessage
}

type MessageKind string

const (
	MessageSystem    MessageKind = "system"
	MessageAssistant MessageKind = "assistant"
	MessageUser      MessageKind = "user"
	MessageResult    MessageKind = "result"
)

// SystemMessage carries out-of-band session lifecycle notices. The processor renders every
// system message as a session_init event; Subtype itself is not forwarded.
type SystemMessage struct {
	Subtype   string
	SessionID string
}

// AssistantMessage carries one or more content blocks produced by the model, plus the tool-use
// id of an enclosing tool call when this message is itself a sub-agent's output.
type AssistantMessage struct {
	ParentToolUseID string
	Blocks          []Block
}

// UserMessage carries content blocks representing a synthetic "user" turn injected by the agent
// runtime itself (e.g. local command stdout), not an HTTP caller.
type UserMessage struct {
	ParentToolUseID string
	Blocks          []Block
}

// ResultMessage is a side-effect-only terminal accounting record: it never produces a render
// event, only cost/usage accumulation.
type ResultMessage struct {
	TotalCostUSD float64
	Usage        map[string]interface{}
}

// Block is the tagged union of assistant/user content block variants.
type Block struct {
	Kind BlockKind

	Text       *TextBlock
	Thinking   *ThinkingBlock
	ToolUse    *ToolUseBlock
	ToolResult *ToolResultBlock
}

type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

type TextBlock struct {
	Text string
}

type ThinkingBlock struct {
	Text string
}

// ToolUseBlock is a request from the model to invoke a tool.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// ToolResultBlock is the result of a previously requested tool invocation.
type ToolResultBlock struct {
	ToolUseID string
	Content   interface{} // string, []interface{}, or map[string]interface{}
	IsError   bool
}
