// Package streamproc implements the Stream Processor (C4): a pure dispatch function from one
// decoded agentmsg.Message to the render events it produces. It owns no I/O; the Stream Runtime
// (C6) is the only caller and is responsible for assigning seq numbers and persisting/publishing
// whatever this package emits.
package streamproc

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/HyphaGroup/chatsidecar/internal/agentmsg"
	"github.com/HyphaGroup/chatsidecar/internal/render"
	"github.com/HyphaGroup/chatsidecar/internal/toolhandler"
)

var (
	promptSuggestionsRe = regexp.MustCompile(`(?s)<prompt_suggestions>\s*(.*?)\s*</prompt_suggestions>`)
	localCommandStdoutRe = regexp.MustCompile(`(?s)<local-command-stdout>(.*?)</local-command-stdout>`)
)

// Event is one render event produced by processing a single agentmsg.Message, still missing the
// seq/stream/message identifiers the Stream Runtime assigns once it decides where the event
// lands in a turn's sequence.
type Event struct {
	Kind    render.Kind
	Payload json.RawMessage
}

// Processor holds the per-turn state that spans multiple messages: the tool registry (so a
// tool_use in one message matches its tool_result in a later one) and the running cost/usage
// totals a ResultMessage accumulates into without emitting an event of its own.
type Processor struct {
	tools *toolhandler.Registry

	onSessionInit func(sessionID string)

	TotalCostUSD float64
	Usage        map[string]interface{}
}

// New returns a Processor for one turn. onSessionInit, if non-nil, is invoked with the agent's
// own session id every time a SystemMessage carries a non-empty one; the Stream Runtime passes
// nil.
func New(tools *toolhandler.Registry, onSessionInit func(sessionID string)) *Processor {
	return &Processor{tools: tools, onSessionInit: onSessionInit, Usage: map[string]interface{}{}}
}

// Process dispatches on the message's kind and returns the (possibly empty) sequence of render
// events it produces. ResultMessage never produces an event; it only updates TotalCostUSD/Usage.
func (p *Processor) Process(msg agentmsg.Message) []Event {
	switch msg.Kind {
	case agentmsg.MessageSystem:
		return p.emitSystem(msg.System)
	case agentmsg.MessageAssistant:
		return p.emitAssistant(msg.Assistant)
	case agentmsg.MessageUser:
		return p.emitUser(msg.User)
	case agentmsg.MessageResult:
		p.emitResult(msg.Result)
		return nil
	default:
		return nil
	}
}

func (p *Processor) emitSystem(m *agentmsg.SystemMessage) []Event {
	if m == nil {
		return nil
	}
	if p.onSessionInit != nil && m.SessionID != "" {
		p.onSessionInit(m.SessionID)
	}
	return []Event{{
		Kind:    render.KindSystem,
		Payload: render.MustPayload(render.SystemPayload{Subtype: "session_init"}),
	}}
}

func (p *Processor) emitAssistant(m *agentmsg.AssistantMessage) []Event {
	if m == nil {
		return nil
	}
	var events []Event
	for _, block := range m.Blocks {
		events = append(events, p.emitBlock(block, m.ParentToolUseID)...)
	}
	return events
}

func (p *Processor) emitBlock(block agentmsg.Block, parentToolID string) []Event {
	switch block.Kind {
	case agentmsg.BlockText:
		return p.emitTextBlock(block.Text)
	case agentmsg.BlockThinking:
		return p.emitThinkingBlock(block.Thinking)
	case agentmsg.BlockToolUse:
		return p.emitToolStart(block.ToolUse, parentToolID)
	case agentmsg.BlockToolResult:
		return p.emitToolResult(block.ToolResult)
	default:
		return nil
	}
}

// emitTextBlock extracts a <prompt_suggestions> JSON array, if present anywhere in the text, as
// its own event, then emits whatever non-blank text remains as assistant_text.
func (p *Processor) emitTextBlock(block *agentmsg.TextBlock) []Event {
	if block == nil {
		return nil
	}
	text := block.Text
	var events []Event

	if m := promptSuggestionsRe.FindStringSubmatch(text); m != nil {
		var suggestions []string
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &suggestions); err == nil {
			events = append(events, Event{
				Kind:    render.KindPromptSuggestions,
				Payload: render.MustPayload(render.PromptSuggestionsPayload{Suggestions: suggestions}),
			})
		}
		text = strings.TrimSpace(promptSuggestionsRe.ReplaceAllString(text, ""))
	}

	if strings.TrimSpace(text) != "" {
		events = append(events, Event{
			Kind:    render.KindAssistantText,
			Payload: render.MustPayload(render.TextPayload{Text: text}),
		})
	}
	return events
}

func (p *Processor) emitThinkingBlock(block *agentmsg.ThinkingBlock) []Event {
	if block == nil || block.Text == "" {
		return nil
	}
	return []Event{{
		Kind:    render.KindAssistantThinking,
		Payload: render.MustPayload(render.TextPayload{Text: block.Text}),
	}}
}

func (p *Processor) emitToolStart(block *agentmsg.ToolUseBlock, parentToolID string) []Event {
	if block == nil {
		return nil
	}
	state, ok := p.tools.StartTool(block.ID, block.Name, block.Input, parentToolID)
	if !ok {
		return nil
	}
	return []Event{{
		Kind: render.KindToolStarted,
		Payload: render.MustPayload(render.ToolPayload{
			ID: state.ID, Name: state.Name, Title: state.Title, ParentID: state.ParentID,
			Status: "started", Input: state.Input,
		}),
	}}
}

func (p *Processor) emitToolResult(block *agentmsg.ToolResultBlock) []Event {
	if block == nil {
		return nil
	}
	state, result, errStr, ok := p.tools.FinishTool(block.ToolUseID, block.Content, block.IsError)
	if !ok {
		return nil
	}
	kind := render.KindToolCompleted
	status := "completed"
	if block.IsError {
		kind = render.KindToolFailed
		status = "failed"
	}
	return []Event{{
		Kind: kind,
		Payload: render.MustPayload(render.ToolPayload{
			ID: state.ID, Name: state.Name, Title: state.Title, ParentID: state.ParentID,
			Status: status, Result: result, Error: errStr,
		}),
	}}
}

func (p *Processor) emitUser(m *agentmsg.UserMessage) []Event {
	if m == nil {
		return nil
	}
	var events []Event
	for _, block := range m.Blocks {
		switch block.Kind {
		case agentmsg.BlockText:
			events = append(events, p.emitUserText(block.Text)...)
		case agentmsg.BlockToolResult:
			events = append(events, p.emitToolResult(block.ToolResult)...)
		}
	}
	return events
}

// emitUserText unwraps a <local-command-stdout> tag the agent runtime injects when it replays a
// local command's output as a synthetic user turn; the tag itself is never shown.
func (p *Processor) emitUserText(block *agentmsg.TextBlock) []Event {
	if block == nil {
		return nil
	}
	text := block.Text
	if m := localCommandStdoutRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return nil
	}
	return []Event{{
		Kind:    render.KindUserText,
		Payload: render.MustPayload(render.TextPayload{Text: text}),
	}}
}

func (p *Processor) emitResult(m *agentmsg.ResultMessage) {
	if m == nil {
		return
	}
	p.TotalCostUSD += m.TotalCostUSD
	if m.Usage != nil {
		p.Usage = m.Usage
	}
}
