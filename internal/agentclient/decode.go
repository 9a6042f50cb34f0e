package agentclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HyphaGroup/chatsidecar/internal/agentmsg"
)

// decodeLine parses one line of the agent CLI's output into an agentmsg.Message. A blank line
// or a line this sidecar doesn't recognize (e.g. the CLI's own startup banner) decodes to a nil
// message and nil error rather than a failure, since the wire protocol is append-only and the
// sidecar must tolerate future message types it doesn't understand yet.
func decodeLine(line string) (*agentmsg.Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		return nil, fmt.Errorf("agentclient: decode envelope: %w", err)
	}

	switch envelope.Type {
	case "system":
		var raw rawSystem
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("agentclient: decode system message: %w", err)
		}
		return &agentmsg.Message{
			Kind:   agentmsg.MessageSystem,
			System: &agentmsg.SystemMessage{Subtype: raw.Subtype, SessionID: raw.SessionID},
		}, nil

	case "assistant":
		var raw rawAssistant
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("agentclient: decode assistant message: %w", err)
		}
		blocks, err := decodeBlocks(raw.Message.Content)
		if err != nil {
			return nil, err
		}
		return &agentmsg.Message{
			Kind: agentmsg.MessageAssistant,
			Assistant: &agentmsg.AssistantMessage{
				ParentToolUseID: raw.parentToolUseID(),
				Blocks:          blocks,
			},
		}, nil

	case "user":
		var raw rawAssistant
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("agentclient: decode user message: %w", err)
		}
		blocks, err := decodeBlocks(raw.Message.Content)
		if err != nil {
			return nil, err
		}
		return &agentmsg.Message{
			Kind: agentmsg.MessageUser,
			User: &agentmsg.UserMessage{
				ParentToolUseID: raw.parentToolUseID(),
				Blocks:          blocks,
			},
		}, nil

	case "result":
		var raw rawResult
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("agentclient: decode result message: %w", err)
		}
		return &agentmsg.Message{
			Kind: agentmsg.MessageResult,
			Result: &agentmsg.ResultMessage{
				TotalCostUSD: raw.TotalCostUSD,
				Usage:        raw.Usage,
			},
		}, nil

	default:
		return nil, nil
	}
}

type rawSystem struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
}

type rawAssistant struct {
	ParentToolUseID *string `json:"parent_tool_use_id"`
	Message         struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// parentToolUseID flattens the wire's nullable field to agentmsg's plain string ("" meaning
// top-level, not nested inside another tool call).
func (r rawAssistant) parentToolUseID() string {
	if r.ParentToolUseID == nil {
		return ""
	}
	return *r.ParentToolUseID
}

type rawResult struct {
	TotalCostUSD float64                `json:"total_cost_usd"`
	Usage        map[string]interface{} `json:"usage"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// decodeBlocks decodes the `content` field of an assistant/user message, which the agent CLI
// sends either as a bare string (a lone text block) or as a list of typed blocks.
func decodeBlocks(raw json.RawMessage) ([]agentmsg.Block, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []agentmsg.Block{{Kind: agentmsg.BlockText, Text: &agentmsg.TextBlock{Text: asString}}}, nil
	}

	var rawBlocks []rawBlock
	if err := json.Unmarshal(raw, &rawBlocks); err != nil {
		return nil, fmt.Errorf("agentclient: decode content blocks: %w", err)
	}

	blocks := make([]agentmsg.Block, 0, len(rawBlocks))
	for _, rb := range rawBlocks {
		switch rb.Type {
		case "text":
			blocks = append(blocks, agentmsg.Block{Kind: agentmsg.BlockText, Text: &agentmsg.TextBlock{Text: rb.Text}})
		case "thinking":
			blocks = append(blocks, agentmsg.Block{Kind: agentmsg.BlockThinking, Thinking: &agentmsg.ThinkingBlock{Text: rb.Thinking}})
		case "tool_use":
			var input map[string]interface{}
			if len(rb.Input) > 0 {
				if err := json.Unmarshal(rb.Input, &input); err != nil {
					return nil, fmt.Errorf("agentclient: decode tool_use input: %w", err)
				}
			}
			blocks = append(blocks, agentmsg.Block{
				Kind:    agentmsg.BlockToolUse,
				ToolUse: &agentmsg.ToolUseBlock{ID: rb.ID, Name: rb.Name, Input: input},
			})
		case "tool_result":
			blocks = append(blocks, agentmsg.Block{
				Kind: agentmsg.BlockToolResult,
				ToolResult: &agentmsg.ToolResultBlock{
					ToolUseID: rb.ToolUseID,
					Content:   decodeToolResultContent(rb.Content),
					IsError:   rb.IsError,
				},
			})
		}
	}
	return blocks, nil
}

// decodeToolResultContent accepts whatever shape the upstream tool result itself was in —
// a bare string, a list of content blocks, or a map — and preserves it as-is; only
// normalizeResult's recursive walk decides what, if anything, gets coerced further.
func decodeToolResultContent(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return ""
	}
	var content interface{}
	if err := json.Unmarshal(raw, &content); err != nil {
		return string(raw)
	}
	return content
}
