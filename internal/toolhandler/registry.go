// Package toolhandler implements the Tool Handler Registry (C3): it tracks tool invocations
// that are in flight within a single turn, derives the human-readable titles the Claude Code CLI
// itself shows (`Bash(go test ./...)`, `Read(internal/config/config.go)`), and normalizes tool
// results before they're embedded in a render event.
package toolhandler

import (
	"encoding/json"
	"fmt"
	"strings"
)

const maxTitleDescLen = 60

// ActiveToolState is the bookkeeping kept for one tool call between its ToolUseBlock and the
// matching ToolResultBlock.
type ActiveToolState struct {
	ID       string
	Name     string
	Title    string
	ParentID string
	Input    map[string]interface{}
}

// Registry tracks in-flight tool calls for a single turn. It is not safe for concurrent use by
// multiple goroutines; the stream runtime drives it from a single per-turn goroutine, matching
// the single-writer assumption the rest of C6 relies on.
type Registry struct {
	active map[string]ActiveToolState
}

// New returns an empty Registry, one per turn.
func New() *Registry {
	return &Registry{active: make(map[string]ActiveToolState)}
}

// StartTool records a tool invocation and returns the ToolStarted render fields, or false if the
// block carried no id (malformed input from the agent, silently dropped per §4.2).
func (r *Registry) StartTool(id, name string, input map[string]interface{}, parentID string) (ActiveToolState, bool) {
	if id == "" {
		return ActiveToolState{}, false
	}
	state := ActiveToolState{
		ID:       id,
		Name:     name,
		Title:    formatTitle(name, input),
		ParentID: parentID,
		Input:    input,
	}
	r.active[id] = state
	return state, true
}

// FinishTool retires a tool invocation, matching it back to the state StartTool recorded (or
// synthesizing an "unknown tool" placeholder if the id was never seen — the agent can emit a
// tool_result without a matching tool_use if a prior turn was interrupted mid-call). It returns
// the state plus the normalized (or stringified, for errors) result.
func (r *Registry) FinishTool(toolUseID string, rawResult interface{}, isError bool) (ActiveToolState, interface{}, string, bool) {
	if toolUseID == "" {
		return ActiveToolState{}, nil, "", false
	}
	state, ok := r.active[toolUseID]
	if ok {
		delete(r.active, toolUseID)
	} else {
		state = ActiveToolState{ID: toolUseID, Name: "unknown", Title: "Unknown tool"}
	}

	if isError {
		return state, nil, stringifyResult(rawResult), true
	}
	return state, normalizeResult(rawResult), "", true
}

// formatTitle mirrors the Claude Code CLI's own tool-title rendering: `mcp__server__tool` names
// are rewritten to their bare tool name with underscores replaced by spaces, then the call's
// short description (when one can be extracted) is appended in parens.
func formatTitle(name string, input map[string]interface{}) string {
	base := name
	if strings.HasPrefix(name, "mcp__") {
		parts := strings.SplitN(name, "__", 3)
		if len(parts) == 3 {
			base = strings.ReplaceAll(parts[2], "_", " ")
		}
	}
	if len(input) == 0 {
		return base
	}
	if desc := extractDescription(name, input); desc != "" {
		return base + "(" + desc + ")"
	}
	return base
}

// extractDescription picks the field that best summarizes a tool call for its title, with
// per-tool-type projections matching what the agent CLI itself surfaces to a human.
func extractDescription(name string, input map[string]interface{}) string {
	str := func(key string) string {
		v, _ := input[key].(string)
		return v
	}

	switch strings.ToLower(name) {
	case "bash":
		if d := str("description"); d != "" {
			return truncate(d)
		}
		return truncate(str("command"))
	case "task":
		return truncate(str("description"))
	case "read", "write", "edit":
		return truncate(str("file_path"))
	case "glob", "grep":
		return truncate(str("pattern"))
	case "webfetch", "web_fetch":
		return truncate(str("url"))
	case "websearch", "web_search":
		return truncate(str("query"))
	case "todowrite", "taskcreate":
		return truncate(str("subject"))
	}

	for _, key := range []string{"description", "prompt", "query", "file_path", "pattern", "command"} {
		if v := str(key); strings.TrimSpace(v) != "" {
			return truncate(v)
		}
	}
	return ""
}

// truncate collapses a description to its first line, capped at maxTitleDescLen runes with an
// ellipsis, matching the CLI's own one-line tool-title convention.
func truncate(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	runes := []rune(s)
	if len(runes) > maxTitleDescLen {
		return string(runes[:maxTitleDescLen-1]) + "…"
	}
	return s
}

// normalizeResult recursively JSON-decodes any string leaf that itself holds a JSON document
// (tools frequently return pre-serialized JSON as a plain string); any other string is kept as
// text with surrounding whitespace trimmed. Lists and maps are walked so a nested tool result normalizes uniformly.
func normalizeResult(result interface{}) interface{} {
	switch v := result.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalizeResult(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = normalizeResult(item)
		}
		return out
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return ""
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			return parsed
		}
		return text
	default:
		return v
	}
}

// stringifyResult renders an error result as a flat string for the `error` render field: a
// string passes through unchanged, anything else is JSON-encoded, falling back to Go's default
// formatting if that somehow fails.
func stringifyResult(result interface{}) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return jsonFallback(result)
	}
	return string(b)
}

func jsonFallback(v interface{}) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}
