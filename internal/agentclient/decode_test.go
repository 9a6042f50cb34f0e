package agentclient

import (
	"testing"

	"github.com/HyphaGroup/chatsidecar/internal/agentmsg"
)

func TestDecodeLineBlank(t *testing.T) {
	msg, err := decodeLine("   ")
	if err != nil {
		t.Fatalf("decodeLine(blank) returned error: %v", err)
	}
	if msg != nil {
		t.Errorf("decodeLine(blank) = %+v, want nil", msg)
	}
}

func TestDecodeLineUnknownType(t *testing.T) {
	msg, err := decodeLine(`{"type":"future_thing"}`)
	if err != nil {
		t.Fatalf("decodeLine(unknown type) returned error: %v", err)
	}
	if msg != nil {
		t.Errorf("decodeLine(unknown type) = %+v, want nil", msg)
	}
}

func TestDecodeLineSystem(t *testing.T) {
	msg, err := decodeLine(`{"type":"system","subtype":"session_init","session_id":"abc123"}`)
	if err != nil {
		t.Fatalf("decodeLine(system) returned error: %v", err)
	}
	if msg == nil || msg.Kind != agentmsg.MessageSystem {
		t.Fatalf("decodeLine(system) = %+v, want Kind=system", msg)
	}
	if msg.System.Subtype != "session_init" || msg.System.SessionID != "abc123" {
		t.Errorf("System = %+v, want subtype=session_init session_id=abc123", msg.System)
	}
}

func TestDecodeLineAssistantStringContent(t *testing.T) {
	msg, err := decodeLine(`{"type":"assistant","message":{"content":"hello there"}}`)
	if err != nil {
		t.Fatalf("decodeLine(assistant) returned error: %v", err)
	}
	if msg == nil || msg.Kind != agentmsg.MessageAssistant {
		t.Fatalf("decodeLine(assistant) = %+v, want Kind=assistant", msg)
	}
	if len(msg.Assistant.Blocks) != 1 || msg.Assistant.Blocks[0].Kind != agentmsg.BlockText {
		t.Fatalf("Blocks = %+v, want one text block", msg.Assistant.Blocks)
	}
	if msg.Assistant.Blocks[0].Text.Text != "hello there" {
		t.Errorf("Text = %q, want %q", msg.Assistant.Blocks[0].Text.Text, "hello there")
	}
}

func TestDecodeLineAssistantBlockContent(t *testing.T) {
	line := `{"type":"assistant","parent_tool_use_id":"tu_1","message":{"content":[
		{"type":"thinking","thinking":"pondering"},
		{"type":"tool_use","id":"tu_2","name":"Read","input":{"path":"a.go"}}
	]}}`
	msg, err := decodeLine(line)
	if err != nil {
		t.Fatalf("decodeLine(assistant blocks) returned error: %v", err)
	}
	if msg.Assistant.ParentToolUseID != "tu_1" {
		t.Errorf("ParentToolUseID = %q, want tu_1", msg.Assistant.ParentToolUseID)
	}
	if len(msg.Assistant.Blocks) != 2 {
		t.Fatalf("len(Blocks) = %d, want 2", len(msg.Assistant.Blocks))
	}
	if msg.Assistant.Blocks[0].Kind != agentmsg.BlockThinking || msg.Assistant.Blocks[0].Thinking.Text != "pondering" {
		t.Errorf("Blocks[0] = %+v, want thinking block 'pondering'", msg.Assistant.Blocks[0])
	}
	tu := msg.Assistant.Blocks[1].ToolUse
	if tu == nil || tu.Name != "Read" || tu.Input["path"] != "a.go" {
		t.Errorf("Blocks[1].ToolUse = %+v, want Name=Read Input[path]=a.go", tu)
	}
}

func TestDecodeLineUserToolResult(t *testing.T) {
	line := `{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"tu_2","content":"file contents","is_error":false}
	]}}`
	msg, err := decodeLine(line)
	if err != nil {
		t.Fatalf("decodeLine(user tool_result) returned error: %v", err)
	}
	if msg.Kind != agentmsg.MessageUser {
		t.Fatalf("Kind = %v, want user", msg.Kind)
	}
	tr := msg.User.Blocks[0].ToolResult
	if tr == nil || tr.ToolUseID != "tu_2" || tr.Content != "file contents" || tr.IsError {
		t.Errorf("ToolResult = %+v, want ToolUseID=tu_2 Content='file contents' IsError=false", tr)
	}
}

func TestDecodeLineUserToolResultPreservesStructuredContent(t *testing.T) {
	line := `{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"tu_3","content":[{"type":"text","text":"a\nb"}],"is_error":false}
	]}}`
	msg, err := decodeLine(line)
	if err != nil {
		t.Fatalf("decodeLine(user tool_result) returned error: %v", err)
	}
	tr := msg.User.Blocks[0].ToolResult
	list, ok := tr.Content.([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("ToolResult.Content = %#v, want a single-element list", tr.Content)
	}
	block, ok := list[0].(map[string]interface{})
	if !ok || block["type"] != "text" || block["text"] != "a\nb" {
		t.Errorf("ToolResult.Content[0] = %#v, want {type:text text:a\\nb}", list[0])
	}
}

func TestDecodeLineResult(t *testing.T) {
	msg, err := decodeLine(`{"type":"result","total_cost_usd":0.0123,"usage":{"input_tokens":10}}`)
	if err != nil {
		t.Fatalf("decodeLine(result) returned error: %v", err)
	}
	if msg.Kind != agentmsg.MessageResult {
		t.Fatalf("Kind = %v, want result", msg.Kind)
	}
	if msg.Result.TotalCostUSD != 0.0123 {
		t.Errorf("TotalCostUSD = %v, want 0.0123", msg.Result.TotalCostUSD)
	}
}

func TestDecodeLineMalformedJSON(t *testing.T) {
	_, err := decodeLine(`{"type": not json`)
	if err == nil {
		t.Error("decodeLine(malformed) should return an error")
	}
}
