package toolhandler

import "testing"

func TestStartToolNoID(t *testing.T) {
	r := New()
	_, ok := r.StartTool("", "Bash", nil, "")
	if ok {
		t.Error("StartTool with empty id should return ok=false")
	}
}

func TestStartToolBashTitle(t *testing.T) {
	r := New()
	state, ok := r.StartTool("tu_1", "Bash", map[string]interface{}{"command": "go test ./..."}, "")
	if !ok {
		t.Fatal("StartTool returned ok=false")
	}
	want := "Bash(go test ./...)"
	if state.Title != want {
		t.Errorf("Title = %q, want %q", state.Title, want)
	}
}

func TestStartToolMCPTitle(t *testing.T) {
	r := New()
	state, _ := r.StartTool("tu_2", "mcp__github__create_issue", map[string]interface{}{"description": "bug"}, "")
	if state.Title != "create issue(bug)" {
		t.Errorf("Title = %q, want %q", state.Title, "create issue(bug)")
	}
}

func TestStartToolTruncatesLongDescription(t *testing.T) {
	r := New()
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	state, _ := r.StartTool("tu_3", "Bash", map[string]interface{}{"command": long}, "")
	if len([]rune(state.Title)) > len("Bash()")+maxTitleDescLen {
		t.Errorf("Title too long: %d runes", len([]rune(state.Title)))
	}
	runes := []rune(state.Title)
	if runes[len(runes)-2] != '…' || runes[len(runes)-1] != ')' {
		t.Errorf("Title = %q, want description truncated with ellipsis inside the parens", state.Title)
	}
}

func TestStartToolNoInputFallsBackToName(t *testing.T) {
	r := New()
	state, _ := r.StartTool("tu_4", "Glob", nil, "")
	if state.Title != "Glob" {
		t.Errorf("Title = %q, want %q", state.Title, "Glob")
	}
}

func TestFinishToolUnknown(t *testing.T) {
	r := New()
	state, result, errStr, ok := r.FinishTool("never_started", "done", false)
	if !ok {
		t.Fatal("FinishTool returned ok=false")
	}
	if state.Name != "unknown" || state.Title != "Unknown tool" {
		t.Errorf("state = %+v, want synthesized unknown placeholder", state)
	}
	if result != "done" || errStr != "" {
		t.Errorf("result=%v errStr=%q, want result=done errStr=empty", result, errStr)
	}
}

func TestFinishToolMatchesStarted(t *testing.T) {
	r := New()
	r.StartTool("tu_5", "Read", map[string]interface{}{"file_path": "main.go"}, "")
	state, result, _, ok := r.FinishTool("tu_5", `{"lines": 10}`, false)
	if !ok {
		t.Fatal("FinishTool returned ok=false")
	}
	if state.Name != "Read" {
		t.Errorf("Name = %q, want Read", state.Name)
	}
	m, isMap := result.(map[string]interface{})
	if !isMap || m["lines"] != float64(10) {
		t.Errorf("result = %+v, want decoded JSON map with lines=10", result)
	}
	if _, stillActive := r.active["tu_5"]; stillActive {
		t.Error("tool should be removed from active map after FinishTool")
	}
}

func TestFinishToolError(t *testing.T) {
	r := New()
	r.StartTool("tu_6", "Bash", nil, "")
	_, result, errStr, _ := r.FinishTool("tu_6", "permission denied", true)
	if result != nil {
		t.Errorf("result = %v, want nil on error", result)
	}
	if errStr != "permission denied" {
		t.Errorf("errStr = %q, want %q", errStr, "permission denied")
	}
}

func TestFinishToolEmptyID(t *testing.T) {
	r := New()
	_, _, _, ok := r.FinishTool("", "x", false)
	if ok {
		t.Error("FinishTool with empty id should return ok=false")
	}
}

func TestNormalizeResultPlainString(t *testing.T) {
	got := normalizeResult("not json")
	if got != "not json" {
		t.Errorf("normalizeResult(plain) = %v, want unchanged string", got)
	}
}

func TestNormalizeResultNestedList(t *testing.T) {
	in := []interface{}{`{"a":1}`, "plain"}
	got := normalizeResult(in).([]interface{})
	if m, ok := got[0].(map[string]interface{}); !ok || m["a"] != float64(1) {
		t.Errorf("got[0] = %v, want decoded map", got[0])
	}
	if got[1] != "plain" {
		t.Errorf("got[1] = %v, want 'plain'", got[1])
	}
}
