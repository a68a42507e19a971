package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/O6lvl4/ccgrid-sub001/internal/testutil"
)

func assistantLine(blocks ...map[string]any) map[string]any {
	return map[string]any{
		"type":    "assistant",
		"message": map[string]any{"role": "assistant", "content": blocks},
	}
}

func toolResultLine(toolUseID string, content any) map[string]any {
	return map[string]any{
		"type": "user",
		"message": map[string]any{"role": "user", "content": []map[string]any{
			{"type": "tool_result", "tool_use_id": toolUseID, "content": content},
		}},
	}
}

func TestParseBuildsFragments(t *testing.T) {
	content := testutil.JSONL(t,
		assistantLine(map[string]any{"type": "text", "text": "Looking at the repo."}),
		assistantLine(map[string]any{"type": "tool_use", "id": "tu1", "name": "Read", "input": map[string]any{"file_path": "a.go"}}),
		toolResultLine("tu1", "package a"),
		map[string]any{"type": "result", "subtype": "success", "result": "All done."},
	)
	// A corrupt line in the middle must not abort parsing.
	content = strings.Replace(content, "\n", "\n{not json\n", 1)

	got, ok := Parse([]byte(content))
	if !ok {
		t.Fatal("Parse returned no output")
	}
	want := "Looking at the repo.\n\n**Read**:\n```\npackage a\n```\n\nAll done."
	if got != want {
		t.Errorf("Parse =\n%q\nwant\n%q", got, want)
	}
}

func TestParseToolResultArrayContent(t *testing.T) {
	content := testutil.JSONL(t,
		assistantLine(map[string]any{"type": "tool_use", "id": "tu9", "name": "Bash"}),
		toolResultLine("tu9", []map[string]any{{"type": "text", "text": "ok"}}),
	)
	got, ok := Parse([]byte(content))
	if !ok || got != "**Bash**:\n```\nok\n```" {
		t.Errorf("Parse = (%q, %v)", got, ok)
	}
}

func TestParseEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"garbage", "nope\n{{{\n"},
		{"no fragments", `{"type":"system","subtype":"init"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := Parse([]byte(tt.content)); ok {
				t.Errorf("Parse = %q, want absent", got)
			}
		})
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, ok := Read(filepath.Join(t.TempDir(), "missing.jsonl")); ok {
		t.Error("Read of missing file reported output")
	}
	if _, ok := Read(""); ok {
		t.Error("Read of empty path reported output")
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", MaxToolResultChars+5)
	got := Truncate(long, MaxToolResultChars)
	if !strings.HasSuffix(got, truncatedMarker) {
		t.Fatalf("missing truncation marker: %q", got[len(got)-20:])
	}
	if n := len([]rune(strings.TrimSuffix(got, truncatedMarker))); n != MaxToolResultChars {
		t.Errorf("kept %d runes, want %d", n, MaxToolResultChars)
	}
	if Truncate("short", 10) != "short" {
		t.Error("short string was modified")
	}
}

func TestSubagentPath(t *testing.T) {
	got := SubagentPath("/home/u/.claude/projects/p/R1.jsonl", "a1")
	want := filepath.Join("/home/u/.claude/projects/p/R1", "subagents", "agent-a1.jsonl")
	if got != want {
		t.Errorf("SubagentPath = %q, want %q", got, want)
	}
	if SubagentPath("", "a1") != "" {
		t.Error("SubagentPath without lead path should be empty")
	}
}

func TestPollDedupsIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.jsonl")
	write := func(text string) {
		t.Helper()
		data := testutil.JSONL(t, assistantLine(map[string]any{"type": "text", "text": text}))
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var outputs []string
	target := Target{
		SessionID: "s1",
		AgentID:   "a1",
		Path:      func() string { return path },
		OnChange:  func(text string) { outputs = append(outputs, text) },
	}
	p := NewPoller(time.Hour)

	write("first")
	if !p.Poll(target) {
		t.Error("first poll did not report a change")
	}
	if p.Poll(target) {
		t.Error("second poll of identical content reported a change")
	}
	write("second")
	p.Poll(target)

	if len(outputs) != 2 || outputs[0] != "first" || outputs[1] != "second" {
		t.Errorf("outputs = %q, want [first second]", outputs)
	}
}

func TestPollerStartIsIdempotent(t *testing.T) {
	p := NewPoller(time.Hour)
	target := Target{SessionID: "s1", AgentID: "a1", Path: func() string { return "" }}

	if !p.Start(target) {
		t.Fatal("first Start returned false")
	}
	if p.Start(target) {
		t.Error("second Start returned true")
	}
	p.Start(Target{SessionID: "s2", AgentID: "b1", Path: func() string { return "" }})

	p.StopSession("s1")
	if p.Polling("a1") {
		t.Error("a1 still polling after StopSession")
	}
	if !p.Polling("b1") {
		t.Error("b1 stopped by another session's sweep")
	}
	p.Stop("b1")
	if p.Polling("b1") {
		t.Error("b1 still polling after Stop")
	}
}

func TestPollerLoopDeliversChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	data := testutil.JSONL(t, assistantLine(map[string]any{"type": "text", "text": "hello"}))
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var outputs []string
	got := make(chan struct{}, 8)
	p := NewPoller(5 * time.Millisecond)
	p.Start(Target{
		SessionID: "s1",
		AgentID:   "a1",
		Path:      func() string { return path },
		OnChange: func(text string) {
			mu.Lock()
			outputs = append(outputs, text)
			mu.Unlock()
			got <- struct{}{}
		},
	})
	defer p.StopAll()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never delivered output")
	}
	// Further ticks read the same content and must stay silent.
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(outputs) != 1 || outputs[0] != "hello" {
		t.Errorf("outputs = %q, want exactly [hello]", outputs)
	}
}

func TestStopSessionDropsCachedTranscripts(t *testing.T) {
	p := NewPoller(time.Hour)
	p.read = func(path string) (string, bool) { return "output of " + path, true }
	target := func(sessionID, agentID string) Target {
		return Target{SessionID: sessionID, AgentID: agentID, Path: func() string { return agentID }}
	}

	p.Poll(target("s1", "a1"))
	p.Poll(target("s1", "a2"))
	p.Poll(target("s2", "b1"))

	p.StopSession("s1")
	p.mu.Lock()
	_, a1 := p.lastSeen["a1"]
	_, b1 := p.lastSeen["b1"]
	remaining := len(p.lastSeen)
	p.mu.Unlock()
	if a1 || !b1 || remaining != 1 {
		t.Errorf("cache after StopSession(s1): a1=%v b1=%v entries=%d", a1, b1, remaining)
	}

	p.StopAll()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.lastSeen) != 0 {
		t.Errorf("cache after StopAll = %d entries, want 0", len(p.lastSeen))
	}
}
