package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestMessageDecodeStreamDelta(t *testing.T) {
	line := `{"type":"stream_event","session_id":"R1","parent_tool_use_id":null,"event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}}`

	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	text, ok := msg.TextDelta()
	if !ok || text != "Hel" {
		t.Errorf("TextDelta = (%q, %v), want (\"Hel\", true)", text, ok)
	}
	if !msg.FromLead() {
		t.Error("FromLead = false, want true for null parent_tool_use_id")
	}
}

func TestMessageDecodeAssistantAndUserContent(t *testing.T) {
	assistant := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Hello "},{"type":"tool_use","id":"tu1","name":"Read","input":{}},{"type":"text","text":"world"}]}}`
	var msg Message
	if err := json.Unmarshal([]byte(assistant), &msg); err != nil {
		t.Fatalf("Unmarshal assistant failed: %v", err)
	}
	if got := msg.AssistantText(); got != "Hello world" {
		t.Errorf("AssistantText = %q, want %q", got, "Hello world")
	}

	user := `{"type":"user","message":{"role":"user","content":"plain prompt"}}`
	var userMsg Message
	if err := json.Unmarshal([]byte(user), &userMsg); err != nil {
		t.Fatalf("Unmarshal user failed: %v", err)
	}
	if got := userMsg.Message.Content.Text(); got != "plain prompt" {
		t.Errorf("user content = %q, want %q", got, "plain prompt")
	}
}

func TestMessageSucceeded(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"success", Message{Type: TypeResult, Subtype: SubtypeSuccess}, true},
		{"error flag", Message{Type: TypeResult, Subtype: SubtypeSuccess, IsError: true}, false},
		{"max turns", Message{Type: TypeResult, Subtype: "error_max_turns"}, false},
		{"not a result", Message{Type: TypeAssistant}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Succeeded(); got != tt.want {
				t.Errorf("Succeeded = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildArgsDefaultPermissionRouting(t *testing.T) {
	budget := 1.5
	spec := LaunchSpec{
		Prompt:       "do it",
		Model:        "sonnet",
		Resume:       "R1",
		MaxBudgetUSD: &budget,
		Agents:       map[string]AgentDefinition{"Researcher": {Description: "finds things", Prompt: "research"}},
	}
	args, err := BuildArgs(spec, "/tmp/settings.json", "/tmp/mcp.json")
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-p do it",
		"--output-format stream-json",
		"--include-partial-messages",
		"--model sonnet",
		"--resume R1",
		"--max-budget-usd 1.5",
		"--settings /tmp/settings.json",
		"--mcp-config /tmp/mcp.json",
		"--permission-prompt-tool " + PermissionToolName,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if strings.Contains(joined, "bypassPermissions") {
		t.Errorf("args unexpectedly bypass permissions: %s", joined)
	}
}

func TestBuildArgsBypass(t *testing.T) {
	args, err := BuildArgs(LaunchSpec{Prompt: "x", BypassPermissions: true}, "", "/tmp/mcp.json")
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--permission-mode bypassPermissions") {
		t.Errorf("args missing bypass mode: %s", joined)
	}
	if strings.Contains(joined, "--permission-prompt-tool") {
		t.Errorf("bypass args should not route permissions: %s", joined)
	}
}

func TestShellJoinQuotes(t *testing.T) {
	got := shellJoin("/opt/my app/ccgrid", "it's")
	want := `'/opt/my app/ccgrid' 'it'\''s'`
	if got != want {
		t.Errorf("shellJoin = %q, want %q", got, want)
	}
}

type recordingHooks struct {
	started []SubagentStartInput
	idle    []TeammateIdleInput
	tools   []PostToolUseInput
}

func (h *recordingHooks) SubagentStart(_ context.Context, in SubagentStartInput) HookOutput {
	h.started = append(h.started, in)
	return HookOutput{}
}
func (h *recordingHooks) SubagentStop(context.Context, SubagentStopInput) HookOutput {
	return HookOutput{}
}
func (h *recordingHooks) TeammateIdle(_ context.Context, in TeammateIdleInput) HookOutput {
	h.idle = append(h.idle, in)
	return HookOutput{}
}
func (h *recordingHooks) TaskCompleted(context.Context, TaskCompletedInput) HookOutput {
	return HookOutput{}
}
func (h *recordingHooks) PostToolUse(_ context.Context, in PostToolUseInput) HookOutput {
	h.tools = append(h.tools, in)
	return HookOutput{}
}

func TestDispatcherRoutesHooks(t *testing.T) {
	d := NewDispatcher()
	hooks := &recordingHooks{}
	d.Register("tok", hooks, nil)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	body := `{"session_id":"R1","agent_id":"a1","agent_type":"general-purpose"}`
	resp, err := http.Post(srv.URL+"/tok/hooks/SubagentStart", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(hooks.started) != 1 || hooks.started[0].AgentID != "a1" {
		t.Errorf("started = %+v, want one a1", hooks.started)
	}

	resp, err = http.Post(srv.URL+"/other/hooks/SubagentStart", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", resp.StatusCode)
	}
}

func TestDispatcherRoutesPermission(t *testing.T) {
	d := NewDispatcher()
	d.Register("tok", nil, func(_ context.Context, req PermissionRequest) PermissionResult {
		if req.ToolName == "Bash" {
			return Deny("no shell")
		}
		return Allow(req.Input)
	})
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	body, _ := json.Marshal(PermissionRequest{ToolName: "Bash", Input: map[string]any{"command": "ls"}})
	resp, err := http.Post(srv.URL+"/tok/permission", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var result PermissionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.Behavior != BehaviorDeny || result.Message != "no shell" {
		t.Errorf("result = %+v, want deny 'no shell'", result)
	}
}

func TestLaunchFilesObserveSendMessageInBypass(t *testing.T) {
	e := NewClaudeEngine(ClaudeOptions{SelfPath: "/bin/ccgrid", CallbackURL: "http://127.0.0.1:7420/"}, NewDispatcher())
	dir := t.TempDir()

	settingsPath, mcpPath, err := e.writeLaunchFiles(dir, "tok", LaunchSpec{BypassPermissions: true})
	if err != nil {
		t.Fatalf("writeLaunchFiles failed: %v", err)
	}
	if mcpPath != "" {
		t.Errorf("bypass launch wrote an mcp config: %s", mcpPath)
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatal(err)
	}
	var settings struct {
		Hooks map[string][]struct {
			Matcher string `json:"matcher"`
			Hooks   []struct {
				Command string `json:"command"`
			} `json:"hooks"`
		} `json:"hooks"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatal(err)
	}
	if len(settings.Hooks) != len(HookEvents) {
		t.Errorf("hook events = %d, want %d", len(settings.Hooks), len(HookEvents))
	}
	post := settings.Hooks[HookPostToolUse]
	if len(post) != 1 || post[0].Matcher != "SendMessage" {
		t.Fatalf("PostToolUse entry = %+v", post)
	}
	if cmd := post[0].Hooks[0].Command; !strings.Contains(cmd, "'--event' 'PostToolUse'") || !strings.Contains(cmd, "'--url' 'http://127.0.0.1:7420' ") {
		t.Errorf("PostToolUse command = %q", cmd)
	}
	if idle := settings.Hooks[HookTeammateIdle]; len(idle) != 1 || idle[0].Matcher != "" {
		t.Errorf("TeammateIdle entry = %+v", idle)
	}
}

func TestDispatcherRoutesPostToolUse(t *testing.T) {
	d := NewDispatcher()
	hooks := &recordingHooks{}
	d.Register("tok", hooks, nil)
	srv := httptest.NewServer(d.Routes())
	defer srv.Close()

	body := `{"session_id":"R1","agent_id":"a1","tool_name":"SendMessage","tool_input":{"recipient":"Writer","content":"hi"}}`
	resp, err := http.Post(srv.URL+"/tok/hooks/PostToolUse", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(hooks.tools) != 1 || hooks.tools[0].ToolName != "SendMessage" || hooks.tools[0].ToolInput["recipient"] != "Writer" {
		t.Errorf("tool hooks = %+v", hooks.tools)
	}
}
