package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"io"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
)

type idleHooks struct {
	mu   sync.Mutex
	idle []engine.TeammateIdleInput
}

func (h *idleHooks) SubagentStart(context.Context, engine.SubagentStartInput) engine.HookOutput {
	return engine.HookOutput{}
}
func (h *idleHooks) SubagentStop(context.Context, engine.SubagentStopInput) engine.HookOutput {
	return engine.HookOutput{}
}
func (h *idleHooks) TeammateIdle(_ context.Context, in engine.TeammateIdleInput) engine.HookOutput {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.idle = append(h.idle, in)
	return engine.HookOutput{}
}
func (h *idleHooks) TaskCompleted(context.Context, engine.TaskCompletedInput) engine.HookOutput {
	return engine.HookOutput{}
}
func (h *idleHooks) PostToolUse(context.Context, engine.PostToolUseInput) engine.HookOutput {
	return engine.HookOutput{}
}

// newServer serves a dispatcher under /engine with one registered launch.
func newServer(t *testing.T, hooks engine.Hooks, canUseTool engine.CanUseTool) Config {
	t.Helper()
	d := engine.NewDispatcher()
	d.Register("tok", hooks, canUseTool)
	r := chi.NewRouter()
	r.Mount("/engine", d.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return Config{URL: srv.URL + "/", Token: "tok"}
}

func runBridge(t *testing.T, cfg Config, lines ...string) []jsonRPCResponse {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := RunPermissionBridge(context.Background(), cfg, in, &out); err != nil {
		t.Fatalf("RunPermissionBridge failed: %v", err)
	}

	return parseResponses(t, &out)
}

// parseResponses decodes response lines, ordered by request id since
// concurrent calls may answer out of order. Responses without an id sort
// last.
func parseResponses(t *testing.T, out *bytes.Buffer) []jsonRPCResponse {
	t.Helper()
	var responses []jsonRPCResponse
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var resp jsonRPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}
	sort.SliceStable(responses, func(i, j int) bool {
		return responseID(responses[i]) < responseID(responses[j])
	})
	return responses
}

func responseID(r jsonRPCResponse) int {
	var id int
	if json.Unmarshal(r.ID, &id) != nil {
		return int(^uint(0) >> 1)
	}
	return id
}

// pipeBridge runs the bridge on a pipe so a test can feed lines over time.
// finish closes the input and returns the responses once the bridge exits.
func pipeBridge(t *testing.T, cfg Config) (send func(line string), finish func() []jsonRPCResponse) {
	t.Helper()
	pr, pw := io.Pipe()
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- RunPermissionBridge(context.Background(), cfg, pr, &out) }()

	send = func(line string) {
		if _, err := io.WriteString(pw, line+"\n"); err != nil {
			t.Fatalf("writing to bridge: %v", err)
		}
	}
	finish = func() []jsonRPCResponse {
		_ = pw.Close()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("RunPermissionBridge failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("bridge did not exit")
		}
		return parseResponses(t, &out)
	}
	return send, finish
}

func contentText(t *testing.T, raw json.RawMessage) (string, bool) {
	t.Helper()
	var result struct {
		Content []mcpContentBlock `json:"content"`
		IsError bool              `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("bad tool result: %v", err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("content = %+v", result.Content)
	}
	return result.Content[0].Text, result.IsError
}

func TestBridgeHandshakeAndToolList(t *testing.T) {
	cfg := newServer(t, nil, nil)
	responses := runBridge(t, cfg,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`,
	)
	if len(responses) != 3 {
		t.Fatalf("responses = %d, want 3 (notification gets none)", len(responses))
	}

	var list toolListResult
	if err := json.Unmarshal(responses[1].Result, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != ApproveTool {
		t.Errorf("tools = %+v", list.Tools)
	}
	if responses[2].Error == nil || responses[2].Error.Code != -32601 {
		t.Errorf("unknown method response = %+v", responses[2])
	}
}

func TestBridgeForwardsApproveCalls(t *testing.T) {
	var (
		mu  sync.Mutex
		got []engine.PermissionRequest
	)
	cfg := newServer(t, nil, func(_ context.Context, req engine.PermissionRequest) engine.PermissionResult {
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		if req.ToolName == "Bash" {
			return engine.Deny("Denied by rule: deny Bash(rm)")
		}
		return engine.Allow(req.Input)
	})

	responses := runBridge(t, cfg,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"approve","arguments":{"tool_name":"Bash","input":{"command":"rm -rf /"},"tool_use_id":"tu1"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"approve","arguments":{"tool_name":"Read","input":{"file_path":"/a"}}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"other","arguments":{}}}`,
	)
	if len(responses) != 3 {
		t.Fatalf("responses = %d", len(responses))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("forwarded requests = %+v", got)
	}
	for _, req := range got {
		if req.ToolName == "Bash" && (req.ToolUseID != "tu1" || req.Input["command"] != "rm -rf /") {
			t.Errorf("forwarded Bash request = %+v", req)
		}
	}

	text, isErr := contentText(t, responses[0].Result)
	var deny engine.PermissionResult
	if err := json.Unmarshal([]byte(text), &deny); err != nil || isErr {
		t.Fatalf("deny text %q: %v", text, err)
	}
	if deny.Behavior != engine.BehaviorDeny || deny.Message != "Denied by rule: deny Bash(rm)" {
		t.Errorf("deny = %+v", deny)
	}

	text, _ = contentText(t, responses[1].Result)
	var allow engine.PermissionResult
	if err := json.Unmarshal([]byte(text), &allow); err != nil {
		t.Fatal(err)
	}
	if allow.Behavior != engine.BehaviorAllow || allow.UpdatedInput["file_path"] != "/a" {
		t.Errorf("allow = %+v", allow)
	}

	if responses[2].Error == nil {
		t.Error("unknown tool did not fail")
	}
}

func TestBridgeForwardsCallsWhileOneAwaitsDecision(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	release := make(chan struct{})
	cfg := newServer(t, nil, func(ctx context.Context, req engine.PermissionRequest) engine.PermissionResult {
		mu.Lock()
		received = append(received, req.ToolName)
		mu.Unlock()
		if req.ToolName == "Bash" {
			select {
			case <-release:
			case <-ctx.Done():
				return engine.Deny("aborted")
			}
		}
		return engine.Allow(req.Input)
	})
	var once sync.Once
	releaseAll := func() { once.Do(func() { close(release) }) }
	t.Cleanup(releaseAll)

	send, finish := pipeBridge(t, cfg)
	send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"approve","arguments":{"tool_name":"Bash","input":{"command":"make"}}}}`)
	send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"approve","arguments":{"tool_name":"Read","input":{"file_path":"/a"}}}}`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("calls forwarded while the first waits = %d, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	releaseAll()

	responses := finish()
	if len(responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(responses))
	}
	for i, resp := range responses {
		text, isErr := contentText(t, resp.Result)
		var res engine.PermissionResult
		if err := json.Unmarshal([]byte(text), &res); err != nil || isErr {
			t.Fatalf("response %d text %q: %v", i, text, err)
		}
		if res.Behavior != engine.BehaviorAllow {
			t.Errorf("response %d = %+v, want allow", i, res)
		}
	}
}

func TestBridgeCancelledCallAbortsServerWait(t *testing.T) {
	waiting := make(chan struct{})
	aborted := make(chan struct{})
	cfg := newServer(t, nil, func(ctx context.Context, req engine.PermissionRequest) engine.PermissionResult {
		close(waiting)
		<-ctx.Done()
		close(aborted)
		return engine.Deny("aborted")
	})

	send, finish := pipeBridge(t, cfg)
	send(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"approve","arguments":{"tool_name":"Bash","input":{}}}}`)
	select {
	case <-waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("call never reached the server")
	}
	send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":7,"reason":"user interrupted"}}`)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("server-side wait was not cancelled")
	}
	if responses := finish(); len(responses) != 0 {
		t.Errorf("cancelled call was answered: %+v", responses)
	}
}

func TestBridgeReportsServerErrorsAsToolErrors(t *testing.T) {
	cfg := newServer(t, nil, nil)
	cfg.Token = "unregistered"

	responses := runBridge(t, cfg,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"approve","arguments":{"tool_name":"Read","input":{}}}}`,
		`not json`,
	)
	if len(responses) != 2 {
		t.Fatalf("responses = %d", len(responses))
	}
	text, isErr := contentText(t, responses[0].Result)
	if !isErr || !strings.Contains(text, "404") {
		t.Errorf("tool error = %q (isError=%v)", text, isErr)
	}
	if responses[1].Error == nil || responses[1].Error.Code != -32700 {
		t.Errorf("parse error response = %+v", responses[1])
	}
}

func TestForwardHook(t *testing.T) {
	hooks := &idleHooks{}
	cfg := newServer(t, hooks, nil)

	var out bytes.Buffer
	in := strings.NewReader(`{"session_id":"R1","hook_event_name":"TeammateIdle","teammate_name":"Writer"}`)
	if err := ForwardHook(context.Background(), cfg, engine.HookTeammateIdle, in, &out); err != nil {
		t.Fatalf("ForwardHook failed: %v", err)
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if len(hooks.idle) != 1 || hooks.idle[0].TeammateName != "Writer" {
		t.Errorf("idle hooks = %+v", hooks.idle)
	}
	if strings.TrimSpace(out.String()) != "{}" {
		t.Errorf("hook output = %q", out.String())
	}
}

func TestForwardHookErrors(t *testing.T) {
	cfg := newServer(t, &idleHooks{}, nil)

	tests := []struct {
		name  string
		cfg   Config
		event string
	}{
		{"unknown event", cfg, "PreToolUse"},
		{"unknown launch", Config{URL: cfg.URL, Token: "nope"}, engine.HookSubagentStop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ForwardHook(context.Background(), tt.cfg, tt.event, strings.NewReader(`{}`), &bytes.Buffer{})
			if err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestConfigEndpoint(t *testing.T) {
	cfg := Config{URL: "http://127.0.0.1:7420/", Token: "abc"}
	if got := cfg.endpoint("/permission"); got != "http://127.0.0.1:7420/engine/abc/permission" {
		t.Errorf("endpoint = %q", got)
	}
	if cfg.client() != http.DefaultClient {
		t.Error("default client not used")
	}
}
