package permission

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
	notify chan event.Event
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan event.Event, 32)}
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.notify <- e
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// waitFor blocks until an event of kind arrives.
func (r *recorder) waitFor(t *testing.T, kind string) event.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.notify:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestMatch(t *testing.T) {
	rules := []Rule{
		{Tool: "Bash", Pattern: "rm -rf*", Behavior: "deny"},
		{Tool: "Write", Pattern: "*/docs/*", Behavior: "allow"},
		{Tool: "Read", Behavior: "allow"},
	}
	tests := []struct {
		name  string
		tool  string
		input map[string]any
		want  string // matched rule String, empty for none
	}{
		{"command pattern", "Bash", map[string]any{"command": "sudo rm -rf /"}, "deny Bash(rm -rf*)"},
		{"command miss", "Bash", map[string]any{"command": "ls"}, ""},
		{"file path pattern", "Write", map[string]any{"file_path": "/repo/docs/a.md"}, "allow Write(*/docs/*)"},
		{"path field", "Write", map[string]any{"path": "/repo/docs/"}, "allow Write(*/docs/*)"},
		{"file_path preferred over command", "Write", map[string]any{"file_path": "/src/a.go", "command": "/docs/"}, ""},
		{"pattern without field", "Write", map[string]any{"content": "x"}, ""},
		{"tool only", "Read", map[string]any{"file_path": "/etc/passwd"}, "allow Read"},
		{"other tool", "Edit", map[string]any{"file_path": "/repo/docs/a.md"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := Match(rules, tt.tool, tt.input)
			got := ""
			if ok {
				got = rule.String()
			}
			if got != tt.want {
				t.Errorf("Match = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	rules := []Rule{{Tool: "*", Behavior: "deny"}, {Tool: "Read", Behavior: "allow"}}
	rule, ok := Match(rules, "Read", nil)
	if !ok || rule.Behavior != "deny" {
		t.Errorf("Match = %+v, want the wildcard deny", rule)
	}
}

func TestWildcardAllowResolvesWithoutRequest(t *testing.T) {
	rec := newRecorder()
	a := NewArbitrator(StaticRules{{Tool: "*", Behavior: "allow"}}, rec, nil, nil)

	input := map[string]any{"command": "go test ./..."}
	result := a.Decide(context.Background(), "s1", engine.PermissionRequest{ToolName: "Bash", Input: input})

	if result.Behavior != engine.BehaviorAllow || !reflect.DeepEqual(result.UpdatedInput, input) {
		t.Errorf("result = %+v, want allow echoing input", result)
	}
	for _, kind := range rec.kinds() {
		if kind == event.TypePermissionRequest {
			t.Error("auto-allowed request broadcast permission_request")
		}
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != event.TypePermissionLog {
		t.Errorf("events = %v, want one permission_log", got)
	}
}

func TestDenyRuleNamesRule(t *testing.T) {
	a := NewArbitrator(StaticRules{{Tool: "Bash", Pattern: "curl", Behavior: "deny"}}, newRecorder(), nil, nil)
	result := a.Decide(context.Background(), "s1", engine.PermissionRequest{
		ToolName: "Bash",
		Input:    map[string]any{"command": "curl example.com"},
	})
	if result.Behavior != engine.BehaviorDeny || result.Message != "Denied by rule: deny Bash(curl)" {
		t.Errorf("result = %+v", result)
	}
}

func TestCancelWhileWaiting(t *testing.T) {
	rec := newRecorder()
	a := NewArbitrator(StaticRules{}, rec, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan engine.PermissionResult, 1)
	go func() {
		done <- a.Decide(ctx, "s1", engine.PermissionRequest{ToolName: "Write"})
	}()

	req := rec.waitFor(t, event.TypePermissionRequest).Data.(event.PermissionRequest)
	if _, ok := a.Lookup(req.RequestID); !ok {
		t.Fatal("request not pending after broadcast")
	}
	cancel()

	result := <-done
	if result.Behavior != engine.BehaviorDeny || result.Message != MsgAbortedWaiting {
		t.Errorf("result = %+v, want deny %q", result, MsgAbortedWaiting)
	}
	if _, ok := a.Lookup(req.RequestID); ok {
		t.Error("request still pending after cancellation")
	}
	if err := a.Resolve(req.RequestID, Decision{Behavior: "allow"}); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("late Resolve = %v, want ErrRequestNotFound", err)
	}
}

func TestAlreadyCancelled(t *testing.T) {
	rec := newRecorder()
	a := NewArbitrator(StaticRules{}, rec, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := a.Decide(ctx, "s1", engine.PermissionRequest{ToolName: "Write"})
	if result.Message != MsgAborted {
		t.Errorf("result = %+v, want %q", result, MsgAborted)
	}
	if len(a.Pending("")) != 0 || len(rec.kinds()) != 0 {
		t.Error("aborted request left state behind")
	}
}

func TestHumanResolution(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		want     engine.PermissionResult
	}{
		{
			name:     "allow keeps input",
			decision: Decision{Behavior: "allow"},
			want:     engine.PermissionResult{Behavior: "allow", UpdatedInput: map[string]any{"file_path": "a.txt"}},
		},
		{
			name:     "allow with edits",
			decision: Decision{Behavior: "allow", UpdatedInput: map[string]any{"file_path": "b.txt"}},
			want:     engine.PermissionResult{Behavior: "allow", UpdatedInput: map[string]any{"file_path": "b.txt"}},
		},
		{
			name:     "deny with message",
			decision: Decision{Behavior: "deny", Message: "not that file"},
			want:     engine.PermissionResult{Behavior: "deny", Message: "not that file"},
		},
		{
			name:     "deny default message",
			decision: Decision{Behavior: "deny"},
			want:     engine.PermissionResult{Behavior: "deny", Message: MsgDeniedByUser},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			a := NewArbitrator(StaticRules{}, rec, nil, nil)

			done := make(chan engine.PermissionResult, 1)
			go func() {
				done <- a.Decide(context.Background(), "s1", engine.PermissionRequest{
					ToolName: "Write",
					Input:    map[string]any{"file_path": "a.txt"},
				})
			}()
			req := rec.waitFor(t, event.TypePermissionRequest).Data.(event.PermissionRequest)

			if pending := a.Pending("s1"); len(pending) != 1 || pending[0].ID != req.RequestID {
				t.Fatalf("Pending = %+v", pending)
			}
			if err := a.Resolve(req.RequestID, tt.decision); err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got := <-done; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("result = %+v, want %+v", got, tt.want)
			}
			if err := a.Resolve(req.RequestID, tt.decision); !errors.Is(err, ErrRequestNotFound) {
				t.Errorf("second Resolve = %v, want ErrRequestNotFound", err)
			}
			rec.waitFor(t, event.TypePermissionLog)
		})
	}
}

func TestFileRuleStore(t *testing.T) {
	store := NewFileRuleStore(filepath.Join(t.TempDir(), "nested", "rules.yaml"))

	rules, err := store.Rules()
	if err != nil || len(rules) != 0 {
		t.Fatalf("Rules on missing file = (%v, %v)", rules, err)
	}

	if err := store.Add(Rule{Tool: "Read", Behavior: "allow"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Add(Rule{Tool: "Bash", Pattern: "rm", Behavior: "deny"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Add(Rule{Tool: "Bash", Behavior: "maybe"}); err == nil {
		t.Error("Add accepted an invalid behavior")
	}

	// A second store on the same file sees the edits immediately.
	other := NewFileRuleStore(store.Path())
	rules, err = other.Rules()
	if err != nil {
		t.Fatalf("Rules failed: %v", err)
	}
	if len(rules) != 2 || rules[1].Pattern != "rm" {
		t.Fatalf("rules = %+v", rules)
	}

	if err := store.Remove(0); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := store.Remove(5); err == nil {
		t.Error("Remove accepted an out of range index")
	}
	rules, _ = other.Rules()
	if len(rules) != 1 || rules[0].Tool != "Bash" {
		t.Errorf("after Remove rules = %+v", rules)
	}
}
