package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PermissionToolName is the MCP tool the claude CLI consults for approvals.
const PermissionToolName = "mcp__ccgrid__approve"

// ClaudeOptions configures the claude CLI adapter.
type ClaudeOptions struct {
	Binary      string // claude executable, default "claude"
	SelfPath    string // ccgrid executable used for hook and permission bridges
	CallbackURL string // base URL of the ccgrid server, e.g. http://127.0.0.1:7420
	Logger      *slog.Logger
}

// ClaudeEngine runs Lead sessions through the claude CLI in stream-json mode.
type ClaudeEngine struct {
	opts       ClaudeOptions
	dispatcher *Dispatcher
}

// NewClaudeEngine creates the adapter. Callbacks from child processes are
// routed through d, which must be served under CallbackURL + "/engine".
func NewClaudeEngine(opts ClaudeOptions, d *Dispatcher) *ClaudeEngine {
	if opts.Binary == "" {
		opts.Binary = "claude"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ClaudeEngine{opts: opts, dispatcher: d}
}

// Start spawns claude for spec and returns its message stream.
func (e *ClaudeEngine) Start(ctx context.Context, spec LaunchSpec) (Stream, error) {
	token := uuid.NewString()
	launchDir, err := os.MkdirTemp("", "ccgrid-launch-")
	if err != nil {
		return nil, fmt.Errorf("creating launch directory: %w", err)
	}

	cleanup := func() {
		e.dispatcher.Unregister(token)
		_ = os.RemoveAll(launchDir)
	}

	settingsPath, mcpPath, err := e.writeLaunchFiles(launchDir, token, spec)
	if err != nil {
		cleanup()
		return nil, err
	}

	args, err := BuildArgs(spec, settingsPath, mcpPath)
	if err != nil {
		cleanup()
		return nil, err
	}

	e.dispatcher.Register(token, spec.Hooks, spec.CanUseTool)

	cmd := exec.CommandContext(ctx, e.opts.Binary, args...)
	cmd.Dir = spec.Cwd
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("starting claude: %w", err)
	}

	e.opts.Logger.Debug("claude started", "pid", cmd.Process.Pid, "resume", spec.Resume)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &cliStream{
		cmd:     cmd,
		scanner: scanner,
		stderr:  &stderr,
		cleanup: cleanup,
		logger:  e.opts.Logger,
	}, nil
}

func (e *ClaudeEngine) writeLaunchFiles(dir, token string, spec LaunchSpec) (settingsPath, mcpPath string, err error) {
	base := strings.TrimRight(e.opts.CallbackURL, "/")

	hooks := make(map[string]any, len(HookEvents))
	for _, name := range HookEvents {
		command := shellJoin(e.opts.SelfPath, "hook", "--url", base, "--launch", token, "--event", name)
		entry := map[string]any{"hooks": []any{map[string]any{"type": "command", "command": command}}}
		if matcher, ok := HookMatchers[name]; ok {
			entry["matcher"] = matcher
		}
		hooks[name] = []any{entry}
	}
	settingsPath = filepath.Join(dir, "settings.json")
	if err := writeJSONFile(settingsPath, map[string]any{"hooks": hooks}); err != nil {
		return "", "", fmt.Errorf("writing hook settings: %w", err)
	}

	if spec.BypassPermissions {
		return settingsPath, "", nil
	}

	mcpPath = filepath.Join(dir, "mcp.json")
	mcp := map[string]any{
		"mcpServers": map[string]any{
			"ccgrid": map[string]any{
				"command": e.opts.SelfPath,
				"args":    []string{"_permission-bridge", "--url", base, "--launch", token},
			},
		},
	}
	if err := writeJSONFile(mcpPath, mcp); err != nil {
		return "", "", fmt.Errorf("writing mcp config: %w", err)
	}
	return settingsPath, mcpPath, nil
}

// BuildArgs constructs the CLI argument slice for a claude invocation.
func BuildArgs(spec LaunchSpec, settingsPath, mcpPath string) ([]string, error) {
	args := []string{
		"-p", spec.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	}

	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.Resume != "" {
		args = append(args, "--resume", spec.Resume)
	}
	if spec.MaxBudgetUSD != nil && *spec.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(*spec.MaxBudgetUSD, 'f', -1, 64))
	}
	if spec.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", spec.AppendSystemPrompt)
	}
	if len(spec.Agents) > 0 {
		data, err := json.Marshal(spec.Agents)
		if err != nil {
			return nil, fmt.Errorf("encoding agent definitions: %w", err)
		}
		args = append(args, "--agents", string(data))
	}
	if settingsPath != "" {
		args = append(args, "--settings", settingsPath)
	}

	if spec.BypassPermissions {
		args = append(args, "--permission-mode", "bypassPermissions")
	} else if mcpPath != "" {
		args = append(args, "--mcp-config", mcpPath, "--permission-prompt-tool", PermissionToolName)
	}

	return args, nil
}

type cliStream struct {
	cmd       *exec.Cmd
	scanner   *bufio.Scanner
	stderr    *bytes.Buffer
	cleanup   func()
	logger    *slog.Logger
	sawResult bool
	done      bool
	closeOnce sync.Once
}

// Next returns the next decodable line. Undecodable lines are skipped.
func (s *cliStream) Next() (Message, error) {
	if s.done {
		return Message{}, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Debug("skipping undecodable stream line", "error", err)
			continue
		}
		if msg.Type == TypeResult {
			s.sawResult = true
		}
		return msg, nil
	}

	s.done = true
	scanErr := s.scanner.Err()
	waitErr := s.cmd.Wait()
	s.Close()

	if scanErr != nil {
		return Message{}, fmt.Errorf("reading claude output: %w", scanErr)
	}
	if waitErr != nil && !s.sawResult {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return Message{}, fmt.Errorf("claude exited with error: %w\nstderr: %s", waitErr, strings.TrimSpace(s.stderr.String()))
		}
		return Message{}, fmt.Errorf("waiting for claude: %w", waitErr)
	}
	return Message{}, io.EOF
}

// Close kills the process if still running and releases launch resources.
func (s *cliStream) Close() error {
	s.closeOnce.Do(func() {
		if !s.done && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
		s.cleanup()
	})
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// shellJoin quotes each argument for a POSIX shell command line.
func shellJoin(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
