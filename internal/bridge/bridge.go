// Package bridge implements the child-process side of engine callbacks:
// an MCP stdio server exposing the permission prompt tool, and a hook
// command that forwards lifecycle hook input to the ccgrid server.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ApproveTool is the MCP tool name the engine calls for permission prompts.
const ApproveTool = "approve"

// Config addresses the ccgrid server for one launch.
type Config struct {
	URL    string // server base URL
	Token  string // launch token
	Client *http.Client
}

func (c Config) endpoint(path string) string {
	return strings.TrimRight(c.URL, "/") + "/engine/" + c.Token + path
}

func (c Config) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// post sends body to the launch endpoint at path and returns the response body.
func (c Config) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("ccgrid request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ccgrid response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ccgrid returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// jsonRPCRequest is a JSON-RPC 2.0 request from the engine's MCP layer.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonRPCResponse is a JSON-RPC 2.0 response written back to stdout.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolListResult struct {
	Tools []toolDef `json:"tools"`
}

type toolDef struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema toolDefInputSchema `json:"inputSchema"`
}

type toolDefInputSchema struct {
	Type       string                     `json:"type"`
	Properties map[string]toolDefProperty `json:"properties"`
	Required   []string                   `json:"required"`
}

type toolDefProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type mcpContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var approveToolDef = toolDef{
	Name:        ApproveTool,
	Description: "Decide whether a tool call may run",
	InputSchema: toolDefInputSchema{
		Type: "object",
		Properties: map[string]toolDefProperty{
			"tool_name":   {Type: "string", Description: "Tool requesting permission"},
			"input":       {Type: "object", Description: "Tool input"},
			"tool_use_id": {Type: "string", Description: "Tool use identifier"},
		},
		Required: []string{"tool_name", "input"},
	},
}

type cancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
	Reason    string          `json:"reason,omitempty"`
}

// RunPermissionBridge serves MCP JSON-RPC on in/out until in is exhausted.
// Each approve call is forwarded to the server's permission endpoint on its
// own goroutine, so one call waiting on a human does not hold back the
// next. A notifications/cancelled message aborts the matching call, and
// with it the server-side wait. Calls still in flight when in ends are
// answered before returning.
func RunPermissionBridge(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	w := &responseWriter{out: out}
	calls := newCallTracker(ctx)
	defer calls.wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			w.write(jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &jsonRPCError{Code: -32700, Message: fmt.Sprintf("parse error: %v", err)},
			})
			continue
		}

		switch req.Method {
		case "initialize":
			result, _ := json.Marshal(map[string]any{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]any{
					"tools": map[string]any{},
				},
				"serverInfo": map[string]any{
					"name":    "ccgrid",
					"version": "1.0.0",
				},
			})
			w.write(jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})

		case "notifications/initialized":
			// No response for notifications.

		case "notifications/cancelled":
			var params cancelledParams
			if json.Unmarshal(req.Params, &params) == nil {
				calls.cancel(params.RequestID)
			}

		case "tools/list":
			result, _ := json.Marshal(toolListResult{Tools: []toolDef{approveToolDef}})
			w.write(jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})

		case "tools/call":
			var params toolCallParams
			if err := json.Unmarshal(req.Params, &params); err != nil {
				w.write(jsonRPCResponse{
					JSONRPC: "2.0",
					ID:      req.ID,
					Error:   &jsonRPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)},
				})
				continue
			}
			if params.Name != ApproveTool {
				w.write(jsonRPCResponse{
					JSONRPC: "2.0",
					ID:      req.ID,
					Error:   &jsonRPCError{Code: -32601, Message: fmt.Sprintf("unknown tool: %s", params.Name)},
				})
				continue
			}

			body := []byte(params.Arguments)
			if len(body) == 0 {
				body = []byte("{}")
			}
			calls.start(req.ID, func(callCtx context.Context) {
				decision, err := cfg.post(callCtx, "/permission", body)
				if callCtx.Err() != nil && ctx.Err() == nil {
					// Cancelled by the engine; it no longer expects a reply.
					return
				}
				if err != nil {
					w.write(jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: marshalMCPContent(err.Error(), true)})
					return
				}
				w.write(jsonRPCResponse{
					JSONRPC: "2.0",
					ID:      req.ID,
					Result:  marshalMCPContent(strings.TrimSpace(string(decision)), false),
				})
			})

		default:
			w.write(jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &jsonRPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)},
			})
		}
	}

	return scanner.Err()
}

// callTracker runs in-flight tool calls, keyed by their JSON-RPC id.
type callTracker struct {
	ctx     context.Context
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func newCallTracker(ctx context.Context) *callTracker {
	return &callTracker{ctx: ctx, cancels: make(map[string]context.CancelFunc)}
}

func (c *callTracker) start(id json.RawMessage, fn func(ctx context.Context)) {
	key := string(id)
	ctx, cancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	c.cancels[key] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.cancels, key)
			c.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
}

func (c *callTracker) cancel(id json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.cancels[string(id)]; ok {
		cancel()
	}
}

func (c *callTracker) wait() { c.wg.Wait() }

func marshalMCPContent(text string, isError bool) json.RawMessage {
	result := map[string]any{
		"content": []mcpContentBlock{{Type: "text", Text: text}},
	}
	if isError {
		result["isError"] = true
	}
	data, _ := json.Marshal(result)
	return data
}

// responseWriter serializes responses from concurrent calls onto out.
type responseWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *responseWriter) write(resp jsonRPCResponse) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.out.Write(data)
}
