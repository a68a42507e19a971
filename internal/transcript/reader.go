// Package transcript reconstructs readable output from an agent's
// line-oriented JSON execution log and polls it while the agent runs.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
)

// MaxToolResultChars is the character budget of a rendered tool result.
const MaxToolResultChars = 2000

const truncatedMarker = "\n... (truncated)"

// Read parses the transcript at path. It returns false when the file is
// unreadable or yields no fragments.
func Read(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return Parse(data)
}

// Parse renders transcript bytes. Each line is decoded independently and
// undecodable lines are skipped.
func Parse(data []byte) (string, bool) {
	var fragments []string
	toolNames := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg engine.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case engine.TypeAssistant:
			if msg.Message == nil {
				continue
			}
			for _, block := range msg.Message.Content {
				switch block.Type {
				case "text":
					if strings.TrimSpace(block.Text) != "" {
						fragments = append(fragments, block.Text)
					}
				case "tool_use":
					toolNames[block.ID] = block.Name
				}
			}
		case engine.TypeUser:
			if msg.Message == nil {
				continue
			}
			for _, block := range msg.Message.Content {
				if block.Type != "tool_result" {
					continue
				}
				if rendered, ok := renderToolResult(toolNames[block.ToolUseID], block.Content.Text()); ok {
					fragments = append(fragments, rendered)
				}
			}
		case engine.TypeResult:
			if msg.Result != "" {
				fragments = append(fragments, msg.Result)
			}
		}
	}

	if len(fragments) == 0 {
		return "", false
	}
	return strings.Join(fragments, "\n\n"), true
}

func renderToolResult(toolName, result string) (string, bool) {
	if strings.TrimSpace(result) == "" {
		return "", false
	}
	if toolName == "" {
		toolName = "Tool"
	}
	return fmt.Sprintf("**%s**:\n```\n%s\n```", toolName, Truncate(result, MaxToolResultChars)), true
}

// Truncate shortens s to at most limit characters, appending a marker
// when anything was cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncatedMarker
}

// SubagentPath derives a sub-agent's transcript location from the Lead's
// transcript path: <lead transcript without .jsonl>/subagents/agent-<id>.jsonl.
func SubagentPath(leadTranscriptPath, agentID string) string {
	if leadTranscriptPath == "" || agentID == "" {
		return ""
	}
	base := strings.TrimSuffix(leadTranscriptPath, filepath.Ext(leadTranscriptPath))
	return filepath.Join(base, "subagents", "agent-"+agentID+".jsonl")
}
