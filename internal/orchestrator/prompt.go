// prompt.go renders the Lead's task prompt and the resume prompts used by
// the messaging relay.

package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/O6lvl4/ccgrid-sub001/internal/session"
	"github.com/O6lvl4/ccgrid-sub001/prompts"
)

var (
	leadTaskTmpl  = template.Must(template.New("lead_task").Parse(prompts.LeadTaskTemplate))
	humanTmpl     = template.Must(template.New("human_relay").Parse(prompts.HumanRelayTemplate))
	directTmpl    = template.Must(template.New("direct_relay").Parse(prompts.DirectRelayTemplate))
	broadcastTmpl = template.Must(template.New("broadcast_relay").Parse(prompts.BroadcastRelayTemplate))
)

func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		// Templates are embedded at compile time; an execution failure is a bug.
		return fmt.Sprintf("ERROR: failed to execute %s template: %v", tmpl.Name(), err)
	}
	return buf.String()
}

func buildLeadPrompt(info session.Session) string {
	return render(leadTaskTmpl, struct {
		Task      string
		Cwd       string
		Teammates []session.TeammateSpec
	}{info.TaskDesc, info.Cwd, info.Teammates})
}

func buildHumanRelayPrompt(recipient, message string) string {
	return render(humanTmpl, struct {
		Recipient string
		Message   string
	}{recipient, message})
}

// messagePayload is the structured form a relayed teammate message takes
// inside a resume prompt.
type messagePayload struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	RequestID string `json:"request_id,omitempty"`
}

func (m TeammateMessage) payload() string {
	data, err := json.MarshalIndent(messagePayload{
		Type:      m.Type,
		Sender:    m.Sender,
		Content:   m.Content,
		RequestID: m.RequestID,
	}, "", "  ")
	if err != nil {
		return m.Content
	}
	return string(data)
}

func buildDirectRelayPrompt(recipient string, m TeammateMessage) string {
	return render(directTmpl, struct {
		Recipient string
		Type      string
		Payload   string
	}{recipient, m.Type, m.payload()})
}

func buildBroadcastRelayPrompt(recipients []string, m TeammateMessage) string {
	return render(broadcastTmpl, struct {
		Sender     string
		Recipients []string
		Payload    string
	}{m.Sender, recipients, m.payload()})
}
