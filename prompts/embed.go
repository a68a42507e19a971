package prompts

import _ "embed"

//go:embed lead/system.md
var LeadSystemPrompt string

//go:embed lead/task.md.tmpl
var LeadTaskTemplate string

//go:embed relay/human.md.tmpl
var HumanRelayTemplate string

//go:embed relay/direct.md.tmpl
var DirectRelayTemplate string

//go:embed relay/broadcast.md.tmpl
var BroadcastRelayTemplate string
