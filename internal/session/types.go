// Package session holds the ccgrid data model (sessions, teammates, tasks)
// and the SQLite-backed record store used to persist it.
package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// PermissionMode controls whether tool-use requests go through arbitration.
type PermissionMode string

const (
	PermissionDefault PermissionMode = "default"
	PermissionBypass  PermissionMode = "bypass"
)

// Session is one end-to-end run of a Lead and its teammates.
type Session struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Cwd            string         `json:"cwd"`
	Model          string         `json:"model,omitempty"`
	TaskDesc       string         `json:"taskDescription"`
	MaxBudgetUSD   *float64       `json:"maxBudgetUsd,omitempty"`
	PermissionMode PermissionMode `json:"permissionMode"`
	Teammates      []TeammateSpec `json:"teammateSpecs,omitempty"`
	Status         Status         `json:"status"`
	RunID          string         `json:"runId,omitempty"` // engine session id, set by init
	CostUSD        float64        `json:"costUsd"`
	InputTokens    int64          `json:"inputTokens"`
	OutputTokens   int64          `json:"outputTokens"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// TeammateSpec describes a sub-agent the Lead may delegate to.
type TeammateSpec struct {
	Name         string `json:"name" yaml:"name"`
	Role         string `json:"role,omitempty" yaml:"role"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions"`
	Model        string `json:"model,omitempty" yaml:"model"`
}

// TeammateStatus is the lifecycle state of a teammate.
type TeammateStatus string

const (
	TeammateStarting TeammateStatus = "starting"
	TeammateWorking  TeammateStatus = "working"
	TeammateIdle     TeammateStatus = "idle"
	TeammateStopped  TeammateStatus = "stopped"
)

// Teammate is a sub-agent discovered through lifecycle hooks.
type Teammate struct {
	AgentID        string         `json:"agentId"`
	SessionID      string         `json:"sessionId"`
	Name           string         `json:"name,omitempty"`
	AgentType      string         `json:"agentType"`
	Status         TeammateStatus `json:"status"`
	TranscriptPath string         `json:"transcriptPath,omitempty"`
	Output         string         `json:"output,omitempty"`
	DiscoveredAt   time.Time      `json:"discoveredAt"`
}

// TaskStatus is the state of an entry in the shared task list.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one entry of the shared task list, mirrored from external storage.
type Task struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Owner       string     `json:"owner,omitempty"`
	Blocks      []string   `json:"blocks"`
	BlockedBy   []string   `json:"blockedBy"`
}

// Record is the durable unit persisted per session.
type Record struct {
	Session    Session    `json:"session"`
	Teammates  []Teammate `json:"teammates"`
	Tasks      []Task     `json:"tasks"`
	LeadOutput string     `json:"leadOutput"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Summary provides a high-level view of a persisted session for listing.
type Summary struct {
	ID        string
	Name      string
	Status    Status
	CostUSD   float64
	Teammates int
	Tasks     int
	UpdatedAt time.Time
}
