package schemas

import (
	"time"

	"github.com/google/uuid"

	z "github.com/Oudwins/zog"
)

// ExecutionRequest is written as a single JSON object to the backend's stdin.
type ExecutionRequest struct {
	Prompt        string `json:"prompt"`
	SessionID     string `json:"session_id,omitempty"`
	TargetContext string `json:"target_context"`
	CorrelationID string `json:"correlation_id"`
	IsPrimary     bool   `json:"is_primary"`
	IsScheduled   bool   `json:"is_scheduled"`
}

type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
)

type ExecutionResult struct {
	Status        ExecutionStatus `json:"status"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Transcript    string          `json:"transcript,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func Success(transcript string) *ExecutionResult {
	return &ExecutionResult{Status: ExecutionStatusSuccess, Transcript: transcript}
}

func Failure(message string) *ExecutionResult {
	return &ExecutionResult{Status: ExecutionStatusError, Error: message}
}

func (r *ExecutionResult) OK() bool {
	return r != nil && r.Status == ExecutionStatusSuccess
}

// Text is what an interactive caller shows for the result.
func (r *ExecutionResult) Text() string {
	if r == nil {
		return ""
	}
	if r.OK() {
		return r.Transcript
	}
	return "Error: " + r.Error
}

func NewCorrelationID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// NewInteractiveRequest builds the request used by the TUI and one-shot runs.
func NewInteractiveRequest(prompt string, target string, primary bool) ExecutionRequest {
	return ExecutionRequest{
		Prompt:        prompt,
		TargetContext: target,
		CorrelationID: NewCorrelationID("interactive"),
		IsPrimary:     primary,
	}
}

// NewScheduledRequest builds the request a scheduler fire sends for task.
func NewScheduledRequest(task Task) ExecutionRequest {
	return ExecutionRequest{
		Prompt:        task.Prompt,
		SessionID:     "scheduled-task",
		TargetContext: task.Target,
		CorrelationID: NewCorrelationID("scheduled-task-" + task.ID),
		IsScheduled:   true,
	}
}

type RunRequest struct {
	Prompt string `json:"prompt" zog:"prompt"`
	Target string `json:"target" zog:"target"`
}

var RunRequestSchema = z.Struct(z.Shape{
	"Prompt": z.String().Required().Trim(),
	"Target": z.String().Trim().Default(DefaultTarget).Match(targetRegex, z.Message("target must be a plain directory name")),
})

// Run is one recorded scheduler fire.
type Run struct {
	ID            int64           `json:"id"`
	TaskID        string          `json:"task_id"`
	CorrelationID string          `json:"correlation_id"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Transcript    string          `json:"transcript,omitempty"`
	Error         string          `json:"error,omitempty"`
}
