package schemas

import (
	"regexp"
	"strings"
	"time"

	"github.com/Oudwins/clawd/internals/schedule"
	"github.com/google/uuid"

	z "github.com/Oudwins/zog"
)

type TaskStatus string

const (
	TaskStatusActive TaskStatus = "active"
	TaskStatusPaused TaskStatus = "paused"
)

const DefaultTarget = "main"

type Task struct {
	ID        string     `json:"id"`
	Target    string     `json:"target"`
	Prompt    string     `json:"prompt"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

func (t Task) Active() bool {
	return t.Status == TaskStatusActive
}

type TaskCreateRequest struct {
	ID       string `json:"id" zog:"id"`
	Target   string `json:"target" zog:"target"`
	Prompt   string `json:"prompt" zog:"prompt"`
	Schedule string `json:"schedule" zog:"schedule"`
}

// Targets become directory names inside the workspace.
var targetRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
var taskIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

var TaskCreateSchema = z.Struct(z.Shape{
	"ID":       z.String().Optional().Trim().Match(taskIDRegex, z.Message("id may only contain letters, digits, '-' and '_'")),
	"Target":   z.String().Trim().Default(DefaultTarget).Match(targetRegex, z.Message("target must be a plain directory name")),
	"Prompt":   z.String().Required().Trim(),
	"Schedule": z.String().Required().Trim().TestFunc(isValidScheduleTest, z.Message("schedule must be a cron expression or \"every <n><s|m|h|d>\"")),
})

func isValidScheduleTest(valPtr *string, ctx z.Ctx) bool {
	return schedule.Validate(*valPtr) == nil
}

// NewTask builds an active task from a validated create request.
func NewTask(req TaskCreateRequest, now time.Time) Task {
	id := req.ID
	if id == "" {
		id = NewTaskID()
	}
	return Task{
		ID:        id,
		Target:    req.Target,
		Prompt:    req.Prompt,
		Schedule:  req.Schedule,
		Status:    TaskStatusActive,
		CreatedAt: now.UTC(),
	}
}

func NewTaskID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
