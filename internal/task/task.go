package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority bounds per the dispatch contract: higher claims first.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// ClampPriority forces an arbitrary priority into [MinPriority,MaxPriority],
// falling back to DefaultPriority when it is out of range.
func ClampPriority(p int) int {
	if p < MinPriority || p > MaxPriority {
		return DefaultPriority
	}
	return p
}

// Options tunes a single Executor invocation.
type Options struct {
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	NumCtx      int           `json:"num_ctx,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Content is the task payload. The Store treats it as opaque except for
// Type and Files, which DeliverableExtractor and the validation step read.
type Content struct {
	Type       string   `json:"type"`
	Prompt     string   `json:"prompt"`
	Files      []string `json:"files,omitempty"`
	OutputFile string   `json:"output_file,omitempty"`
	Options    Options  `json:"options,omitempty"`
}

// Result is the opaque blob written on a terminal transition.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Task is one unit of work flowing through the Store.
type Task struct {
	ID              string    `json:"task_id"`
	Content         Content   `json:"content"`
	Priority        int       `json:"priority"`
	Status          Status    `json:"status"`
	AssignedTo      string    `json:"assigned_to,omitempty"`
	CreatedBy       string    `json:"created_by,omitempty"`
	PreferredWorker string    `json:"preferred_worker,omitempty"`
	Result          *Result   `json:"result,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateTaskRequest is the MasterAPI delegate request body.
type CreateTaskRequest struct {
	Type            string   `json:"type"`
	Prompt          string   `json:"prompt"`
	Files           []string `json:"files,omitempty"`
	OutputFile      string   `json:"output_file,omitempty"`
	Priority        int      `json:"priority,omitempty"`
	Options         Options  `json:"options,omitempty"`
	PreferredWorker string   `json:"preferred_worker,omitempty"`
	Sync            bool     `json:"sync,omitempty"`
	CreatedBy       string   `json:"created_by,omitempty"`
}

// TaskResponse is the MasterAPI JSON view of a Task.
type TaskResponse struct {
	TaskID     string    `json:"task_id"`
	Status     string    `json:"status"`
	Priority   int       `json:"priority,omitempty"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	Result     *Result   `json:"result,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New creates a pending Task. An empty id is assigned a fresh uuid.
func New(id string, content Content, priority int, createdBy string) *Task {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	return &Task{
		ID:        id,
		Content:   content,
		Priority:  ClampPriority(priority),
		Status:    StatusPending,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FromRequest builds a Task from a MasterAPI delegate request.
func FromRequest(req *CreateTaskRequest) *Task {
	content := Content{
		Type:       req.Type,
		Prompt:     req.Prompt,
		Files:      req.Files,
		OutputFile: req.OutputFile,
		Options:    req.Options,
	}
	t := New("", content, req.Priority, req.CreatedBy)
	t.PreferredWorker = req.PreferredWorker
	return t
}

// ToResponse converts a Task to its MasterAPI JSON representation.
func (t *Task) ToResponse() *TaskResponse {
	return &TaskResponse{
		TaskID:     t.ID,
		Status:     t.Status.String(),
		Priority:   t.Priority,
		AssignedTo: t.AssignedTo,
		Result:     t.Result,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

// ToJSON serializes the task for Store storage.
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON deserializes a task as stored by Store.
func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// EmptyPromptResult is the canonical validation-error result for a task
// submitted with no prompt text.
func EmptyPromptResult() *Result {
	return &Result{Success: false, Error: "Prompt is empty"}
}
