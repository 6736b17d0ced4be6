package task

import (
	"encoding/json"
	"fmt"
)

// wireTask mirrors the wire shape in the task submission contract: the
// caller-facing JSON never sees Task's internal mutex.
type wireTask struct {
	TaskID     string         `json:"task_id"`
	RobotID    string         `json:"robot_id,omitempty"`
	Status     Status         `json:"status"`
	Steps      []*Step        `json:"steps"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  any            `json:"created_at,omitempty"`
	StartedAt  any            `json:"started_at,omitempty"`
	FinishedAt any            `json:"finished_at,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t *Task) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := wireTask{
		TaskID:     t.TaskID,
		RobotID:    t.RobotID,
		Status:     t.status,
		Steps:      t.Steps,
		Metadata:   t.Metadata,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Status defaults to QUEUED when
// absent, matching a freshly submitted task.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w struct {
		TaskID   string         `json:"task_id"`
		RobotID  string         `json:"robot_id,omitempty"`
		Status   Status         `json:"status"`
		Steps    []*Step        `json:"steps"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal task: %w", err)
	}
	if w.Status == "" {
		w.Status = StatusQueued
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TaskID = w.TaskID
	t.RobotID = w.RobotID
	t.status = w.Status
	t.Steps = w.Steps
	t.Metadata = w.Metadata
	return nil
}

// ParseFromWire decodes the task submission JSON shape into a Task,
// assigning a task id when the caller did not supply one. Unknown
// skip_on_failure step ids are left as-is: per the documented boundary
// behavior, unresolvable ids are silently ignored by the engine rather
// than rejected at parse time.
func ParseFromWire(data []byte) (*Task, error) {
	t := &Task{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	if t.TaskID == "" {
		t.TaskID = New("", "", nil).TaskID
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	for _, s := range t.Steps {
		if s.Status == "" {
			s.Status = StepPending
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = New("", "", nil).CreatedAt
	}
	return t, nil
}
