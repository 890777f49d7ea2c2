package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput marks every error caused by a malformed request.
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidDueDate  = fmt.Errorf("%w: due date", ErrInvalidInput)
	ErrInvalidStatus   = fmt.Errorf("%w: status", ErrInvalidInput)
	ErrInvalidPriority = fmt.Errorf("%w: priority", ErrInvalidInput)
	ErrEmptyTitle      = fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
)

// Status selects the board column a task is shown in.
type Status string

const (
	StatusToDo       Status = "To Do"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
)

// Statuses lists the columns in display order.
var Statuses = []Status{StatusToDo, StatusInProgress, StatusCompleted}

func (s Status) Valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus accepts the column titles as well as compact spellings such as
// "todo" or "in_progress".
func ParseStatus(s string) (Status, error) {
	switch compact(s) {
	case "todo":
		return StatusToDo, nil
	case "inprogress":
		return StatusInProgress, nil
	case "completed", "done":
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

func ParsePriority(s string) (Priority, error) {
	switch compact(s) {
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

func compact(s string) string {
	r := strings.NewReplacer(" ", "", "-", "", "_", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}

// Task represents a single card on the board.
type Task struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Status   Status   `json:"status"`
	DueDate  *Date    `json:"dueDate"`
	Priority Priority `json:"priority"`
}

// DueDisplay renders the due date for the card.
func (t Task) DueDisplay() string {
	return DisplayString(t.DueDate)
}

// TaskInput carries the fields of a new task. DueDate may be a Date, a
// time.Time, a yyyy-MM-dd string or a Timestamp; nil means no due date.
// Empty Status and Priority fall back to the defaults.
type TaskInput struct {
	Title    string
	Status   Status
	DueDate  any
	Priority Priority
}

// WithDefaults returns the input with Status and Priority defaulted and the
// title trimmed, or an error if a field is invalid.
func (in TaskInput) WithDefaults() (TaskInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return in, ErrEmptyTitle
	}
	if in.Status == "" {
		in.Status = StatusToDo
	}
	if !in.Status.Valid() {
		return in, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return in, fmt.Errorf("%w: %q", ErrInvalidPriority, in.Priority)
	}
	return in, nil
}

// TaskChanges lists the fields to modify. Nil fields are left untouched.
type TaskChanges struct {
	Title    *string
	Status   *Status
	Priority *Priority
	DueDate  *DueDateChange
}

// DueDateChange replaces the due date. A nil Value clears it; otherwise it
// accepts the same forms as TaskInput.DueDate.
type DueDateChange struct {
	Value any
}

// Date normalizes the new due date.
func (c DueDateChange) Date() (*Date, error) {
	ts, err := ToStoreTimestamp(c.Value)
	if err != nil || ts == nil {
		return nil, err
	}
	d := ts.Date()
	return &d, nil
}

func (c TaskChanges) IsEmpty() bool {
	return c.Title == nil && c.Status == nil && c.Priority == nil && c.DueDate == nil
}

// Validate checks every field that is set.
func (c TaskChanges) Validate() error {
	if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
		return ErrEmptyTitle
	}
	if c.Status != nil && !c.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *c.Status)
	}
	if c.Priority != nil && !c.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, *c.Priority)
	}
	if c.DueDate != nil {
		if _, err := c.DueDate.Date(); err != nil {
			return err
		}
	}
	return nil
}

// Apply validates c and copies its fields onto t. On error t is unchanged.
func (t *Task) Apply(c TaskChanges) error {
	if err := c.Validate(); err != nil {
		return err
	}
	next := *t
	if c.Title != nil {
		next.Title = strings.TrimSpace(*c.Title)
	}
	if c.Status != nil {
		next.Status = *c.Status
	}
	if c.Priority != nil {
		next.Priority = *c.Priority
	}
	if c.DueDate != nil {
		d, _ := c.DueDate.Date()
		next.DueDate = d
	}
	*t = next
	return nil
}
