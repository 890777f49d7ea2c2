package api

import (
	"bytes"
	"context"

	"github.com/bytedance/sonic"

	"kanban-tracker/board"
	"kanban-tracker/domain"
)

// Board is the task list the handlers operate on.
type Board interface {
	Tasks() []domain.Task
	Columns() []board.Column
	Failures() []board.Failure
	Load(ctx context.Context) error
	Create(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	Move(ctx context.Context, id string, status domain.Status) error
	Edit(ctx context.Context, id string, changes domain.TaskChanges) (domain.Task, error)
	Delete(ctx context.Context, id string) error
	Subscribe() (<-chan struct{}, func())
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type boardResponse struct {
	Columns  []board.Column  `json:"columns"`
	Failures []board.Failure `json:"failures"`
}

type createTaskRequest struct {
	Title    string  `json:"title"`
	Status   string  `json:"status,omitempty"`
	DueDate  *string `json:"dueDate,omitempty"`
	Priority string  `json:"priority,omitempty"`
}

type editTaskRequest struct {
	Title    *string      `json:"title,omitempty"`
	Status   *string      `json:"status,omitempty"`
	DueDate  nullableDate `json:"dueDate"`
	Priority *string      `json:"priority,omitempty"`
}

type moveTaskRequest struct {
	Status string `json:"status"`
}

// nullableDate tells an absent dueDate apart from an explicit null.
type nullableDate struct {
	set   bool
	value *string
}

func (d *nullableDate) UnmarshalJSON(data []byte) error {
	d.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		d.value = nil
		return nil
	}
	var s string
	if err := sonic.Unmarshal(data, &s); err != nil {
		return err
	}
	d.value = &s
	return nil
}

func (r createTaskRequest) input() (domain.TaskInput, error) {
	in := domain.TaskInput{Title: r.Title}
	if r.Status != "" {
		s, err := domain.ParseStatus(r.Status)
		if err != nil {
			return in, err
		}
		in.Status = s
	}
	if r.Priority != "" {
		p, err := domain.ParsePriority(r.Priority)
		if err != nil {
			return in, err
		}
		in.Priority = p
	}
	if r.DueDate != nil {
		in.DueDate = *r.DueDate
	}
	return in, nil
}

func (r editTaskRequest) changes() (domain.TaskChanges, error) {
	var c domain.TaskChanges
	c.Title = r.Title
	if r.Status != nil {
		s, err := domain.ParseStatus(*r.Status)
		if err != nil {
			return c, err
		}
		c.Status = &s
	}
	if r.Priority != nil {
		p, err := domain.ParsePriority(*r.Priority)
		if err != nil {
			return c, err
		}
		c.Priority = &p
	}
	if r.DueDate.set {
		if r.DueDate.value == nil {
			c.DueDate = &domain.DueDateChange{}
		} else {
			c.DueDate = &domain.DueDateChange{Value: *r.DueDate.value}
		}
	}
	return c, nil
}
