// Package repository persists tasks through a document store. It is the only
// code that talks to the store: it applies defaults, normalizes due dates and
// classifies every failure before handing it back to the caller.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kanban-tracker/domain"
	"kanban-tracker/storage"
)

const tracerName = "kanban-tracker/repository"

const (
	fieldTitle    = "Title"
	fieldStatus   = "Status"
	fieldDueDate  = "DueDate"
	fieldPriority = "Priority"
)

var (
	// ErrNotFound is returned when an update targets a task the store does not have.
	ErrNotFound = errors.New("task not found")
	// ErrRemote wraps every transport, permission or quota failure of the store.
	ErrRemote = errors.New("document store failure")
)

// DocumentStore is the document API tasks are persisted through.
type DocumentStore interface {
	AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error)
	ListDocuments(ctx context.Context, collection string) ([]storage.Document, error)
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Repository maps tasks to documents of a single collection.
type Repository struct {
	store      DocumentStore
	collection string
	log        *log.Logger
}

// New creates a Repository. A nil logger falls back to the standard logrus logger.
func New(store DocumentStore, collection string, logger *log.Logger) *Repository {
	if store == nil {
		panic("repository.New: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Repository{store: store, collection: collection, log: logger}
}

// Create persists a new task and returns the id the store assigned to it.
func (r *Repository) Create(ctx context.Context, in domain.TaskInput) (id string, err error) {
	ctx, span := r.start(ctx, "create", "")
	defer func() { r.finish(span, "create", id, err) }()

	in, err = in.WithDefaults()
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	ts, err := domain.ToStoreTimestamp(in.DueDate)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	fields := map[string]any{
		fieldTitle:    in.Title,
		fieldStatus:   string(in.Status),
		fieldPriority: string(in.Priority),
	}
	if ts != nil {
		fields[fieldDueDate] = ts.Time
	}
	id, err = r.store.AddDocument(ctx, r.collection, fields)
	if err != nil {
		return "", fmt.Errorf("create task: %w: %w", ErrRemote, err)
	}
	span.SetAttributes(attribute.String("task.id", id))
	return id, nil
}

// ListAll returns every task in the store's enumeration order.
func (r *Repository) ListAll(ctx context.Context) (tasks []domain.Task, err error) {
	ctx, span := r.start(ctx, "list", "")
	defer func() { r.finish(span, "list", "", err) }()

	docs, err := r.store.ListDocuments(ctx, r.collection)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w: %w", ErrRemote, err)
	}
	tasks = make([]domain.Task, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, r.fromDocument(doc))
	}
	span.SetAttributes(attribute.Int("tasks.count", len(tasks)))
	return tasks, nil
}

// Update writes only the fields set in changes.
func (r *Repository) Update(ctx context.Context, id string, changes domain.TaskChanges) (err error) {
	ctx, span := r.start(ctx, "update", id)
	defer func() { r.finish(span, "update", id, err) }()

	if id == "" {
		return fmt.Errorf("update task: %w: missing id", domain.ErrInvalidInput)
	}
	if err := changes.Validate(); err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if changes.IsEmpty() {
		return nil
	}
	fields := make(map[string]any, 4)
	if changes.Title != nil {
		fields[fieldTitle] = strings.TrimSpace(*changes.Title)
	}
	if changes.Status != nil {
		fields[fieldStatus] = string(*changes.Status)
	}
	if changes.Priority != nil {
		fields[fieldPriority] = string(*changes.Priority)
	}
	if changes.DueDate != nil {
		ts, err := domain.ToStoreTimestamp(changes.DueDate.Value)
		if err != nil {
			return fmt.Errorf("update task %s: %w", id, err)
		}
		if ts == nil {
			fields[fieldDueDate] = nil
		} else {
			fields[fieldDueDate] = ts.Time
		}
	}
	if err := r.store.UpdateDocument(ctx, r.collection, id, fields); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("update task %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("update task %s: %w: %w", id, ErrRemote, err)
	}
	return nil
}

// Delete removes the task. Deleting a task that is already gone succeeds.
func (r *Repository) Delete(ctx context.Context, id string) (err error) {
	ctx, span := r.start(ctx, "delete", id)
	defer func() { r.finish(span, "delete", id, err) }()

	if id == "" {
		return fmt.Errorf("delete task: %w: missing id", domain.ErrInvalidInput)
	}
	if err := r.store.DeleteDocument(ctx, r.collection, id); err != nil {
		return fmt.Errorf("delete task %s: %w: %w", id, ErrRemote, err)
	}
	return nil
}

func (r *Repository) fromDocument(doc storage.Document) domain.Task {
	entry := r.log.WithField("task_id", doc.ID)
	t := domain.Task{ID: doc.ID, Status: domain.StatusToDo, Priority: domain.PriorityMedium}
	t.Title, _ = doc.Fields[fieldTitle].(string)

	if raw, ok := doc.Fields[fieldStatus].(string); ok && raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			entry.WithError(err).Warn("unknown stored status, showing task in To Do")
		} else {
			t.Status = status
		}
	}
	if raw, ok := doc.Fields[fieldPriority].(string); ok && raw != "" {
		priority, err := domain.ParsePriority(raw)
		if err != nil {
			entry.WithError(err).Warn("unknown stored priority, using Medium")
		} else {
			t.Priority = priority
		}
	}
	due, err := domain.FromStoreTimestamp(dueValue(doc.Fields[fieldDueDate]))
	if err != nil {
		entry.WithError(err).Warn("unreadable stored due date")
	}
	t.DueDate = due
	return t
}

// dueValue hands time values to the normalizer as store timestamps so they
// are read in UTC.
func dueValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return domain.Timestamp{Time: t}
	}
	return v
}

func (r *Repository) start(ctx context.Context, op, id string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "repository."+op)
	span.SetAttributes(attribute.String("task.collection", r.collection))
	if id != "" {
		span.SetAttributes(attribute.String("task.id", id))
	}
	return ctx, span
}

// finish ends the span and logs failures at the repository boundary.
func (r *Repository) finish(span trace.Span, op, id string, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	entry := r.log.WithError(err).WithFields(log.Fields{"op": op, "collection": r.collection})
	if id != "" {
		entry = entry.WithField("task_id", id)
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		entry.Warn("task rejected")
	case errors.Is(err, ErrNotFound):
		entry.Warn("task not found")
	default:
		entry.Error("task store operation failed")
	}
}
