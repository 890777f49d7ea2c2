// Package board holds the in-memory task list the UI works against and keeps
// it consistent with the task repository.
//
// Drag-and-drop status changes are applied locally before the store confirms
// them and rolled back if the store rejects them. Edits and deletes are applied
// locally only after confirmation. Creating a task reloads the whole list.
// Mutations of one task are serialized; different tasks proceed concurrently.
// A reload waits for in-flight mutations and holds new ones back until the
// fetched list is installed.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-tracker/domain"
)

// ErrTaskNotFound is returned for operations on a task the board does not hold.
var ErrTaskNotFound = errors.New("task not on board")

const defaultFailureHistory = 50

// Repository persists tasks.
type Repository interface {
	Create(ctx context.Context, in domain.TaskInput) (string, error)
	ListAll(ctx context.Context) ([]domain.Task, error)
	Update(ctx context.Context, id string, changes domain.TaskChanges) error
	Delete(ctx context.Context, id string) error
}

// Failure records an operation the store did not confirm.
type Failure struct {
	Op     string    `json:"op"`
	TaskID string    `json:"taskId,omitempty"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

// Card is a task as shown in a column.
type Card struct {
	domain.Task
	DueDisplay string `json:"dueDisplay"`
}

// Column groups the cards of one status.
type Column struct {
	Status domain.Status `json:"status"`
	Tasks  []Card        `json:"tasks"`
}

// Board is the ordered task list. It is safe for concurrent use.
type Board struct {
	repo  Repository
	log   *log.Logger
	locks *keyedMutex
	now   func() time.Time

	// reload is held shared by mutations and exclusively by list reloads.
	reload sync.RWMutex

	mu          sync.RWMutex
	tasks       []domain.Task
	failures    []Failure
	maxFailures int

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// New creates an empty board. failureHistory bounds the number of failures
// kept; a non-positive value uses the default.
func New(repo Repository, logger *log.Logger, failureHistory int) *Board {
	if repo == nil {
		panic("board.New: repository is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if failureHistory <= 0 {
		failureHistory = defaultFailureHistory
	}
	return &Board{
		repo:        repo,
		log:         logger,
		locks:       newKeyedMutex(),
		now:         time.Now,
		maxFailures: failureHistory,
		subs:        make(map[chan struct{}]struct{}),
	}
}

// Load replaces the local list with the store's.
func (b *Board) Load(ctx context.Context) error {
	b.reload.Lock()
	defer b.reload.Unlock()

	tasks, err := b.repo.ListAll(ctx)
	if err != nil {
		b.recordFailure("load", "", err)
		return err
	}
	b.mu.Lock()
	b.tasks = tasks
	b.mu.Unlock()
	b.notify()
	return nil
}

// Tasks returns a snapshot of the list.
func (b *Board) Tasks() []domain.Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Task returns the task with the given id.
func (b *Board) Task(id string) (domain.Task, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := b.index(id); i >= 0 {
		return b.tasks[i], true
	}
	return domain.Task{}, false
}

// Columns groups the tasks by status in column order, keeping list order
// within each column.
func (b *Board) Columns() []Column {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cols := make([]Column, len(domain.Statuses))
	pos := make(map[domain.Status]int, len(domain.Statuses))
	for i, s := range domain.Statuses {
		cols[i] = Column{Status: s, Tasks: []Card{}}
		pos[s] = i
	}
	for _, t := range b.tasks {
		i, ok := pos[t.Status]
		if !ok {
			continue
		}
		cols[i].Tasks = append(cols[i].Tasks, Card{Task: t, DueDisplay: t.DueDisplay()})
	}
	return cols
}

// Failures returns the recorded failures, oldest first.
func (b *Board) Failures() []Failure {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Failure, len(b.failures))
	copy(out, b.failures)
	return out
}

// Create persists a new task and reloads the list. If the reload fails the
// task is appended locally under the id the store assigned.
func (b *Board) Create(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	id, err := b.repo.Create(ctx, in)
	if err != nil {
		b.recordFailure("create", "", err)
		return domain.Task{}, err
	}

	b.reload.Lock()
	defer b.reload.Unlock()

	tasks, err := b.repo.ListAll(ctx)
	if err != nil {
		b.recordFailure("reload", id, err)
	}

	b.mu.Lock()
	if err == nil {
		b.tasks = tasks
	}
	created, ok := b.get(id)
	if !ok {
		created = localTask(id, in)
		b.tasks = append(b.tasks, created)
	}
	b.mu.Unlock()
	b.notify()
	return created, nil
}

// Move is the drop of a task onto a column. The local status changes at
// once; if the store rejects the change it is rolled back.
func (b *Board) Move(ctx context.Context, id string, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	unlock := b.lockTask(id)
	defer unlock()

	b.mu.Lock()
	i := b.index(id)
	if i < 0 {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	prev := b.tasks[i].Status
	if prev == status {
		b.mu.Unlock()
		return nil
	}
	b.tasks[i].Status = status
	b.mu.Unlock()
	b.notify()

	if err := b.repo.Update(ctx, id, domain.TaskChanges{Status: &status}); err != nil {
		b.recordFailure("move", id, err)
		b.mu.Lock()
		if i := b.index(id); i >= 0 && b.tasks[i].Status == status {
			b.tasks[i].Status = prev
		}
		b.mu.Unlock()
		b.notify()
		return err
	}
	return nil
}

// Edit saves changed fields and applies them locally once the store has
// confirmed them.
func (b *Board) Edit(ctx context.Context, id string, changes domain.TaskChanges) (domain.Task, error) {
	unlock := b.lockTask(id)
	defer unlock()

	current, ok := b.Task(id)
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := current.Apply(changes); err != nil {
		b.recordFailure("edit", id, err)
		return domain.Task{}, err
	}
	if err := b.repo.Update(ctx, id, changes); err != nil {
		b.recordFailure("edit", id, err)
		return domain.Task{}, err
	}

	b.mu.Lock()
	if i := b.index(id); i >= 0 {
		_ = b.tasks[i].Apply(changes)
		current = b.tasks[i]
	}
	b.mu.Unlock()
	b.notify()
	return current, nil
}

// Delete removes the task from the store and then from the board. On failure
// the task stays on the board.
func (b *Board) Delete(ctx context.Context, id string) error {
	unlock := b.lockTask(id)
	defer unlock()

	if err := b.repo.Delete(ctx, id); err != nil {
		b.recordFailure("delete", id, err)
		return err
	}

	b.mu.Lock()
	removed := false
	if i := b.index(id); i >= 0 {
		b.tasks = append(b.tasks[:i], b.tasks[i+1:]...)
		removed = true
	}
	b.mu.Unlock()
	if removed {
		b.notify()
	}
	return nil
}

// Subscribe returns a channel signalled after every local change. The
// returned function cancels the subscription.
func (b *Board) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.subMu.Lock()
	b.subs[ch] = struct{}{}
	b.subMu.Unlock()
	return ch, func() {
		b.subMu.Lock()
		delete(b.subs, ch)
		b.subMu.Unlock()
	}
}

func (b *Board) notify() {
	b.subMu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.subMu.Unlock()
}

func (b *Board) recordFailure(op, id string, err error) {
	f := Failure{Op: op, TaskID: id, Error: err.Error(), At: b.now().UTC()}
	b.mu.Lock()
	b.failures = append(b.failures, f)
	if over := len(b.failures) - b.maxFailures; over > 0 {
		b.failures = append([]Failure(nil), b.failures[over:]...)
	}
	b.mu.Unlock()
	b.log.WithFields(log.Fields{"op": op, "task_id": id}).Debugf("board operation failed: %v", err)
}

// lockTask serializes mutations of id and keeps list reloads out until the
// returned unlock is called.
func (b *Board) lockTask(id string) func() {
	unlock := b.locks.Lock(id)
	b.reload.RLock()
	return func() {
		b.reload.RUnlock()
		unlock()
	}
}

// index must be called with b.mu held.
func (b *Board) index(id string) int {
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) get(id string) (domain.Task, bool) {
	if i := b.index(id); i >= 0 {
		return b.tasks[i], true
	}
	return domain.Task{}, false
}

// localTask builds the record the store holds for a freshly created task.
func localTask(id string, in domain.TaskInput) domain.Task {
	in, _ = in.WithDefaults()
	t := domain.Task{ID: id, Title: in.Title, Status: in.Status, Priority: in.Priority}
	if ts, err := domain.ToStoreTimestamp(in.DueDate); err == nil && ts != nil {
		d := ts.Date()
		t.DueDate = &d
	}
	return t
}
