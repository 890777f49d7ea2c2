package board

import (
	"context"
	"strconv"
	"sync"

	"kanban-tracker/domain"
)

type updateCall struct {
	id      string
	changes domain.TaskChanges
}

type fakeRepo struct {
	mu     sync.Mutex
	tasks  []domain.Task
	nextID int

	createErr error
	listErr   error
	updateErr error
	deleteErr error

	listCalls int
	creates   []domain.TaskInput
	updates   []updateCall
	deletes   []string

	onUpdate  func(id string)
	onDelete  func(id string)
	afterList func()
}

func (f *fakeRepo) Create(ctx context.Context, in domain.TaskInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, in)
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := "task-" + strconv.Itoa(f.nextID)
	f.tasks = append(f.tasks, localTask(id, in))
	return id, nil
}

func (f *fakeRepo) ListAll(ctx context.Context) ([]domain.Task, error) {
	f.mu.Lock()
	f.listCalls++
	if f.listErr != nil {
		f.mu.Unlock()
		return nil, f.listErr
	}
	out := make([]domain.Task, len(f.tasks))
	copy(out, f.tasks)
	afterList := f.afterList
	f.mu.Unlock()

	if afterList != nil {
		afterList()
	}
	return out, nil
}

func (f *fakeRepo) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeRepo) deleteCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeRepo) snapshot() []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Task(nil), f.tasks...)
}

func (f *fakeRepo) Update(ctx context.Context, id string, changes domain.TaskChanges) error {
	if f.onUpdate != nil {
		f.onUpdate(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updateCall{id: id, changes: changes})
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			return f.tasks[i].Apply(changes)
		}
	}
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	if f.onDelete != nil {
		f.onDelete(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRepo) updateCalls() []updateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]updateCall(nil), f.updates...)
}
