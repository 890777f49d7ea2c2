package repository

import (
	"context"
	"strconv"

	"kanban-tracker/storage"
)

type updateCall struct {
	id     string
	fields map[string]any
}

type fakeStore struct {
	docs  map[string]map[string]any
	order []string
	next  int

	addErr    error
	listErr   error
	updateErr error
	deleteErr error

	adds    []map[string]any
	updates []updateCall
	deletes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]map[string]any{}}
}

func (f *fakeStore) seed(id string, fields map[string]any) {
	f.docs[id] = fields
	f.order = append(f.order, id)
}

func (f *fakeStore) AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	f.adds = append(f.adds, fields)
	if f.addErr != nil {
		return "", f.addErr
	}
	f.next++
	id := "doc-" + strconv.Itoa(f.next)
	f.seed(id, fields)
	return id, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, collection string) ([]storage.Document, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	docs := make([]storage.Document, 0, len(f.order))
	for _, id := range f.order {
		fields := make(map[string]any, len(f.docs[id]))
		for k, v := range f.docs[id] {
			fields[k] = v
		}
		docs = append(docs, storage.Document{ID: id, Fields: fields})
	}
	return docs, nil
}

func (f *fakeStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	f.updates = append(f.updates, updateCall{id: id, fields: fields})
	if f.updateErr != nil {
		return f.updateErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return storage.ErrNotFound
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	return nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, collection, id string) error {
	f.deletes = append(f.deletes, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.docs, id)
	for i, existing := range f.order {
		if existing == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}
