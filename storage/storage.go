package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an update targets a missing document.
var ErrNotFound = errors.New("document not found")

const replaceAttempts = 3

// Document is a schema-less record identified by an opaque key.
type Document struct {
	ID     string
	Fields map[string]any
}

type table interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// Storage is a document store on top of Azure Table Storage. Every
// collection is a table and every document lives in the partition named
// after its collection.
type Storage struct {
	newTable func(name string) table
	newID    func() string

	mu     sync.Mutex
	tables map[string]table
}

// New creates a Storage instance from the given connection string.
func New(connStr string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return newStorage(func(name string) table { return svc.NewClient(name) }), nil
}

func newStorage(newTable func(name string) table) *Storage {
	return &Storage{
		newTable: newTable,
		newID:    uuid.NewString,
		tables:   map[string]table{},
	}
}

func (s *Storage) table(collection string) table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[collection]
	if !ok {
		t = s.newTable(collection)
		s.tables[collection] = t
	}
	return t
}

// EnsureCollection creates the backing table if it does not exist yet.
func (s *Storage) EnsureCollection(ctx context.Context, collection string) error {
	_, err := s.table(collection).CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

// AddDocument inserts a new document and returns the key assigned to it.
func (s *Storage) AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := s.newID()
	payload, err := encodeEntity(collection, id, fields)
	if err != nil {
		return "", err
	}
	if _, err := s.table(collection).AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	return id, nil
}

// ListDocuments returns every document of the collection in the order the
// service enumerates them.
func (s *Storage) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	filter := "PartitionKey eq '" + escapeFilterValue(collection) + "'"
	pager := s.table(collection).NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	docs := []Document{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			doc, err := decodeEntity(e)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// UpdateDocument merges fields into an existing document. A nil value
// removes the field, which requires a read-modify-replace guarded by the
// entity's ETag.
func (s *Storage) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	if hasNil(fields) {
		return s.replaceDocument(ctx, collection, id, fields)
	}
	payload, err := encodeEntity(collection, id, fields)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.table(collection).UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return err
}

func (s *Storage) replaceDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	t := s.table(collection)
	for attempt := 1; ; attempt++ {
		resp, err := t.GetEntity(ctx, collection, id, nil)
		if isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		if err != nil {
			return err
		}
		doc, err := decodeEntity(resp.Value)
		if err != nil {
			return err
		}
		for k, v := range fields {
			if v == nil {
				delete(doc.Fields, k)
				continue
			}
			doc.Fields[k] = v
		}
		payload, err := encodeEntity(collection, id, doc.Fields)
		if err != nil {
			return err
		}
		et := resp.ETag
		_, err = t.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
		if isStatus(err, http.StatusPreconditionFailed) && attempt < replaceAttempts {
			continue
		}
		if isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		return err
	}
}

// DeleteDocument removes a document. Deleting a missing document succeeds.
func (s *Storage) DeleteDocument(ctx context.Context, collection, id string) error {
	et := azcore.ETagAny
	_, err := s.table(collection).DeleteEntity(ctx, collection, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func hasNil(fields map[string]any) bool {
	for _, v := range fields {
		if v == nil {
			return true
		}
	}
	return false
}
