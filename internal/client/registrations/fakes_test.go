package registrations

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/fleetsync/internal/client/apiclient"
)

type fakeConn struct{ online bool }

func (f *fakeConn) IsOnline(context.Context) bool { return f.online }

// fakeAPI is an in-memory registrations endpoint.
type fakeAPI struct {
	mu      sync.Mutex
	records []Registration
	nextID  int64

	listErr   error
	createErr error
	updateErr error
	deleteErr error
	// afterList runs once the list has been taken, before it is returned.
	afterList func()

	creates []Registration
	keys    []string
	updates []Registration
	deletes []int64
}

func newFakeAPI(records ...Registration) *fakeAPI {
	return &fakeAPI{records: records, nextID: 100}
}

func (f *fakeAPI) List(_ context.Context, r apiclient.Resource) ([]json.RawMessage, error) {
	f.mu.Lock()
	if f.listErr != nil {
		f.mu.Unlock()
		return nil, f.listErr
	}
	out := make([]json.RawMessage, 0, len(f.records))
	for _, rec := range f.records {
		b, _ := json.Marshal(rec)
		out = append(out, b)
	}
	hook := f.afterList
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeAPI) Create(_ context.Context, _ apiclient.Resource, record any, key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := record.(Registration)
	f.creates = append(f.creates, rec)
	f.keys = append(f.keys, key)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	rec.ID = f.nextID
	f.records = append(f.records, rec)
	return json.Marshal(rec)
}

func (f *fakeAPI) Update(_ context.Context, _ apiclient.Resource, id int64, record any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := record.(Registration)
	rec.ID = id
	f.updates = append(f.updates, rec)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i] = rec
			return json.Marshal(rec)
		}
	}
	return nil, &apiclient.StatusError{Code: 404, Method: "PUT", Path: fmt.Sprintf("/api/registrations/%d", id)}
}

func (f *fakeAPI) Delete(_ context.Context, _ apiclient.Resource, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return &apiclient.StatusError{Code: 404, Method: "DELETE", Path: fmt.Sprintf("/api/registrations/%d", id)}
}
